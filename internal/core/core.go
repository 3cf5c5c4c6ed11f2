package core

import (
	"context"
	"time"

	"corpvpn/internal/core/xray"
	"corpvpn/internal/storage/models"
)

// Process is a spawned core process owned by the Supervisor.
type Process interface {
	PID() int
	Done() <-chan struct{}
	ExitErr() error
	// Terminate stops the process gracefully, killing it after timeout.
	Terminate(timeout time.Duration) error
}

// Launcher probes for and spawns the core binary.
type Launcher interface {
	Exists() bool
	Start(configPath string) (Process, error)
}

// SystemProxy toggles the host's proxy settings.
type SystemProxy interface {
	Set(ctx context.Context, enabled bool, addr string) error
}

// AutoStarter registers the application to start at logon.
type AutoStarter interface {
	Install(ctx context.Context) error
}

// ProfileSource yields the connection profile for the next connect.
type ProfileSource interface {
	Profile(ctx context.Context) (*models.Profile, error)
}

// StateStore persists the application flags.
type StateStore interface {
	LoadState() (models.AppState, error)
	UpdateState(fn func(*models.AppState)) (models.AppState, error)
}

// Journal records connect/disconnect sessions.
type Journal interface {
	OpenSession(ctx context.Context, session *models.Session) error
	CloseSession(ctx context.Context, id string, endedAt time.Time, totalBytes uint64, reason string) error
}

// NewLauncher adapts the xray binary to the Launcher interface.
func NewLauncher(bin *xray.Binary) Launcher {
	return binaryLauncher{bin: bin}
}

type binaryLauncher struct {
	bin *xray.Binary
}

func (l binaryLauncher) Exists() bool {
	return l.bin.Exists()
}

func (l binaryLauncher) Start(configPath string) (Process, error) {
	proc, err := l.bin.Start(configPath)
	if err != nil {
		return nil, err
	}
	return proc, nil
}
