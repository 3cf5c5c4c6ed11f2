package xray

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"corpvpn/internal/paths"
	pkgerrors "corpvpn/pkg/errors"
)

// Binary is the external xray executable.
type Binary struct {
	Path string
}

// NewBinary returns the binary at path, or the first xray found in the
// common install locations when path is empty.
func NewBinary(path string) *Binary {
	if path == "" {
		path, _ = findXrayBinary()
	}
	return &Binary{Path: path}
}

// Exists reports whether the binary is present as a regular file.
func (b *Binary) Exists() bool {
	if b.Path == "" {
		return false
	}
	info, err := os.Stat(b.Path)
	return err == nil && info.Mode().IsRegular()
}

// Start launches `xray run -c configPath` with its output discarded. The
// child is detached into its own process group so that terminating it also
// reaches any helpers it forks.
func (b *Binary) Start(configPath string) (*Process, error) {
	if !b.Exists() {
		return nil, pkgerrors.ErrBinaryMissing
	}

	cmd := exec.Command(b.Path, "run", "-c", configPath)
	// geoip.dat and geosite.dat ship next to the binary.
	cmd.Env = append(os.Environ(), "XRAY_LOCATION_ASSET="+filepath.Dir(b.Path))
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrSpawnFailed, err)
	}

	p := &Process{
		cmd:       cmd,
		done:      make(chan struct{}),
		startedAt: time.Now(),
		interrupt: interrupt,
		kill:      kill,
	}
	go p.wait()

	return p, nil
}

// Version returns the first line of `xray version`.
func (b *Binary) Version(ctx context.Context) (string, error) {
	if !b.Exists() {
		return "", pkgerrors.ErrBinaryMissing
	}

	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.Path, "version")
	cmd.SysProcAttr = hiddenProcAttr()
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get xray version: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	return string(output), nil
}

// Process is a running xray child.
type Process struct {
	cmd       *exec.Cmd
	done      chan struct{}
	startedAt time.Time

	// interrupt and kill signal the process group.
	interrupt func(*os.Process) error
	kill      func(*os.Process) error

	mu      sync.Mutex
	exitErr error
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// StartedAt returns the spawn time.
func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has already exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the wait error once the process has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Terminate asks the process to exit and kills it when it is still alive
// after timeout. It waits at most another timeout for the kill to land and
// returns ErrStopTimeout when the process is still running after that.
func (p *Process) Terminate(timeout time.Duration) error {
	if p.Exited() {
		return nil
	}

	if err := p.interrupt(p.cmd.Process); err != nil {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
	}

	if err := p.kill(p.cmd.Process); err != nil {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: pid %d", pkgerrors.ErrStopTimeout, p.cmd.Process.Pid)
	}
}

// findXrayBinary finds the xray binary in common locations
func findXrayBinary() (string, error) {
	locations := []string{
		"xray", // In PATH
		"/usr/local/bin/xray",
		"/usr/bin/xray",
		"/opt/xray/xray",
	}

	if homeDir, err := paths.HomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, ".local", "bin", "xray"))
		locations = append(locations, filepath.Join(homeDir, ".local", "share", paths.AppName, "core", "xray"))
	}

	for _, loc := range locations {
		path, err := exec.LookPath(loc)
		if err == nil {
			return path, nil
		}
	}

	return "", pkgerrors.ErrBinaryMissing
}
