// Package autostart registers the client to start when the user logs in.
package autostart

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"corpvpn/internal/paths"
)

// TaskName identifies the login entry on every platform.
const TaskName = "CorpVPN-Autostart"

// Installer registers Exe with Args as a per-user login item.
type Installer struct {
	Exe  string
	Args []string

	// home overrides the user's home directory for file-based entries.
	home string
	run  func(ctx context.Context, name string, args ...string) error
}

// New returns an Installer for the running executable.
func New(args ...string) (*Installer, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return &Installer{Exe: exe, Args: args, run: runCommand}, nil
}

// Install writes or replaces the login entry.
func (i *Installer) Install(ctx context.Context) error {
	if i.Exe == "" {
		return fmt.Errorf("autostart executable not set")
	}
	return i.install(ctx)
}

// commandLine renders the entry's command with every part double quoted.
func (i *Installer) commandLine() string {
	parts := make([]string, 0, len(i.Args)+1)
	for _, p := range append([]string{i.Exe}, i.Args...) {
		parts = append(parts, `"`+strings.ReplaceAll(p, `"`, `\"`)+`"`)
	}
	return strings.Join(parts, " ")
}

func (i *Installer) homeDir() (string, error) {
	if i.home != "" {
		return i.home, nil
	}
	return paths.HomeDir()
}

// writeEntry writes a login file and hands it to the real user under sudo.
func writeEntry(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	paths.ChownToRealUser(filepath.Dir(path))
	paths.ChownToRealUser(path)
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = hiddenProcAttr()
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
