package autostart

import (
	"context"
	"fmt"
	"path/filepath"
	"syscall"
)

// install writes an XDG autostart entry.
func (i *Installer) install(context.Context) error {
	entry := fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=CorpVPN
Exec=%s
X-GNOME-Autostart-enabled=true
NoDisplay=true
`, i.commandLine())
	path, err := i.entryPath()
	if err != nil {
		return err
	}
	return writeEntry(path, []byte(entry))
}

func (i *Installer) entryPath() (string, error) {
	home, err := i.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "autostart", "corpvpn.desktop"), nil
}

func hiddenProcAttr() *syscall.SysProcAttr { return nil }
