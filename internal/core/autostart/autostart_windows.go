package autostart

import (
	"context"
	"syscall"

	"golang.org/x/sys/windows"
)

// install creates (or replaces) a logon task in the Task Scheduler.
func (i *Installer) install(ctx context.Context) error {
	return i.run(ctx, "schtasks", i.schtasksArgs()...)
}

func (i *Installer) schtasksArgs() []string {
	return []string{"/Create", "/TN", TaskName, "/SC", "ONLOGON", "/TR", i.commandLine(), "/F"}
}

func hiddenProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{HideWindow: true, CreationFlags: windows.CREATE_NO_WINDOW}
}
