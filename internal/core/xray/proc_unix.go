//go:build !windows

package xray

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"corpvpn/internal/paths"
)

func sysProcAttr() *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}

	// Under sudo, drop the core back to the invoking user so a later
	// unprivileged run can signal it.
	if uid, gid, ok := paths.RealUser(); ok {
		attr.Credential = &syscall.Credential{
			Uid: uint32(uid),
			Gid: uint32(gid),
		}
	}
	return attr
}

func hiddenProcAttr() *syscall.SysProcAttr {
	return nil
}

// interrupt sends SIGTERM to the whole process group.
func interrupt(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err != nil {
		return p.Signal(os.Interrupt)
	}
	return nil
}

func kill(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}
