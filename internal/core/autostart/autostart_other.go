//go:build !linux && !darwin && !windows

package autostart

import (
	"context"
	"syscall"

	pkgerrors "corpvpn/pkg/errors"
)

func (i *Installer) install(context.Context) error {
	return pkgerrors.ErrAutostartUnsupported
}

func hiddenProcAttr() *syscall.SysProcAttr { return nil }
