//go:build !linux && !darwin && !windows

package sysproxy

import (
	"context"

	pkgerrors "corpvpn/pkg/errors"
)

func (p *Proxy) enable(context.Context, string) error {
	return pkgerrors.ErrProxyUnsupported
}

func (p *Proxy) disable(context.Context) error {
	return pkgerrors.ErrProxyUnsupported
}
