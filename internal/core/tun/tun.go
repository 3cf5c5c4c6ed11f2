// Package tun holds the host-side facts behind xray's TUN inbound: the
// device it creates and the privileges it needs.
package tun

import "errors"

// Device settings for the TUN inbound.
const (
	DeviceName = "xray-tun"
	DefaultMTU = 1500
	Stack      = "system"
)

// ErrNotElevated is returned when TUN mode is used without root/admin
// privileges.
var ErrNotElevated = errors.New(
	"TUN mode requires elevated privileges.\n" +
		"  macOS/Linux: sudo corpvpn connect --tun\n" +
		"  Windows:     run as Administrator",
)

// Check returns ErrNotElevated when the process cannot create a TUN device.
func Check() error {
	if !Elevated() {
		return ErrNotElevated
	}
	return nil
}
