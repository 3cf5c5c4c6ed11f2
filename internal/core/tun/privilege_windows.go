//go:build windows

package tun

import "golang.org/x/sys/windows"

// Elevated reports whether the process token is elevated.
func Elevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
