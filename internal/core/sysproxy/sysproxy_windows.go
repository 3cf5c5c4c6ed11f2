package sysproxy

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const internetSettings = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

// WinINet options that make running applications reload the proxy settings.
const (
	internetOptionSettingsChanged = 39
	internetOptionRefresh         = 37
)

var (
	wininet                = windows.NewLazySystemDLL("wininet.dll")
	procInternetSetOptionW = wininet.NewProc("InternetSetOptionW")
)

// enable writes the per-user WinINet proxy. Local addresses bypass it.
func (p *Proxy) enable(_ context.Context, addr string) error {
	key, err := openInternetSettings()
	if err != nil {
		return err
	}
	defer key.Close()

	if err := key.SetDWordValue("ProxyEnable", 1); err != nil {
		return fmt.Errorf("failed to set ProxyEnable: %w", err)
	}
	if err := key.SetStringValue("ProxyServer", addr); err != nil {
		return fmt.Errorf("failed to set ProxyServer: %w", err)
	}
	if err := key.SetStringValue("ProxyOverride", "<local>"); err != nil {
		return fmt.Errorf("failed to set ProxyOverride: %w", err)
	}
	return notifySettingsChanged()
}

// disable clears ProxyEnable and leaves ProxyServer in place.
func (p *Proxy) disable(context.Context) error {
	key, err := openInternetSettings()
	if err != nil {
		return err
	}
	defer key.Close()

	if err := key.SetDWordValue("ProxyEnable", 0); err != nil {
		return fmt.Errorf("failed to set ProxyEnable: %w", err)
	}
	return notifySettingsChanged()
}

func openInternetSettings() (registry.Key, error) {
	key, _, err := registry.CreateKey(registry.CURRENT_USER, internetSettings, registry.SET_VALUE)
	if err != nil {
		return 0, fmt.Errorf("failed to open Internet Settings: %w", err)
	}
	return key, nil
}

func notifySettingsChanged() error {
	if err := procInternetSetOptionW.Find(); err != nil {
		return fmt.Errorf("wininet unavailable: %w", err)
	}
	for _, opt := range []uintptr{internetOptionSettingsChanged, internetOptionRefresh} {
		if r, _, callErr := procInternetSetOptionW.Call(0, opt, 0, 0); r == 0 {
			return fmt.Errorf("InternetSetOptionW(%d): %w", opt, callErr)
		}
	}
	return nil
}
