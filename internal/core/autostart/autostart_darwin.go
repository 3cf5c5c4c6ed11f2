package autostart

import (
	"context"
	"encoding/xml"
	"path/filepath"
	"strings"
	"syscall"
)

const launchAgentLabel = "com.corpvpn.autostart"

// install writes a LaunchAgent that runs at load, i.e. at login.
func (i *Installer) install(context.Context) error {
	var args strings.Builder
	for _, a := range append([]string{i.Exe}, i.Args...) {
		args.WriteString("\t\t<string>")
		xml.EscapeText(&args, []byte(a))
		args.WriteString("</string>\n")
	}

	plist := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>` + launchAgentLabel + `</string>
	<key>ProgramArguments</key>
	<array>
` + args.String() + `	</array>
	<key>RunAtLoad</key>
	<true/>
</dict>
</plist>
`
	path, err := i.entryPath()
	if err != nil {
		return err
	}
	return writeEntry(path, []byte(plist))
}

func (i *Installer) entryPath() (string, error) {
	home, err := i.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", launchAgentLabel+".plist"), nil
}

func hiddenProcAttr() *syscall.SysProcAttr { return nil }
