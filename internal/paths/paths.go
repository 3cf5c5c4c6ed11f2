package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// AppName names the per-user directories.
const AppName = "corpvpn"

// HomeDir returns the real user's home directory, even when running under sudo.
// TUN mode needs root, but the profile, state and database must stay in the
// invoking user's home so later unprivileged runs find them.
func HomeDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// RealUser returns the UID and GID of the real invoking user when running
// under sudo (via SUDO_UID / SUDO_GID). Returns ok=false when not under sudo.
func RealUser() (uid, gid int, ok bool) {
	sudoUID := os.Getenv("SUDO_UID")
	if sudoUID == "" {
		return 0, 0, false
	}
	u, err := strconv.ParseInt(sudoUID, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var g int64
	if sudoGID := os.Getenv("SUDO_GID"); sudoGID != "" {
		g, _ = strconv.ParseInt(sudoGID, 10, 64)
	}
	return int(u), int(g), true
}

// ChownToRealUser changes the owner of path to the real invoking user when
// running under sudo. It is a no-op when not under sudo.
func ChownToRealUser(path string) {
	if uid, gid, ok := RealUser(); ok {
		os.Chown(path, uid, gid)
	}
}

// ensure creates dir under the real user's ownership.
func ensure(parts ...string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(append([]string{home}, parts...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ChownToRealUser(dir)
	return dir, nil
}

// RuntimeDir returns ~/.cache/corpvpn, where the generated core
// configuration and core logs live.
func RuntimeDir() (string, error) {
	return ensure(".cache", AppName)
}

// DataDir returns ~/.local/share/corpvpn, holding the database and the
// bundled core binary.
func DataDir() (string, error) {
	return ensure(".local", "share", AppName)
}

// ConfigDir returns ~/.config/corpvpn, holding profile.json, state.json and
// the optional settings file.
func ConfigDir() (string, error) {
	return ensure(".config", AppName)
}
