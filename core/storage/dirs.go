// Package storage resolves the directories envolve reads and writes: the home
// that holds one directory per service, and the XDG config and state
// directories used for configuration and logs.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appName = "envolve"

// HomeDirName is the default home directory name under the user's home.
const HomeDirName = ".envolve"

// Dirs holds the resolved directories.
type Dirs struct {
	Home   string // Managed services (<home>/<service>/.env)
	Config string // User configuration (config.yaml)
	State  string // Runtime state (logs)
}

// Resolve returns platform-appropriate directories. XDG_CONFIG_HOME and
// XDG_STATE_HOME override the platform defaults.
func Resolve() (*Dirs, error) {
	home, err := DefaultHome()
	if err != nil {
		return nil, err
	}
	return &Dirs{
		Home:   home,
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
	}, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

// DefaultHome returns ~/.envolve.
func DefaultHome() (string, error) {
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(userHome, HomeDirName), nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}
	return filepath.Join(userHome, strings.TrimPrefix(path, "~")), nil
}

// ConfigFile returns the default config file path.
func (d *Dirs) ConfigFile() string {
	return filepath.Join(d.Config, "config.yaml")
}

// LogDir returns the log directory.
func (d *Dirs) LogDir() string {
	return filepath.Join(d.State, "logs")
}

// LogFile returns the default log file path.
func (d *Dirs) LogFile() string {
	return filepath.Join(d.LogDir(), appName+".log")
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
// Uses 0700 when perm is zero.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o700
	}
	return os.MkdirAll(path, perm)
}
