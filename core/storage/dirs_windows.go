//go:build windows

package storage

import (
	"os"
	"path/filepath"
)

func platformConfigDefault() string {
	return filepath.Join(os.Getenv("APPDATA"), appName, "config")
}

func platformStateDefault() string {
	return filepath.Join(os.Getenv("LOCALAPPDATA"), appName, "state")
}
