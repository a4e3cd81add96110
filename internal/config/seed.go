package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed default_idle_config.lua
var defaultScript []byte

// DefaultScript returns the built-in script written on first run
func DefaultScript() []byte {
	return append([]byte(nil), defaultScript...)
}

// EnsureScript writes the default script to path when no file exists there.
// It reports whether a file was created.
func EnsureScript(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config script: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, defaultScript, 0644); err != nil {
		return false, fmt.Errorf("failed to write default config script: %w", err)
	}

	return true, nil
}
