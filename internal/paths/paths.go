// Package paths resolves where batchtree keeps its config file and its
// record data.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "batchtree"

// Names used below the working directory and inside the config directory.
const (
	DefaultDataDirName = ".batchtree"
	ConfigFileName     = "config.yaml"
)

// Environment variable overrides.
const (
	EnvConfigDir = "BATCHTREE_CONFIG_DIR"
	EnvDataDir   = "BATCHTREE_DATA_DIR"
)

// platformDir is swapped out in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
	getwd         func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
	getwd:         os.Getwd,
}

// DefaultConfigDir returns the platform config directory for batchtree:
// $XDG_CONFIG_HOME/batchtree or ~/.config/batchtree on Linux, and
// os.UserConfigDir()/batchtree elsewhere.
func DefaultConfigDir() (string, error) {
	if runtime.GOOS != "linux" {
		return userConfigSubdir()
	}
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

func xdgDir(env string, fallback ...string) (string, error) {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}

func userConfigSubdir() (string, error) {
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ConfigFile returns the config file path inside dir.
func ConfigFile(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}

// ResolveConfigDir picks the config directory: flag, then
// BATCHTREE_CONFIG_DIR, then DefaultConfigDir. Overrides are made absolute.
func ResolveConfigDir(flag string) (string, error) {
	if v := firstSet(flag, os.Getenv(EnvConfigDir)); v != "" {
		return filepath.Abs(v)
	}
	return DefaultConfigDir()
}

// ResolveDataDir picks the data directory: flag, then the data_dir config
// value, then BATCHTREE_DATA_DIR, then .batchtree in the working directory.
func ResolveDataDir(flag, configValue string) (string, error) {
	if v := firstSet(flag, configValue, os.Getenv(EnvDataDir)); v != "" {
		return filepath.Abs(v)
	}
	cwd, err := platformDir.getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
