package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// DefaultConfigPath returns the default config file path for the given
// file name (e.g. "gateway.yaml").
func DefaultConfigPath(name string) string {
	home, _ := os.UserHomeDir()
	programData := os.Getenv("ProgramData")
	return ResolveConfigPath(runtime.GOOS, home, programData, name)
}

// ResolveConfigPath constructs a config file path for the given OS and base
// directories. It is mainly used in tests.
func ResolveConfigPath(goos, home, programData, name string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "detpay", name)
	case "windows":
		if programData == "" {
			programData = "C:/ProgramData"
		}
		programData = strings.TrimRight(programData, "\\/")
		return filepath.Join(programData, "detpay", name)
	default:
		return filepath.Join("/etc", "detpay", name)
	}
}

// GetEnv returns the value of key or def when it is unset or empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
