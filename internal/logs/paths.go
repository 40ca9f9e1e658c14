package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "jetbrains-proxy-mcp-server"

// GetLogDir returns the standard log directory for the current OS
func GetLogDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			return getDefaultLogDir()
		}
		return filepath.Join(base, appName, "logs"), nil
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return getDefaultLogDir()
		}
		return filepath.Join(homeDir, "Library", "Logs", appName), nil
	default:
		// XDG_STATE_HOME, falling back to ~/.local/state
		stateDir := os.Getenv("XDG_STATE_HOME")
		if stateDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return getDefaultLogDir()
			}
			stateDir = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateDir, appName, "logs"), nil
	}
}

func getDefaultLogDir() (string, error) {
	return filepath.Join(os.TempDir(), appName, "logs"), nil
}

// GetLogFilePathWithDir returns the full path for a log file, creating the
// directory. An empty logDir means the standard directory.
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		dir, err := GetLogDir()
		if err != nil {
			return "", err
		}
		logDir = dir
	}

	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}
