package opreg

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName names the per-user config directory
	DefaultAppName       = "opreg"
	DefaultConfigPath    = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultCacheDir      = filepath.Join(DefaultConfigPath, ".cache")
	DefaultSnapshotFile  = filepath.Join(DefaultCacheDir, "operators.snap")
	DefaultIgnoreFile    = ".opregignore"
	DefaultWorkers       = 4
	DefaultGlobalConfig  = filepath.Join(DefaultConfigPath, "config.yaml")
	DefaultOperatorsDir  = "Operators"
	DefaultScriptsDir    = "Scripts"
	DefaultUserHomeDir   = getHomeDir()
	DefaultInstallDir    = executableDir()
	DefaultReloadScripts = true
	DefaultWatchDelay    = 500 * time.Millisecond
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

// BuildStamp returns the modification time of the running executable in unix
// nanoseconds, or 0 when it cannot be determined.
func BuildStamp() int64 {
	exe, err := os.Executable()
	if err != nil {
		return 0
	}
	info, err := os.Stat(exe)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
