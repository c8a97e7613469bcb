package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/operator-registry/opreg"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Registry RegistryConfig `mapstructure:"registry"`
}

// RegistryConfig controls where operators are discovered and where the
// discovered state is cached.
type RegistryConfig struct {
	// HomeDir is the primary operator home; its Operators and Scripts
	// subdirectories are scanned.
	HomeDir string `mapstructure:"homeDir"`
	// GroupHomes are additional homes. Each entry may itself be a list joined
	// by the OS path list separator or ';'.
	GroupHomes []string `mapstructure:"groupHomes"`
	// InstallDir is the running program's own install location, either a
	// directory or a single archive.
	InstallDir string `mapstructure:"installDir"`
	// ClassPath lists the roots stripped from compiled artifact paths to
	// derive their type names.
	ClassPath     []string `mapstructure:"classPath"`
	CacheFile     string   `mapstructure:"cacheFile"`
	ReloadScripts bool     `mapstructure:"reloadScripts"`
	LoadDebug     bool     `mapstructure:"loadDebug"`
	Workers       int      `mapstructure:"workers"`
	IgnoreFile    string   `mapstructure:"ignoreFile"`
	// BuildStamp overrides the build timestamp used in the cache fingerprint.
	// Zero means the modification time of the running executable.
	BuildStamp int64 `mapstructure:"buildStamp"`
	// WatchDelay is the quiet period the watch command waits for before
	// rehashing.
	WatchDelay time.Duration `mapstructure:"watchDelay"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // registry.homeDir becomes OPREG_REGISTRY_HOMEDIR

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

// SetDefaults registers the default value of every registry key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("registry.homeDir", filepath.Join(internal.DefaultUserHomeDir, "ISAW"))
	v.SetDefault("registry.groupHomes", []string{})
	v.SetDefault("registry.installDir", internal.DefaultInstallDir)
	v.SetDefault("registry.classPath", []string{})
	v.SetDefault("registry.cacheFile", internal.DefaultSnapshotFile)
	v.SetDefault("registry.reloadScripts", internal.DefaultReloadScripts)
	v.SetDefault("registry.loadDebug", false)
	v.SetDefault("registry.workers", internal.DefaultWorkers)
	v.SetDefault("registry.ignoreFile", internal.DefaultIgnoreFile)
	v.SetDefault("registry.buildStamp", 0)
	v.SetDefault("registry.watchDelay", internal.DefaultWatchDelay)
}

// Default returns the configuration LoadConfig produces when no file or
// environment overrides are present.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are plain values; decoding them cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// EffectiveClassPath returns the configured class path with the home, group
// and install directories appended when they are not already present.
func (rc RegistryConfig) EffectiveClassPath() []string {
	out := make([]string, 0, len(rc.ClassPath)+2+len(rc.GroupHomes))
	seen := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		p = filepath.ToSlash(filepath.Clean(p))
		if seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, p := range rc.ClassPath {
		add(p)
	}
	add(rc.HomeDir)
	for _, g := range rc.GroupHomes {
		for _, p := range SplitPathList(g) {
			add(p)
		}
	}
	add(rc.InstallDir)
	return out
}

// SplitPathList splits a list joined by the OS path list separator or ';'.
func SplitPathList(list string) []string {
	list = strings.ReplaceAll(list, string(filepath.ListSeparator), ";")
	parts := strings.Split(list, ";")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
