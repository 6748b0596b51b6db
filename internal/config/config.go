package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultDebugPort is the fixed remote-debugging port every client process
// discovers the shared browser on.
const DefaultDebugPort = 9222

// Config represents the application configuration.
type Config struct {
	// Remote-debugging port the shared browser listens on.
	DebugPort int `yaml:"debug_port" mapstructure:"debug_port"`

	// Browser binary override. Empty means auto-detect on PATH.
	BrowserPath string `yaml:"browser_path,omitempty" mapstructure:"browser_path"`

	// Chrome user-data-dir used by the daemon-owned browser.
	ProfileDir string `yaml:"profile_dir" mapstructure:"profile_dir"`

	// Extra flags appended to the browser command line.
	ExtraFlags []string `yaml:"extra_flags,omitempty" mapstructure:"extra_flags"`

	// Unpacked extension directories passed via --load-extension.
	Extensions []string `yaml:"extensions,omitempty" mapstructure:"extensions"`

	// Path of the shared tab-group registry file.
	RegistryPath string `yaml:"registry_path" mapstructure:"registry_path"`
}

var (
	configPath string
	configDir  string
)

func init() {
	// When running under sudo, os.UserHomeDir() returns /root.
	// Check SUDO_USER to resolve the real user's home directory.
	var home string
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			home = u.HomeDir
		}
	}
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
	}

	configDir = filepath.Join(home, ".corral")
	configPath = filepath.Join(configDir, "config.yaml")
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() string {
	return configPath
}

// GetConfigDir returns the config directory.
func GetConfigDir() string {
	return configDir
}

// Default returns a config populated with the built-in defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DebugPort:    DefaultDebugPort,
		ProfileDir:   filepath.Join(home, ".cache", "corral", "chrome-profile"),
		RegistryPath: filepath.Join(configDir, "registry.json"),
	}
}

// Load loads the configuration from file, creating a default one on first run.
func Load() (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := Default()
		if err := Save(defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return defaultConfig, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fill gaps left by hand-edited files.
	defaults := Default()
	if cfg.DebugPort == 0 {
		cfg.DebugPort = defaults.DebugPort
	}
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = defaults.ProfileDir
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = defaults.RegistryPath
	}

	return &cfg, nil
}

// Save saves the configuration to file.
func Save(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Endpoint returns the HTTP base URL of the browser's debug endpoint.
func (c *Config) Endpoint() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.DebugPort)
}
