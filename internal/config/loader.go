package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "AUTOPILOT"

// Loader reads one config file. An empty path means
// $HOME/.autopilot/autopilot.json.
type Loader struct {
	configPath string
}

func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".autopilot"), nil
}

// Load reads the config file, overlays AUTOPILOT_* environment variables and
// fills derived paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	path := l.GetConfigPath()
	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	case !errors.Is(statErr, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to stat config file: %w", statErr)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.derivePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// derivePaths places unset log and store paths under the data directory.
func (c *Config) derivePaths() error {
	if c.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "autopilot.log")
	}
	if c.Store.Path != "" {
		return nil
	}
	switch c.Store.Kind {
	case "file":
		c.Store.Path = filepath.Join(c.DataDir, "sessions")
	case "sqlite":
		c.Store.Path = filepath.Join(c.DataDir, "sessions.db")
	}
	return nil
}

// bindEnv registers the keys that are commonly overridden from the
// environment; AutomaticEnv alone does not reach keys absent from the file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"model.provider",
		"model.model",
		"model.api_key",
		"model.base_url",
		"model.engine",
		"operator.kind",
		"operator.remote.base_url",
		"operator.remote.access_key",
		"operator.remote.secret_key",
		"operator.mobile.device_id",
		"logging.level",
		"store.kind",
	} {
		_ = v.BindEnv(key)
	}
}

// Save writes cfg as JSON to the loader's path, readable only by the
// owner since it may hold API keys.
func (l *Loader) Save(cfg *Config) error {
	path := l.GetConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the file Load reads, or "" when no home directory
// is known.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	dir, err := defaultDataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "autopilot.json")
}

// Load reads the config at configPath.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
