// Config loading for the studystore CLI.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/studystore/internal/paths"
	"github.com/mesh-intelligence/studystore/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	// envPrefix prefixes the environment overrides, e.g. STUDYSTORE_BACKEND.
	envPrefix = "STUDYSTORE"

	cfgKeyBackend       = "backend"
	cfgKeyDataDir       = "data_dir"
	cfgKeyDSN           = "dsn"
	cfgKeyMaxOpenConns  = "max_open_conns"
	cfgKeyBusyTimeoutMS = "busy_timeout_ms"
	cfgKeyLogLevel      = "log_level"

	defaultLogLevel = "warn"
)

// configFile is the structure written to a fresh config.yaml.
type configFile struct {
	Backend       string `yaml:"backend"`
	DataDir       string `yaml:"data_dir,omitempty"`
	DSN           string `yaml:"dsn,omitempty"`
	MaxOpenConns  int    `yaml:"max_open_conns,omitempty"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	LogLevel      string `yaml:"log_level"`
}

// loadConfig reads config.yaml from configDir, creating the directory and a
// default file on first run. Flags win over STUDYSTORE_* variables, which
// win over the file. data_dir is read from the file only; its flag and
// environment override are resolved by paths.ResolveDataDir.
func loadConfig(configDir string, flags *pflag.FlagSet) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyBusyTimeoutMS, types.DefaultBusyTimeoutMS)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(envPrefix)
	for _, key := range []string{cfgKeyBackend, cfgKeyDSN, cfgKeyMaxOpenConns, cfgKeyBusyTimeoutMS, cfgKeyLogLevel} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	for key, flag := range map[string]string{
		cfgKeyBackend:  "backend",
		cfgKeyDSN:      "dsn",
		cfgKeyLogLevel: "log-level",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// ensureDefaultConfigFile writes config.yaml with default values if the file
// does not exist. An existing file is left alone.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(&configFile{
		Backend:       types.BackendSQLite,
		BusyTimeoutMS: types.DefaultBusyTimeoutMS,
		LogLevel:      defaultLogLevel,
	})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# studystore configuration\n# Flags and STUDYSTORE_* environment variables override these values.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// storageConfig builds the backend configuration for this invocation.
func (a *app) storageConfig() (types.Config, error) {
	cfg := types.Config{
		Backend:       a.config.GetString(cfgKeyBackend),
		DSN:           a.config.GetString(cfgKeyDSN),
		MaxOpenConns:  a.config.GetInt(cfgKeyMaxOpenConns),
		BusyTimeoutMS: a.config.GetInt(cfgKeyBusyTimeoutMS),
	}
	if cfg.Backend == types.BackendSQLite {
		dataDir, err := paths.ResolveDataDir(a.flags.dataDir, a.config.GetString(cfgKeyDataDir))
		if err != nil {
			return types.Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// parseLevel maps a --log-level value to a slog level.
func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		s = defaultLogLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, usagef("invalid log level %q (valid: debug, info, warn, error)", s)
	}
	return level, nil
}
