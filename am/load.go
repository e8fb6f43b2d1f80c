package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/bfhtw/errors"
)

// EnvPrefix is prepended to every environment override (BFHTW_DATABASE_PATH, ...)
const EnvPrefix = "BFHTW"

// Load reads the configuration document at path. When the file does not
// exist a default document is written there first, then loaded.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, errors.Wrapf(err, "write default config %s", path)
		}
	}

	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.MarkConfiguration(errors.Wrapf(err, "failed to read config file %s", path))
	}

	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return cfg, nil
}

// LoadWithViper loads configuration from a prepared Viper instance,
// normalizes it and validates it.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.MarkConfiguration(errors.Wrap(err, "failed to unmarshal config"))
	}
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// newViper builds a Viper bound to one document with env overrides and defaults
func newViper(path string) (*viper.Viper, error) {
	format, err := configType(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)
	return v, nil
}

// configType maps a file extension to a viper config type
func configType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	case ".json":
		return "json", nil
	}
	return "", errors.NewConfigurationError("unsupported config format %q (use .yaml, .toml or .json)", filepath.Ext(path))
}
