package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ParseConfig attempts to read and parse configuration from the given file path.
// An error is returned if reading or parsing the config fails.
func ParseConfig(configPath string) (Config, error) {
	return ParseConfigs([]string{configPath})
}

// ParseConfigs attempts to read and parse configuration from the given file
// paths. Later files override earlier ones; environment variables override
// both, with nested keys read through underscore separators, ex.
// OBJECT_STORE_SECRET_ACCESS_KEY or DATABASE_URL.
func ParseConfigs(configPaths []string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.AutomaticEnv()
	// Allow nested env vars to be read with underscore separators.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindSecretEnvs(v)

	for _, configPath := range configPaths {
		if configPath == "" {
			return cfg, ErrEmptyConfigPath
		}
		v.SetConfigFile(configPath)
		if err := v.MergeInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.setDefaults()

	return cfg, cfg.Validate()
}

// bindSecretEnvs pre-binds the credential keys so they resolve from the
// environment even when absent from every config file.
func bindSecretEnvs(v *viper.Viper) {
	for _, key := range []string{
		"object_store.endpoint",
		"object_store.access_key_id",
		"object_store.secret_access_key",
		"object_store.bucket",
		"database.url",
		"history.apikey",
	} {
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key)
	}
}
