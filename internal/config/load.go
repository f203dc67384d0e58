package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file and the
// environment. Environment variables use the TASKFORGE_ prefix with
// underscores for nesting (TASKFORGE_ENGINE_MAX_CONCURRENT) and take
// precedence over file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("engine.max_concurrent", 4)
	v.SetDefault("engine.available_memory_mb", 0)
	v.SetDefault("engine.default_max_retries", 3)
	v.SetDefault("engine.breaker_threshold", 5)
	v.SetDefault("engine.breaker_reset_timeout", time.Minute)
	v.SetDefault("schedule.check_interval", time.Second)
	v.SetDefault("schedule.retention", 24*time.Hour)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("TASKFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("taskforge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file is fine; env and defaults apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
