package config

import "time"

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	LogLevel string         `mapstructure:"log_level" validate:"required,oneof=trace debug info warn error"`
}

// ServerConfig is the HTTP surface configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// EngineConfig sets the scheduler and recovery parameters.
type EngineConfig struct {
	MaxConcurrent       int           `mapstructure:"max_concurrent"        validate:"gt=0"`
	AvailableMemoryMB   int           `mapstructure:"available_memory_mb"   validate:"gte=0"`
	DefaultMaxRetries   int           `mapstructure:"default_max_retries"   validate:"gte=0"`
	BreakerThreshold    int           `mapstructure:"breaker_threshold"     validate:"gt=0"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout" validate:"gt=0"`
}

// ScheduleConfig sets the recurring-schedule loop parameters.
type ScheduleConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"gt=0"`
	Retention     time.Duration `mapstructure:"retention"      validate:"gte=0"`
}
