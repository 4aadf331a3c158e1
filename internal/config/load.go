package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional YAML config file in the working directory or /etc/taskcore.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskcore")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; env vars alone can supply everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables with the TASKCORE_ prefix override file values,
	// e.g. TASKCORE_DATABASE_URL maps to database.url.
	v.SetEnvPrefix("TASKCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only surfaces keys viper already knows about, so the
	// secrets without defaults need explicit binds to be unmarshalled.
	for _, key := range []string{
		"database.url",
		"auth.jwt_secret",
		"auth.service_key_hash",
		"auth.base_domain",
		"redis.addr",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers defaults for everything that has a sensible one.
// Secrets (JWT secret, service key hash, database URL) deliberately have
// no default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queues", []string{"default"})
	v.SetDefault("worker.poll_interval_ms", 250)
	v.SetDefault("worker.task_timeout_sec", 60)
	v.SetDefault("worker.retry_base_delay_ms", 500)
	v.SetDefault("worker.retry_max_delay_sec", 300)

	v.SetDefault("scheduler.tick_interval_sec", 15)
	v.SetDefault("scheduler.fan_out_page_size", 100)
	v.SetDefault("scheduler.fan_out_rate_per_sec", 50.0)

	v.SetDefault("tenant.cache_ttl_sec", 30)

	v.SetDefault("redis.channel", "tenant-status")
}

// validate runs struct validation and wraps the first failure with the
// offending field path so misconfiguration is obvious at startup.
func validate(cfg *Config) error {
	vd := validator.New()
	if err := vd.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid configuration for %s: %w", verrs[0].Namespace(), err)
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
