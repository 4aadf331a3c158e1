package config

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"      validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker"    validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Tenant    TenantConfig    `mapstructure:"tenant"    validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	// JWTSecret signs and verifies the HS256 tokens whose tenant claim is
	// resolution source (2).
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`

	// ServiceKeyHash is the bcrypt hash of the internal service key that
	// authorizes the explicit tenant header (resolution source 1).
	ServiceKeyHash string `mapstructure:"service_key_hash" validate:"required"`

	// BaseDomain is the apex domain used to derive a tenant from the
	// request host (resolution source 3), e.g. "taskcore.dev" makes
	// "acme.taskcore.dev" resolve to tenant "acme".
	BaseDomain string `mapstructure:"base_domain" validate:"required,fqdn"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	// Count is the number of concurrent workers claiming envelopes.
	Count int `mapstructure:"count" validate:"required,gt=0"`

	// Queues is the ordered set of queue names this process claims from.
	Queues []string `mapstructure:"queues" validate:"required,min=1"`

	// PollIntervalMS is how long a worker sleeps when its claim finds no
	// eligible envelope.
	PollIntervalMS int `mapstructure:"poll_interval_ms" validate:"required,gt=0"`

	// TaskTimeoutSec bounds each handler execution; a timeout is treated
	// as a transient failure.
	TaskTimeoutSec int `mapstructure:"task_timeout_sec" validate:"required,gt=0"`

	// RetryBaseDelayMS is the base for the exponential retry backoff.
	RetryBaseDelayMS int `mapstructure:"retry_base_delay_ms" validate:"required,gt=0"`

	// RetryMaxDelaySec caps a single computed retry delay.
	RetryMaxDelaySec int `mapstructure:"retry_max_delay_sec" validate:"required,gt=0"`
}

// SchedulerConfig contains the recurring-schedule evaluator settings.
type SchedulerConfig struct {
	// TickIntervalSec is how often schedule entries are evaluated.
	TickIntervalSec int `mapstructure:"tick_interval_sec" validate:"required,gt=0"`

	// FanOutPageSize bounds how many tenants are loaded per page during
	// an all-active-tenants fan-out.
	FanOutPageSize int `mapstructure:"fan_out_page_size" validate:"required,gt=0"`

	// FanOutRatePerSec paces enqueues during fan-out so a schedule firing
	// cannot flood the worker pool.
	FanOutRatePerSec float64 `mapstructure:"fan_out_rate_per_sec" validate:"required,gt=0"`
}

// TenantConfig contains tenant metadata cache settings.
type TenantConfig struct {
	// CacheTTLSec bounds how long resolved tenant metadata may be served
	// without a store lookup. Status-change signals invalidate entries
	// immediately regardless of TTL.
	CacheTTLSec int `mapstructure:"cache_ttl_sec" validate:"required,gt=0"`
}

// RedisConfig contains the optional Redis-backed tenant status feed.
// When Addr is empty the feed is disabled and only in-process
// invalidation is available.
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}
