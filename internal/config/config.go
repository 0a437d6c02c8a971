package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MEDIAGW"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Lock        LockConfig        `mapstructure:"lock"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Token       TokenConfig       `mapstructure:"token"`
	Transport   TransportConfig   `mapstructure:"transport"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Environment     string        `mapstructure:"environment"`
	MaxConnections  int           `mapstructure:"max_connections"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`  // peers allowed to set X-Forwarded-For; empty trusts none
	TrustedPlatform string        `mapstructure:"trusted_platform"` // "", "cloudflare" or "google"
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Enabled reports whether a redis host is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type LockConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Backend          string           `mapstructure:"backend"` // "database" or "redis"
	DegradedFallback bool             `mapstructure:"degraded_fallback"`
	Global           Limit            `mapstructure:"global"`
	Routes           map[string]Limit `mapstructure:"routes"`
}

// Limit is a request budget over a sliding window. Zero requests means unbounded.
type Limit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type DeliveryConfig struct {
	ChunkSize       int64         `mapstructure:"chunk_size"`
	AccessLogBuffer int           `mapstructure:"access_log_buffer"`
	AccessLogBatch  int           `mapstructure:"access_log_batch"`
	AccessLogFlush  time.Duration `mapstructure:"access_log_flush"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
}

type TokenConfig struct {
	Grace       time.Duration `mapstructure:"grace"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
	MinDuration time.Duration `mapstructure:"min_duration"`
}

type TransportConfig struct {
	Targets           []string      `mapstructure:"targets"`
	Strategy          string        `mapstructure:"strategy"`
	FilePathPrefix    string        `mapstructure:"file_path_prefix"`
	Timeout           time.Duration `mapstructure:"timeout"`
	HealthEndpoint    string        `mapstructure:"health_endpoint"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout"`
	HealthMaxFailures int           `mapstructure:"health_max_failures"`
	BreakerFailures   int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	BreakerHalfOpen   int           `mapstructure:"breaker_half_open_success"`
}

type ObjectStoreConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	CustomDomain    string `mapstructure:"custom_domain"`
}

type RetentionConfig struct {
	AccessLogs time.Duration `mapstructure:"access_logs"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.max_connections", 1024)
	v.SetDefault("server.read_timeout", 15*time.Second)
	// Downloads can run for hours; a write deadline would cut them off.
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.trusted_platform", "")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "media-gateway.db")
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "media-gateway-admin")

	v.SetDefault("lock.timeout", 5*time.Second)

	v.SetDefault("ratelimit.backend", "database")
	v.SetDefault("ratelimit.degraded_fallback", false)
	v.SetDefault("ratelimit.global.requests", DefaultLimit.Requests)
	v.SetDefault("ratelimit.global.window", DefaultLimit.Window)
	v.SetDefault("ratelimit.routes", map[string]any{})

	v.SetDefault("delivery.chunk_size", int64(1024*1024))
	v.SetDefault("delivery.access_log_buffer", 1000)
	v.SetDefault("delivery.access_log_batch", 100)
	v.SetDefault("delivery.access_log_flush", 5*time.Second)
	v.SetDefault("delivery.public_base_url", "")

	v.SetDefault("token.grace", time.Hour)
	v.SetDefault("token.default_ttl", 2*time.Hour)
	v.SetDefault("token.max_duration", 24*time.Hour)
	v.SetDefault("token.min_duration", time.Duration(0))

	v.SetDefault("transport.targets", []string{})
	v.SetDefault("transport.strategy", "round_robin")
	v.SetDefault("transport.file_path_prefix", "/file")
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.health_endpoint", "/health")
	v.SetDefault("transport.health_interval", 10*time.Second)
	v.SetDefault("transport.health_timeout", 5*time.Second)
	v.SetDefault("transport.health_max_failures", 3)
	v.SetDefault("transport.breaker_max_failures", 5)
	v.SetDefault("transport.breaker_timeout", 30*time.Second)
	v.SetDefault("transport.breaker_half_open_success", 1)

	v.SetDefault("objectstore.enabled", false)
	v.SetDefault("objectstore.endpoint", "")
	v.SetDefault("objectstore.region", "auto")
	v.SetDefault("objectstore.bucket", "")
	v.SetDefault("objectstore.access_key_id", "")
	v.SetDefault("objectstore.secret_access_key", "")
	v.SetDefault("objectstore.custom_domain", "")

	v.SetDefault("retention.access_logs", 30*24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	switch c.RateLimit.Backend {
	case "database":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("ratelimit.backend redis requires redis.host")
		}
	default:
		return fmt.Errorf("unknown ratelimit.backend %q", c.RateLimit.Backend)
	}

	if c.Delivery.ChunkSize <= 0 {
		return fmt.Errorf("delivery.chunk_size must be positive")
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}
	if c.Token.DefaultTTL <= 0 {
		return fmt.Errorf("token.default_ttl must be positive")
	}

	if c.ObjectStore.Enabled {
		if c.ObjectStore.Bucket == "" || c.ObjectStore.AccessKeyID == "" || c.ObjectStore.SecretAccessKey == "" {
			return fmt.Errorf("objectstore requires bucket, access_key_id and secret_access_key when enabled")
		}
	}

	return nil
}
