// AngelaMos | 2026
// config.go

package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	App        AppConfig        `koanf:"app"`
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Database   DatabaseConfig   `koanf:"database"`
	Mongo      MongoConfig      `koanf:"mongo"`
	Redis      RedisConfig      `koanf:"redis"`
	Identity   IdentityConfig   `koanf:"identity"`
	Payment    PaymentConfig    `koanf:"payment"`
	Conversion ConversionConfig `koanf:"conversion"`
	Credits    CreditsConfig    `koanf:"credits"`
	Plans      []PlanConfig     `koanf:"plans"`
	Admin      AdminConfig      `koanf:"admin"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	CORS       CORSConfig       `koanf:"cors"`
	Log        LogConfig        `koanf:"log"`
	Otel       OtelConfig       `koanf:"otel"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver string `koanf:"driver"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type MongoConfig struct {
	URI            string        `koanf:"uri"`
	Database       string        `koanf:"database"`
	MaxPoolSize    uint64        `koanf:"max_pool_size"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

// IdentityConfig points at the identity provider that issues session tokens.
type IdentityConfig struct {
	JWKSURL         string        `koanf:"jwks_url"`
	Issuer          string        `koanf:"issuer"`
	Audience        string        `koanf:"audience"`
	EmailClaim      string        `koanf:"email_claim"`
	NameClaim       string        `koanf:"name_claim"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	Leeway          time.Duration `koanf:"leeway"`
}

type PaymentConfig struct {
	BaseURL         string        `koanf:"base_url"`
	KeyID           string        `koanf:"key_id"`
	KeySecret       string        `koanf:"key_secret"`
	DefaultCurrency string        `koanf:"default_currency"`
	Receipt         string        `koanf:"receipt"`
	Timeout         time.Duration `koanf:"timeout"`
}

type ConversionConfig struct {
	URL            string        `koanf:"url"`
	APIKey         string        `koanf:"api_key"`
	DeviceType     string        `koanf:"device_type"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes"`
	LockTTL        time.Duration `koanf:"lock_ttl"`
}

type CreditsConfig struct {
	StarterBalance int `koanf:"starter_balance"`
}

type PlanConfig struct {
	Name          string   `koanf:"name"`
	Price         int64    `koanf:"price"`
	OriginalPrice int64    `koanf:"original_price"`
	Conversions   int      `koanf:"conversions"`
	Features      []string `koanf:"features"`
	Highlight     bool     `koanf:"highlight"`
}

type AdminConfig struct {
	Emails []string `koanf:"emails"`
}

type RateLimitConfig struct {
	Requests           int           `koanf:"requests"`
	Window             time.Duration `koanf:"window"`
	Burst              int           `koanf:"burst"`
	ConversionRequests int           `koanf:"conversion_requests"`
	ConversionBurst    int           `koanf:"conversion_burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
	Path      string `koanf:"path"`
}

var (
	cfg  *Config
	once sync.Once
)

func Load(configPath string) (*Config, error) {
	var loadErr error

	once.Do(func() {
		cfg, loadErr = load(configPath)
	})

	if loadErr != nil {
		return nil, loadErr
	}

	return cfg, nil
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(c.Plans) == 0 {
		c.Plans = DefaultPlans()
	}

	if err := validate(c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call Load() first")
	}
	return cfg
}

// DefaultPlans is the reference catalog used when no plans are configured.
func DefaultPlans() []PlanConfig {
	return []PlanConfig{
		{
			Name:        "Basic",
			Price:       50,
			Conversions: 5,
			Features:    []string{"5 image to 3D model conversions", "Basic support"},
		},
		{
			Name:          "Standard",
			Price:         240,
			OriginalPrice: 250,
			Conversions:   25,
			Features:      []string{"25 image to 3D model conversions", "Standard support"},
			Highlight:     true,
		},
		{
			Name:          "Pro",
			Price:         950,
			OriginalPrice: 1000,
			Conversions:   100,
			Features: []string{
				"100 image to 3D model conversions",
				"Pro support",
				"API access",
			},
		},
	}
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "modelforge",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "120s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",

		"store.driver": StoreMongo,

		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",
		"database.auto_migrate":       true,

		"mongo.database":        "modelforge",
		"mongo.max_pool_size":   50,
		"mongo.connect_timeout": "10s",

		"redis.pool_size":      10,
		"redis.min_idle_conns": 5,

		"identity.email_claim":      "email",
		"identity.name_claim":       "name",
		"identity.refresh_interval": "15m",
		"identity.leeway":           "30s",

		"payment.base_url":         "https://api.razorpay.com",
		"payment.default_currency": "INR",
		"payment.receipt":          "rcp1",
		"payment.timeout":          "15s",

		"conversion.device_type":      "ios",
		"conversion.timeout":          "90s",
		"conversion.max_upload_bytes": 20 << 20,
		"conversion.lock_ttl":         "2m",

		"credits.starter_balance": 1,

		"rate_limit.requests":            100,
		"rate_limit.window":              "1m",
		"rate_limit.burst":               20,
		"rate_limit.conversion_requests": 10,
		"rate_limit.conversion_burst":    2,

		"cors.allowed_origins": []string{"http://localhost:3000"},
		"cors.allowed_methods": []string{
			"GET",
			"POST",
			"OPTIONS",
		},
		"cors.allowed_headers": []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		"cors.allow_credentials": true,
		"cors.max_age":           300,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "modelforge",

		"metrics.enabled":   true,
		"metrics.namespace": "modelforge",
		"metrics.path":      "/metrics",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"STORE_DRIVER":                "store.driver",
	"DATABASE_URL":                "database.url",
	"DATABASE_AUTO_MIGRATE":       "database.auto_migrate",
	"MONGO_URI":                   "mongo.uri",
	"MONGO_DATABASE":              "mongo.database",
	"REDIS_URL":                   "redis.url",
	"ENVIRONMENT":                 "app.environment",
	"HOST":                        "server.host",
	"PORT":                        "server.port",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"IDENTITY_JWKS_URL":           "identity.jwks_url",
	"IDENTITY_ISSUER":             "identity.issuer",
	"IDENTITY_AUDIENCE":           "identity.audience",
	"IDENTITY_EMAIL_CLAIM":        "identity.email_claim",
	"RAZORPAY_BASE_URL":           "payment.base_url",
	"RAZORPAY_KEY_ID":             "payment.key_id",
	"RAZORPAY_KEY_SECRET":         "payment.key_secret",
	"PAYMENT_DEFAULT_CURRENCY":    "payment.default_currency",
	"API_URL":                     "conversion.url",
	"API_KEY":                     "conversion.api_key",
	"CONVERSION_API_URL":          "conversion.url",
	"CONVERSION_API_KEY":          "conversion.api_key",
	"CONVERSION_DEVICE_TYPE":      "conversion.device_type",
	"CONVERSION_TIMEOUT":          "conversion.timeout",
	"STARTER_CREDITS":             "credits.starter_balance",
	"RATE_LIMIT_REQUESTS":         "rate_limit.requests",
	"RATE_LIMIT_WINDOW":           "rate_limit.window",
	"RATE_LIMIT_BURST":            "rate_limit.burst",
	"OTEL_ENDPOINT":               "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_INSECURE":               "otel.insecure",
	"OTEL_SAMPLE_RATE":            "otel.sample_rate",
	"METRICS_ENABLED":             "metrics.enabled",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

func validate(c *Config) error {
	switch c.Store.Driver {
	case StoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("MONGO_URI is required")
		}
	case StorePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
		if c.App.Environment == "production" {
			return fmt.Errorf("memory store cannot be used in production")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Identity.JWKSURL == "" {
		return fmt.Errorf("IDENTITY_JWKS_URL is required")
	}

	if c.Payment.KeyID == "" || c.Payment.KeySecret == "" {
		return fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
	}

	if c.Conversion.URL == "" || c.Conversion.APIKey == "" {
		return fmt.Errorf("CONVERSION_API_URL and CONVERSION_API_KEY are required")
	}

	if c.Credits.StarterBalance < 0 {
		return fmt.Errorf("credits.starter_balance must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Plans))
	for _, p := range c.Plans {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("plan name must not be empty")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate plan %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Price <= 0 {
			return fmt.Errorf("plan %q: price must be positive", p.Name)
		}
		if p.Conversions <= 0 {
			return fmt.Errorf("plan %q: conversions must be positive", p.Name)
		}
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.App.Environment == "production" {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
