// Package config loads the relay's configuration, merging defaults, an
// optional YAML file, and environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("RELAY").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Core configuration structures
// =============================================================================

// Config is the relay's complete configuration tree.
type Config struct {
	// Server holds HTTP/gRPC/metrics listener settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Providers lists the candidate providers the router selects from.
	Providers []ProviderConfig `yaml:"providers" env:"-"`

	// Redis backs the optional health-score cache.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database backs the optional durable health-record store.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OTel tracing/metrics export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Security configures credential-store hardening.
	Security SecurityConfig `yaml:"security" env:"SECURITY"`
}

// SecurityConfig configures the credential store's optional JWT layer.
type SecurityConfig struct {
	// CredentialSigningKey, when non-empty, wraps the credential store in
	// relay/external/jwtcredential so saved keys are JWT-encoded at rest
	// instead of held as plain strings.
	CredentialSigningKey string `yaml:"credential_signing_key" env:"CREDENTIAL_SIGNING_KEY"`
}

// ServerConfig configures the HTTP surface and its middleware.
type ServerConfig struct {
	// HTTPPort is the chat/provider API listener port.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// GRPCPort is reserved for a future gRPC listener.
	GRPCPort int `yaml:"grpc_port" env:"GRPC_PORT"`
	// MetricsPort serves /metrics.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds request writes (ignored for streaming responses).
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// APIKeys, when non-empty, restricts requests to holders of one of these keys.
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// CORSAllowedOrigins is the explicit CORS allowlist; no entry means no
	// cross-origin browser access.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// RateLimitRPS is the steady-state per-client request rate.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the per-client token-bucket burst size.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// ProviderConfig describes one candidate provider the router can select.
// It seeds both the descriptor store (routing metadata) and the
// credential store (API key) at startup.
type ProviderConfig struct {
	// ID is the provider's stable identifier, e.g. "openai".
	ID string `yaml:"id" env:"ID"`
	// DisplayName is shown in provider-listing responses.
	DisplayName string `yaml:"display_name" env:"DISPLAY_NAME"`
	// BaseURL overrides the provider adapter's default endpoint, if set.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// APIKey authenticates requests to this provider.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Priority biases weighted candidate selection; higher routes first.
	Priority int `yaml:"priority" env:"PRIORITY"`
	// Enabled excludes the provider from selection when false.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Models lists the model names this provider serves.
	Models []string `yaml:"models" env:"MODELS"`
}

// RedisConfig configures the optional Redis-backed health cache.
type RedisConfig struct {
	// Addr is the Redis server address.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password authenticates to Redis, if required.
	Password string `yaml:"password" env:"PASSWORD"`
	// DB selects the logical Redis database.
	DB int `yaml:"db" env:"DB"`
	// PoolSize bounds the connection pool.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// MinIdleConns keeps warm connections ready.
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig configures the optional durable health-record store.
type DatabaseConfig struct {
	// Driver selects postgres, mysql, or sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host is the database server host.
	Host string `yaml:"host" env:"HOST"`
	// Port is the database server port.
	Port int `yaml:"port" env:"PORT"`
	// User authenticates to the database.
	User string `yaml:"user" env:"USER"`
	// Password authenticates to the database.
	Password string `yaml:"password" env:"PASSWORD"`
	// Name is the database/schema name.
	Name string `yaml:"name" env:"NAME"`
	// SSLMode controls TLS enforcement for postgres.
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// MaxIdleConns bounds idle connections kept open.
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// ConnMaxLifetime recycles connections older than this.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists zap sink targets (e.g. "stdout").
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller adds caller file:line to each log entry.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace adds a stacktrace to error-level entries.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OTel trace/metric export.
type TelemetryConfig struct {
	// Enabled turns on OTLP export.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint is the collector address.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName identifies this process in traces/metrics.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate is the trace sampling fraction, 0-1.
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RELAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration, applying defaults, then the YAML file
// (if configured), then environment variable overrides, in that order.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile merges a YAML file's contents onto cfg. A missing file is
// not an error; cfg keeps its defaults.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv overlays environment variables onto cfg.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively walks a struct, applying any environment
// variable whose name matches prefix + "_" + the field's env tag.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue assigns a parsed environment variable string to field.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string lists only; struct slices (e.g. Providers)
		// are not settable via a single environment variable.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads the configuration from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads the configuration from defaults and environment
// variables only, with no YAML file.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for values the relay cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, "provider id must not be empty")
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("duplicate provider id %q", p.ID))
		}
		seen[p.ID] = true
		if p.Priority < 0 || p.Priority > 100 {
			errs = append(errs, fmt.Sprintf("provider %q: priority must be between 0 and 100", p.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN builds the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
