package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/stowage/stowage/pkg/utils"
)

// Provider identifies the storage backend selected for a deployment.
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderS3    Provider = "s3"
)

// Config represents the complete resolved application configuration. Once a
// Resolver has produced and validated a Config it is never mutated.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Storage  StorageConfig  `yaml:"storage"`
	Cloud    CloudConfig    `yaml:"cloud"`
	Security SecurityConfig `yaml:"security"`
	Features FeatureConfig  `yaml:"features"`
}

// AppConfig represents process-level application settings.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
}

// DatabaseConfig represents relational database settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	PoolMin  int    `yaml:"pool_min"`
	PoolMax  int    `yaml:"pool_max"`
	TLS      bool   `yaml:"tls"`
}

// CacheConfig represents cache server settings.
type CacheConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
}

// StorageConfig represents object storage settings.
type StorageConfig struct {
	Provider  Provider `yaml:"provider"`
	Bucket    string   `yaml:"bucket"`
	Region    string   `yaml:"region"`
	Endpoint  string   `yaml:"endpoint"`
	LocalRoot string   `yaml:"local_root"`
}

// CloudConfig represents cloud account settings.
type CloudConfig struct {
	Region    string `yaml:"region"`
	AccountID string `yaml:"account_id"`
}

// SecurityConfig represents security settings.
type SecurityConfig struct {
	JWTSecret      string   `yaml:"jwt_secret"`
	BcryptCost     int      `yaml:"bcrypt_cost"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// FeatureConfig represents feature toggles.
type FeatureConfig struct {
	Metrics         bool `yaml:"metrics"`
	Tracing         bool `yaml:"tracing"`
	RateLimit       bool `yaml:"rate_limit"`
	RateLimitWindow int  `yaml:"rate_limit_window"`
	RateLimitMax    int  `yaml:"rate_limit_max"`
}

// NewDefault returns a configuration with the documented defaults applied.
// Fields without a safe default (notably security.jwt_secret) are left empty
// and caught by validation.
func NewDefault() *Config {
	return &Config{
		App: AppConfig{
			Name:        "stowage",
			Environment: "development",
			Port:        3000,
			LogLevel:    "info",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "app",
			PoolMin: 2,
			PoolMax: 10,
			TLS:     false,
		},
		Cache: CacheConfig{
			Host: "localhost",
			Port: 6379,
			TLS:  false,
		},
		Storage: StorageConfig{
			Provider:  ProviderLocal,
			Bucket:    "uploads",
			Region:    "us-east-1",
			LocalRoot: "./uploads",
		},
		Cloud: CloudConfig{
			Region: "us-east-1",
		},
		Security: SecurityConfig{
			BcryptCost:     12,
			AllowedOrigins: []string{"*"},
		},
		Features: FeatureConfig{
			Metrics:         true,
			Tracing:         false,
			RateLimit:       true,
			RateLimitWindow: 60,
			RateLimitMax:    100,
		},
	}
}

// LoadFromFile loads configuration overrides from a YAML file.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies process environment variables over the current values.
// Variables that are set but unparseable are reported as violations so a
// caller sees them alongside schema failures.
func (c *Config) LoadFromEnv() []string {
	return c.apply(os.LookupEnv)
}

// applyRaw applies a merged raw-value map (the cloud parameter/secret source)
// over the current values, with the same parse reporting as LoadFromEnv.
func (c *Config) applyRaw(raw map[string]string) []string {
	return c.apply(func(key string) (string, bool) {
		v, ok := raw[key]
		return v, ok
	})
}

// apply maps the fixed enumerated raw-value set onto the configuration tree.
// Both the environment and the cloud store feed this one parser.
func (c *Config) apply(lookup func(string) (string, bool)) []string {
	var violations []string

	setString := func(key string, dst *string) {
		if val, ok := lookup(key); ok {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val, ok := lookup(key); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				violations = append(violations, fmt.Sprintf("%s: not a number: %q", key, val))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if val, ok := lookup(key); ok {
			switch strings.ToLower(val) {
			case "true", "1", "yes":
				*dst = true
			case "false", "0", "no":
				*dst = false
			default:
				violations = append(violations, fmt.Sprintf("%s: not a boolean: %q", key, val))
			}
		}
	}
	setList := func(key string, dst *[]string) {
		if val, ok := lookup(key); ok {
			parts := strings.Split(val, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					out = append(out, trimmed)
				}
			}
			*dst = out
		}
	}

	setString("APP_NAME", &c.App.Name)
	setString("APP_ENV", &c.App.Environment)
	setInt("PORT", &c.App.Port)
	setString("LOG_LEVEL", &c.App.LogLevel)

	setString("DATABASE_HOST", &c.Database.Host)
	setInt("DATABASE_PORT", &c.Database.Port)
	setString("DATABASE_USER", &c.Database.User)
	setString("DATABASE_PASSWORD", &c.Database.Password)
	setString("DATABASE_NAME", &c.Database.Name)
	setInt("DATABASE_POOL_MIN", &c.Database.PoolMin)
	setInt("DATABASE_POOL_MAX", &c.Database.PoolMax)
	setBool("DATABASE_TLS", &c.Database.TLS)

	setString("REDIS_HOST", &c.Cache.Host)
	setInt("REDIS_PORT", &c.Cache.Port)
	setString("REDIS_PASSWORD", &c.Cache.Password)
	setBool("REDIS_TLS", &c.Cache.TLS)

	if val, ok := lookup("STORAGE_PROVIDER"); ok {
		c.Storage.Provider = Provider(strings.ToLower(val))
	}
	setString("STORAGE_BUCKET", &c.Storage.Bucket)
	setString("STORAGE_REGION", &c.Storage.Region)
	setString("STORAGE_ENDPOINT", &c.Storage.Endpoint)
	setString("STORAGE_LOCAL_ROOT", &c.Storage.LocalRoot)

	setString("CLOUD_REGION", &c.Cloud.Region)
	setString("CLOUD_ACCOUNT_ID", &c.Cloud.AccountID)

	setString("JWT_SECRET", &c.Security.JWTSecret)
	setInt("BCRYPT_COST", &c.Security.BcryptCost)
	setList("ALLOWED_ORIGINS", &c.Security.AllowedOrigins)
	setList("TRUSTED_PROXIES", &c.Security.TrustedProxies)

	setBool("FEATURE_METRICS", &c.Features.Metrics)
	setBool("FEATURE_TRACING", &c.Features.Tracing)
	setBool("FEATURE_RATE_LIMIT", &c.Features.RateLimit)
	setInt("RATE_LIMIT_WINDOW", &c.Features.RateLimitWindow)
	setInt("RATE_LIMIT_MAX", &c.Features.RateLimitMax)

	return violations
}

// Logger builds a process logger honoring app.log_level, tagged with the
// application name. Callers typically install it as the default logger at
// startup.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	return utils.NewLogger(c.App.LogLevel, w).With("app", c.App.Name)
}

// IsCloudEnvironment reports whether the process should resolve configuration
// from the cloud parameter/secret stores rather than local environment
// variables. A non-development environment tag or a managed-runtime marker
// variable selects the cloud path.
func IsCloudEnvironment() bool {
	switch os.Getenv("APP_ENV") {
	case "", "development", "test":
	default:
		return true
	}

	for _, marker := range []string{
		"AWS_EXECUTION_ENV",
		"AWS_LAMBDA_FUNCTION_NAME",
		"ECS_CONTAINER_METADATA_URI",
	} {
		if os.Getenv(marker) != "" {
			return true
		}
	}
	return false
}
