package config

import (
	"fmt"
	"strings"

	"github.com/stowage/stowage/pkg/errors"
)

// minJWTSecretLength is the minimum length of the signing secret.
const minJWTSecretLength = 32

var validEnvironments = []string{"development", "test", "staging", "production"}
var validLogLevels = []string{"debug", "info", "warn", "error"}

// Violations checks every field against the schema and returns the complete
// list of problems. An empty slice means the configuration is valid.
func (c *Config) Violations() []string {
	var v []string

	if c.App.Name == "" {
		v = append(v, "app.name is required")
	}
	if !containsString(validEnvironments, c.App.Environment) {
		v = append(v, fmt.Sprintf("app.environment must be one of %s, got %q",
			strings.Join(validEnvironments, ", "), c.App.Environment))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		v = append(v, fmt.Sprintf("app.port must be between 1 and 65535, got %d", c.App.Port))
	}
	if !containsString(validLogLevels, strings.ToLower(c.App.LogLevel)) {
		v = append(v, fmt.Sprintf("app.log_level must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), c.App.LogLevel))
	}

	if c.Database.Host == "" {
		v = append(v, "database.host is required")
	}
	if c.Database.Port <= 0 {
		v = append(v, fmt.Sprintf("database.port must be a positive number, got %d", c.Database.Port))
	}
	if c.Database.Name == "" {
		v = append(v, "database.name is required")
	}
	if c.Database.PoolMin < 0 {
		v = append(v, fmt.Sprintf("database.pool_min must not be negative, got %d", c.Database.PoolMin))
	}
	if c.Database.PoolMax <= 0 {
		v = append(v, fmt.Sprintf("database.pool_max must be greater than 0, got %d", c.Database.PoolMax))
	} else if c.Database.PoolMin > c.Database.PoolMax {
		v = append(v, fmt.Sprintf("database.pool_min (%d) must not exceed database.pool_max (%d)",
			c.Database.PoolMin, c.Database.PoolMax))
	}

	if c.Cache.Host == "" {
		v = append(v, "cache.host is required")
	}
	if c.Cache.Port <= 0 {
		v = append(v, fmt.Sprintf("cache.port must be a positive number, got %d", c.Cache.Port))
	}

	switch c.Storage.Provider {
	case ProviderLocal:
		if c.Storage.LocalRoot == "" {
			v = append(v, "storage.local_root is required for the local provider")
		}
	case ProviderS3:
		if c.Storage.Bucket == "" {
			v = append(v, "storage.bucket is required for the s3 provider")
		}
		if c.Storage.Region == "" {
			v = append(v, "storage.region is required for the s3 provider")
		}
	default:
		v = append(v, fmt.Sprintf("storage.provider must be %q or %q, got %q",
			ProviderLocal, ProviderS3, c.Storage.Provider))
	}

	if len(c.Security.JWTSecret) < minJWTSecretLength {
		v = append(v, fmt.Sprintf("security.jwt_secret must be at least %d characters, got %d",
			minJWTSecretLength, len(c.Security.JWTSecret)))
	}
	if c.Security.BcryptCost < 4 || c.Security.BcryptCost > 31 {
		v = append(v, fmt.Sprintf("security.bcrypt_cost must be between 4 and 31, got %d", c.Security.BcryptCost))
	}
	if len(c.Security.AllowedOrigins) == 0 {
		v = append(v, "security.allowed_origins must not be empty")
	}

	if c.Features.RateLimit {
		if c.Features.RateLimitWindow <= 0 {
			v = append(v, fmt.Sprintf("features.rate_limit_window must be greater than 0, got %d",
				c.Features.RateLimitWindow))
		}
		if c.Features.RateLimitMax <= 0 {
			v = append(v, fmt.Sprintf("features.rate_limit_max must be greater than 0, got %d",
				c.Features.RateLimitMax))
		}
	}

	return v
}

// Validate checks the configuration against the schema, reporting every
// violation in one error rather than failing on the first.
func (c *Config) Validate() error {
	if v := c.Violations(); len(v) > 0 {
		return validationError(v)
	}
	return nil
}

func validationError(violations []string) error {
	return errors.NewError(errors.ErrCodeConfigValidation, "configuration is invalid").
		WithComponent("config").
		WithViolations(violations)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
