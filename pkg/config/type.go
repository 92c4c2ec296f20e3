package config

import (
	"fmt"

	"github.com/scl-tools/rpmrh/pkg/service"
)

// Config represents the merged application configuration.
type Config struct {
	// Services are the raw backend registrations, instantiated
	// through the service type registry.
	Services []service.Registration `mapstructure:"services"`

	// Alias maps alias kind -> alias name -> template.
	Alias map[string]map[string]string `mapstructure:"alias"`

	// Cache selects the build cache store backend.
	Cache CacheConfig `mapstructure:"cache"`
}

// CacheConfig selects and tunes the build cache.
type CacheConfig struct {
	// Store names a registered storage factory.  Empty disables
	// the cache.
	Store string `mapstructure:"store"`
}

// ConfigurationError reports invalid configuration values.  It is
// fatal at startup.
type ConfigurationError struct {
	Message string
	Detail  string
}

func (e ConfigurationError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}
