package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/vmtel/vmeventbuf/internal/config/dto"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	// Set defaults
	l.setDefaults()

	// Load from file if provided
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand environment variables in config values
	// Only expand if the value contains ${...} pattern
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	// Unmarshal configuration
	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "vmeventbuf")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Pool defaults
	l.v.SetDefault("pool.budget_bytes", 32<<20)
	l.v.SetDefault("pool.flush_interval_ms", 1000)

	// Notification defaults
	l.v.SetDefault("notifications.class_load", true)
	l.v.SetDefault("notifications.first_call", true)
	l.v.SetDefault("notifications.to_java_call", true)
	l.v.SetDefault("notifications.delay_initiation_ms", 2000)

	// Control channel defaults
	l.v.SetDefault("control.enabled", true)
	l.v.SetDefault("control.read_timeout_ms", 120000)
	l.v.SetDefault("control.write_timeout_ms", 10000)

	// Export defaults
	l.v.SetDefault("export.enabled", false)
	l.v.SetDefault("export.format", "json")
	l.v.SetDefault("export.source", "urn:vmeventbuf")
	l.v.SetDefault("export.security_protocol", "PLAINTEXT")
	l.v.SetDefault("export.sasl_mechanism", "PLAIN")

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stderr")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	// Export validation
	if err := config.Export.Validate(); err != nil {
		return err
	}
	switch config.Export.Format {
	case "json", "avro":
	default:
		return fmt.Errorf("unsupported export format: %s", config.Export.Format)
	}

	// Control validation
	if config.Control.ReadTimeoutMS <= 0 || config.Control.WriteTimeoutMS <= 0 {
		return errors.New("control timeouts must be positive")
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}
