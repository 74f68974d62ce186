package dto

import (
	"fmt"
	"time"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Pool          PoolConfig          `mapstructure:"pool"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Control       ControlConfig       `mapstructure:"control"`
	Export        ExportConfig        `mapstructure:"export"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// PoolConfig contains buffer pool configuration
type PoolConfig struct {
	BudgetBytes     int `mapstructure:"budget_bytes"`
	FlushIntervalMS int `mapstructure:"flush_interval_ms"`
}

// FlushInterval returns the flush cadence as a duration.
func (c *PoolConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// NotificationsConfig contains the initial per-kind notification flags and
// the deferred-start delay before delivery begins.
type NotificationsConfig struct {
	ClassLoad         bool `mapstructure:"class_load"`
	FirstCall         bool `mapstructure:"first_call"`
	ToJavaCall        bool `mapstructure:"to_java_call"`
	DelayInitiationMS int  `mapstructure:"delay_initiation_ms"`
}

// DelayInitiation returns the deferred-start delay as a duration.
func (c *NotificationsConfig) DelayInitiation() time.Duration {
	return time.Duration(c.DelayInitiationMS) * time.Millisecond
}

// ControlConfig contains command channel configuration
type ControlConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	ReadTimeoutMS  int  `mapstructure:"read_timeout_ms"`
	WriteTimeoutMS int  `mapstructure:"write_timeout_ms"`
}

// ReadTimeout returns the per-frame read deadline as a duration.
func (c *ControlConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the per-frame write deadline as a duration.
func (c *ControlConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// ExportConfig contains the Kafka export sink configuration
type ExportConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	BootstrapServers []string `mapstructure:"bootstrap_servers"`
	Topic            string   `mapstructure:"topic"`
	Format           string   `mapstructure:"format"`
	Source           string   `mapstructure:"source"`
	SecurityProtocol string   `mapstructure:"security_protocol"`
	SASLMechanism    string   `mapstructure:"sasl_mechanism"`
	SASLUsername     string   `mapstructure:"sasl_username"`
	SASLPassword     string   `mapstructure:"sasl_password"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds time.Duration `mapstructure:"grace_period_seconds"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if c.Pool.BudgetBytes <= 0 {
		return fmt.Errorf("pool budget must be positive")
	}
	if c.Pool.FlushIntervalMS <= 0 {
		return fmt.Errorf("pool flush interval must be positive")
	}
	return nil
}

// Validate validates the export sink configuration.
func (c *ExportConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("export bootstrap servers are required")
	}
	if c.Topic == "" {
		return fmt.Errorf("export topic is required")
	}
	return nil
}
