package observability

import "testing"

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
	}{
		{"json to stderr", LoggingConfig{Level: "info", Format: "json", Output: "stderr"}},
		{"text to stdout", LoggingConfig{Level: "debug", Format: "text", Output: "stdout"}},
		{"warn level", LoggingConfig{Level: "warn", Format: "json"}},
		{"warning alias", LoggingConfig{Level: "warning", Format: "json"}},
		{"error level", LoggingConfig{Level: "error", Format: "text"}},
		{"unknown values fall back", LoggingConfig{Level: "verbose", Format: "xml", Output: "syslog"}},
		{"empty config", LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if logger := NewLogger(tt.config); logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}
