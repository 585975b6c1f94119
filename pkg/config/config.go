// Package config loads spindle configuration from environment variables.
package config

import (
	"fmt"
	"go/version"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultMaxGoVersion is the newest host go directive the interpreter is
// known to support. Kept as configuration rather than inferred: the
// reference-filtering rules for newer runtimes are not precise enough to
// derive it.
const DefaultMaxGoVersion = "1.21"

// Config holds all spindle configuration.
type Config struct {
	// LogLevel is the logrus level for pipeline logging.
	LogLevel logrus.Level

	// MaxGoVersion is the highest host go directive accepted before the
	// pass short-circuits as an unsupported environment.
	MaxGoVersion string

	// OutputDir is where the CLI materializes artifacts.
	OutputDir string

	// MetricsEnabled toggles Prometheus metric registration.
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		LogLevel:       parseLogLevel(getEnv("SPINDLE_LOG_LEVEL", "info")),
		MaxGoVersion:   getEnv("SPINDLE_MAX_GO_VERSION", DefaultMaxGoVersion),
		OutputDir:      getEnv("SPINDLE_OUTPUT_DIR", "spindle_gen"),
		MetricsEnabled: getEnvBool("SPINDLE_METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxGoVersion == "" {
		return fmt.Errorf("max go version is required")
	}
	if !version.IsValid("go" + c.MaxGoVersion) {
		return fmt.Errorf("invalid max go version: %s", c.MaxGoVersion)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}

// parseLogLevel parses a log level string.
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
