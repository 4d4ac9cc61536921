// ============================================================================
// Configuration - YAML-Backed Settings
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Defines the SDK's configuration surface and loads it from YAML
//   via gopkg.in/yaml.v3, with a Validate() method mirroring the teacher's
//   synchronous config-load failure path.
//
// Fields:
//   client-id, auth-token, base-url, port, connection-timeout-seconds,
//   step-timeout-millis, initial-delay-millis, work-request-batch-size,
//   response-submit-batch-size, fixed-thread-pool-size, max-submit-attempts,
//   permanent-error-keywords, enable-batch-processing.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPermanentErrorKeywords are the permanent-error keyword substrings
// the engine is known to return today (§4.3).
var DefaultPermanentErrorKeywords = []string{
	"Invalid request, step is not in RUNNING state",
	"please poll the latest and update",
}

// Config is the complete set of client configuration recognized by the SDK
// (§6's "Hostile configuration recognized" table).
type Config struct {
	ClientID  string `yaml:"client_id"`
	AuthToken string `yaml:"auth_token"`

	BaseURL string `yaml:"base_url"`
	Port    int    `yaml:"port"`

	ConnectionTimeoutSeconds int `yaml:"connection_timeout_seconds"`
	StepTimeoutMillis        int64 `yaml:"step_timeout_millis"`
	InitialDelayMillis        int   `yaml:"initial_delay_millis"`

	WorkRequestBatchSize     int `yaml:"work_request_batch_size"`
	ResponseSubmitBatchSize  int `yaml:"response_submit_batch_size"`
	FixedThreadPoolSize      int `yaml:"fixed_thread_pool_size"`
	MaxSubmitAttempts        int `yaml:"max_submit_attempts"`

	PermanentErrorKeywords []string `yaml:"permanent_error_keywords"`
	EnableBatchProcessing  bool     `yaml:"enable_batch_processing"`
}

// Default returns a Config with every non-credential field at its
// spec-mandated default. Callers must still set ClientID, AuthToken and
// BaseURL, which Default leaves empty and Validate requires.
func Default() Config {
	return Config{
		Port:                     7070,
		ConnectionTimeoutSeconds: 10,
		StepTimeoutMillis:        3600_000,
		InitialDelayMillis:       500,
		WorkRequestBatchSize:     100,
		ResponseSubmitBatchSize:  100,
		FixedThreadPoolSize:      2,
		MaxSubmitAttempts:        10,
		PermanentErrorKeywords:   append([]string(nil), DefaultPermanentErrorKeywords...),
		EnableBatchProcessing:    true,
	}
}

// Load reads and parses a YAML config file, overlaying it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails synchronously on missing credentials, a port set outside
// 1..65535 (0 means unset and is accepted), or an empty base URL (§7
// "Configuration invalid").
func (c Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("config: client_id is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("config: auth_token is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("config: base_url is required")
	}
	if c.Port != 0 && (c.Port < 1 || c.Port > 65535) {
		return fmt.Errorf("config: port %d out of range 1..65535", c.Port)
	}
	if c.FixedThreadPoolSize < 1 {
		return fmt.Errorf("config: fixed_thread_pool_size must be >= 1")
	}
	if c.MaxSubmitAttempts < 1 {
		return fmt.Errorf("config: max_submit_attempts must be >= 1")
	}
	return nil
}

// StepTimeout returns the configured per-step timeout as a time.Duration, or
// 0 if no deadline should be installed (§5: "if the configured step timeout
// is effectively 'never' (values near max int), no deadline is installed").
func (c Config) StepTimeout() time.Duration {
	if c.StepTimeoutMillis <= 0 || c.StepTimeoutMillis >= math.MaxInt32 {
		return 0
	}
	return time.Duration(c.StepTimeoutMillis) * time.Millisecond
}

// ConnectionTimeout returns the configured connection timeout.
func (c Config) ConnectionTimeout() time.Duration {
	if c.ConnectionTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

// InitialDelay returns the configured startup delay before the Polling
// Controller's first registration attempt (§4.1 "Startup").
func (c Config) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMillis) * time.Millisecond
}
