package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "all"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validStyles := []string{"pretty", "json"}
	if cfg.Logging.Style != "" && !slices.Contains(validStyles, cfg.Logging.Style) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.style",
			Message: fmt.Sprintf("must be one of %v, got %q", validStyles, cfg.Logging.Style),
		})
	}

	validStateDrivers := []string{"memory", "sqlite"}
	if cfg.State.Driver != "" && !slices.Contains(validStateDrivers, cfg.State.Driver) {
		issues = append(issues, ValidationIssue{
			Path:    "state.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", validStateDrivers, cfg.State.Driver),
		})
	}
	if cfg.State.Driver == "sqlite" && cfg.State.Path == "" {
		issues = append(issues, ValidationIssue{
			Path:    "state.path",
			Message: "required when state.driver is sqlite",
		})
	}

	validEventDrivers := []string{"log", "memory", "amqp"}
	if cfg.Events.Driver != "" && !slices.Contains(validEventDrivers, cfg.Events.Driver) {
		issues = append(issues, ValidationIssue{
			Path:    "events.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", validEventDrivers, cfg.Events.Driver),
		})
	}
	if cfg.Events.Driver == "amqp" && cfg.Events.URL == "" {
		issues = append(issues, ValidationIssue{
			Path:    "events.url",
			Message: "required when events.driver is amqp",
		})
	}

	return issues
}
