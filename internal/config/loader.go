package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"regexp"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so secrets can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Events.URL = expandEnvVars(cfg.Events.URL)
	for _, block := range cfg.Adapters {
		expandMapValues(block)
	}
}

func expandMapValues(m map[string]any) {
	for key, value := range m {
		switch v := value.(type) {
		case string:
			m[key] = expandEnvVars(v)
		case map[string]any:
			expandMapValues(v)
		}
	}
}

// envOverrides are INLET_* environment variables that take precedence over
// file values.
type envOverrides struct {
	GatewayPort    int    `env:"INLET_GATEWAY_PORT"`
	GatewayBind    string `env:"INLET_GATEWAY_BIND"`
	LogLevel       string `env:"INLET_LOG_LEVEL"`
	LogStyle       string `env:"INLET_LOG_STYLE"`
	StateDriver    string `env:"INLET_STATE_DRIVER"`
	StatePath      string `env:"INLET_STATE_PATH"`
	EventsDriver   string `env:"INLET_EVENTS_DRIVER"`
	EventsURL      string `env:"INLET_EVENTS_URL"`
	EventsExchange string `env:"INLET_EVENTS_EXCHANGE"`
}

func applyEnvOverrides(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return &ConfigError{Message: "environment overrides: " + err.Error()}
	}
	if overrides.GatewayPort != 0 {
		cfg.Gateway.Port = overrides.GatewayPort
	}
	if overrides.GatewayBind != "" {
		cfg.Gateway.Bind = overrides.GatewayBind
	}
	if overrides.LogLevel != "" {
		cfg.Logging.Level = overrides.LogLevel
	}
	if overrides.LogStyle != "" {
		cfg.Logging.Style = overrides.LogStyle
	}
	if overrides.StateDriver != "" {
		cfg.State.Driver = overrides.StateDriver
	}
	if overrides.StatePath != "" {
		cfg.State.Path = overrides.StatePath
	}
	if overrides.EventsDriver != "" {
		cfg.Events.Driver = overrides.EventsDriver
	}
	if overrides.EventsURL != "" {
		cfg.Events.URL = overrides.EventsURL
	}
	if overrides.EventsExchange != "" {
		cfg.Events.Exchange = overrides.EventsExchange
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns a
// merged Config. Missing files produce defaults only. Unknown fields in the
// file are rejected.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := applyEnvOverrides(&cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return cfg, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18980
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = "pretty"
	}
	if cfg.State.Driver == "" {
		cfg.State.Driver = "memory"
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "log"
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "inlet.events"
	}
}
