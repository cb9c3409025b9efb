package config

import (
	"encoding/json"
	"fmt"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18980,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level: "info",
			Style: "pretty",
		},
		State: StateConfig{
			Driver: "memory",
		},
		Events: EventsConfig{
			Driver:   "log",
			Exchange: "inlet.events",
		},
	}
}

// AdapterJSON returns the named adapter block re-encoded as JSON, ready for
// the adapter's validate_config op. Missing blocks return nil.
func (c Config) AdapterJSON(name string) (json.RawMessage, error) {
	block, ok := c.Adapters[name]
	if !ok {
		return nil, nil
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("adapter %s config: %v", name, err)}
	}
	return raw, nil
}

// BindAddr resolves the bind setting to a listen address.
func (c Config) BindAddr() string {
	host := "127.0.0.1"
	switch c.Gateway.Bind {
	case "lan", "all":
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Gateway.Port)
}
