package config

// Config is the root configuration for inlet.
type Config struct {
	Gateway  GatewayConfig             `yaml:"gateway,omitempty"`
	Logging  LoggingConfig             `yaml:"logging,omitempty"`
	State    StateConfig               `yaml:"state,omitempty"`
	Events   EventsConfig              `yaml:"events,omitempty"`
	Adapters map[string]map[string]any `yaml:"adapters,omitempty"`
}

// GatewayConfig controls the HTTP gateway.
type GatewayConfig struct {
	Port int    `yaml:"port,omitempty"`
	Bind string `yaml:"bind,omitempty"` // "loopback" | "lan" | "all"
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}

// StateConfig selects the state store backend.
type StateConfig struct {
	Driver string `yaml:"driver,omitempty"` // "memory" | "sqlite"
	Path   string `yaml:"path,omitempty"`   // sqlite database file
}

// EventsConfig selects the envelope publisher.
type EventsConfig struct {
	Driver   string `yaml:"driver,omitempty"` // "log" | "memory" | "amqp"
	URL      string `yaml:"url,omitempty"`    // amqp broker url
	Exchange string `yaml:"exchange,omitempty"`
}
