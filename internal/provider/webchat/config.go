package webchat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config is the webchat adapter configuration.
type Config struct {
	Enabled         bool   `json:"enabled"`
	PublicBaseURL   string `json:"public_base_url"`
	Mode            string `json:"mode"`
	Route           string `json:"route,omitempty"`
	TenantChannelID string `json:"tenant_channel_id,omitempty"`
	BaseURL         string `json:"base_url,omitempty"`
}

const configSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"required": ["public_base_url"],
	"properties": {
		"enabled": {"type": "boolean"},
		"public_base_url": {"type": "string", "minLength": 1},
		"mode": {"type": "string", "enum": ["local_queue", "websocket", "pubsub"]},
		"route": {"type": "string"},
		"tenant_channel_id": {"type": "string"},
		"base_url": {"type": "string"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("webchat-config.json", configSchema)

// ParseConfig decodes and validates adapter config, applying defaults.
func ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{Enabled: true, Mode: "local_queue"}
	if len(raw) == 0 {
		return cfg, fmt.Errorf("config is required")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cfg, fmt.Errorf("invalid config json: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Mode == "" {
		cfg.Mode = "local_queue"
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return fmt.Errorf("public_base_url must be an absolute URL")
	}
	return nil
}
