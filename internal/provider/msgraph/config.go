package msgraph

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Config is the Microsoft Graph adapter configuration. ClientSecret and
// RefreshToken may be left empty and resolved from the secret store instead.
type Config struct {
	Enabled       bool   `json:"enabled"`
	TenantID      string `json:"tenant_id"`
	ClientID      string `json:"client_id"`
	PublicBaseURL string `json:"public_base_url"`
	TeamID        string `json:"team_id,omitempty"`
	ChannelID     string `json:"channel_id,omitempty"`
	GraphBaseURL  string `json:"graph_base_url,omitempty"`
	AuthBaseURL   string `json:"auth_base_url,omitempty"`
	TokenScope    string `json:"token_scope,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
}

const configSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"required": ["tenant_id", "client_id", "public_base_url"],
	"properties": {
		"enabled": {"type": "boolean"},
		"tenant_id": {"type": "string", "minLength": 1},
		"client_id": {"type": "string", "minLength": 1},
		"public_base_url": {"type": "string", "minLength": 1},
		"team_id": {"type": "string"},
		"channel_id": {"type": "string"},
		"graph_base_url": {"type": "string"},
		"auth_base_url": {"type": "string"},
		"token_scope": {"type": "string"},
		"client_secret": {"type": "string"},
		"refresh_token": {"type": "string"}
	}
}`

var compiledSchema = jsonschema.MustCompileString("msgraph-config.json", configSchema)

// ParseConfig decodes and validates adapter config.
func ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{Enabled: true}
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
	return cfg, nil
}
