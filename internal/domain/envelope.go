// Package domain holds the provider-agnostic messaging model shared by the
// render pipeline, the adapter contract, and the Direct Line transport.
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// MetadataAdaptiveCard is the envelope metadata key carrying a serialized
// Adaptive Card JSON object for the render pipeline.
const MetadataAdaptiveCard = "adaptive_card"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TenantCtx scopes an envelope to an environment and tenant.
type TenantCtx struct {
	EnvID    string `json:"env_id"`
	TenantID string `json:"tenant_id"`
}

// Actor identifies the sender of an inbound message.
type Actor struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"` // "user" | "bot" | channel-specific
}

// Destination identifies where an outbound message should be delivered.
// Kind is drawn from a channel-specific closed set ("chat", "channel",
// "room", "user", "email", ...).
type Destination struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"`
}

// Attachment is an opaque media reference carried on an envelope. The core
// does not render attachments; adapters that cannot forward them fail fast.
type Attachment struct {
	ContentType string `json:"content_type,omitempty"`
	Name        string `json:"name,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Envelope is the universal inbound/outbound message container spanning all
// channels.
type Envelope struct {
	ID            string            `json:"id"`
	Tenant        TenantCtx         `json:"tenant"`
	Channel       string            `json:"channel"`
	SessionID     string            `json:"session_id"`
	From          *Actor            `json:"from,omitempty"`
	To            []Destination     `json:"to"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Text          string            `json:"text,omitempty"`
	Attachments   []Attachment      `json:"attachments"`
	Metadata      map[string]string `json:"metadata"`
}

// Clone returns a deep copy of the envelope.
func (e Envelope) Clone() Envelope {
	out := e
	if e.From != nil {
		from := *e.From
		out.From = &from
	}
	out.To = append([]Destination(nil), e.To...)
	out.Attachments = append([]Attachment(nil), e.Attachments...)
	out.Metadata = make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// AdaptiveCardJSON returns the serialized Adaptive Card stored in metadata,
// or "" when none is present.
func (e Envelope) AdaptiveCardJSON() string {
	if e.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(e.Metadata[MetadataAdaptiveCard])
}

// Validate checks the envelope invariants: non-empty id, well-formed tenant
// identifiers, and non-empty destination ids.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is required")
	}
	if !idPattern.MatchString(e.Tenant.EnvID) {
		return fmt.Errorf("tenant env_id %q must match %s", e.Tenant.EnvID, idPattern)
	}
	if !idPattern.MatchString(e.Tenant.TenantID) {
		return fmt.Errorf("tenant tenant_id %q must match %s", e.Tenant.TenantID, idPattern)
	}
	for i, dest := range e.To {
		if dest.ID == "" {
			return fmt.Errorf("to[%d].id is required", i)
		}
	}
	return nil
}
