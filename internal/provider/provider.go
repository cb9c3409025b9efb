// Package provider defines the adapter contract: the operations every
// channel adapter exposes and the JSON DTOs that cross that boundary.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/inletmsg/inlet/internal/domain"
	"github.com/inletmsg/inlet/internal/render"
)

// Operation names an adapter may implement. Unknown operations return
// ErrUnsupportedOp.
const (
	OpRenderPlan         = "render_plan"
	OpEncode             = "encode"
	OpSendPayload        = "send_payload"
	OpIngestHTTP         = "ingest_http"
	OpValidateConfig     = "validate_config"
	OpSubscriptionEnsure = "subscription_ensure"
	OpSubscriptionRenew  = "subscription_renew"
	OpSubscriptionDelete = "subscription_delete"
)

// ErrUnsupportedOp reports an operation the adapter does not implement.
var ErrUnsupportedOp = errors.New("provider: unsupported operation")

// Adapter is a channel adapter. Invoke dispatches a named operation with a
// JSON input DTO and returns the JSON output DTO.
type Adapter interface {
	Type() string
	Capabilities() domain.Capabilities
	Invoke(ctx context.Context, op string, input json.RawMessage) (json.RawMessage, error)
}

// Header is one HTTP header pair carried across the adapter boundary.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HTTPIn is an inbound HTTP request projected into the adapter contract.
type HTTPIn struct {
	Method  string          `json:"method"`
	Path    string          `json:"path"`
	Query   string          `json:"query,omitempty"`
	Headers []Header        `json:"headers"`
	BodyB64 string          `json:"body_b64"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// HTTPOut is the adapter's HTTP response plus any envelopes the request
// produced for the message pipeline.
type HTTPOut struct {
	Status  int               `json:"status"`
	Headers []Header          `json:"headers"`
	BodyB64 string            `json:"body_b64"`
	Events  []domain.Envelope `json:"events"`
}

// RenderPlanIn asks an adapter to plan rendering of an envelope.
type RenderPlanIn struct {
	Envelope domain.Envelope `json:"envelope"`
}

// RenderPlanOut carries the plan, or an error message when OK is false.
type RenderPlanOut struct {
	OK    bool         `json:"ok"`
	Plan  *render.Plan `json:"plan,omitempty"`
	Error string       `json:"error,omitempty"`
}

// EncodeIn asks an adapter to wrap a render plan into a provider payload.
type EncodeIn struct {
	PlanJSON string          `json:"plan_json"`
	Envelope domain.Envelope `json:"envelope"`
}

// EncodeOut carries the payload, or an error message when OK is false.
type EncodeOut struct {
	OK       bool                    `json:"ok"`
	Payload  *domain.ProviderPayload `json:"payload,omitempty"`
	Warnings []render.Warning        `json:"warnings"`
	Error    string                  `json:"error,omitempty"`
}

// SendPayloadIn asks an adapter to deliver an encoded payload.
type SendPayloadIn struct {
	ProviderType string                 `json:"provider_type"`
	AuthUser     string                 `json:"auth_user,omitempty"`
	Payload      domain.ProviderPayload `json:"payload"`
}

// SendPayloadOut reports delivery outcome. Retryable distinguishes transient
// transport failures from permanent rejections.
type SendPayloadOut struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ValidateConfigIn carries raw adapter config for schema validation.
type ValidateConfigIn struct {
	Config json.RawMessage `json:"config"`
}

// ValidateConfigOut lists validation problems; empty Issues means valid.
type ValidateConfigOut struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues"`
}

// SubscriptionIn describes a change-notification subscription to ensure,
// renew, or delete.
type SubscriptionIn struct {
	Resource          string   `json:"resource"`
	ChangeTypes       []string `json:"change_types"`
	NotificationURL   string   `json:"notification_url"`
	SubscriptionID    string   `json:"subscription_id,omitempty"`
	ClientState       string   `json:"client_state,omitempty"`
	ExpirationMinutes int      `json:"expiration_minutes,omitempty"`
}

// SubscriptionOut is the resulting subscription identity and expiration.
type SubscriptionOut struct {
	OK             bool   `json:"ok"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Expiration     string `json:"expiration,omitempty"`
	Error          string `json:"error,omitempty"`
}

// InvokeTyped decodes input, calls the adapter, and decodes the output into
// out. It removes the JSON plumbing from call sites that know both DTO types.
func InvokeTyped(ctx context.Context, a Adapter, op string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s input: %w", op, err)
	}
	res, err := a.Invoke(ctx, op, raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decoding %s output: %w", op, err)
	}
	return nil
}
