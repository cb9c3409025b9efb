// Package webchat is the browser chat adapter. It hosts the Direct Line
// conversation surface and renders at full fidelity: Adaptive Cards pass
// through untouched.
package webchat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inletmsg/inlet/internal/directline"
	"github.com/inletmsg/inlet/internal/domain"
	"github.com/inletmsg/inlet/internal/host"
	"github.com/inletmsg/inlet/internal/logging"
	"github.com/inletmsg/inlet/internal/provider"
	"github.com/inletmsg/inlet/internal/render"
)

// ProviderType identifies this adapter.
const ProviderType = "webchat"

// Adapter implements the provider contract for browser webchat.
type Adapter struct {
	store      host.StateStore
	dispatcher *directline.Dispatcher
	log        *logging.Logger
	now        func() time.Time
}

// New creates a webchat adapter over the given state and secret stores.
func New(store host.StateStore, secrets host.SecretStore, log *logging.Logger) *Adapter {
	return &Adapter{
		store:      store,
		dispatcher: directline.NewDispatcher(store, secrets, log),
		log:        log.Sub("webchat"),
		now:        time.Now,
	}
}

// Type returns the provider type.
func (a *Adapter) Type() string { return ProviderType }

// Capabilities reports full fidelity: webchat renders Adaptive Cards,
// markdown, HTML, images, and buttons with no size limits.
func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		SupportsAdaptiveCards: true,
		SupportsMarkdown:      true,
		SupportsHTML:          true,
		SupportsImages:        true,
		SupportsButtons:       true,
	}
}

// Invoke dispatches an adapter operation.
func (a *Adapter) Invoke(ctx context.Context, op string, input json.RawMessage) (json.RawMessage, error) {
	switch op {
	case provider.OpRenderPlan:
		return a.renderPlan(input)
	case provider.OpEncode:
		return a.encode(input)
	case provider.OpSendPayload:
		return a.sendPayload(ctx, input)
	case provider.OpIngestHTTP:
		return a.ingestHTTP(ctx, input)
	case provider.OpValidateConfig:
		return a.validateConfig(input)
	default:
		return nil, fmt.Errorf("%w: %s %s", provider.ErrUnsupportedOp, ProviderType, op)
	}
}

func (a *Adapter) renderPlan(input json.RawMessage) (json.RawMessage, error) {
	var in provider.RenderPlanIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.RenderPlanError(fmt.Sprintf("invalid render input: %v", err))), nil
	}
	plan := provider.PlanForEnvelope(in.Envelope, a.Capabilities(), "webchat message")
	return provider.MarshalOut(provider.RenderPlanOut{OK: true, Plan: &plan}), nil
}

func (a *Adapter) encode(input json.RawMessage) (json.RawMessage, error) {
	var in provider.EncodeIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.EncodeOut{OK: false, Error: fmt.Sprintf("invalid encode input: %v", err)}), nil
	}
	res := render.EncodeFromPlanJSON(in.PlanJSON, in.Envelope, ProviderType)
	return provider.MarshalOut(provider.EncodeOut{
		OK:       res.OK,
		Payload:  res.Payload,
		Warnings: res.Warnings,
		Error:    res.Error,
	}), nil
}

// sendPayload persists the outbound record and, when the payload names a
// conversation, appends the bot reply so polling clients see it.
func (a *Adapter) sendPayload(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in provider.SendPayloadIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.SendError(fmt.Sprintf("invalid send input: %v", err), false)), nil
	}
	if in.ProviderType != "" && in.ProviderType != ProviderType {
		return provider.MarshalOut(provider.SendError(fmt.Sprintf("payload for provider %s routed to webchat", in.ProviderType), false)), nil
	}

	body, err := in.Payload.Body()
	if err != nil {
		return provider.MarshalOut(provider.SendError(fmt.Sprintf("invalid payload body: %v", err), false)), nil
	}
	var envelope domain.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return provider.MarshalOut(provider.SendError(fmt.Sprintf("payload body is not an envelope: %v", err), false)), nil
	}
	if len(envelope.Attachments) > 0 {
		return provider.MarshalOut(provider.SendError("attachments not supported", false)), nil
	}
	if envelope.Text == "" {
		return provider.MarshalOut(provider.SendError("text required", false)), nil
	}

	// Best-effort: the conversation may have expired or never existed.
	if envelope.SessionID != "" {
		dlCtx := directline.Context{Env: envelope.Tenant.EnvID, Tenant: envelope.Tenant.TenantID}
		if dlCtx.Env == "" {
			dlCtx.Env = "default"
		}
		if dlCtx.Tenant == "" {
			dlCtx.Tenant = "default"
		}
		if err := directline.AppendBotActivity(ctx, a.store, dlCtx, envelope.SessionID, envelope.Text, a.now()); err != nil {
			a.log.Warn().Err(err).Str("conversation", envelope.SessionID).Msg("failed to append bot activity")
		}
	}

	if err := a.persistOutbound(ctx, envelope, body); err != nil {
		return provider.MarshalOut(provider.SendError(err.Error(), true)), nil
	}
	return provider.MarshalOut(provider.SendSuccess()), nil
}

// persistOutbound stores the latest outbound record under the delivery route
// so local-queue frontends can fetch it.
func (a *Adapter) persistOutbound(ctx context.Context, envelope domain.Envelope, body []byte) error {
	key := "webchat:outbound:" + routeKey(envelope)
	for attempt := 0; attempt < 2; attempt++ {
		_, version, err := a.store.Read(ctx, key)
		if err != nil {
			return err
		}
		_, err = a.store.Write(ctx, key, body, version)
		if err == nil {
			a.log.Debug().Str("key", key).Str("message_id", messageID(body)).Msg("outbound payload stored")
			return nil
		}
		if !errors.Is(err, host.ErrConflict) {
			return err
		}
	}
	return host.ErrConflict
}

func routeKey(envelope domain.Envelope) string {
	if envelope.SessionID != "" {
		return envelope.SessionID
	}
	if envelope.Channel != "" {
		return envelope.Channel
	}
	return ProviderType
}

// messageID derives a stable identifier from the payload bytes.
func messageID(body []byte) string {
	sum := sha256.Sum256(body)
	return ProviderType + ":" + hex.EncodeToString(sum[:8])
}

func (a *Adapter) ingestHTTP(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in provider.HTTPIn
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid http input: %w", err)
	}
	out := a.dispatcher.Handle(ctx, in)
	return provider.MarshalOut(out), nil
}

func (a *Adapter) validateConfig(input json.RawMessage) (json.RawMessage, error) {
	var in provider.ValidateConfigIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.ValidateConfigOut{OK: false, Issues: []string{err.Error()}}), nil
	}
	if _, err := ParseConfig(in.Config); err != nil {
		return provider.MarshalOut(provider.ValidateConfigOut{OK: false, Issues: []string{err.Error()}}), nil
	}
	return provider.MarshalOut(provider.ValidateConfigOut{OK: true, Issues: []string{}}), nil
}
