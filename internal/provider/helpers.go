package provider

import (
	"encoding/json"
	"strings"

	"github.com/inletmsg/inlet/internal/domain"
	"github.com/inletmsg/inlet/internal/render"
)

// PlanForEnvelope runs the shared render pipeline for an envelope against a
// channel's capabilities. The Adaptive Card, when present in metadata, always
// reaches the planner so text-only channels still get downsample warnings;
// the planner only attaches it for card-capable tiers. When the plan yields
// no summary the envelope text is used, then defaultSummary.
func PlanForEnvelope(envelope domain.Envelope, caps domain.Capabilities, defaultSummary string) render.Plan {
	var plan render.Plan

	if acRaw := envelope.AdaptiveCardJSON(); acRaw != "" {
		if ac, err := render.ParseAdaptiveCard(acRaw); err == nil {
			card := render.ExtractCard(ac)
			plan = render.PlanRender(card, caps, json.RawMessage(acRaw))
		} else {
			plan = render.PlanRender(textCard(envelope.Text), caps, nil)
		}
	} else {
		plan = render.PlanRender(textCard(envelope.Text), caps, nil)
	}

	if plan.SummaryText == "" {
		if text := strings.TrimSpace(envelope.Text); text != "" {
			plan.SummaryText = text
		} else {
			plan.SummaryText = defaultSummary
		}
	}
	return plan
}

func textCard(text string) render.Card {
	if strings.TrimSpace(text) == "" {
		return render.Card{}
	}
	return render.Card{Text: text}
}

// RenderPlanError builds a failed render_plan output.
func RenderPlanError(message string) RenderPlanOut {
	return RenderPlanOut{OK: false, Error: message}
}

// SendError builds a failed send_payload output.
func SendError(message string, retryable bool) SendPayloadOut {
	return SendPayloadOut{OK: false, Message: message, Retryable: retryable}
}

// SendSuccess builds a successful send_payload output.
func SendSuccess() SendPayloadOut {
	return SendPayloadOut{OK: true}
}

// MarshalOut serializes an output DTO; the contract guarantees DTOs encode,
// so failures collapse to an empty object.
func MarshalOut(out any) json.RawMessage {
	raw, err := json.Marshal(out)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
