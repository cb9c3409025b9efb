package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inletmsg/inlet/internal/domain"
)

// EncodeResult is the outcome of wrapping a render plan into a provider
// payload envelope.
type EncodeResult struct {
	OK       bool                    `json:"ok"`
	Payload  *domain.ProviderPayload `json:"payload,omitempty"`
	Warnings []Warning               `json:"warnings"`
	Error    string                  `json:"error,omitempty"`
}

// EncodeFromPlanJSON decodes a serialized render plan and encodes it against
// the envelope. Tier strings are normalized so plans produced by older
// adapters ("TierA", "tier-a") still decode.
func EncodeFromPlanJSON(planJSON string, envelope domain.Envelope, providerHint string) EncodeResult {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(planJSON), &raw); err != nil {
		return encodeFailure(fmt.Sprintf("render plan json invalid: %v", err))
	}
	if tierRaw, ok := raw["tier"]; ok {
		var tier string
		if err := json.Unmarshal(tierRaw, &tier); err == nil {
			normalized, _ := json.Marshal(normalizeTier(tier))
			raw["tier"] = normalized
		}
	}
	merged, err := json.Marshal(raw)
	if err != nil {
		return encodeFailure(fmt.Sprintf("render plan json invalid: %v", err))
	}
	var plan Plan
	if err := json.Unmarshal(merged, &plan); err != nil {
		return encodeFailure(fmt.Sprintf("render plan json invalid: %v", err))
	}
	return Encode(plan, envelope, providerHint)
}

// Encode wraps a render plan into a ProviderPayload. Plan warnings are
// forwarded unchanged; passthrough tiers gain an advisory naming the tier.
func Encode(plan Plan, envelope domain.Envelope, providerHint string) EncodeResult {
	warnings := append([]Warning{}, plan.Warnings...)
	if plan.Tier == TierA || plan.Tier == TierB || plan.Tier == TierC {
		hint := providerHint
		if hint == "" {
			hint = "<unknown>"
		}
		warnings = append(warnings, Warning{
			Code:    WarnPassthroughNoDownsample,
			Message: fmt.Sprintf("provider %s returned %s plan, pass-through enforced", hint, plan.Tier.Label()),
		})
	}

	var payload domain.ProviderPayload
	if body, metadata, ok := extractDebugBody(plan); ok {
		payload = domain.NewJSONPayload(body, metadata)
	} else {
		prepared := prepareEnvelope(envelope, plan, providerHint)
		body, err := json.Marshal(prepared)
		if err != nil {
			return encodeFailure(fmt.Sprintf("encode envelope: %v", err))
		}
		payload = domain.NewJSONPayload(body, nil)
	}

	return EncodeResult{OK: true, Payload: &payload, Warnings: warnings}
}

// extractDebugBody honors pre-rendered bodies carried in plan.debug: an
// explicit body_b64 wins, then the first of payload/body/envelope serialized
// under its key.
func extractDebugBody(plan Plan) ([]byte, map[string]any, bool) {
	if len(plan.Debug) == 0 {
		return nil, nil, false
	}

	if encoded, ok := plan.Debug["body_b64"].(string); ok {
		if body, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			metadata := make(map[string]any, len(plan.Debug)-1)
			for k, v := range plan.Debug {
				if k != "body_b64" {
					metadata[k] = v
				}
			}
			return body, metadata, true
		}
	}

	for _, key := range []string{"payload", "body", "envelope"} {
		value, ok := plan.Debug[key]
		if !ok {
			continue
		}
		body, err := json.Marshal(map[string]any{key: value})
		if err != nil {
			continue
		}
		return body, plan.Debug, true
	}

	return nil, nil, false
}

// prepareEnvelope fills empty text from the plan summary and, for text-only
// tiers, drops the adaptive_card metadata the channel cannot use.
func prepareEnvelope(envelope domain.Envelope, plan Plan, providerHint string) domain.Envelope {
	if plan.Tier != TierD {
		return envelope
	}
	trimmed := envelope.Clone()
	if strings.TrimSpace(trimmed.Text) == "" {
		if plan.SummaryText != "" {
			trimmed.Text = plan.SummaryText
		} else {
			trimmed.Text = defaultSummary(providerHint)
		}
	}
	delete(trimmed.Metadata, domain.MetadataAdaptiveCard)
	return trimmed
}

func defaultSummary(providerHint string) string {
	if providerHint == "" {
		return "universal payload"
	}
	return providerHint + " universal payload"
}

func normalizeTier(tier string) Tier {
	folded := strings.ToLower(strings.ReplaceAll(tier, "-", "_"))
	switch folded {
	case "tier_a", "tiera":
		return TierA
	case "tier_b", "tierb":
		return TierB
	case "tier_c", "tierc":
		return TierC
	default:
		return TierD
	}
}

func encodeFailure(msg string) EncodeResult {
	return EncodeResult{OK: false, Warnings: []Warning{}, Error: msg}
}
