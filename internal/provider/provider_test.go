package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletmsg/inlet/internal/domain"
	"github.com/inletmsg/inlet/internal/logging"
	"github.com/inletmsg/inlet/internal/render"
)

type echoAdapter struct{ name string }

func (a *echoAdapter) Type() string                      { return a.name }
func (a *echoAdapter) Capabilities() domain.Capabilities { return domain.Capabilities{} }
func (a *echoAdapter) Invoke(_ context.Context, op string, input json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"op": op, "input": string(input)})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(logging.New(nil, "silent"))
	assert.Equal(t, 0, r.Count())

	r.Register(&echoAdapter{name: "webchat"})
	r.Register(&echoAdapter{name: "msgraph"})

	a, ok := r.Get("webchat")
	require.True(t, ok)
	assert.Equal(t, "webchat", a.Type())

	_, ok = r.Get("slack")
	assert.False(t, ok)

	assert.Equal(t, []string{"msgraph", "webchat"}, r.List())
	assert.Equal(t, 2, r.Count())
}

func TestInvokeTyped(t *testing.T) {
	a := &echoAdapter{name: "echo"}
	var out struct {
		Op    string `json:"op"`
		Input string `json:"input"`
	}
	err := InvokeTyped(context.Background(), a, OpRenderPlan, map[string]string{"k": "v"}, &out)
	require.NoError(t, err)
	assert.Equal(t, OpRenderPlan, out.Op)
	assert.JSONEq(t, `{"k":"v"}`, out.Input)
}

func TestPlanForEnvelopeCardReachesPlanner(t *testing.T) {
	envelope := domain.Envelope{
		Text: "fallback text",
		Metadata: map[string]string{
			domain.MetadataAdaptiveCard: `{"type":"AdaptiveCard","body":[{"type":"TextBlock","text":"card text"}]}`,
		},
	}

	full := domain.Capabilities{
		SupportsAdaptiveCards: true,
		SupportsMarkdown:      true,
		SupportsImages:        true,
		SupportsButtons:       true,
	}
	plan := PlanForEnvelope(envelope, full, "default summary")
	assert.Equal(t, render.TierA, plan.Tier)
	assert.Equal(t, "card text", plan.SummaryText)

	// Text-only channels still see the card for downsample accounting.
	plan = PlanForEnvelope(envelope, domain.Capabilities{}, "default summary")
	assert.Equal(t, render.TierD, plan.Tier)
}

func TestPlanForEnvelopeSummaryFallbacks(t *testing.T) {
	plan := PlanForEnvelope(domain.Envelope{Text: "hello"}, domain.Capabilities{}, "default summary")
	assert.Equal(t, "hello", plan.SummaryText)

	plan = PlanForEnvelope(domain.Envelope{}, domain.Capabilities{}, "default summary")
	assert.Equal(t, "default summary", plan.SummaryText)
}

func TestPlanForEnvelopeBadCardFallsBackToText(t *testing.T) {
	envelope := domain.Envelope{
		Text:     "hello",
		Metadata: map[string]string{domain.MetadataAdaptiveCard: "{not json"},
	}
	plan := PlanForEnvelope(envelope, domain.Capabilities{}, "default summary")
	assert.Equal(t, render.TierD, plan.Tier)
	assert.Equal(t, "hello", plan.SummaryText)
}

func TestMarshalOut(t *testing.T) {
	raw := MarshalOut(SendSuccess())
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}
