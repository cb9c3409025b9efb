package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/inletmsg/inlet/internal/domain"
)

func fullCaps() domain.Capabilities {
	return domain.Capabilities{
		SupportsAdaptiveCards: true,
		SupportsMarkdown:      true,
		SupportsHTML:          true,
		SupportsImages:        true,
		SupportsButtons:       true,
	}
}

func textOnlyCaps() domain.Capabilities {
	return domain.Capabilities{SupportsMarkdown: true}
}

var sampleAC = json.RawMessage(`{"type":"AdaptiveCard","body":[{"type":"TextBlock","text":"hi"}]}`)

func TestSelectTierFullCapabilities(t *testing.T) {
	plan := PlanRender(Card{Text: "hi"}, fullCaps(), sampleAC)
	assert.Equal(t, TierA, plan.Tier)
}

func TestSelectTierPartialACSupport(t *testing.T) {
	caps := fullCaps()
	caps.SupportsButtons = false
	plan := PlanRender(Card{Text: "hi"}, caps, sampleAC)
	assert.Equal(t, TierB, plan.Tier)

	caps = fullCaps()
	caps.SupportsImages = false
	plan = PlanRender(Card{Text: "hi"}, caps, sampleAC)
	assert.Equal(t, TierB, plan.Tier)
}

func TestSelectTierNoACSupport(t *testing.T) {
	plan := PlanRender(Card{Text: "hi"}, textOnlyCaps(), sampleAC)
	assert.Equal(t, TierD, plan.Tier)
}

func TestSelectTierNoCard(t *testing.T) {
	plan := PlanRender(Card{Text: "hi"}, fullCaps(), nil)
	assert.Equal(t, TierD, plan.Tier)
}

func TestTierAItemsCarryCardAndSummary(t *testing.T) {
	plan := PlanRender(Card{Title: "T", Text: "body"}, fullCaps(), sampleAC)
	require.Len(t, plan.Items, 2)
	assert.Equal(t, ItemText, plan.Items[0].Kind)
	assert.Equal(t, "T\n\nbody", plan.Items[0].Text)
	assert.Equal(t, ItemAdaptiveCard, plan.Items[1].Kind)
	assert.JSONEq(t, string(sampleAC), string(plan.Items[1].Card))
	assert.Empty(t, plan.Warnings)
}

func TestTierBWarnsOnDroppedElements(t *testing.T) {
	caps := fullCaps()
	caps.SupportsImages = false
	card := Card{Text: "body", Images: []string{"https://img.example/a.png"}}
	plan := PlanRender(card, caps, sampleAC)
	require.Equal(t, TierB, plan.Tier)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, WarnUnsupportedElementsRemoved, plan.Warnings[0].Code)
}

func TestTierDDownsampleWarning(t *testing.T) {
	plan := PlanRender(Card{Text: "body"}, textOnlyCaps(), sampleAC)
	require.Equal(t, TierD, plan.Tier)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, WarnAdaptiveCardDownsampled, plan.Warnings[0].Code)
	require.Len(t, plan.Items, 1)
	assert.Equal(t, ItemText, plan.Items[0].Kind)
}

func TestSummaryJoinsActionLabelsWithoutButtons(t *testing.T) {
	card := Card{
		Title: "Choose",
		Actions: []Action{
			{Title: "Docs", URL: "https://docs.example"},
			{Title: "OK"},
		},
	}
	plan := PlanRender(card, textOnlyCaps(), nil)
	assert.Equal(t, "Choose\n\n[Docs](https://docs.example) | OK", plan.SummaryText)
}

func TestSummaryOmitsActionsWhenButtonsSupported(t *testing.T) {
	caps := fullCaps()
	card := Card{Title: "Choose", Actions: []Action{{Title: "OK"}}}
	plan := PlanRender(card, caps, sampleAC)
	assert.Equal(t, "Choose", plan.SummaryText)
}

func TestSummarySanitizeWarning(t *testing.T) {
	caps := domain.Capabilities{}
	plan := PlanRender(Card{Text: "<b>bold</b> and **strong**"}, caps, nil)
	assert.Equal(t, "bold and strong", plan.SummaryText)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, WarnTextSanitized, plan.Warnings[0].Code)
}

func TestSummaryTruncationWarningOrder(t *testing.T) {
	caps := domain.Capabilities{
		SupportsMarkdown: true,
		MaxTextLen:       10,
		MaxPayloadBytes:  8,
	}
	plan := PlanRender(Card{Text: "<i>a very long line of text</i>"}, caps, nil)
	require.Len(t, plan.Warnings, 3)
	assert.Equal(t, WarnTextSanitized, plan.Warnings[0].Code)
	assert.Equal(t, WarnTextTruncated, plan.Warnings[1].Code)
	assert.Equal(t, WarnPayloadTruncated, plan.Warnings[2].Code)
	assert.LessOrEqual(t, len(plan.SummaryText), 8)
}

func TestEmptyCardYieldsEmptyPlan(t *testing.T) {
	plan := PlanRender(Card{}, textOnlyCaps(), nil)
	assert.Equal(t, TierD, plan.Tier)
	assert.Empty(t, plan.SummaryText)
	assert.Empty(t, plan.Items)
	assert.Empty(t, plan.Warnings)
	assert.NotNil(t, plan.Items)
	assert.NotNil(t, plan.Warnings)
}

func TestSanitizeText(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		caps    domain.Capabilities
		want    string
		changed bool
	}{
		{"html stripped", "<p>hi</p>", domain.Capabilities{SupportsMarkdown: true}, "hi", true},
		{"html kept", "<p>hi</p>", domain.Capabilities{SupportsHTML: true, SupportsMarkdown: true}, "<p>hi</p>", false},
		{"markdown stripped", "**hi** `code` ~~no~~ __u__", domain.Capabilities{SupportsHTML: true}, "hi code no u", true},
		{"markdown kept", "**hi**", domain.Capabilities{SupportsHTML: true, SupportsMarkdown: true}, "**hi**", false},
		{"both stripped", "<b>**hi**</b>", domain.Capabilities{}, "hi", true},
		{"clean unchanged", "plain", domain.Capabilities{}, "plain", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := SanitizeText(tc.in, tc.caps)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.changed, changed)
		})
	}
}

func TestTruncateChars(t *testing.T) {
	got, did := TruncateChars("hello world", 5)
	assert.True(t, did)
	assert.Equal(t, "hell…", got)
	assert.Len(t, []rune(got), 5)

	got, did = TruncateChars("hi", 5)
	assert.False(t, did)
	assert.Equal(t, "hi", got)

	// Multi-byte runes count as one character.
	got, did = TruncateChars("héllo wörld", 6)
	assert.True(t, did)
	assert.Len(t, []rune(got), 6)
}

func TestTruncateBytes(t *testing.T) {
	got, did := TruncateBytes("hello world", 8)
	assert.True(t, did)
	assert.LessOrEqual(t, len(got), 8)
	assert.True(t, strings.HasSuffix(got, "…"))

	got, did = TruncateBytes("hi", 8)
	assert.False(t, did)
	assert.Equal(t, "hi", got)

	got, did = TruncateBytes("hello", 3)
	assert.True(t, did)
	assert.Empty(t, got)
}

func TestPlanDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		card := Card{
			Title: rapid.StringN(0, 40, -1).Draw(t, "title"),
			Text:  rapid.StringN(0, 200, -1).Draw(t, "text"),
		}
		caps := domain.Capabilities{
			SupportsAdaptiveCards: rapid.Bool().Draw(t, "ac"),
			SupportsMarkdown:      rapid.Bool().Draw(t, "md"),
			SupportsHTML:          rapid.Bool().Draw(t, "html"),
			SupportsImages:        rapid.Bool().Draw(t, "img"),
			SupportsButtons:       rapid.Bool().Draw(t, "btn"),
			MaxTextLen:            rapid.IntRange(0, 300).Draw(t, "maxlen"),
			MaxPayloadBytes:       rapid.IntRange(0, 300).Draw(t, "maxbytes"),
		}
		var ac json.RawMessage
		if rapid.Bool().Draw(t, "hasCard") {
			ac = sampleAC
		}
		a, err := json.Marshal(PlanRender(card, caps, ac))
		require.NoError(t, err)
		b, err := json.Marshal(PlanRender(card, caps, ac))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestTruncateBytesBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 100, -1).Draw(t, "text")
		max := rapid.IntRange(0, 120).Draw(t, "max")
		got, _ := TruncateBytes(text, max)
		assert.LessOrEqual(t, len(got), max)
	})
}

func TestTruncateCharsBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 100, -1).Draw(t, "text")
		max := rapid.IntRange(1, 120).Draw(t, "max")
		got, _ := TruncateChars(text, max)
		assert.LessOrEqual(t, len([]rune(got)), max)
	})
}

func TestSanitizeFixpoint(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 200, -1).Draw(t, "text")
		caps := domain.Capabilities{
			SupportsMarkdown: rapid.Bool().Draw(t, "md"),
			SupportsHTML:     rapid.Bool().Draw(t, "html"),
		}
		once, _ := SanitizeText(text, caps)
		twice, changed := SanitizeText(once, caps)
		assert.Equal(t, once, twice)
		assert.False(t, changed)
	})
}
