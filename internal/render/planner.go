package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inletmsg/inlet/internal/domain"
)

// PlanRender produces a render plan from a normalized card, the target
// channel's capabilities, and the original Adaptive Card JSON (nil when the
// message had none). For equal inputs the plan is byte-identical, including
// warning order; no time, randomness, or environment is consulted.
func PlanRender(card Card, caps domain.Capabilities, acJSON json.RawMessage) Plan {
	tier := selectTier(caps, acJSON != nil)
	var warnings []Warning
	var items []Item

	summary := buildSummaryText(card, caps, &warnings)

	switch tier {
	case TierA, TierB:
		if summary != "" {
			items = append(items, TextItem(summary))
		}
		items = append(items, CardItem(acJSON))
		if tier == TierB && hasUnsupportedElements(card, caps) {
			warnings = append(warnings, Warning{
				Code:    WarnUnsupportedElementsRemoved,
				Message: "Some card elements were removed for this channel",
			})
		}
	default:
		if summary != "" {
			items = append(items, TextItem(summary))
		}
		if acJSON != nil {
			warnings = append(warnings, Warning{
				Code:    WarnAdaptiveCardDownsampled,
				Message: "Adaptive Card was converted to text for this channel",
			})
		}
	}

	if warnings == nil {
		warnings = []Warning{}
	}
	if items == nil {
		items = []Item{}
	}
	return Plan{
		Tier:        tier,
		SummaryText: summary,
		Items:       items,
		Warnings:    warnings,
	}
}

func selectTier(caps domain.Capabilities, hasAC bool) Tier {
	if !hasAC {
		return TierD
	}
	if caps.SupportsAdaptiveCards {
		if caps.SupportsButtons && caps.SupportsImages {
			return TierA
		}
		return TierB
	}
	return TierD
}

// buildSummaryText joins title, text, and (for button-less channels) action
// labels, then sanitizes and truncates per the capability limits, recording
// warnings in issue order.
func buildSummaryText(card Card, caps domain.Capabilities, warnings *[]Warning) string {
	var parts []string

	if title := strings.TrimSpace(card.Title); title != "" {
		parts = append(parts, title)
	}
	if text := strings.TrimSpace(card.Text); text != "" {
		parts = append(parts, text)
	}
	if !caps.SupportsButtons && len(card.Actions) > 0 {
		labels := make([]string, 0, len(card.Actions))
		for _, action := range card.Actions {
			if action.URL != "" {
				labels = append(labels, fmt.Sprintf("[%s](%s)", action.Title, action.URL))
			} else {
				labels = append(labels, action.Title)
			}
		}
		parts = append(parts, strings.Join(labels, " | "))
	}

	if len(parts) == 0 {
		return ""
	}
	text := strings.Join(parts, "\n\n")

	if sanitized, changed := SanitizeText(text, caps); changed {
		text = sanitized
		*warnings = append(*warnings, Warning{
			Code:    WarnTextSanitized,
			Message: "Text was sanitized for this channel",
		})
	}

	if caps.MaxTextLen > 0 {
		if truncated, did := TruncateChars(text, caps.MaxTextLen); did {
			text = truncated
			*warnings = append(*warnings, Warning{
				Code:    WarnTextTruncated,
				Message: fmt.Sprintf("Text truncated to %d chars", caps.MaxTextLen),
			})
		}
	}

	if caps.MaxPayloadBytes > 0 {
		if truncated, did := TruncateBytes(text, caps.MaxPayloadBytes); did {
			text = truncated
			*warnings = append(*warnings, Warning{
				Code:    WarnPayloadTruncated,
				Message: fmt.Sprintf("Payload truncated to %d bytes", caps.MaxPayloadBytes),
			})
		}
	}

	return text
}

// SanitizeText strips HTML tags when the channel lacks HTML support and
// markdown markers when it lacks markdown support. Sanitizing an already
// sanitized string is a no-op.
func SanitizeText(text string, caps domain.Capabilities) (string, bool) {
	result := text
	changed := false

	if !caps.SupportsHTML {
		if stripped := stripHTMLTags(result); stripped != result {
			result = stripped
			changed = true
		}
	}
	if !caps.SupportsMarkdown {
		if stripped := stripMarkdownMarkers(result); stripped != result {
			result = stripped
			changed = true
		}
	}
	return result, changed
}

// stripHTMLTags removes <...> spans with a small state machine.
func stripHTMLTags(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inTag := false
	for _, ch := range text {
		switch {
		case ch == '<':
			inTag = true
		case ch == '>':
			inTag = false
		case !inTag:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

var markdownReplacer = strings.NewReplacer("**", "", "__", "", "~~", "", "`", "")

// stripMarkdownMarkers removes emphasis markers until stable, since removing
// one marker can butt two halves of another together.
func stripMarkdownMarkers(text string) string {
	for {
		next := markdownReplacer.Replace(text)
		if next == text {
			return text
		}
		text = next
	}
}

// TruncateChars cuts text to at most max characters, appending a single
// ellipsis when truncation occurred.
func TruncateChars(text string, max int) (string, bool) {
	if max <= 0 {
		return "", text != ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text, false
	}
	return string(runes[:max-1]) + "…", true
}

// TruncateBytes cuts text to at most max bytes on a character boundary,
// appending an ellipsis. Limits under 4 bytes leave no room for the ellipsis
// and produce an empty string.
func TruncateBytes(text string, max int) (string, bool) {
	if len(text) <= max {
		return text, false
	}
	if max < 4 {
		return "", true
	}
	boundary := max - 3 // room for the 3-byte ellipsis
	end := 0
	for i, ch := range text {
		next := i + len(string(ch))
		if next > boundary {
			break
		}
		end = next
	}
	return text[:end] + "…", true
}

func hasUnsupportedElements(card Card, caps domain.Capabilities) bool {
	if !caps.SupportsButtons && len(card.Actions) > 0 {
		return true
	}
	if !caps.SupportsImages && len(card.Images) > 0 {
		return true
	}
	return false
}
