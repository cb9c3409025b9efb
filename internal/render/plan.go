// Package render turns universal Adaptive Card messages into deterministic,
// channel-appropriate render plans and provider payload envelopes.
package render

import "encoding/json"

// Tier is the discrete rendering strategy selected for a channel.
type Tier string

const (
	// TierA passes the Adaptive Card through at full fidelity.
	TierA Tier = "tier_a"
	// TierB passes the Adaptive Card through, warning on dropped elements.
	TierB Tier = "tier_b"
	// TierC is reserved for a future partial-markdown fallback; selection
	// never emits it.
	TierC Tier = "tier_c"
	// TierD downsample the card to text only.
	TierD Tier = "tier_d"
)

// Label returns the human-readable tier name used in warning messages.
func (t Tier) Label() string {
	switch t {
	case TierA:
		return "TierA"
	case TierB:
		return "TierB"
	case TierC:
		return "TierC"
	default:
		return "TierD"
	}
}

// Warning codes emitted by the planner and encoder.
const (
	WarnTextSanitized              = "text_sanitized"
	WarnTextTruncated              = "text_truncated"
	WarnPayloadTruncated           = "payload_truncated"
	WarnUnsupportedElementsRemoved = "unsupported_elements_removed"
	WarnAdaptiveCardDownsampled    = "adaptive_card_downsampled"
	WarnPassthroughNoDownsample    = "passthrough_no_downsample"
)

// Warning is a non-fatal note attached to a render plan.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ItemKind discriminates render items.
type ItemKind string

const (
	ItemText         ItemKind = "text"
	ItemAdaptiveCard ItemKind = "adaptive_card"
)

// Item is one ordered element of a render plan: either plain text or a
// passed-through Adaptive Card.
type Item struct {
	Kind ItemKind        `json:"kind"`
	Text string          `json:"text,omitempty"`
	Card json.RawMessage `json:"card,omitempty"`
}

// TextItem builds a text render item.
func TextItem(text string) Item {
	return Item{Kind: ItemText, Text: text}
}

// CardItem builds an Adaptive Card passthrough item.
func CardItem(card json.RawMessage) Item {
	return Item{Kind: ItemAdaptiveCard, Card: card}
}

// Plan is the deterministic output of the render planner.
type Plan struct {
	Tier        Tier           `json:"tier"`
	SummaryText string         `json:"summary_text,omitempty"`
	Items       []Item         `json:"items"`
	Warnings    []Warning      `json:"warnings"`
	Debug       map[string]any `json:"debug,omitempty"`
}
