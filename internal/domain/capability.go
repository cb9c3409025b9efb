package domain

// Capabilities is the static per-channel statement of which message features
// the wire supports. Each adapter declares a single capability constant.
// Zero values for the limits mean "unbounded".
type Capabilities struct {
	SupportsAdaptiveCards bool `json:"supports_adaptive_cards"`
	SupportsMarkdown      bool `json:"supports_markdown"`
	SupportsHTML          bool `json:"supports_html"`
	SupportsImages        bool `json:"supports_images"`
	SupportsButtons       bool `json:"supports_buttons"`

	// MaxTextLen caps summary text in characters.
	MaxTextLen int `json:"max_text_len,omitempty"`
	// MaxPayloadBytes caps summary text in bytes on the wire.
	MaxPayloadBytes int `json:"max_payload_bytes,omitempty"`
}
