package domain

import "encoding/base64"

// ProviderPayload is the opaque envelope an adapter's send path POSTs to the
// wire. Body is base64 so the payload survives JSON transport untouched;
// Metadata carries adapter-private hints the planner never interprets.
type ProviderPayload struct {
	ContentType string         `json:"content_type"`
	BodyB64     string         `json:"body_b64"`
	Metadata    map[string]any `json:"metadata"`
}

// NewJSONPayload wraps raw JSON body bytes in a payload envelope.
func NewJSONPayload(body []byte, metadata map[string]any) ProviderPayload {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return ProviderPayload{
		ContentType: "application/json",
		BodyB64:     base64.StdEncoding.EncodeToString(body),
		Metadata:    metadata,
	}
}

// Body decodes the base64 body bytes.
func (p ProviderPayload) Body() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.BodyB64)
}
