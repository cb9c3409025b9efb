package gateway

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/inletmsg/inlet/internal/events"
	"github.com/inletmsg/inlet/internal/provider"
)

// handleIngest forwards the request to the adapter owning its path prefix
// and relays the adapter's response. Envelopes the adapter produced are
// published before the response is written.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	providerType, ok := s.resolveRoute(r.URL.Path)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not_found", "message": "no route for path",
		})
		return
	}
	adapter, ok := s.registry.Get(providerType)
	if !ok {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "adapter_unavailable", "message": "adapter not registered: " + providerType,
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "bad_request", "message": "reading request body",
		})
		return
	}

	in := provider.HTTPIn{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: requestHeaders(r),
		BodyB64: base64.StdEncoding.EncodeToString(body),
	}

	var out provider.HTTPOut
	if err := provider.InvokeTyped(r.Context(), adapter, provider.OpIngestHTTP, in, &out); err != nil {
		s.log.Error().Err(err).Str("provider", providerType).Str("path", r.URL.Path).Msg("ingest failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal", "message": "adapter invocation failed",
		})
		return
	}

	for _, envelope := range out.Events {
		key := events.RoutingKey(envelope)
		if err := s.publisher.Publish(r.Context(), key, envelope); err != nil {
			s.log.Error().Err(err).Str("key", key).Str("id", envelope.ID).Msg("publish failed")
		}
	}

	for _, h := range out.Headers {
		w.Header().Set(h.Name, h.Value)
	}
	status := out.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if out.BodyB64 != "" {
		if raw, err := base64.StdEncoding.DecodeString(out.BodyB64); err == nil {
			w.Write(raw)
		}
	}
}

func requestHeaders(r *http.Request) []provider.Header {
	headers := make([]provider.Header, 0, len(r.Header))
	for name, values := range r.Header {
		for _, value := range values {
			headers = append(headers, provider.Header{Name: name, Value: value})
		}
	}
	return headers
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
