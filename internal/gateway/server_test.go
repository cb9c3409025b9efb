package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletmsg/inlet/internal/config"
	"github.com/inletmsg/inlet/internal/directline"
	"github.com/inletmsg/inlet/internal/events"
	"github.com/inletmsg/inlet/internal/host"
	"github.com/inletmsg/inlet/internal/logging"
	"github.com/inletmsg/inlet/internal/provider"
	"github.com/inletmsg/inlet/internal/provider/webchat"
)

func newTestServer(t *testing.T) (*Server, *events.MemoryPublisher) {
	t.Helper()
	log := logging.New(nil, "silent")
	registry := provider.NewRegistry(log)
	registry.Register(webchat.New(
		host.NewMemoryStateStore(),
		host.StaticSecrets{directline.SigningKeySecret: "gateway-test-key"},
		log,
	))

	publisher := events.NewMemoryPublisher()
	s := New(config.Defaults(), registry, publisher, log)
	s.Route(directline.Prefix, webchat.ProviderType)
	return s, publisher
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doJSON(t, s.Handler(), "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body["adapters"], "webchat")
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doJSON(t, s.Handler(), "POST", "/v9/elsewhere", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestRouteToMissingAdapter(t *testing.T) {
	s, _ := newTestServer(t)
	s.Route("/hooks/ghost", "ghost")
	rec, body := doJSON(t, s.Handler(), "POST", "/hooks/ghost/x", nil, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "adapter_unavailable", body["error"])
}

func TestIngestPublishesEnvelopes(t *testing.T) {
	s, publisher := newTestServer(t)
	handler := s.Handler()

	rec, body := doJSON(t, handler, "POST",
		directline.Prefix+"/tokens/generate?env=prod&tenant=acme",
		map[string]any{"user": map[string]string{"id": "user-9"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	auth := map[string]string{"Authorization": "Bearer " + token}

	rec, body = doJSON(t, handler, "POST", directline.Prefix+"/conversations", nil, auth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	convID, _ := body["conversationId"].(string)
	require.NotEmpty(t, convID)
	convToken, _ := body["token"].(string)
	convAuth := map[string]string{"Authorization": "Bearer " + convToken}

	rec, _ = doJSON(t, handler, "POST",
		directline.Prefix+"/conversations/"+convID+"/activities",
		map[string]any{"type": "message", "text": "hello gateway"}, convAuth)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	published := publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "inlet.inbound.webchat", published[0].Key)
	assert.Equal(t, "hello gateway", published[0].Envelope.Text)
	assert.Equal(t, "acme", published[0].Envelope.Tenant.TenantID)
}

func TestLongestPrefixWins(t *testing.T) {
	s, _ := newTestServer(t)
	s.Route("/v3", "ghost")

	providerType, ok := s.resolveRoute(directline.Prefix + "/conversations")
	require.True(t, ok)
	assert.Equal(t, webchat.ProviderType, providerType)
}
