package directline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletmsg/inlet/internal/host"
	"github.com/inletmsg/inlet/internal/logging"
	"github.com/inletmsg/inlet/internal/provider"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(
		host.NewMemoryStateStore(),
		host.StaticSecrets{SigningKeySecret: "unit-test-key"},
		logging.New(nil, "silent"),
	)
	d.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return d
}

func buildRequest(method, path, query string, token string, body any) provider.HTTPIn {
	req := provider.HTTPIn{Method: method, Path: path, Query: query}
	if token != "" {
		req.Headers = []provider.Header{{Name: "Authorization", Value: "Bearer " + token}}
	}
	if body != nil {
		raw, _ := json.Marshal(body)
		req.BodyB64 = base64.StdEncoding.EncodeToString(raw)
	}
	return req
}

func decodeBody(t *testing.T, out provider.HTTPOut) map[string]any {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(out.BodyB64)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func generateToken(t *testing.T, d *Dispatcher, user string) string {
	t.Helper()
	out := d.Handle(context.Background(), buildRequest("POST", "/v3/directline/tokens/generate", "env=prod&tenant=acme", "", map[string]any{
		"user": map[string]any{"id": user},
	}))
	require.Equal(t, 200, out.Status)
	body := decodeBody(t, out)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func openConversation(t *testing.T, d *Dispatcher, token string) (string, string) {
	t.Helper()
	out := d.Handle(context.Background(), buildRequest("POST", "/v3/directline/conversations", "", token, nil))
	require.Equal(t, 201, out.Status)
	body := decodeBody(t, out)
	convID, _ := body["conversationId"].(string)
	convToken, _ := body["token"].(string)
	require.NotEmpty(t, convID)
	require.NotEmpty(t, convToken)
	return convID, convToken
}

func TestPollingFlow(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	token := generateToken(t, d, "user-1")
	convID, convToken := openConversation(t, d, token)

	// First poll sees an empty conversation at watermark 0.
	out := d.Handle(ctx, buildRequest("GET", "/v3/directline/conversations/"+convID+"/activities", "", convToken, nil))
	require.Equal(t, 200, out.Status)
	body := decodeBody(t, out)
	assert.Empty(t, body["activities"])
	assert.Equal(t, "0", body["watermark"])

	// Post an activity.
	out = d.Handle(ctx, buildRequest("POST", "/v3/directline/conversations/"+convID+"/activities", "", convToken, map[string]any{
		"type": "message",
		"text": "hello",
		"from": map[string]any{"id": "user-1"},
	}))
	require.Equal(t, 201, out.Status)
	activityID, _ := decodeBody(t, out)["id"].(string)
	assert.NotEmpty(t, activityID)

	// The posted text becomes a pipeline envelope.
	require.Len(t, out.Events, 1)
	event := out.Events[0]
	assert.Equal(t, "hello", event.Text)
	assert.Equal(t, "webchat", event.Channel)
	assert.Equal(t, convID, event.SessionID)
	assert.Equal(t, "prod", event.Tenant.EnvID)
	assert.Equal(t, "acme", event.Tenant.TenantID)
	require.NotNil(t, event.From)
	assert.Equal(t, "user-1", event.From.ID)

	// Poll returns the activity and an advanced watermark.
	out = d.Handle(ctx, buildRequest("GET", "/v3/directline/conversations/"+convID+"/activities", "", convToken, nil))
	require.Equal(t, 200, out.Status)
	body = decodeBody(t, out)
	activities, _ := body["activities"].([]any)
	require.Len(t, activities, 1)
	first, _ := activities[0].(map[string]any)
	assert.Equal(t, activityID, first["id"])
	assert.Equal(t, "hello", first["text"])
	assert.Equal(t, "0", first["watermark"])
	assert.Equal(t, "1", body["watermark"])

	// Polling above the watermark filters the activity out.
	out = d.Handle(ctx, buildRequest("GET", "/v3/directline/conversations/"+convID+"/activities", "watermark=0", convToken, nil))
	require.Equal(t, 200, out.Status)
	body = decodeBody(t, out)
	assert.Empty(t, body["activities"])
}

func TestTokenGenerateRateLimited(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	req := buildRequest("POST", "/v3/directline/tokens/generate", "env=prod&tenant=acme", "", map[string]any{
		"user": map[string]any{"id": "limited"},
	})

	for i := 0; i < RateLimitRequests; i++ {
		out := d.Handle(ctx, req)
		require.Equal(t, 200, out.Status, "request %d", i)
	}
	out := d.Handle(ctx, req)
	assert.Equal(t, 429, out.Status)
	assert.Equal(t, "rate_limited", decodeBody(t, out)["error"])

	// A new window clears the limit.
	d.Now = func() time.Time { return time.Unix(1_700_000_000+RateLimitWindowSeconds, 0) }
	out = d.Handle(ctx, req)
	assert.Equal(t, 200, out.Status)
}

func TestTokenGenerateDefaultsContextAndUser(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Handle(context.Background(), buildRequest("POST", "/v3/directline/tokens/generate", "", "", nil))
	require.Equal(t, 200, out.Status)
	token, _ := decodeBody(t, out)["token"].(string)

	claims, err := VerifyToken([]byte("unit-test-key"), token, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	assert.Equal(t, "default", claims.Env)
	assert.Equal(t, "default", claims.Tenant)
	assert.Equal(t, "anonymous", claims.Sub)
}

func TestConversationsRequireUnboundToken(t *testing.T) {
	d := newTestDispatcher(t)
	token := generateToken(t, d, "user-1")
	_, convToken := openConversation(t, d, token)

	out := d.Handle(context.Background(), buildRequest("POST", "/v3/directline/conversations", "", convToken, nil))
	assert.Equal(t, 403, out.Status)
}

func TestActivitiesRejectForeignConversation(t *testing.T) {
	d := newTestDispatcher(t)
	token := generateToken(t, d, "user-1")
	convID, _ := openConversation(t, d, token)
	_, otherToken := openConversation(t, d, generateToken(t, d, "user-2"))

	out := d.Handle(context.Background(), buildRequest("GET", "/v3/directline/conversations/"+convID+"/activities", "", otherToken, nil))
	assert.Equal(t, 403, out.Status)
}

func TestActivitiesRequireAuth(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Handle(context.Background(), buildRequest("GET", "/v3/directline/conversations/c1/activities", "", "", nil))
	assert.Equal(t, 401, out.Status)

	out = d.Handle(context.Background(), buildRequest("GET", "/v3/directline/conversations/c1/activities", "", "bogus-token", nil))
	assert.Equal(t, 401, out.Status)
}

func TestExpiredTokenRejected(t *testing.T) {
	d := newTestDispatcher(t)
	token := generateToken(t, d, "user-1")
	d.Now = func() time.Time { return time.Unix(1_700_000_000+TTLSeconds+1, 0) }

	out := d.Handle(context.Background(), buildRequest("POST", "/v3/directline/conversations", "", token, nil))
	assert.Equal(t, 401, out.Status)
}

func TestPostActivityAttachmentValidation(t *testing.T) {
	d := newTestDispatcher(t)
	token := generateToken(t, d, "user-1")
	convID, convToken := openConversation(t, d, token)
	path := "/v3/directline/conversations/" + convID + "/activities"

	out := d.Handle(context.Background(), buildRequest("POST", path, "", convToken, map[string]any{
		"type": "message",
		"attachments": []any{
			map[string]any{"contentType": "application/x-sh", "content": "echo"},
		},
	}))
	require.Equal(t, 400, out.Status)
	message, _ := decodeBody(t, out)["message"].(string)
	assert.Contains(t, message, "unsupported content type")

	big := make([]byte, MaxAttachmentBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	out = d.Handle(context.Background(), buildRequest("POST", path, "", convToken, map[string]any{
		"type": "message",
		"attachments": []any{
			map[string]any{"contentType": "text/plain", "content": string(big)},
		},
	}))
	require.Equal(t, 400, out.Status)
	message, _ = decodeBody(t, out)["message"].(string)
	assert.Equal(t, "attachment too large", message)

	out = d.Handle(context.Background(), buildRequest("POST", path, "", convToken, map[string]any{
		"type": "message",
		"attachments": []any{
			map[string]any{"contentType": "image/png", "contentUrl": "https://img.example/x.png"},
		},
	}))
	assert.Equal(t, 201, out.Status)
}

func TestPostActivityWithoutTextEmitsNoEvent(t *testing.T) {
	d := newTestDispatcher(t)
	token := generateToken(t, d, "user-1")
	convID, convToken := openConversation(t, d, token)

	out := d.Handle(context.Background(), buildRequest("POST", "/v3/directline/conversations/"+convID+"/activities", "", convToken, map[string]any{
		"type": "typing",
	}))
	require.Equal(t, 201, out.Status)
	assert.Empty(t, out.Events)
}

func TestRouting(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	cases := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/v3/directline/tokens/generate", 405},
		{"DELETE", "/v3/directline/conversations", 405},
		{"GET", "/v3/directline/conversations/c1/stream", 501},
		{"GET", "/v3/directline/unknown", 404},
		{"GET", "/v2/other", 404},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s %s", tc.method, tc.path), func(t *testing.T) {
			out := d.Handle(ctx, buildRequest(tc.method, tc.path, "", "", nil))
			assert.Equal(t, tc.status, out.Status)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Handle(context.Background(), buildRequest("OPTIONS", "/v3/directline/conversations", "", "", nil))
	assert.Equal(t, 204, out.Status)

	headers := map[string]string{}
	for _, h := range out.Headers {
		headers[h.Name] = h.Value
	}
	assert.Equal(t, "*", headers["Access-Control-Allow-Origin"])
	assert.Equal(t, "Authorization, Content-Type", headers["Access-Control-Allow-Headers"])
	assert.Equal(t, "GET, POST, OPTIONS", headers["Access-Control-Allow-Methods"])
}

func TestMissingSigningKey(t *testing.T) {
	d := NewDispatcher(host.NewMemoryStateStore(), host.StaticSecrets{}, logging.New(nil, "silent"))
	out := d.Handle(context.Background(), buildRequest("POST", "/v3/directline/tokens/generate", "", "", nil))
	assert.Equal(t, 500, out.Status)
	assert.Equal(t, "missing_secret", decodeBody(t, out)["error"])
}

func TestInvalidWatermarkQuery(t *testing.T) {
	d := newTestDispatcher(t)
	token := generateToken(t, d, "user-1")
	convID, convToken := openConversation(t, d, token)

	out := d.Handle(context.Background(), buildRequest("GET", "/v3/directline/conversations/"+convID+"/activities", "watermark=abc", convToken, nil))
	assert.Equal(t, 400, out.Status)
}
