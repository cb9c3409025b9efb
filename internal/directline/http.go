package directline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inletmsg/inlet/internal/domain"
	"github.com/inletmsg/inlet/internal/host"
	"github.com/inletmsg/inlet/internal/logging"
	"github.com/inletmsg/inlet/internal/provider"
)

const (
	// Prefix is the URL prefix the dispatcher owns.
	Prefix = "/v3/directline"

	// SigningKeySecret names the HMAC key in the secret store.
	SigningKeySecret = "jwt_signing_key"

	// RateLimitWindowSeconds and RateLimitRequests bound token minting per
	// (env, tenant, team, user).
	RateLimitWindowSeconds = 60
	RateLimitRequests      = 5

	// MaxAttachmentBytes caps inline attachment content.
	MaxAttachmentBytes = 512 * 1024

	jsonContentType = "application/json"
)

var allowedAttachmentTypes = map[string]bool{
	"text/plain":       true,
	"application/json": true,
	"image/png":        true,
	"image/jpeg":       true,
	"image/gif":        true,

	"application/vnd.microsoft.card.adaptive":  true,
	"application/vnd.microsoft.card.hero":      true,
	"application/vnd.microsoft.card.thumbnail": true,
}

// Dispatcher routes Direct Line HTTP requests against versioned conversation
// state. Now is injectable for tests and defaults to time.Now.
type Dispatcher struct {
	Store   host.StateStore
	Secrets host.SecretStore
	Log     *logging.Logger
	Now     func() time.Time
}

// NewDispatcher creates a dispatcher over the given state and secret stores.
func NewDispatcher(store host.StateStore, secrets host.SecretStore, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		Store:   store,
		Secrets: secrets,
		Log:     log.Sub("directline"),
		Now:     time.Now,
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Handle dispatches one Direct Line request.
func (d *Dispatcher) Handle(ctx context.Context, req provider.HTTPIn) provider.HTTPOut {
	if !strings.HasPrefix(req.Path, Prefix) {
		return respondNotFound("missing directline prefix")
	}

	if strings.EqualFold(req.Method, "OPTIONS") {
		return respondCORSPreflight()
	}

	segments := strings.Split(strings.TrimPrefix(req.Path, "/"), "/")
	switch {
	case pathIs(segments, "v3", "directline", "tokens", "generate"):
		if !strings.EqualFold(req.Method, "POST") {
			return methodNotAllowed()
		}
		return d.handleTokens(ctx, req)

	case pathIs(segments, "v3", "directline", "conversations"):
		if !strings.EqualFold(req.Method, "POST") {
			return methodNotAllowed()
		}
		return d.handleConversations(ctx, req)

	case len(segments) == 5 && pathIs(segments[:3], "v3", "directline", "conversations") && segments[4] == "activities":
		convID := segments[3]
		switch {
		case strings.EqualFold(req.Method, "POST"):
			return d.handlePostActivities(ctx, req, convID)
		case strings.EqualFold(req.Method, "GET"):
			return d.handleGetActivities(ctx, req, convID)
		default:
			return methodNotAllowed()
		}

	case len(segments) == 5 && pathIs(segments[:3], "v3", "directline", "conversations") && segments[4] == "stream":
		return respondError(501, "not_implemented", "streaming not supported")

	default:
		return respondNotFound("unknown directline endpoint")
	}
}

func pathIs(segments []string, want ...string) bool {
	if len(segments) != len(want) {
		return false
	}
	for i := range want {
		if segments[i] != want[i] {
			return false
		}
	}
	return true
}

// handleTokens mints an unbound token for the context carried in the query.
func (d *Dispatcher) handleTokens(ctx context.Context, req provider.HTTPIn) provider.HTTPOut {
	dlCtx := parseContext(req.Query)

	body, errOut := decodeJSONBody(req)
	if errOut != nil {
		return *errOut
	}
	userID := extractUserID(body)
	if userID == "" {
		userID = "anonymous"
	}

	now := d.now()
	if errOut := d.enforceRateLimit(ctx, RateLimitKey(dlCtx, userID), now.Unix()); errOut != nil {
		return *errOut
	}

	signingKey, errOut := d.loadSigningKey(ctx)
	if errOut != nil {
		return *errOut
	}

	token, _, err := IssueToken(signingKey, dlCtx, userID, "", now)
	if err != nil {
		return respondError(500, "token_issue_failed", fmt.Sprintf("failed to mint token: %v", err))
	}
	return respondJSON(200, map[string]any{
		"token":      token,
		"expires_in": TTLSeconds,
	})
}

// handleConversations opens a conversation and rebinds the caller's token
// to it.
func (d *Dispatcher) handleConversations(ctx context.Context, req provider.HTTPIn) provider.HTTPOut {
	signingKey, claims, errOut := d.authenticate(ctx, req)
	if errOut != nil {
		return *errOut
	}
	if claims.Conv != "" {
		return respondForbidden("token already bound to a conversation")
	}

	conversationID := uuid.New().String()
	conversation := NewConversationState(claims.Context)
	if errOut := d.writeConversation(ctx, ConversationKey(claims.Context, conversationID), conversation, 0); errOut != nil {
		return *errOut
	}

	token, _, err := IssueToken(signingKey, claims.Context, claims.Sub, conversationID, d.now())
	if err != nil {
		return respondError(500, "token_issue_failed", fmt.Sprintf("failed to mint conversation token: %v", err))
	}

	d.Log.Info().Str("conversation", conversationID).Str("env", claims.Env).Str("tenant", claims.Tenant).Msg("conversation opened")
	return respondJSON(201, map[string]any{
		"conversationId": conversationID,
		"token":          token,
		"expires_in":     TTLSeconds,
		"streamUrl":      nil,
	})
}

// handlePostActivities validates and stores a client activity, emitting an
// envelope for the message pipeline when the activity carries text.
func (d *Dispatcher) handlePostActivities(ctx context.Context, req provider.HTTPIn, conversationID string) provider.HTTPOut {
	_, claims, errOut := d.authenticate(ctx, req)
	if errOut != nil {
		return *errOut
	}
	if claims.Conv != conversationID {
		return respondForbidden("token bound to different conversation")
	}

	key := ConversationKey(claims.Context, conversationID)
	conversation, version, errOut := d.loadConversation(ctx, key)
	if errOut != nil {
		return *errOut
	}
	if conversation.Ctx != claims.Context {
		return respondForbidden("token context mismatch")
	}

	body, errOut := decodeJSONBody(req)
	if errOut != nil {
		return *errOut
	}
	if errOut := validateAttachments(body); errOut != nil {
		return *errOut
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return respondError(500, "state_serialize", err.Error())
	}

	watermark := conversation.BumpWatermark()
	activity := StoredActivity{
		ID:          uuid.New().String(),
		Type:        stringField(body, "type", "message"),
		Text:        strings.TrimSpace(stringField(body, "text", "")),
		From:        fromID(body),
		TimestampMS: d.now().UnixMilli(),
		Watermark:   watermark,
		Raw:         raw,
	}
	conversation.Activities = append(conversation.Activities, activity)

	if errOut := d.writeConversation(ctx, key, conversation, version); errOut != nil {
		return *errOut
	}

	out := respondJSON(201, map[string]any{"id": activity.ID})
	if activity.Text != "" {
		out.Events = append(out.Events, buildEnvelope(claims.Context, conversationID, activity))
	}
	return out
}

// handleGetActivities returns activities above the client's watermark.
func (d *Dispatcher) handleGetActivities(ctx context.Context, req provider.HTTPIn, conversationID string) provider.HTTPOut {
	_, claims, errOut := d.authenticate(ctx, req)
	if errOut != nil {
		return *errOut
	}
	if claims.Conv != conversationID {
		return respondForbidden("token bound to different conversation")
	}

	conversation, _, errOut := d.loadConversation(ctx, ConversationKey(claims.Context, conversationID))
	if errOut != nil {
		return *errOut
	}
	if conversation.Ctx != claims.Context {
		return respondForbidden("token context mismatch")
	}

	after, hasAfter, errOut := parseWatermark(req.Query)
	if errOut != nil {
		return *errOut
	}

	activities := make([]map[string]any, 0, len(conversation.Activities))
	for _, activity := range conversation.Activities {
		if hasAfter && activity.Watermark <= after {
			continue
		}
		activities = append(activities, activityToJSON(activity))
	}

	return respondJSON(200, map[string]any{
		"activities": activities,
		"watermark":  strconv.FormatUint(conversation.NextWatermark, 10),
	})
}

// authenticate extracts the bearer token and verifies it, returning the
// signing key for handlers that mint follow-up tokens.
func (d *Dispatcher) authenticate(ctx context.Context, req provider.HTTPIn) ([]byte, Claims, *provider.HTTPOut) {
	token, ok := extractBearer(req.Headers)
	if !ok {
		out := respondUnauthorized("missing Authorization header")
		return nil, Claims{}, &out
	}
	signingKey, errOut := d.loadSigningKey(ctx)
	if errOut != nil {
		return nil, Claims{}, errOut
	}
	claims, err := VerifyToken(signingKey, token, d.now())
	if err != nil {
		out := respondUnauthorized(fmt.Sprintf("invalid token: %v", err))
		return nil, Claims{}, &out
	}
	return signingKey, claims, nil
}

func (d *Dispatcher) loadSigningKey(ctx context.Context) ([]byte, *provider.HTTPOut) {
	value, err := d.Secrets.Get(ctx, SigningKeySecret)
	if errors.Is(err, host.ErrNotFound) {
		out := respondError(500, "missing_secret", fmt.Sprintf("secret %s not found", SigningKeySecret))
		return nil, &out
	}
	if err != nil {
		out := respondError(500, "secret_error", err.Error())
		return nil, &out
	}
	if value == "" {
		out := respondError(500, "invalid_secret", "signing key is empty")
		return nil, &out
	}
	return []byte(value), nil
}

// enforceRateLimit applies the fixed window counter under CAS, retrying once
// when a concurrent mint wins the write.
func (d *Dispatcher) enforceRateLimit(ctx context.Context, key string, now int64) *provider.HTTPOut {
	for attempt := 0; attempt < 2; attempt++ {
		value, version, err := d.Store.Read(ctx, key)
		if err != nil {
			out := respondError(500, "state_read", err.Error())
			return &out
		}

		var state RateLimitState
		if value != nil {
			if err := json.Unmarshal(value, &state); err != nil {
				out := respondError(500, "state_parse", err.Error())
				return &out
			}
		} else {
			state = RateLimitState{WindowStart: now}
		}

		if err := state.Bump(now, RateLimitWindowSeconds, RateLimitRequests); err != nil {
			out := respondError(429, "rate_limited", "token rate limit exceeded")
			return &out
		}

		bytes, err := json.Marshal(state)
		if err != nil {
			out := respondError(500, "state_serialize", err.Error())
			return &out
		}
		_, err = d.Store.Write(ctx, key, bytes, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, host.ErrConflict) {
			out := respondError(500, "state_write", err.Error())
			return &out
		}
	}
	out := respondError(500, "state_write", "rate limit contention")
	return &out
}

func (d *Dispatcher) loadConversation(ctx context.Context, key string) (ConversationState, uint64, *provider.HTTPOut) {
	value, version, err := d.Store.Read(ctx, key)
	if err != nil {
		out := respondError(500, "state_read", err.Error())
		return ConversationState{}, 0, &out
	}
	if value == nil {
		out := respondNotFound("conversation not found")
		return ConversationState{}, 0, &out
	}
	var conversation ConversationState
	if err := json.Unmarshal(value, &conversation); err != nil {
		out := respondError(500, "state_parse", err.Error())
		return ConversationState{}, 0, &out
	}
	return conversation, version, nil
}

func (d *Dispatcher) writeConversation(ctx context.Context, key string, state ConversationState, version uint64) *provider.HTTPOut {
	bytes, err := json.Marshal(state)
	if err != nil {
		out := respondError(500, "state_serialize", err.Error())
		return &out
	}
	if _, err := d.Store.Write(ctx, key, bytes, version); err != nil {
		if errors.Is(err, host.ErrConflict) {
			out := respondError(409, "conflict", "conversation modified concurrently, retry")
			return &out
		}
		out := respondError(500, "state_write", err.Error())
		return &out
	}
	return nil
}

// buildEnvelope projects a stored client activity into a pipeline envelope.
func buildEnvelope(dlCtx Context, conversationID string, activity StoredActivity) domain.Envelope {
	from := activity.From
	if from == "" {
		from = "anonymous"
	}
	metadata := map[string]string{"universal": "true"}
	if dlCtx.Team != "" {
		metadata["team"] = dlCtx.Team
	}
	return domain.Envelope{
		ID:        "webchat-" + activity.ID,
		Tenant:    domain.TenantCtx{EnvID: dlCtx.Env, TenantID: dlCtx.Tenant},
		Channel:   "webchat",
		SessionID: conversationID,
		From:      &domain.Actor{ID: from, Kind: "user"},
		Text:      activity.Text,
		Metadata:  metadata,
	}
}

func activityToJSON(activity StoredActivity) map[string]any {
	out := map[string]any{}
	// Start from the raw client JSON so unknown fields survive.
	var raw map[string]any
	if err := json.Unmarshal(activity.Raw, &raw); err == nil {
		out = raw
	} else if len(activity.Raw) > 0 {
		out["data"] = json.RawMessage(activity.Raw)
	}
	out["id"] = activity.ID
	out["type"] = activity.Type
	// WebChat expects ISO 8601 timestamps, not raw millis.
	out["timestamp"] = time.UnixMilli(activity.TimestampMS).UTC().Format(time.RFC3339Nano)
	out["watermark"] = strconv.FormatUint(activity.Watermark, 10)
	if activity.Text != "" {
		out["text"] = activity.Text
	}
	if activity.From != "" {
		out["from"] = map[string]any{"id": activity.From}
	}
	return out
}

func validateAttachments(body map[string]any) *provider.HTTPOut {
	attachments, ok := body["attachments"].([]any)
	if !ok {
		return nil
	}
	for _, raw := range attachments {
		attachment, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		contentType, _ := attachment["contentType"].(string)
		if !allowedAttachmentTypes[contentType] {
			out := respondBadRequest(fmt.Sprintf("unsupported content type: %s", contentType))
			return &out
		}
		if content, ok := attachment["content"].(string); ok && len(content) > MaxAttachmentBytes {
			out := respondBadRequest("attachment too large")
			return &out
		}
	}
	return nil
}

func parseWatermark(query string) (uint64, bool, *provider.HTTPOut) {
	params, _ := url.ParseQuery(query)
	value := params.Get("watermark")
	if value == "" {
		return 0, false, nil
	}
	watermark, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		out := respondBadRequest("watermark must be a number")
		return 0, false, &out
	}
	return watermark, true, nil
}

// parseContext reads env/tenant/team from the query, defaulting env and
// tenant to "default".
func parseContext(query string) Context {
	params, _ := url.ParseQuery(query)
	ctx := Context{
		Env:    params.Get("env"),
		Tenant: params.Get("tenant"),
		Team:   strings.TrimSpace(params.Get("team")),
	}
	if ctx.Env == "" {
		ctx.Env = "default"
	}
	if ctx.Tenant == "" {
		ctx.Tenant = "default"
	}
	return ctx
}

func decodeJSONBody(req provider.HTTPIn) (map[string]any, *provider.HTTPOut) {
	if strings.TrimSpace(req.BodyB64) == "" {
		return map[string]any{}, nil
	}
	bytes, err := base64.StdEncoding.DecodeString(req.BodyB64)
	if err != nil {
		out := respondBadRequest(fmt.Sprintf("invalid body encoding: %v", err))
		return nil, &out
	}
	var body map[string]any
	if err := json.Unmarshal(bytes, &body); err != nil {
		out := respondBadRequest(fmt.Sprintf("invalid json payload: %v", err))
		return nil, &out
	}
	return body, nil
}

func extractUserID(body map[string]any) string {
	user, ok := body["user"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := user["id"].(string)
	return id
}

func stringField(body map[string]any, key, fallback string) string {
	if value, ok := body[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

func fromID(body map[string]any) string {
	from, ok := body["from"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := from["id"].(string)
	return id
}

func extractBearer(headers []provider.Header) (string, bool) {
	for _, header := range headers {
		if !strings.EqualFold(header.Name, "Authorization") {
			continue
		}
		scheme, token, ok := strings.Cut(strings.TrimSpace(header.Value), " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token), true
		}
		return "", false
	}
	return "", false
}

func jsonHeaders() []provider.Header {
	return []provider.Header{
		{Name: "Content-Type", Value: jsonContentType},
		{Name: "Access-Control-Allow-Origin", Value: "*"},
		{Name: "Access-Control-Allow-Headers", Value: "Authorization, Content-Type"},
		{Name: "Access-Control-Allow-Methods", Value: "GET, POST, OPTIONS"},
	}
}

func respondJSON(status int, payload any) provider.HTTPOut {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	return provider.HTTPOut{
		Status:  status,
		Headers: jsonHeaders(),
		BodyB64: base64.StdEncoding.EncodeToString(body),
		Events:  []domain.Envelope{},
	}
}

func respondError(status int, code, message string) provider.HTTPOut {
	return respondJSON(status, map[string]string{
		"error":   code,
		"message": message,
	})
}

func respondBadRequest(message string) provider.HTTPOut {
	return respondError(400, "bad_request", message)
}

func respondNotFound(message string) provider.HTTPOut {
	return respondError(404, "not_found", message)
}

func respondUnauthorized(message string) provider.HTTPOut {
	return respondError(401, "unauthorized", message)
}

func respondForbidden(message string) provider.HTTPOut {
	return respondError(403, "forbidden", message)
}

func methodNotAllowed() provider.HTTPOut {
	return respondError(405, "method_not_allowed", "method not allowed on this endpoint")
}

func respondCORSPreflight() provider.HTTPOut {
	return provider.HTTPOut{
		Status:  204,
		Headers: jsonHeaders(),
		Events:  []domain.Envelope{},
	}
}
