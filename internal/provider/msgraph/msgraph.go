// Package msgraph is the Microsoft Teams adapter. Outbound messages go
// through the Graph chat message API; change-notification subscriptions are
// kept alive by the graph reconciler.
package msgraph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/inletmsg/inlet/internal/domain"
	"github.com/inletmsg/inlet/internal/graph"
	"github.com/inletmsg/inlet/internal/host"
	"github.com/inletmsg/inlet/internal/logging"
	"github.com/inletmsg/inlet/internal/provider"
	"github.com/inletmsg/inlet/internal/render"
)

// ProviderType identifies this adapter.
const ProviderType = "msgraph"

// Secret store keys consulted when config omits credentials.
const (
	ClientSecretKey = "MS_GRAPH_CLIENT_SECRET"
	RefreshTokenKey = "MS_GRAPH_REFRESH_TOKEN"
)

// Adapter implements the provider contract for Microsoft Teams via Graph.
type Adapter struct {
	cfg     Config
	http    host.HTTPClient
	secrets host.SecretStore
	log     *logging.Logger

	tokens oauth2.TokenSource
}

// New creates a Teams adapter. The token source is built lazily on first
// use so config-only operations need no credentials.
func New(cfg Config, httpClient host.HTTPClient, secrets host.SecretStore, log *logging.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		http:    httpClient,
		secrets: secrets,
		log:     log.Sub("msgraph"),
	}
}

// Type returns the provider type.
func (a *Adapter) Type() string { return ProviderType }

// Capabilities reports full fidelity: Teams renders Adaptive Cards natively.
func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		SupportsAdaptiveCards: true,
		SupportsMarkdown:      true,
		SupportsHTML:          true,
		SupportsImages:        true,
		SupportsButtons:       true,
	}
}

// Invoke dispatches an adapter operation.
func (a *Adapter) Invoke(ctx context.Context, op string, input json.RawMessage) (json.RawMessage, error) {
	switch op {
	case provider.OpRenderPlan:
		return a.renderPlan(input)
	case provider.OpEncode:
		return a.encode(input)
	case provider.OpSendPayload:
		return a.sendPayload(ctx, input)
	case provider.OpIngestHTTP:
		return a.ingestHTTP(input)
	case provider.OpValidateConfig:
		return a.validateConfig(input)
	case provider.OpSubscriptionEnsure:
		return a.subscriptionEnsure(ctx, input)
	case provider.OpSubscriptionRenew:
		return a.subscriptionRenew(ctx, input)
	case provider.OpSubscriptionDelete:
		return a.subscriptionDelete(ctx, input)
	default:
		return nil, fmt.Errorf("%w: %s %s", provider.ErrUnsupportedOp, ProviderType, op)
	}
}

func (a *Adapter) renderPlan(input json.RawMessage) (json.RawMessage, error) {
	var in provider.RenderPlanIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.RenderPlanError(fmt.Sprintf("invalid render input: %v", err))), nil
	}
	plan := provider.PlanForEnvelope(in.Envelope, a.Capabilities(), "teams message")
	return provider.MarshalOut(provider.RenderPlanOut{OK: true, Plan: &plan}), nil
}

func (a *Adapter) encode(input json.RawMessage) (json.RawMessage, error) {
	var in provider.EncodeIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.EncodeOut{OK: false, Error: fmt.Sprintf("invalid encode input: %v", err)}), nil
	}
	res := render.EncodeFromPlanJSON(in.PlanJSON, in.Envelope, ProviderType)
	return provider.MarshalOut(provider.EncodeOut{
		OK:       res.OK,
		Payload:  res.Payload,
		Warnings: res.Warnings,
		Error:    res.Error,
	}), nil
}

// sendPayload posts the envelope to the Graph message endpoint for its
// destination. Adaptive Cards are sent as native card attachments.
func (a *Adapter) sendPayload(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in provider.SendPayloadIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.SendError(fmt.Sprintf("invalid send input: %v", err), false)), nil
	}
	if in.ProviderType != "" && in.ProviderType != ProviderType {
		return provider.MarshalOut(provider.SendError("provider type mismatch", false)), nil
	}
	if !a.cfg.Enabled {
		return provider.MarshalOut(provider.SendError("provider disabled by config", false)), nil
	}

	body, err := in.Payload.Body()
	if err != nil {
		return provider.MarshalOut(provider.SendError(fmt.Sprintf("payload decode failed: %v", err), false)), nil
	}
	var envelope domain.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return provider.MarshalOut(provider.SendError(fmt.Sprintf("invalid envelope: %v", err), false)), nil
	}
	if len(envelope.Attachments) > 0 {
		return provider.MarshalOut(provider.SendError("attachments not supported", false)), nil
	}
	text := strings.TrimSpace(envelope.Text)
	if text == "" && envelope.AdaptiveCardJSON() == "" {
		return provider.MarshalOut(provider.SendError("text required", false)), nil
	}

	url, err := a.messageURL(envelope)
	if err != nil {
		return provider.MarshalOut(provider.SendError(err.Error(), false)), nil
	}

	status, respBody, err := a.postMessage(ctx, url, buildMessageBody(text, envelope.AdaptiveCardJSON()))
	if err != nil {
		return provider.MarshalOut(provider.SendError(err.Error(), true)), nil
	}
	if status < 200 || status >= 300 {
		retryable := status >= 500 || status == http.StatusTooManyRequests
		return provider.MarshalOut(provider.SendError(
			fmt.Sprintf("graph returned status %d: %s", status, graphErrorMessage(respBody)), retryable)), nil
	}

	a.log.Debug().Str("url", url).Msg("message sent")
	return provider.MarshalOut(provider.SendSuccess()), nil
}

// messageURL resolves the Graph endpoint for the envelope's destination,
// falling back to the configured team and channel.
func (a *Adapter) messageURL(envelope domain.Envelope) (string, error) {
	base := a.cfg.GraphBaseURL
	if base == "" {
		base = graph.DefaultGraphBase
	}

	dest := domain.Destination{Kind: "channel"}
	if len(envelope.To) > 0 {
		dest = envelope.To[0]
	} else if a.cfg.TeamID != "" && a.cfg.ChannelID != "" {
		dest = domain.Destination{ID: a.cfg.TeamID + ":" + a.cfg.ChannelID, Kind: "channel"}
	}
	if dest.Kind == "" {
		dest.Kind = "channel"
	}

	switch dest.Kind {
	case "channel":
		teamID, channelID, ok := strings.Cut(strings.TrimSpace(dest.ID), ":")
		if !ok || teamID == "" || channelID == "" {
			return "", fmt.Errorf("channel destination must be team_id:channel_id")
		}
		if replyTo := strings.TrimSpace(envelope.Metadata["reply_to_id"]); replyTo != "" {
			return fmt.Sprintf("%s/teams/%s/channels/%s/messages/%s/replies", base, teamID, channelID, replyTo), nil
		}
		return fmt.Sprintf("%s/teams/%s/channels/%s/messages", base, teamID, channelID), nil
	case "chat":
		if strings.TrimSpace(dest.ID) == "" {
			return "", fmt.Errorf("destination id required")
		}
		return fmt.Sprintf("%s/chats/%s/messages", base, dest.ID), nil
	default:
		return "", fmt.Errorf("unsupported destination kind: %s", dest.Kind)
	}
}

// buildMessageBody produces the chatMessage payload: a native card
// attachment when an Adaptive Card is present, plain HTML text otherwise.
func buildMessageBody(text, acJSON string) map[string]any {
	if acJSON != "" {
		return map[string]any{
			"body": map[string]any{
				"content":     `<attachment id="ac-card-1"></attachment>`,
				"contentType": "html",
			},
			"attachments": []map[string]any{{
				"id":          "ac-card-1",
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content":     acJSON,
			}},
		}
	}
	return map[string]any{
		"body": map[string]any{
			"content":     text,
			"contentType": "html",
		},
	}
}

func (a *Adapter) postMessage(ctx context.Context, url string, payload map[string]any) (int, []byte, error) {
	tokens, err := a.tokenSource(ctx)
	if err != nil {
		return 0, nil, err
	}
	token, err := tokens.Token()
	if err != nil {
		return 0, nil, fmt.Errorf("acquire token: %w", err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("transport error: %w", err)
	}
	return resp.StatusCode, body, nil
}

func graphErrorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}

// ingestHTTP normalizes a Graph change notification into an envelope.
func (a *Adapter) ingestHTTP(input json.RawMessage) (json.RawMessage, error) {
	var in provider.HTTPIn
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid http input: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(in.BodyB64)
	if err != nil {
		return provider.MarshalOut(httpError(400, fmt.Sprintf("invalid body encoding: %v", err))), nil
	}

	var notification graphNotification
	_ = json.Unmarshal(raw, &notification)

	envelope := buildTeamEnvelope(notification)
	normalized, err := json.Marshal(map[string]any{
		"ok":         true,
		"team_id":    notification.ResourceData.ChannelIdentity.TeamID,
		"channel_id": notification.ResourceData.ChannelIdentity.ChannelID,
	})
	if err != nil {
		return nil, err
	}
	return provider.MarshalOut(provider.HTTPOut{
		Status:  200,
		Headers: []provider.Header{{Name: "Content-Type", Value: "application/json"}},
		BodyB64: base64.StdEncoding.EncodeToString(normalized),
		Events:  []domain.Envelope{envelope},
	}), nil
}

type graphNotification struct {
	ResourceData struct {
		Body struct {
			Content string `json:"content"`
		} `json:"body"`
		From struct {
			User string `json:"user"`
		} `json:"from"`
		ChannelIdentity struct {
			TeamID    string `json:"teamId"`
			ChannelID string `json:"channelId"`
		} `json:"channelIdentity"`
	} `json:"resourceData"`
}

func buildTeamEnvelope(n graphNotification) domain.Envelope {
	teamID := n.ResourceData.ChannelIdentity.TeamID
	channelID := n.ResourceData.ChannelIdentity.ChannelID

	channelName := channelID
	if channelName == "" {
		channelName = teamID
	}
	if channelName == "" {
		channelName = "teams"
	}

	metadata := map[string]string{"universal": "true"}
	if teamID != "" {
		metadata["team_id"] = teamID
	}
	if channelID != "" {
		metadata["channel_id"] = channelID
	}

	var from *domain.Actor
	if user := n.ResourceData.From.User; user != "" {
		metadata["from"] = user
		from = &domain.Actor{ID: user, Kind: "user"}
	}

	var to []domain.Destination
	if teamID != "" && channelID != "" {
		to = append(to, domain.Destination{ID: teamID + ":" + channelID, Kind: "channel"})
	}

	return domain.Envelope{
		ID:        "teams-" + channelName,
		Tenant:    domain.TenantCtx{EnvID: "default", TenantID: "default"},
		Channel:   channelName,
		SessionID: channelName,
		From:      from,
		To:        to,
		Text:      n.ResourceData.Body.Content,
		Metadata:  metadata,
	}
}

func httpError(status int, message string) provider.HTTPOut {
	body, _ := json.Marshal(map[string]string{"error": "bad_request", "message": message})
	return provider.HTTPOut{
		Status:  status,
		Headers: []provider.Header{{Name: "Content-Type", Value: "application/json"}},
		BodyB64: base64.StdEncoding.EncodeToString(body),
		Events:  []domain.Envelope{},
	}
}

func (a *Adapter) validateConfig(input json.RawMessage) (json.RawMessage, error) {
	var in provider.ValidateConfigIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.ValidateConfigOut{OK: false, Issues: []string{err.Error()}}), nil
	}
	if _, err := ParseConfig(in.Config); err != nil {
		return provider.MarshalOut(provider.ValidateConfigOut{OK: false, Issues: []string{err.Error()}}), nil
	}
	return provider.MarshalOut(provider.ValidateConfigOut{OK: true, Issues: []string{}}), nil
}

func (a *Adapter) subscriptionEnsure(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in provider.SubscriptionIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: fmt.Sprintf("invalid subscription input: %v", err)}), nil
	}
	r, err := a.reconciler(ctx)
	if err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: err.Error()}), nil
	}

	sub, err := r.Ensure(ctx, graph.SubscriptionRequest{
		Resource:        in.Resource,
		ChangeTypes:     in.ChangeTypes,
		NotificationURL: in.NotificationURL,
		ClientState:     in.ClientState,
		Expiration:      expirationFromMinutes(in.ExpirationMinutes),
	})
	if err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: err.Error()}), nil
	}
	return provider.MarshalOut(provider.SubscriptionOut{
		OK:             true,
		SubscriptionID: sub.ID,
		Expiration:     sub.ExpirationDateTime,
	}), nil
}

func (a *Adapter) subscriptionRenew(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in provider.SubscriptionIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: fmt.Sprintf("invalid subscription input: %v", err)}), nil
	}
	if in.SubscriptionID == "" {
		return provider.MarshalOut(provider.SubscriptionOut{Error: "subscription_id required"}), nil
	}
	r, err := a.reconciler(ctx)
	if err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: err.Error()}), nil
	}

	sub, err := r.Renew(ctx, in.SubscriptionID, expirationFromMinutes(in.ExpirationMinutes))
	if err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: err.Error()}), nil
	}
	return provider.MarshalOut(provider.SubscriptionOut{
		OK:             true,
		SubscriptionID: sub.ID,
		Expiration:     sub.ExpirationDateTime,
	}), nil
}

func (a *Adapter) subscriptionDelete(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in provider.SubscriptionIn
	if err := json.Unmarshal(input, &in); err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: fmt.Sprintf("invalid subscription input: %v", err)}), nil
	}
	if in.SubscriptionID == "" {
		return provider.MarshalOut(provider.SubscriptionOut{Error: "subscription_id required"}), nil
	}
	r, err := a.reconciler(ctx)
	if err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: err.Error()}), nil
	}

	if err := r.Delete(ctx, in.SubscriptionID); err != nil {
		return provider.MarshalOut(provider.SubscriptionOut{Error: err.Error()}), nil
	}
	return provider.MarshalOut(provider.SubscriptionOut{OK: true, SubscriptionID: in.SubscriptionID}), nil
}

func expirationFromMinutes(minutes int) time.Time {
	if minutes <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(minutes) * time.Minute)
}

func (a *Adapter) reconciler(ctx context.Context) (*graph.Reconciler, error) {
	tokens, err := a.tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return graph.NewReconciler(a.http, tokens, a.cfg.GraphBaseURL, a.log), nil
}

// tokenSource resolves credentials on first use, preferring inline config
// and falling back to the secret store.
func (a *Adapter) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if a.tokens != nil {
		return a.tokens, nil
	}

	creds := graph.Credentials{
		TenantID:     a.cfg.TenantID,
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		RefreshToken: a.cfg.RefreshToken,
		AuthBaseURL:  a.cfg.AuthBaseURL,
		TokenScope:   a.cfg.TokenScope,
	}
	if creds.ClientSecret == "" {
		if secret, err := a.secrets.Get(ctx, ClientSecretKey); err == nil {
			creds.ClientSecret = secret
		} else if !errors.Is(err, host.ErrNotFound) {
			return nil, fmt.Errorf("loading client secret: %w", err)
		}
	}
	if creds.RefreshToken == "" {
		if secret, err := a.secrets.Get(ctx, RefreshTokenKey); err == nil {
			creds.RefreshToken = secret
		} else if !errors.Is(err, host.ErrNotFound) {
			return nil, fmt.Errorf("loading refresh token: %w", err)
		}
	}
	if creds.ClientSecret == "" && creds.RefreshToken == "" {
		return nil, fmt.Errorf("missing client_secret (config or secret store)")
	}

	httpClient, _ := a.http.(*http.Client)
	a.tokens = graph.TokenSource(context.Background(), httpClient, creds)
	return a.tokens, nil
}
