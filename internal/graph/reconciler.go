// Package graph manages Microsoft Graph change-notification subscriptions:
// creating them, adopting colliding ones, renewing, and deleting.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/inletmsg/inlet/internal/host"
	"github.com/inletmsg/inlet/internal/logging"
)

// DefaultGraphBase is the Graph v1.0 endpoint.
const DefaultGraphBase = "https://graph.microsoft.com/v1.0"

// MaxExpirationMinutes caps subscription lifetime. Graph allows 60 minutes
// for channel messages; 55 leaves renewal headroom.
const MaxExpirationMinutes = 55

// errorBodyLimit bounds how much of an error response is kept in messages.
const errorBodyLimit = 500

// TransportError wraps a network-level failure reaching Graph.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("graph transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx Graph response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph request failed with status %d: %s", e.Code, e.Body)
}

// ParseError is a Graph response body that could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("invalid graph response: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Subscription is a Graph change-notification subscription.
type Subscription struct {
	ID                 string `json:"id"`
	Resource           string `json:"resource"`
	ChangeType         string `json:"changeType"`
	NotificationURL    string `json:"notificationUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
	ClientState        string `json:"clientState,omitempty"`
}

// SubscriptionRequest describes the subscription a binding needs.
type SubscriptionRequest struct {
	Resource        string
	ChangeTypes     []string
	NotificationURL string
	ClientState     string
	// Expiration is the desired expiry; zero means the maximum allowed.
	Expiration time.Time
}

// Reconciler drives subscriptions toward the requested state. Now is
// injectable for tests and defaults to time.Now.
type Reconciler struct {
	HTTP    host.HTTPClient
	Tokens  oauth2.TokenSource
	BaseURL string
	Log     *logging.Logger
	Now     func() time.Time
}

// NewReconciler creates a reconciler against the given Graph base URL
// (empty means the public v1.0 endpoint).
func NewReconciler(client host.HTTPClient, tokens oauth2.TokenSource, baseURL string, log *logging.Logger) *Reconciler {
	if baseURL == "" {
		baseURL = DefaultGraphBase
	}
	return &Reconciler{
		HTTP:    client,
		Tokens:  tokens,
		BaseURL: baseURL,
		Log:     log.Sub("graph"),
		Now:     time.Now,
	}
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// clampExpiration bounds the requested expiry to [now, now+MaxExpirationMinutes].
func (r *Reconciler) clampExpiration(want time.Time) time.Time {
	now := r.now()
	max := now.Add(MaxExpirationMinutes * time.Minute)
	if want.IsZero() || want.After(max) {
		return max
	}
	if want.Before(now) {
		return now
	}
	return want
}

// Ensure creates the subscription, or adopts an existing one on a 409
// conflict when its resource, change types, and notification URL match.
func (r *Reconciler) Ensure(ctx context.Context, req SubscriptionRequest) (Subscription, error) {
	if len(req.ChangeTypes) == 0 {
		return Subscription{}, fmt.Errorf("change_types required")
	}
	changeType := strings.Join(req.ChangeTypes, ",")
	expiration := r.clampExpiration(req.Expiration).UTC().Format(time.RFC3339)

	payload := map[string]string{
		"changeType":         changeType,
		"notificationUrl":    req.NotificationURL,
		"resource":           req.Resource,
		"expirationDateTime": expiration,
	}
	if req.ClientState != "" {
		payload["clientState"] = req.ClientState
	}

	var created Subscription
	err := r.do(ctx, http.MethodPost, "/subscriptions", payload, &created)
	if err == nil {
		r.Log.Info().Str("subscription", created.ID).Str("resource", req.Resource).Msg("subscription created")
		return created, nil
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusConflict {
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	// Another owner already holds this (resource, changeType, url) triple.
	// Adopt it and push the expiration forward.
	existing, err := r.List(ctx)
	if err != nil {
		return Subscription{}, fmt.Errorf("list subscriptions: %w", err)
	}
	for _, sub := range existing {
		if sub.Resource == req.Resource && sub.ChangeType == changeType && sub.NotificationURL == req.NotificationURL {
			renewed, err := r.renew(ctx, sub.ID, expiration)
			if err != nil {
				return Subscription{}, fmt.Errorf("renew adopted subscription: %w", err)
			}
			if renewed.ID == "" {
				renewed = sub
				renewed.ExpirationDateTime = expiration
			}
			r.Log.Info().Str("subscription", renewed.ID).Str("resource", req.Resource).Msg("subscription adopted")
			return renewed, nil
		}
	}
	return Subscription{}, fmt.Errorf("subscription conflict: existing subscription not found")
}

// Renew extends a subscription to the requested expiry, clamped.
func (r *Reconciler) Renew(ctx context.Context, subscriptionID string, want time.Time) (Subscription, error) {
	expiration := r.clampExpiration(want).UTC().Format(time.RFC3339)
	return r.renew(ctx, subscriptionID, expiration)
}

func (r *Reconciler) renew(ctx context.Context, subscriptionID, expiration string) (Subscription, error) {
	var renewed Subscription
	err := r.do(ctx, http.MethodPatch, "/subscriptions/"+subscriptionID,
		map[string]string{"expirationDateTime": expiration}, &renewed)
	if err != nil {
		return Subscription{}, err
	}
	if renewed.ID == "" {
		renewed.ID = subscriptionID
		renewed.ExpirationDateTime = expiration
	}
	return renewed, nil
}

// Delete removes a subscription.
func (r *Reconciler) Delete(ctx context.Context, subscriptionID string) error {
	return r.do(ctx, http.MethodDelete, "/subscriptions/"+subscriptionID, nil, nil)
}

// List returns all subscriptions owned by the application.
func (r *Reconciler) List(ctx context.Context) ([]Subscription, error) {
	var page struct {
		Value []Subscription `json:"value"`
	}
	if err := r.do(ctx, http.MethodGet, "/subscriptions", nil, &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

func (r *Reconciler) do(ctx context.Context, method, path string, payload, out any) error {
	token, err := r.Tokens.Token()
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: truncateBody(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

func truncateBody(raw []byte) string {
	if len(raw) > errorBodyLimit {
		raw = raw[:errorBodyLimit]
	}
	return string(raw)
}
