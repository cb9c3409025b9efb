package directline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inletmsg/inlet/internal/host"
)

// StoredActivity is one conversation event. Raw preserves the client's
// original JSON so unknown fields survive the round trip; the typed fields
// are overlaid on output.
type StoredActivity struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	From        string          `json:"from,omitempty"`
	TimestampMS int64           `json:"timestamp_ms"`
	Watermark   uint64          `json:"watermark"`
	Raw         json.RawMessage `json:"raw"`
}

// ConversationState is the persisted record for one conversation.
type ConversationState struct {
	Ctx           Context          `json:"ctx"`
	NextWatermark uint64           `json:"next_watermark"`
	Activities    []StoredActivity `json:"activities"`
}

// NewConversationState creates an empty conversation bound to a context.
func NewConversationState(ctx Context) ConversationState {
	return ConversationState{Ctx: ctx, Activities: []StoredActivity{}}
}

// BumpWatermark returns the current watermark and advances the counter.
func (c *ConversationState) BumpWatermark() uint64 {
	w := c.NextWatermark
	c.NextWatermark++
	return w
}

// ConversationKey is the state-store key for a conversation.
func ConversationKey(ctx Context, conversationID string) string {
	return fmt.Sprintf("webchat:directline:conv:%s:%s:%s:%s",
		ctx.Env, ctx.Tenant, sanitizeTeam(ctx.Team), conversationID)
}

// RateLimitKey is the state-store key for a token rate-limit window.
func RateLimitKey(ctx Context, userID string) string {
	return fmt.Sprintf("webchat:rate:tokens:%s:%s:%s:%s",
		ctx.Env, ctx.Tenant, sanitizeTeam(ctx.Team), userID)
}

func sanitizeTeam(team string) string {
	if team == "" {
		return "_"
	}
	return team
}

// RateLimitState is the persisted fixed-window counter for token minting.
type RateLimitState struct {
	WindowStart int64  `json:"window_start"`
	Count       uint32 `json:"count"`
}

// ErrRateLimited reports an exhausted window.
var ErrRateLimited = errors.New("directline: rate limit exceeded")

// Bump counts one request, resetting the window when it has elapsed.
func (s *RateLimitState) Bump(now, windowSeconds int64, limit uint32) error {
	if now-s.WindowStart >= windowSeconds {
		s.WindowStart = now
		s.Count = 0
	}
	if s.Count >= limit {
		return ErrRateLimited
	}
	s.Count++
	return nil
}

// AppendBotActivity appends a bot-originated message to a conversation so
// polling clients pick it up. Best-effort: a missing conversation is a
// silent no-op, and a single retry absorbs one concurrent writer.
func AppendBotActivity(ctx context.Context, store host.StateStore, dlCtx Context, conversationID, text string, now time.Time) error {
	key := ConversationKey(dlCtx, conversationID)

	for attempt := 0; attempt < 2; attempt++ {
		value, version, err := store.Read(ctx, key)
		if err != nil {
			return err
		}
		if value == nil {
			return nil
		}

		var conversation ConversationState
		if err := json.Unmarshal(value, &conversation); err != nil {
			return fmt.Errorf("decoding conversation %s: %w", conversationID, err)
		}

		watermark := conversation.BumpWatermark()
		raw, err := json.Marshal(map[string]any{
			"type": "message",
			"text": text,
			"from": map[string]string{"id": "bot", "name": "Bot"},
		})
		if err != nil {
			return err
		}
		conversation.Activities = append(conversation.Activities, StoredActivity{
			ID:          fmt.Sprintf("bot-%d", watermark),
			Type:        "message",
			Text:        text,
			From:        "bot",
			TimestampMS: now.UnixMilli(),
			Watermark:   watermark,
			Raw:         raw,
		})

		updated, err := json.Marshal(conversation)
		if err != nil {
			return err
		}
		_, err = store.Write(ctx, key, updated, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, host.ErrConflict) {
			return err
		}
	}
	return host.ErrConflict
}
