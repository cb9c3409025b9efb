package directline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletmsg/inlet/internal/host"
)

func TestConversationKey(t *testing.T) {
	ctx := Context{Env: "prod", Tenant: "acme", Team: "support"}
	assert.Equal(t, "webchat:directline:conv:prod:acme:support:c1", ConversationKey(ctx, "c1"))

	ctx.Team = ""
	assert.Equal(t, "webchat:directline:conv:prod:acme:_:c1", ConversationKey(ctx, "c1"))
}

func TestRateLimitStateBump(t *testing.T) {
	state := RateLimitState{WindowStart: 100}

	for i := 0; i < 5; i++ {
		require.NoError(t, state.Bump(100, 60, 5))
	}
	assert.ErrorIs(t, state.Bump(100, 60, 5), ErrRateLimited)

	// Window rolls over and the counter resets.
	require.NoError(t, state.Bump(160, 60, 5))
	assert.Equal(t, uint32(1), state.Count)
	assert.Equal(t, int64(160), state.WindowStart)
}

func TestBumpWatermarkMonotonic(t *testing.T) {
	conv := NewConversationState(Context{Env: "e", Tenant: "t"})
	assert.Equal(t, uint64(0), conv.BumpWatermark())
	assert.Equal(t, uint64(1), conv.BumpWatermark())
	assert.Equal(t, uint64(2), conv.NextWatermark)
}

func TestAppendBotActivity(t *testing.T) {
	ctx := context.Background()
	store := host.NewMemoryStateStore()
	dlCtx := Context{Env: "default", Tenant: "default"}
	key := ConversationKey(dlCtx, "conv-1")

	conv := NewConversationState(dlCtx)
	conv.BumpWatermark()
	bytes, err := json.Marshal(conv)
	require.NoError(t, err)
	_, err = store.Write(ctx, key, bytes, 0)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, AppendBotActivity(ctx, store, dlCtx, "conv-1", "hello back", now))

	value, _, err := store.Read(ctx, key)
	require.NoError(t, err)
	var updated ConversationState
	require.NoError(t, json.Unmarshal(value, &updated))
	require.Len(t, updated.Activities, 1)
	activity := updated.Activities[0]
	assert.Equal(t, "bot-1", activity.ID)
	assert.Equal(t, "bot", activity.From)
	assert.Equal(t, "hello back", activity.Text)
	assert.Equal(t, uint64(1), activity.Watermark)
	assert.Equal(t, uint64(2), updated.NextWatermark)
}

func TestAppendBotActivityMissingConversation(t *testing.T) {
	store := host.NewMemoryStateStore()
	err := AppendBotActivity(context.Background(), store, Context{Env: "e", Tenant: "t"}, "nope", "text", time.Now())
	assert.NoError(t, err)
}
