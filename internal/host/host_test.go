package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletmsg/inlet/internal/logging"
)

func TestMemoryStateStoreCAS(t *testing.T) {
	runStateStoreCAS(t, NewMemoryStateStore())
}

func TestSQLiteStateStoreCAS(t *testing.T) {
	store, err := OpenSQLite(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	runStateStoreCAS(t, store)
}

func runStateStoreCAS(t *testing.T, store StateStore) {
	ctx := context.Background()

	// Missing key reads as version 0.
	value, version, err := store.Read(ctx, "conv/1")
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Equal(t, uint64(0), version)

	// Create with expected version 0.
	v1, err := store.Write(ctx, "conv/1", []byte("a"), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1)

	// Stale create conflicts.
	_, err = store.Write(ctx, "conv/1", []byte("b"), 0)
	assert.ErrorIs(t, err, ErrConflict)

	// Update against the current version succeeds.
	v2, err := store.Write(ctx, "conv/1", []byte("b"), v1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2)

	// Stale update conflicts.
	_, err = store.Write(ctx, "conv/1", []byte("c"), v1)
	assert.ErrorIs(t, err, ErrConflict)

	value, version, err = store.Read(ctx, "conv/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), value)
	assert.Equal(t, v2, version)

	// Delete then recreate from version 0.
	require.NoError(t, store.Delete(ctx, "conv/1"))
	_, version, err = store.Read(ctx, "conv/1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), version)
	_, err = store.Write(ctx, "conv/1", []byte("d"), 0)
	assert.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "missing"))
}

func TestStaticSecrets(t *testing.T) {
	secrets := StaticSecrets{"signing_key": "s3cret"}
	got, err := secrets.Get(context.Background(), "signing_key")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	_, err = secrets.Get(context.Background(), "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("INLET_SECRET_DIRECTLINE_SIGNING_KEY", "from-env")
	secrets := NewEnvSecrets()

	got, err := secrets.Get(context.Background(), "directline.signing_key")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	_, err = secrets.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
