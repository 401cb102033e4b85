package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLSessionStore {
	t.Helper()
	key, err := NewFileKeyProvider(t.TempDir()).EnsureKey()
	require.NoError(t, err)

	store, err := NewSQLSessionStore(t.TempDir(), key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionStore_StartAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.StartSession(ctx, "com.social.feed", 15)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.True(t, session.IsActive)
	assert.Equal(t, 15, session.PlannedDurationMinutes)

	got, err := store.GetActiveSession(ctx, "com.social.feed")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, session.ID, got.ID)
	assert.WithinDuration(t, session.StartTime, got.StartTime, time.Millisecond)

	none, err := store.GetActiveSession(ctx, "com.unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSessionStore_RejectsZeroDuration(t *testing.T) {
	store := newTestStore(t)
	_, err := store.StartSession(context.Background(), "com.social.feed", 0)
	assert.Error(t, err)
}

func TestSessionStore_OneActivePerPackage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.StartSession(ctx, "com.social.feed", 15)
	require.NoError(t, err)
	second, err := store.StartSession(ctx, "com.social.feed", 30)
	require.NoError(t, err)

	active, err := store.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.NotEqual(t, first.ID, active[0].ID)
}

func TestSessionStore_EndSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session, err := store.StartSession(ctx, "com.social.feed", 15)
	require.NoError(t, err)
	require.NoError(t, store.EndSession(ctx, session.ID))

	got, err := store.GetActiveSession(ctx, "com.social.feed")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Ending twice is a harmless no-op.
	assert.NoError(t, store.EndSession(ctx, session.ID))
}

func TestSessionStore_ActiveSessionsOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.StartSession(ctx, "com.social.feed", 15)
	require.NoError(t, err)
	_, err = store.StartSession(ctx, "com.video.clips", 30)
	require.NoError(t, err)

	active, err := store.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "com.social.feed", active[0].PackageID)
	assert.Equal(t, "com.video.clips", active[1].PackageID)
}

func TestKeyProvider_StableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	provider := NewFileKeyProvider(dir)

	first, err := provider.EnsureKey()
	require.NoError(t, err)
	assert.Len(t, first, keySize)

	second, err := provider.EnsureKey()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
