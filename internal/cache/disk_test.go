package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := Open(t.TempDir(), 16)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKey_IsNamespacedAndDeterministic(t *testing.T) {
	k1 := Key(NamespaceEmbedding, "some text")
	k2 := Key(NamespaceEmbedding, "some text")
	k3 := Key(NamespaceRetrieval, "some text")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, NamespaceEmbedding+":")

	// Part boundaries must matter: ("ab","c") != ("a","bc").
	assert.NotEqual(t, Key(NamespaceRetrieval, "ab", "c"), Key(NamespaceRetrieval, "a", "bc"))
}

func TestDiskStore_SetGet(t *testing.T) {
	store := newTestStore(t)

	store.Set("ans:k1", []byte("hello"), time.Minute)

	got, ok := store.Get("ans:k1")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)
}

func TestDiskStore_MissOnUnknownKey(t *testing.T) {
	store := newTestStore(t)

	_, ok := store.Get("ans:missing")
	assert.False(t, ok)

	stats := store.Stats()
	assert.Equal(t, int64(0), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
}

func TestDiskStore_ExpiredEntryBehavesAsMiss(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	store.now = func() time.Time { return now }
	store.Set("emb:k1", []byte("v"), time.Second)

	// Advance the clock past the expiry; both tiers must report a miss.
	store.now = func() time.Time { return now.Add(2 * time.Second) }
	_, ok := store.Get("emb:k1")
	assert.False(t, ok)
}

func TestDiskStore_OverwriteSameKey(t *testing.T) {
	store := newTestStore(t)

	store.Set("ret:k", []byte("old"), time.Minute)
	store.Set("ret:k", []byte("new"), time.Minute)

	got, ok := store.Get("ret:k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Size)
}

func TestDiskStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, 16)
	require.NoError(t, err)
	store.Set("emb:persist", []byte("vector"), time.Hour)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, 16)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get("emb:persist")
	require.True(t, ok)
	assert.Equal(t, []byte("vector"), got)
}

func TestDiskStore_ClearNamespace(t *testing.T) {
	store := newTestStore(t)

	store.Set("ret:a", []byte("1"), time.Minute)
	store.Set("ret:b", []byte("2"), time.Minute)
	store.Set("ans:c", []byte("3"), time.Minute)

	require.NoError(t, store.ClearNamespace(NamespaceRetrieval))

	_, ok := store.Get("ret:a")
	assert.False(t, ok)
	_, ok = store.Get("ret:b")
	assert.False(t, ok)
	_, ok = store.Get("ans:c")
	assert.True(t, ok)
}

func TestDiskStore_Clear(t *testing.T) {
	store := newTestStore(t)

	store.Set("ans:a", []byte("1"), time.Minute)
	store.Set("emb:b", []byte("2"), time.Minute)

	require.NoError(t, store.Clear())

	assert.Equal(t, int64(0), store.Stats().Size)
	_, ok := store.Get("ans:a")
	assert.False(t, ok)
}

func TestDiskStore_PurgeExpired(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	store.now = func() time.Time { return now }
	store.Set("emb:old", []byte("1"), time.Second)
	store.Set("emb:new", []byte("2"), time.Hour)

	store.now = func() time.Time { return now.Add(time.Minute) }
	purged, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, int64(1), store.Stats().Size)
}

func TestDiskStore_StatsCounters(t *testing.T) {
	store := newTestStore(t)

	store.Set("ans:k", []byte("v"), time.Minute)
	store.Get("ans:k")
	store.Get("ans:k")
	store.Get("ans:other")

	stats := store.Stats()
	assert.Equal(t, int64(2), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)
}
