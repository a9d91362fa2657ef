package notify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupeCacheMarkAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notified.json")
	cache, err := OpenDedupeCache(path)
	require.NoError(t, err)

	key := "femurn:abc123"
	require.False(t, cache.WasAlreadySent(key))

	require.NoError(t, cache.MarkAsSent(key))
	require.True(t, cache.WasAlreadySent(key))

	// Marking twice is a no-op, not a duplicate entry.
	require.NoError(t, cache.MarkAsSent(key))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed cacheFile
	require.NoError(t, json.Unmarshal(data, &parsed))
	total := 0
	for _, keys := range parsed.Buckets {
		total += len(keys)
	}
	require.Equal(t, 1, total)
}

func TestDedupeCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notified.json")

	cache, err := OpenDedupeCache(path)
	require.NoError(t, err)
	require.NoError(t, cache.MarkAsSent("pncp:key-1"))

	// A fresh open simulates a process restart; the file is the only state.
	reopened, err := OpenDedupeCache(path)
	require.NoError(t, err)
	require.True(t, reopened.WasAlreadySent("pncp:key-1"))
	require.False(t, reopened.WasAlreadySent("pncp:key-2"))
}

func TestDedupeCacheCleanup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notified.json")
	seed := cacheFile{Buckets: map[string][]string{
		"2020-01-01": {"femurn:ancient"},
	}}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cache, err := OpenDedupeCache(path)
	require.NoError(t, err)
	require.True(t, cache.WasAlreadySent("femurn:ancient"))
	require.NoError(t, cache.MarkAsSent("femurn:recent"))

	removed, err := cache.CleanupOldEntries(30)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, cache.WasAlreadySent("femurn:ancient"))
	require.True(t, cache.WasAlreadySent("femurn:recent"))
}

func TestDedupeCacheRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notified.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenDedupeCache(path)
	require.Error(t, err)
}
