package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DedupeCache is the durable record of which opportunity identity keys
// already triggered an alert. It lives in its own file, apart from the
// main opportunity store, so a destructive reset of that store cannot
// cause re-alerting.
type DedupeCache struct {
	path string
	mu   sync.Mutex
	// buckets maps a YYYY-MM-DD send date to the identity keys alerted
	// that day. Lookups scan every retained bucket, not just today's.
	buckets map[string][]string
}

type cacheFile struct {
	Buckets map[string][]string `json:"buckets"`
}

// OpenDedupeCache loads the cache file, creating an empty cache when the
// file does not exist yet.
func OpenDedupeCache(path string) (*DedupeCache, error) {
	c := &DedupeCache{path: path, buckets: make(map[string][]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading notification cache: %w", err)
	}

	var parsed cacheFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("notification cache corrupt: %w", err)
	}
	if parsed.Buckets != nil {
		c.buckets = parsed.Buckets
	}
	return c, nil
}

// WasAlreadySent reports whether the key was alerted on any retained day.
func (c *DedupeCache) WasAlreadySent(identityKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, keys := range c.buckets {
		for _, k := range keys {
			if k == identityKey {
				return true
			}
		}
	}
	return false
}

// MarkAsSent records the key under today's bucket and rewrites the file.
// Mutation frequency is one write per alert, so the whole-file rewrite is
// cheap enough.
func (c *DedupeCache) MarkAsSent(identityKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	for _, k := range c.buckets[day] {
		if k == identityKey {
			return nil
		}
	}
	c.buckets[day] = append(c.buckets[day], identityKey)
	return c.persist()
}

// CleanupOldEntries prunes buckets older than the retention window and
// returns how many buckets were dropped.
func (c *DedupeCache) CleanupOldEntries(daysToKeep int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep).Format("2006-01-02")
	var stale []string
	for day := range c.buckets {
		if day < cutoff {
			stale = append(stale, day)
		}
	}
	sort.Strings(stale)
	for _, day := range stale {
		delete(c.buckets, day)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return len(stale), c.persist()
}

// persist rewrites the whole file atomically. Callers hold the mutex.
func (c *DedupeCache) persist() error {
	data, err := json.MarshalIndent(cacheFile{Buckets: c.buckets}, "", "  ")
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing notification cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}
