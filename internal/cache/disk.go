package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS cache_entries_expires_idx ON cache_entries (expires_at);`

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// DiskStore is a two-tier TTL cache: an in-memory LRU in front of a sqlite
// table so state survives process restarts. Every storage error is logged and
// treated as a miss.
type DiskStore struct {
	db     *sql.DB
	mem    *lru.Cache[string, memEntry]
	hits   atomic.Int64
	misses atomic.Int64
	now    func() time.Time
}

// Open creates or opens the disk cache under dir.
func Open(dir string, memEntries int) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}
	// sqlite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	if memEntries <= 0 {
		memEntries = 1024
	}
	mem, err := lru.New[string, memEntry](memEntries)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DiskStore{db: db, mem: mem, now: time.Now}, nil
}

// Get returns the cached value for key. A read past the entry's expiry
// behaves as a miss.
func (s *DiskStore) Get(key string) ([]byte, bool) {
	now := s.now()

	if entry, ok := s.mem.Get(key); ok {
		if now.Before(entry.expiresAt) {
			s.hits.Add(1)
			return entry.value, true
		}
		s.mem.Remove(key)
	}

	var value []byte
	var expiresAt int64
	err := s.db.QueryRow(
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("cache: read failed for %s (treating as miss): %v", key, err)
		}
		s.misses.Add(1)
		return nil, false
	}

	expiry := time.Unix(expiresAt, 0)
	if !now.Before(expiry) {
		// Lazy expiry; the janitor sweeps the rest.
		if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			log.Printf("cache: failed to drop expired entry %s: %v", key, err)
		}
		s.misses.Add(1)
		return nil, false
	}

	s.mem.Add(key, memEntry{value: value, expiresAt: expiry})
	s.hits.Add(1)
	return value, true
}

// Set stores value under key for ttl. Re-writing an existing key overwrites
// it. Storage errors are logged, never returned.
func (s *DiskStore) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := s.now()
	expiry := now.Add(ttl)

	s.mem.Add(key, memEntry{value: value, expiresAt: expiry})

	_, err := s.db.Exec(
		`INSERT INTO cache_entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, value, now.Unix(), expiry.Unix(),
	)
	if err != nil {
		log.Printf("cache: write failed for %s: %v", key, err)
	}
}

// ClearNamespace removes every entry whose key carries the given namespace
// prefix.
func (s *DiskStore) ClearNamespace(namespace string) error {
	prefix := namespace + ":"
	for _, key := range s.mem.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.mem.Remove(key)
		}
	}
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key LIKE ?`, prefix+"%")
	if err != nil {
		return fmt.Errorf("failed to clear cache namespace %s: %w", namespace, err)
	}
	return nil
}

// Clear removes every entry from both tiers.
func (s *DiskStore) Clear() error {
	s.mem.Purge()
	if _, err := s.db.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Stats returns entry count and hit/miss counters since process start.
func (s *DiskStore) Stats() Stats {
	var size int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&size); err != nil {
		size = int64(s.mem.Len())
	}
	return Stats{
		Size:      size,
		HitCount:  s.hits.Load(),
		MissCount: s.misses.Load(),
	}
}

// PurgeExpired removes entries past their expiry and reports how many rows
// were swept.
func (s *DiskStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the underlying database handle.
func (s *DiskStore) Close() error {
	return s.db.Close()
}
