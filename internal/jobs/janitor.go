package jobs

import (
	"context"
	"log"
)

// ExpiredPurger removes expired entries from a cache store.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// CacheJanitor periodically sweeps expired cache entries. Entries already
// expire lazily on read; the sweep only reclaims disk for keys that are never
// read again.
type CacheJanitor struct {
	purger ExpiredPurger
}

// NewCacheJanitor creates a new CacheJanitor instance
func NewCacheJanitor(purger ExpiredPurger) *CacheJanitor {
	return &CacheJanitor{purger: purger}
}

// ProcessJobs purges expired cache entries once.
func (j *CacheJanitor) ProcessJobs(ctx context.Context) error {
	purged, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		log.Printf("cache janitor: purged %d expired entries", purged)
	}
	return nil
}
