package storage

import (
	"context"
	"time"
)

// TTL classes. Confirmed data lives long; negative or empty results expire
// quickly so transient failures are retried sooner.
const (
	TTLNameImageHit  = 24 * time.Hour
	TTLNameImageMiss = 5 * time.Minute
	TTLPreview       = 10 * time.Minute
)

// Cache is a key-value store with per-entry expiry. Get returns false on a
// missing or expired key; expired entries are dropped on read. Set is
// best-effort: implementations log and swallow write failures, so callers
// treat a failed write as a cache miss on the next read.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Close() error
}
