package domain

import (
	"context"
	"io"
	"time"
)

// PriceCache holds the latest instantaneous LMSR prices per option for
// read-side consumers. Written after a trade's transaction commits, never
// inside it.
type PriceCache interface {
	SetPrice(ctx context.Context, optionID string, yes, no float64, ts time.Time) error
	GetPrice(ctx context.Context, optionID string) (yes, no float64, ts time.Time, err error)
}

// SignalBus fans out post-commit engine events: ephemeral pub/sub plus a
// durable trimmed stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter uploads a single object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// LockManager provides distributed mutual exclusion for singleton background
// jobs such as the monitor sweep, so multiple engine instances do not run the
// same sweep concurrently.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld if another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
