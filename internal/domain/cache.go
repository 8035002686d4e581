package domain

import (
	"context"
	"time"
)

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides ephemeral pub/sub plus durable, ordered streams. The
// indexer publishes projection results on it; the WebSocket hub and any
// external consumer subscribe.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locks. The indexer takes one lock per
// source at startup so a second instance cannot write the same read model.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned function
	// releases it and is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter counts requests per key over a fixed window.
type RateLimiter interface {
	// Allow reports whether the request identified by key fits within limit
	// requests per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
