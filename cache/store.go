package cache

import (
	"context"
	"errors"
	"time"

	"github.com/stashql/stash/resultset"
)

// ErrStoreClosed is returned by store operations after Close.
var ErrStoreClosed = errors.New("cache: store is closed")

// EntryOptions carries the expiration and tagging parameters for a Set.
type EntryOptions struct {
	// Absolute is the hard deadline relative to now. Zero falls back to
	// the store's default.
	Absolute time.Duration
	// Sliding evicts the entry when it goes unread for this long. Zero
	// disables sliding expiration.
	Sliding time.Duration
	// Tags are the normalized table names the entry depends on.
	Tags []string
}

// Store is the cache store contract shared by the local and hybrid
// variants. All methods are safe for concurrent use.
//
// Get returns (nil, nil) on a miss — including entries invalidated by tag,
// expired, or written under a previous generation.
type Store interface {
	Get(ctx context.Context, key string) (*resultset.ResultSet, error)
	Set(ctx context.Context, key string, rs *resultset.ResultSet, opts EntryOptions) error
	InvalidateByTags(ctx context.Context, tags []string) error
	InvalidateKey(ctx context.Context, key string) error
	InvalidateAll(ctx context.Context) error
	Close() error
}
