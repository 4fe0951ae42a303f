package cacheinfra

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/stashql/stash/cache"
	"github.com/stashql/stash/internal/logging"
	"github.com/stashql/stash/resultset"
)

// LocalConfig configures the in-process store.
type LocalConfig struct {
	// DefaultTTL applies when a Set carries no absolute expiration.
	DefaultTTL time.Duration
	// Capacity is the entry-count ceiling; exceeding it evicts the
	// least-recently-accessed EvictionPercentage of entries.
	Capacity           int
	EvictionPercentage int
	// SweepInterval is how often the janitor scans for expired entries.
	// Zero uses one minute.
	SweepInterval time.Duration
	// OnEvict is invoked (outside the critical section) whenever an
	// entry leaves the store for any reason other than overwrite.
	OnEvict func(key string, sizeBytes int64)
	// Clock overrides time.Now, for tests.
	Clock  func() time.Time
	Logger logging.Logger
}

type localEntry struct {
	rs         *resultset.ResultSet
	generation uint64
	size       int64
	tags       []string
	deadline   time.Time
	sliding    time.Duration
	lastAccess atomic.Int64 // unix nanos
}

func (e *localEntry) expired(now time.Time) bool {
	if !e.deadline.IsZero() && now.After(e.deadline) {
		return true
	}
	if e.sliding > 0 && now.UnixNano()-e.lastAccess.Load() > int64(e.sliding) {
		return true
	}
	return false
}

// LocalStore is the in-process cache store: a lock-free key map plus a
// bidirectional tag index, a generation counter for O(1) InvalidateAll,
// and a janitor goroutine that sweeps expired entries.
//
// Set and InvalidateByTags mutate both sides of the tag index and
// therefore run under the store's single critical section; every other
// path (Get, expiry, key invalidation) uses only lock-free operations, so
// an eviction firing during an insert cannot self-deadlock.
type LocalStore struct {
	mu         sync.Mutex // the critical section
	entries    *xsync.MapOf[string, *localEntry]
	tags       *tagIndex
	generation atomic.Uint64
	cfg        LocalConfig
	now        func() time.Time
	log        logging.Logger
	closed     atomic.Bool
	stop       chan struct{}
	stopOnce   sync.Once
}

var _ cache.Store = (*LocalStore)(nil)

// NewLocalStore builds and starts a LocalStore.
func NewLocalStore(cfg LocalConfig) *LocalStore {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	if cfg.EvictionPercentage < 1 || cfg.EvictionPercentage > 100 {
		cfg.EvictionPercentage = 10
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	s := &LocalStore{
		entries: xsync.NewMapOf[string, *localEntry](),
		tags:    newTagIndex(),
		cfg:     cfg,
		now:     now,
		log:     log,
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Get returns the live entry for key, or (nil, nil) when the key is
// absent, expired, or stale under the current generation. A hit refreshes
// the sliding window lock-free.
func (s *LocalStore) Get(ctx context.Context, key string) (*resultset.ResultSet, error) {
	if s.closed.Load() {
		return nil, cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := s.entries.Load(key)
	if !ok {
		return nil, nil
	}
	if e.generation < s.generation.Load() || e.expired(s.now()) {
		s.drop(key, e)
		return nil, nil
	}
	e.lastAccess.Store(s.now().UnixNano())
	return e.rs, nil
}

// Set installs the entry, replacing any prior tag-index rows for the key
// and the entry itself atomically under the critical section.
func (s *LocalStore) Set(ctx context.Context, key string, rs *resultset.ResultSet, opts cache.EntryOptions) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	absolute := opts.Absolute
	if absolute <= 0 {
		absolute = s.cfg.DefaultTTL
	}
	now := s.now()
	e := &localEntry{
		rs:         rs,
		generation: s.generation.Load(),
		size:       rs.SizeBytes,
		tags:       opts.Tags,
		deadline:   now.Add(absolute),
		sliding:    opts.Sliding,
	}
	e.lastAccess.Store(now.UnixNano())

	s.mu.Lock()
	s.tags.replace(key, opts.Tags)
	s.entries.Store(key, e)
	var victims []evictedEntry
	if s.entries.Size() > s.cfg.Capacity {
		victims = s.evictForCapacityLocked()
	}
	s.mu.Unlock()

	// The callback may re-enter the store, so it fires only after the
	// critical section is released.
	for _, v := range victims {
		s.notifyEvict(v.key, v.size)
		s.log.Debug("evicted for capacity", "key", v.key)
	}
	return nil
}

type evictedEntry struct {
	key  string
	size int64
}

// evictForCapacityLocked removes the least-recently-accessed
// EvictionPercentage of entries. Caller holds mu; OnEvict is deferred to
// the caller.
func (s *LocalStore) evictForCapacityLocked() []evictedEntry {
	type victim struct {
		key    string
		access int64
	}
	candidates := make([]victim, 0, s.entries.Size())
	s.entries.Range(func(key string, e *localEntry) bool {
		candidates = append(candidates, victim{key: key, access: e.lastAccess.Load()})
		return true
	})
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].access < candidates[j].access })
	n := len(candidates) * s.cfg.EvictionPercentage / 100
	if n < 1 {
		n = 1
	}
	evicted := make([]evictedEntry, 0, n)
	for _, v := range candidates[:n] {
		if e, ok := s.entries.LoadAndDelete(v.key); ok {
			s.tags.removeKey(v.key)
			evicted = append(evicted, evictedEntry{key: v.key, size: e.size})
		}
	}
	return evicted
}

// drop removes a stale or expired entry. Lock-free; mirrors the
// post-eviction callback path.
func (s *LocalStore) drop(key string, e *localEntry) {
	if _, ok := s.entries.LoadAndDelete(key); ok {
		s.tags.removeKey(key)
		s.notifyEvict(key, e.size)
	}
}

func (s *LocalStore) notifyEvict(key string, size int64) {
	if s.cfg.OnEvict != nil {
		s.cfg.OnEvict(key, size)
	}
}

// InvalidateByTags removes every entry referenced by any of the tags.
func (s *LocalStore) InvalidateByTags(ctx context.Context, tags []string) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	keys := s.tags.take(tags)
	evicted := make([]*localEntry, 0, len(keys))
	evictedKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if e, ok := s.entries.LoadAndDelete(key); ok {
			evicted = append(evicted, e)
			evictedKeys = append(evictedKeys, key)
		}
	}
	s.mu.Unlock()

	for i, e := range evicted {
		s.notifyEvict(evictedKeys[i], e.size)
	}
	return nil
}

// InvalidateKey removes a single entry. Lock-free.
func (s *LocalStore) InvalidateKey(ctx context.Context, key string) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e, ok := s.entries.LoadAndDelete(key); ok {
		s.tags.removeKey(key)
		s.notifyEvict(key, e.size)
	}
	return nil
}

// InvalidateAll bumps the generation counter and clears the tag index.
// Stale entries are discovered and removed lazily on their next Get or by
// the janitor; no per-key sweep happens here.
func (s *LocalStore) InvalidateAll(ctx context.Context) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.generation.Add(1)
	s.mu.Lock()
	s.tags.clear()
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held, including any not yet
// lazily removed after a generation bump.
func (s *LocalStore) Len() int { return s.entries.Size() }

// Generation returns the current store generation.
func (s *LocalStore) Generation() uint64 { return s.generation.Load() }

// Close stops the janitor. Subsequent operations fail with ErrStoreClosed.
func (s *LocalStore) Close() error {
	s.closed.Store(true)
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

// janitor periodically sweeps expired and generation-stale entries using
// only lock-free operations.
func (s *LocalStore) janitor() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *LocalStore) sweep() {
	now := s.now()
	gen := s.generation.Load()
	s.entries.Range(func(key string, e *localEntry) bool {
		if e.generation < gen || e.expired(now) {
			s.drop(key, e)
		}
		return true
	})
}
