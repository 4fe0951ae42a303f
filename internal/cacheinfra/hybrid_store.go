package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/stashql/stash/cache"
	"github.com/stashql/stash/internal/logging"
	"github.com/stashql/stash/resultset"
)

// RemoteTier is the external (L2) cache contract the hybrid store writes
// serialized entries through. Implementations are expected to be shared
// across processes (Redis, Memcache, a distributed cache service).
type RemoteTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// TagRemover is implemented by remote tiers with a native tag-removal
// primitive; when present, tag invalidation is delegated to it in addition
// to the local bookkeeping.
type TagRemover interface {
	DeleteByTags(ctx context.Context, tags []string) error
}

// HybridConfig configures the two-tier store.
type HybridConfig struct {
	Capacity             int
	NumShards            int
	DefaultTTL           time.Duration
	EvictionPercentage   int
	EvictionInterval     time.Duration
	EarlyRefresh         *cache.EarlyRefreshConfig
	MissingRecordStorage bool
	Remote               RemoteTier // optional
	Clock                func() time.Time
	Logger               logging.Logger
}

// hybridEnvelope wraps a serialized result set with its expiration terms so
// a process reading the entry from the shared tier can honor them.
type hybridEnvelope struct {
	Deadline int64  `msgpack:"deadline"` // unix nanos
	Sliding  int64  `msgpack:"sliding"`  // nanoseconds, 0 = none
	Payload  []byte `msgpack:"payload"`
}

// errRemoteMiss is the sentinel the fetch factory returns so GetOrFetch
// reports a miss without writing anything to either tier.
var errRemoteMiss = errors.New("cacheinfra: not in remote tier")

// HybridStore keeps serialized entries in a stampede-protected in-process
// sturdyc client (L1) backed by an optional remote tier (L2). A global
// flush is the generation-counter trick: keys are written under a
// `v<gen>:` prefix and reads only consult the current generation, so the
// backend never needs to support enumeration; superseded entries age out
// on their own expiration.
type HybridStore struct {
	mu         sync.Mutex
	client     *sturdyc.Client[[]byte]
	remote     RemoteTier
	tags       *tagIndex
	sliding    *xsync.MapOf[string, *slidingState]
	generation atomic.Uint64
	defaultTTL time.Duration
	now        func() time.Time
	log        logging.Logger
	closed     atomic.Bool
}

type slidingState struct {
	window     time.Duration
	lastAccess atomic.Int64
}

var _ cache.Store = (*HybridStore)(nil)

// NewHybridStore builds the two-tier store. The sturdyc client carries the
// teacher-grade options: early refreshes, missing-record storage, eviction
// interval.
func NewHybridStore(cfg HybridConfig) (*HybridStore, error) {
	if cfg.Capacity <= 0 || cfg.NumShards <= 0 || cfg.DefaultTTL <= 0 {
		return nil, errors.New("cacheinfra: capacity, shards and default TTL must be positive")
	}
	if cfg.EvictionPercentage < 1 || cfg.EvictionPercentage > 100 {
		return nil, errors.New("cacheinfra: eviction percentage must be 1-100")
	}
	var options []sturdyc.Option
	if cfg.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			cfg.EarlyRefresh.MinAsyncRefreshTime,
			cfg.EarlyRefresh.MaxAsyncRefreshTime,
			cfg.EarlyRefresh.SyncRefreshTime,
			cfg.EarlyRefresh.RetryBaseDelay,
		))
	}
	if cfg.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}
	if cfg.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(cfg.EvictionInterval))
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &HybridStore{
		client:     sturdyc.New[[]byte](cfg.Capacity, cfg.NumShards, cfg.DefaultTTL, cfg.EvictionPercentage, options...),
		remote:     cfg.Remote,
		tags:       newTagIndex(),
		sliding:    xsync.NewMapOf[string, *slidingState](),
		defaultTTL: cfg.DefaultTTL,
		now:        now,
		log:        log,
	}, nil
}

func (s *HybridStore) versioned(key string) string {
	return fmt.Sprintf("v%d:%s", s.generation.Load(), key)
}

// Get looks the key up in L1 and, on an L1 miss, in the remote tier
// (warming L1 with the remote bytes). The fetch factory returns a sentinel
// on a remote miss so the get-or-create call cannot install a missing
// marker or trigger writes; concurrent misses for one key still collapse
// into a single remote fetch.
func (s *HybridStore) Get(ctx context.Context, key string) (*resultset.ResultSet, error) {
	if s.closed.Load() {
		return nil, cache.ErrStoreClosed
	}
	vkey := s.versioned(key)
	data, err := s.client.GetOrFetch(ctx, vkey, func(ctx context.Context) ([]byte, error) {
		if s.remote == nil {
			return nil, errRemoteMiss
		}
		payload, ok, err := s.remote.Get(ctx, vkey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errRemoteMiss
		}
		return payload, nil
	})
	switch {
	case errors.Is(err, errRemoteMiss), errors.Is(err, sturdyc.ErrMissingRecord):
		return nil, nil
	case err != nil:
		return nil, err
	}

	var env hybridEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		s.log.Warn("discarding corrupt hybrid envelope", "key", key, "error", err)
		s.evict(ctx, vkey)
		return nil, nil
	}
	if s.envelopeExpired(vkey, &env) {
		s.evict(ctx, vkey)
		return nil, nil
	}
	rs, err := resultset.Decode(env.Payload)
	if err != nil {
		// Corrupt payloads are a miss, never an error.
		s.log.Warn("discarding corrupt cached result set", "key", key, "error", err)
		s.evict(ctx, vkey)
		return nil, nil
	}
	s.touch(vkey, &env)
	return rs, nil
}

func (s *HybridStore) envelopeExpired(vkey string, env *hybridEnvelope) bool {
	now := s.now()
	if env.Deadline > 0 && now.UnixNano() > env.Deadline {
		return true
	}
	if env.Sliding > 0 {
		if state, ok := s.sliding.Load(vkey); ok {
			return now.UnixNano()-state.lastAccess.Load() > int64(state.window)
		}
	}
	return false
}

// touch refreshes the sliding window after a hit.
func (s *HybridStore) touch(vkey string, env *hybridEnvelope) {
	if env.Sliding <= 0 {
		return
	}
	state, _ := s.sliding.LoadOrCompute(vkey, func() *slidingState {
		return &slidingState{window: time.Duration(env.Sliding)}
	})
	state.lastAccess.Store(s.now().UnixNano())
}

func (s *HybridStore) evict(ctx context.Context, vkey string) {
	s.client.Delete(vkey)
	s.tags.removeKey(vkey)
	s.sliding.Delete(vkey)
	if s.remote != nil {
		if err := s.remote.Delete(ctx, vkey); err != nil {
			s.log.Warn("remote delete failed", "key", vkey, "error", err)
		}
	}
}

// Set serializes the entry and installs it in both tiers. The tag index
// and the L1 map are updated together under the critical section; the
// remote write happens after, outside the lock.
func (s *HybridStore) Set(ctx context.Context, key string, rs *resultset.ResultSet, opts cache.EntryOptions) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	absolute := opts.Absolute
	if absolute <= 0 {
		absolute = s.defaultTTL
	}
	payload, err := resultset.Encode(rs)
	if err != nil {
		return fmt.Errorf("cacheinfra: encode entry: %w", err)
	}
	env := hybridEnvelope{
		Deadline: s.now().Add(absolute).UnixNano(),
		Sliding:  int64(opts.Sliding),
		Payload:  payload,
	}
	data, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("cacheinfra: encode envelope: %w", err)
	}
	vkey := s.versioned(key)

	s.mu.Lock()
	s.tags.replace(vkey, opts.Tags)
	s.client.Set(vkey, data)
	if opts.Sliding > 0 {
		state := &slidingState{window: opts.Sliding}
		state.lastAccess.Store(s.now().UnixNano())
		s.sliding.Store(vkey, state)
	} else {
		s.sliding.Delete(vkey)
	}
	s.mu.Unlock()

	if s.remote != nil {
		if err := s.remote.Set(ctx, vkey, data, absolute); err != nil {
			return fmt.Errorf("cacheinfra: remote set: %w", err)
		}
	}
	return nil
}

// InvalidateByTags removes every entry referenced by the tags from both
// tiers, delegating to the remote tier's native tag primitive when it has
// one.
func (s *HybridStore) InvalidateByTags(ctx context.Context, tags []string) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	keys := s.tags.take(tags)
	for _, vkey := range keys {
		s.client.Delete(vkey)
		s.sliding.Delete(vkey)
	}
	s.mu.Unlock()

	if remover, ok := s.remote.(TagRemover); ok && s.remote != nil {
		if err := remover.DeleteByTags(ctx, tags); err != nil {
			return fmt.Errorf("cacheinfra: remote tag invalidation: %w", err)
		}
		return nil
	}
	if s.remote != nil && len(keys) > 0 {
		if err := s.remote.Delete(ctx, keys...); err != nil {
			return fmt.Errorf("cacheinfra: remote delete: %w", err)
		}
	}
	return nil
}

// InvalidateKey removes one entry from both tiers.
func (s *HybridStore) InvalidateKey(ctx context.Context, key string) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.evict(ctx, s.versioned(key))
	return nil
}

// InvalidateAll bumps the generation: reads immediately consult the new
// prefix, so every prior entry is logically gone. Superseded keys are
// cleaned by the backends' own expiration.
func (s *HybridStore) InvalidateAll(ctx context.Context) error {
	if s.closed.Load() {
		return cache.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.generation.Add(1)
	s.mu.Lock()
	s.tags.clear()
	s.sliding.Clear()
	s.mu.Unlock()
	return nil
}

// Generation returns the current store generation.
func (s *HybridStore) Generation() uint64 { return s.generation.Load() }

// Close marks the store closed. The sturdyc client has no shutdown hook;
// its eviction goroutines are process-lifetime.
func (s *HybridStore) Close() error {
	s.closed.Store(true)
	return nil
}
