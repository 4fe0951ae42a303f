package cacheinfra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stashql/stash/cache"
	"github.com/stashql/stash/pkg/testsupport"
	"github.com/stashql/stash/resultset"
)

// fakeClock is a settable time source for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLocalStore(t *testing.T, clock *fakeClock) *LocalStore {
	t.Helper()
	s := NewLocalStore(LocalConfig{
		DefaultTTL:    5 * time.Minute,
		Capacity:      100,
		SweepInterval: time.Hour, // keep the janitor out of the way
		Clock:         clock.Now,
	})
	t.Cleanup(func() { s.Close() })
	return s
}

func productsResultSet() *resultset.ResultSet {
	return testsupport.SimpleResultSet([]string{"id", "name"}, [][]any{
		{"1", "espresso"},
		{"2", "cappuccino"},
	})
}

func TestLocalStore_SetThenGet(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t, newFakeClock())
	rs := productsResultSet()

	if err := s.Set(ctx, "k", rs, cache.EntryOptions{Tags: []string{"products"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a hit immediately after Set")
	}
	if diff := cmp.Diff(rs.Rows, got.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalStore_MissReturnsNilNil(t *testing.T) {
	s := newTestLocalStore(t, newFakeClock())

	got, err := s.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a miss, got %v", got)
	}
}

func TestLocalStore_EmptyResultSetIsAHit(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t, newFakeClock())
	empty := testsupport.SimpleResultSet([]string{"id"}, nil)

	if err := s.Set(ctx, "k", empty, cache.EntryOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected an empty result set, not a miss")
	}
	if !got.Empty() {
		t.Errorf("expected zero rows, got %d", got.RowCount())
	}
}

func TestLocalStore_AbsoluteExpiration(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestLocalStore(t, clock)

	if err := s.Set(ctx, "k", productsResultSet(), cache.EntryOptions{Absolute: 5 * time.Second}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	clock.Advance(4 * time.Second)
	if got, _ := s.Get(ctx, "k"); got == nil {
		t.Fatal("expected a hit before expiration")
	}

	clock.Advance(6 * time.Second)
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Error("expected a miss after absolute TTL elapsed")
	}
	if s.Len() != 0 {
		t.Errorf("expected the expired entry to be dropped, Len = %d", s.Len())
	}
}

func TestLocalStore_SlidingExpiration(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestLocalStore(t, clock)

	opts := cache.EntryOptions{Absolute: time.Hour, Sliding: 10 * time.Second}
	if err := s.Set(ctx, "k", productsResultSet(), opts); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Touch the entry inside each window; it must survive well past the
	// window length counted from insertion.
	for i := 0; i < 5; i++ {
		clock.Advance(8 * time.Second)
		if got, _ := s.Get(ctx, "k"); got == nil {
			t.Fatalf("expected a hit on touch %d", i)
		}
	}

	clock.Advance(11 * time.Second)
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Error("expected a miss after the sliding window lapsed untouched")
	}
}

func TestLocalStore_InvalidateByTags(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t, newFakeClock())

	set := func(key string, tags ...string) {
		t.Helper()
		if err := s.Set(ctx, key, productsResultSet(), cache.EntryOptions{Tags: tags}); err != nil {
			t.Fatalf("Set(%s) failed: %v", key, err)
		}
	}
	set("k1", "products")
	set("k2", "products", "orders")
	set("k3", "users")

	if err := s.InvalidateByTags(ctx, []string{"products"}); err != nil {
		t.Fatalf("InvalidateByTags failed: %v", err)
	}

	for _, key := range []string{"k1", "k2"} {
		if got, _ := s.Get(ctx, key); got != nil {
			t.Errorf("expected %s to be invalidated", key)
		}
	}
	if got, _ := s.Get(ctx, "k3"); got == nil {
		t.Error("expected k3 to survive an unrelated invalidation")
	}
}

func TestLocalStore_InvalidateKey(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t, newFakeClock())

	if err := s.Set(ctx, "k", productsResultSet(), cache.EntryOptions{Tags: []string{"products"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.InvalidateKey(ctx, "k"); err != nil {
		t.Fatalf("InvalidateKey failed: %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Error("expected a miss after InvalidateKey")
	}
}

func TestLocalStore_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t, newFakeClock())

	for _, key := range []string{"k1", "k2", "k3"} {
		if err := s.Set(ctx, key, productsResultSet(), cache.EntryOptions{}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	gen := s.Generation()
	if err := s.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll failed: %v", err)
	}
	if s.Generation() != gen+1 {
		t.Errorf("expected generation bump, got %d -> %d", gen, s.Generation())
	}

	for _, key := range []string{"k1", "k2", "k3"} {
		if got, _ := s.Get(ctx, key); got != nil {
			t.Errorf("expected %s to be stale after InvalidateAll", key)
		}
	}

	// Entries admitted after the flush live in the new generation.
	if err := s.Set(ctx, "k4", productsResultSet(), cache.EntryOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, _ := s.Get(ctx, "k4"); got == nil {
		t.Error("expected a hit for a post-flush entry")
	}
}

func TestLocalStore_CapacityEviction(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	var evicted []string
	var mu sync.Mutex
	s := NewLocalStore(LocalConfig{
		DefaultTTL:         time.Hour,
		Capacity:           10,
		EvictionPercentage: 20,
		SweepInterval:      time.Hour,
		Clock:              clock.Now,
		OnEvict: func(key string, sizeBytes int64) {
			mu.Lock()
			evicted = append(evicted, key)
			mu.Unlock()
		},
	})
	defer s.Close()

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}
	for _, key := range keys {
		clock.Advance(time.Second) // distinct last-access order
		if err := s.Set(ctx, key, productsResultSet(), cache.EntryOptions{}); err != nil {
			t.Fatalf("Set(%s) failed: %v", key, err)
		}
	}

	if s.Len() > 10 {
		t.Errorf("expected eviction to keep Len <= capacity, got %d", s.Len())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(evicted) == 0 {
		t.Fatal("expected at least one eviction callback")
	}
	// The least-recently-accessed key is the first inserted one.
	if evicted[0] != "a" {
		t.Errorf("expected oldest key evicted first, got %v", evicted)
	}
}

func TestLocalStore_ReentrantOnEvictCallback(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	// The callback re-enters a lock-taking store method; capacity eviction
	// during Set must fire it outside the critical section.
	var s *LocalStore
	s = NewLocalStore(LocalConfig{
		DefaultTTL:         time.Hour,
		Capacity:           1,
		EvictionPercentage: 100,
		SweepInterval:      time.Hour,
		Clock:              clock.Now,
		OnEvict: func(key string, sizeBytes int64) {
			_ = s.InvalidateByTags(ctx, []string{"products"})
		},
	})
	defer s.Close()

	if err := s.Set(ctx, "a", productsResultSet(), cache.EntryOptions{Tags: []string{"products"}}); err != nil {
		t.Fatalf("Set(a) failed: %v", err)
	}
	clock.Advance(time.Second)

	done := make(chan error, 1)
	go func() {
		done <- s.Set(ctx, "b", productsResultSet(), cache.EntryOptions{Tags: []string{"products"}})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Set(b) failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked on its own eviction callback")
	}
}

func TestLocalStore_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestLocalStore(t, clock)

	if err := s.Set(ctx, "k", productsResultSet(), cache.EntryOptions{Absolute: time.Second}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	clock.Advance(2 * time.Second)
	s.sweep()

	if s.Len() != 0 {
		t.Errorf("expected sweep to remove the expired entry, Len = %d", s.Len())
	}
}

func TestLocalStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t, newFakeClock())
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := s.Get(ctx, "k"); !errors.Is(err, cache.ErrStoreClosed) {
		t.Errorf("Get after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.Set(ctx, "k", productsResultSet(), cache.EntryOptions{}); !errors.Is(err, cache.ErrStoreClosed) {
		t.Errorf("Set after Close = %v, want ErrStoreClosed", err)
	}
	if err := s.InvalidateByTags(ctx, []string{"t"}); !errors.Is(err, cache.ErrStoreClosed) {
		t.Errorf("InvalidateByTags after Close = %v, want ErrStoreClosed", err)
	}
}

func TestLocalStore_ContextCanceled(t *testing.T) {
	s := newTestLocalStore(t, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get = %v, want context.Canceled", err)
	}
	if err := s.Set(ctx, "k", productsResultSet(), cache.EntryOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Set = %v, want context.Canceled", err)
	}
}

func TestLocalStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStore(t, newFakeClock())
	rs := productsResultSet()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%4))
			for j := 0; j < 50; j++ {
				switch j % 4 {
				case 0:
					_ = s.Set(ctx, key, rs, cache.EntryOptions{Tags: []string{"products"}})
				case 1:
					_, _ = s.Get(ctx, key)
				case 2:
					_ = s.InvalidateByTags(ctx, []string{"products"})
				case 3:
					_ = s.InvalidateAll(ctx)
				}
			}
		}(i)
	}
	wg.Wait()
}
