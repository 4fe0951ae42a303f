package interceptor

import (
	"context"

	"github.com/stashql/stash/cache"
	"github.com/stashql/stash/internal/logging"
	"github.com/stashql/stash/telemetry"
)

// Invalidator is the manual invalidation surface for everything the
// automatic write path cannot see: bulk SQL, out-of-band writes, cache
// warm-up resets.
type Invalidator struct {
	store cache.Store
	rec   *telemetry.Recorder
	log   logging.Logger
}

// NewInvalidator wires the manual invalidation API. rec and log may be nil.
func NewInvalidator(store cache.Store, rec *telemetry.Recorder, log logging.Logger) *Invalidator {
	if rec == nil {
		rec = telemetry.NewRecorder(nil, nil, log)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Invalidator{store: store, rec: rec, log: log}
}

// InvalidateTables removes every entry tagged with any of the given table
// names. Names are normalized the same way the admission path normalizes
// them.
func (inv *Invalidator) InvalidateTables(ctx context.Context, names ...string) error {
	tags := cache.NormalizeTags(names)
	if len(tags) == 0 {
		return nil
	}
	if err := inv.store.InvalidateByTags(ctx, tags); err != nil {
		inv.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheError, Tables: tags, Err: err})
		return err
	}
	inv.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheInvalidated, Tables: tags})
	return nil
}

// InvalidateEntities resolves each entity's table through the session's
// model and invalidates those tags.
func (inv *Invalidator) InvalidateEntities(ctx context.Context, sess Session, entities ...any) error {
	var model Model
	if sess != nil {
		model = sess.Model()
	}
	names := make([]string, 0, len(entities))
	for _, entity := range entities {
		if info, ok := lookupEntity(model, entity); ok && info.TableName != "" {
			names = append(names, info.TableName)
		}
	}
	return inv.InvalidateTables(ctx, names...)
}

// InvalidateKey removes the single entry with the given fingerprint.
func (inv *Invalidator) InvalidateKey(ctx context.Context, key string) error {
	if err := inv.store.InvalidateKey(ctx, key); err != nil {
		inv.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheError, Key: key, Err: err})
		return err
	}
	inv.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheInvalidated, Key: key})
	return nil
}

// InvalidateAll drops every cached entry.
func (inv *Invalidator) InvalidateAll(ctx context.Context) error {
	if err := inv.store.InvalidateAll(ctx); err != nil {
		inv.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheError, Err: err})
		return err
	}
	inv.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheInvalidated})
	return nil
}
