package interceptor

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/stashql/stash/cache"
	"github.com/stashql/stash/internal/logging"
	"github.com/stashql/stash/telemetry"
)

// SaveInterceptor is the write-side pipeline. The tag set is captured
// before the save because the tracker's states are rewritten on commit
// (Added becomes Unchanged); invalidation happens after, so a failed save
// never touches the cache and concurrent readers cannot re-admit rows that
// the pending write is about to make stale.
//
// Pending tag sets live in a slot keyed by the session. Concurrent saves
// on one session are not supported; saves on different sessions are
// independent.
type SaveInterceptor struct {
	store    cache.Store
	rec      *telemetry.Recorder
	log      logging.Logger
	fallback bool
	pending  *xsync.MapOf[Session, []string]
}

// NewSaveInterceptor wires the write-side pipeline. rec and log may be nil.
func NewSaveInterceptor(store cache.Store, cfg cache.Config, rec *telemetry.Recorder, log logging.Logger) *SaveInterceptor {
	if rec == nil {
		rec = telemetry.NewRecorder(nil, cfg.OnEvent, log)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &SaveInterceptor{
		store:    store,
		rec:      rec,
		log:      log,
		fallback: cfg.FallbackToDatabase,
		pending:  xsync.NewMapOf[Session, []string](),
	}
}

// SavingChanges walks the session's tracked changes and records the tags
// the save will dirty. Call it before the save executes.
func (si *SaveInterceptor) SavingChanges(ctx context.Context, sess Session) {
	tags := collectDirtyTags(sess)
	if len(tags) == 0 {
		si.pending.Delete(sess)
		return
	}
	si.pending.Store(sess, tags)
}

// SavedChanges invalidates the tags captured by SavingChanges. Call it
// after the save committed.
func (si *SaveInterceptor) SavedChanges(ctx context.Context, sess Session) error {
	tags, ok := si.pending.LoadAndDelete(sess)
	if !ok || len(tags) == 0 {
		return nil
	}
	if err := si.store.InvalidateByTags(ctx, tags); err != nil {
		si.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheError, Tables: tags, Err: err})
		if !si.fallback {
			return err
		}
		return nil
	}
	si.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheInvalidated, Tables: tags})
	return nil
}

// SaveFailed discards the captured tags without touching the cache.
func (si *SaveInterceptor) SaveFailed(ctx context.Context, sess Session) {
	si.pending.LoadAndDelete(sess)
}

// collectDirtyTags resolves every Added/Modified/Deleted entity to its
// table tag, following owned navigations, which share the parent's save.
func collectDirtyTags(sess Session) []string {
	tracker := sess.ChangeTracker()
	model := sess.Model()
	if tracker == nil {
		return nil
	}

	var names []string
	for _, entry := range tracker.Entries() {
		if !entry.State.dirty() {
			continue
		}
		info, ok := lookupEntity(model, entry.Entity)
		if !ok {
			continue
		}
		if info.TableName != "" {
			names = append(names, info.TableName)
		}
		for _, nav := range info.Navigations {
			if nav.Owned && nav.TableName != "" {
				names = append(names, nav.TableName)
			}
		}
	}
	return cache.NormalizeTags(names)
}

// lookupEntity consults the model, falling back to a snake_case guess from
// the entity's type name when the model has no mapping.
func lookupEntity(model Model, entity any) (EntityInfo, bool) {
	if model != nil {
		if info, ok := model.FindEntityType(entity); ok {
			return info, true
		}
	}
	if tag := entityTag(entity); tag != "" {
		return EntityInfo{TableName: tag}, true
	}
	return EntityInfo{}, false
}
