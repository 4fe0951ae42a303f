package bunadapter

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/stashql/stash/cache"
	"github.com/stashql/stash/interceptor"
	"github.com/stashql/stash/internal/logging"
)

// WriteInvalidationHook is a bun query hook that invalidates the tags of
// every table a successful INSERT/UPDATE/DELETE/MERGE touches. It covers
// writes issued directly through bun's query builders, which never pass
// through a change tracker.
type WriteInvalidationHook struct {
	inv *interceptor.Invalidator
	log logging.Logger
}

var _ bun.QueryHook = (*WriteInvalidationHook)(nil)

// NewWriteInvalidationHook builds the hook. Register it with
// db.AddQueryHook.
func NewWriteInvalidationHook(inv *interceptor.Invalidator, log logging.Logger) *WriteInvalidationHook {
	if log == nil {
		log = logging.Nop()
	}
	return &WriteInvalidationHook{inv: inv, log: log}
}

// BeforeQuery is a no-op; invalidation must wait for the write to land.
func (h *WriteInvalidationHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery invalidates the written tables once the statement succeeded.
func (h *WriteInvalidationHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}
	if cache.IsCacheableStatement(event.Query) {
		return
	}
	tables := cache.ExtractWriteTables(event.Query)
	if len(tables) == 0 {
		return
	}
	if err := h.inv.InvalidateTables(ctx, tables...); err != nil {
		h.log.Warn("write invalidation failed", "tables", tables, "error", err)
	}
}
