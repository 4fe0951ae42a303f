package interceptor

import (
	"context"
	"errors"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/stashql/stash/cache"
	"github.com/stashql/stash/internal/logging"
	"github.com/stashql/stash/resultset"
	"github.com/stashql/stash/telemetry"
)

// pendingQuery carries the work computed at QueryExecuting across to
// QueryExecuted for the same command.
type pendingQuery struct {
	key      string
	tags     []string
	absolute time.Duration
	sliding  time.Duration
	started  time.Time
}

// QueryInterceptor is the read-side pipeline. QueryExecuting runs before
// the command reaches the driver and either replays a cached result or
// marks the command pending; QueryExecuted runs on the live reader and
// captures, admits and replays it.
//
// The pending fingerprint travels between the two phases in a process-wide
// map keyed by the command pointer, read-once on retrieval. A
// context-local slot is not enough: the host's async machinery may restore
// context state between the two callbacks, while the command object is the
// one thing both phases share.
type QueryInterceptor struct {
	store    cache.Store
	keys     *cache.KeyGenerator
	cfg      cache.Config
	rec      *telemetry.Recorder
	log      logging.Logger
	excluded map[string]struct{}
	pending  *xsync.MapOf[*cache.Command, pendingQuery]
	now      func() time.Time
}

// NewQueryInterceptor wires the read-side pipeline. rec and log may be nil.
func NewQueryInterceptor(store cache.Store, cfg cache.Config, rec *telemetry.Recorder, log logging.Logger) *QueryInterceptor {
	if rec == nil {
		rec = telemetry.NewRecorder(nil, cfg.OnEvent, log)
	}
	if log == nil {
		log = logging.Nop()
	}
	excluded := make(map[string]struct{}, len(cfg.ExcludedTables))
	for _, t := range cfg.ExcludedTables {
		if tag := cache.NormalizeTag(t); tag != "" {
			excluded[tag] = struct{}{}
		}
	}
	return &QueryInterceptor{
		store:    store,
		keys:     cache.NewKeyGenerator(cfg.KeyPrefix),
		cfg:      cfg,
		rec:      rec,
		log:      log,
		excluded: excluded,
		pending:  xsync.NewMapOf[*cache.Command, pendingQuery](),
		now:      time.Now,
	}
}

// eligibility is the outcome of the caching predicate plus the context a
// caller needs to act on it.
type eligibility struct {
	cacheable bool
	excluded  bool
	tables    []string
	directive cache.Directive
}

func (qi *QueryInterceptor) evaluate(cmd *cache.Command, hasUpstream bool) eligibility {
	var e eligibility
	if hasUpstream {
		return e
	}
	e.directive = cache.ParseDirective(cmd.Text)
	if e.directive.NoCache {
		return e
	}
	if !cache.IsCacheableStatement(cmd.Text) {
		return e
	}
	e.tables = cache.ExtractTables(cmd.Text)
	if e.directive.OptIn {
		e.cacheable = true
		return e
	}
	if qi.cfg.CacheAllQueries {
		for _, t := range e.tables {
			if _, skip := qi.excluded[t]; skip {
				e.excluded = true
				return e
			}
		}
		e.cacheable = true
	}
	return e
}

// ShouldCache reports whether the command is eligible for caching.
// hasUpstream means an earlier interceptor already supplied a result.
func (qi *QueryInterceptor) ShouldCache(cmd *cache.Command, hasUpstream bool) bool {
	return qi.evaluate(cmd, hasUpstream).cacheable
}

// resolveTTL applies the precedence: a registered profile wins, then the
// directive's own TTLs, then the global defaults.
func (qi *QueryInterceptor) resolveTTL(d cache.Directive) (absolute, sliding time.Duration) {
	if d.Profile != "" {
		if p, ok := qi.cfg.Profile(d.Profile); ok {
			absolute, sliding = p.Absolute, p.Sliding
			if absolute <= 0 {
				absolute = qi.cfg.DefaultAbsoluteExpiration
			}
			if sliding <= 0 {
				sliding = qi.cfg.DefaultSlidingExpiration
			}
			return absolute, sliding
		}
	}
	absolute = d.TTL
	if absolute <= 0 {
		absolute = qi.cfg.DefaultAbsoluteExpiration
	}
	sliding = d.Sliding
	if sliding <= 0 {
		sliding = qi.cfg.DefaultSlidingExpiration
	}
	return absolute, sliding
}

// QueryExecuting runs before the command hits the driver. A non-nil reader
// means a cache hit: the caller must use it instead of executing the
// command. A nil reader with nil error means "execute against the
// database"; on a miss the interceptor has recorded the pending key and
// expects QueryExecuted with the live reader.
func (qi *QueryInterceptor) QueryExecuting(ctx context.Context, cmd *cache.Command) (*resultset.Rows, error) {
	e := qi.evaluate(cmd, false)
	if e.excluded {
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindSkippedExcluded, Tables: e.tables})
		return nil, nil
	}
	if !e.cacheable {
		return nil, nil
	}

	key := qi.keys.Fingerprint(cmd)
	started := qi.now()
	rs, err := qi.store.Get(ctx, key)
	if err != nil {
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheError, Key: key, Err: err})
		if !qi.cfg.FallbackToDatabase {
			return nil, err
		}
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindFallbackToDB, Key: key, Err: err})
	}
	if rs != nil {
		qi.rec.Emit(telemetry.Event{
			Kind:     telemetry.KindHit,
			Key:      key,
			Tables:   e.tables,
			RowCount: rs.RowCount(),
			Duration: qi.now().Sub(started),
		})
		return resultset.NewRows(rs), nil
	}

	qi.rec.Emit(telemetry.Event{Kind: telemetry.KindMiss, Key: key, Tables: e.tables})
	absolute, sliding := qi.resolveTTL(e.directive)
	qi.pending.Store(cmd, pendingQuery{
		key:      key,
		tags:     cache.NormalizeTags(append(e.tables, tagsFromContext(ctx)...)),
		absolute: absolute,
		sliding:  sliding,
		started:  started,
	})
	return nil, nil
}

// QueryExecuted runs on the live reader after a miss. It captures the
// rows, admits the result when it fits the limits, and returns a replay
// reader the caller hands to the ORM in place of the live one. A nil
// reader result means the command had no pending key (cache hit or not
// cacheable) and the live reader stays with the caller.
func (qi *QueryInterceptor) QueryExecuted(ctx context.Context, cmd *cache.Command, reader resultset.RowReader) (*resultset.Rows, error) {
	p, ok := qi.pending.LoadAndDelete(cmd)
	if !ok {
		return nil, nil
	}

	rs, err := resultset.Capture(ctx, reader, qi.cfg.MaxRowsPerQuery)
	switch {
	case errors.Is(err, resultset.ErrTooManyRows):
		// Over the row limit: never admitted, but the drained rows still
		// go back to the ORM.
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindSkippedTooManyRows, Key: p.key, RowCount: rs.RowCount()})
		return resultset.NewRows(rs), nil
	case err != nil:
		return nil, err
	}

	if qi.cfg.MaxCacheEntrySize > 0 && rs.SizeBytes > qi.cfg.MaxCacheEntrySize {
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindSkippedTooLarge, Key: p.key, SizeBytes: rs.SizeBytes})
		return resultset.NewRows(rs), nil
	}

	err = qi.store.Set(ctx, p.key, rs, cache.EntryOptions{
		Absolute: p.absolute,
		Sliding:  p.sliding,
		Tags:     p.tags,
	})
	if err != nil {
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheError, Key: p.key, Err: err})
		if !qi.cfg.FallbackToDatabase {
			return nil, err
		}
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindFallbackToDB, Key: p.key, Err: err})
		return resultset.NewRows(rs), nil
	}

	qi.rec.Emit(telemetry.Event{
		Kind:      telemetry.KindQueryResultCached,
		Key:       p.key,
		Tables:    p.tags,
		RowCount:  rs.RowCount(),
		SizeBytes: rs.SizeBytes,
		TTL:       p.absolute,
		Duration:  qi.now().Sub(p.started),
	})
	return resultset.NewRows(rs), nil
}

// ScalarExecuting is the scalar-command twin of QueryExecuting. found
// reports a cache hit; value is the cached scalar, which may be nil for a
// stored null.
func (qi *QueryInterceptor) ScalarExecuting(ctx context.Context, cmd *cache.Command) (value any, found bool, err error) {
	rows, err := qi.QueryExecuting(ctx, cmd)
	if err != nil || rows == nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, true, nil
	}
	v, err := rows.Value(0)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// ScalarExecuted admits the scalar a miss produced, modeled as a one-row,
// one-column result set.
func (qi *QueryInterceptor) ScalarExecuted(ctx context.Context, cmd *cache.Command, value any) error {
	p, ok := qi.pending.LoadAndDelete(cmd)
	if !ok {
		return nil
	}
	rs := resultset.Scalar(value)
	if qi.cfg.MaxCacheEntrySize > 0 && rs.SizeBytes > qi.cfg.MaxCacheEntrySize {
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindSkippedTooLarge, Key: p.key, SizeBytes: rs.SizeBytes})
		return nil
	}
	err := qi.store.Set(ctx, p.key, rs, cache.EntryOptions{
		Absolute: p.absolute,
		Sliding:  p.sliding,
		Tags:     p.tags,
	})
	if err != nil {
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindCacheError, Key: p.key, Err: err})
		if !qi.cfg.FallbackToDatabase {
			return err
		}
		qi.rec.Emit(telemetry.Event{Kind: telemetry.KindFallbackToDB, Key: p.key, Err: err})
		return nil
	}
	qi.rec.Emit(telemetry.Event{
		Kind:      telemetry.KindQueryResultCached,
		Key:       p.key,
		Tables:    p.tags,
		RowCount:  1,
		SizeBytes: rs.SizeBytes,
		TTL:       p.absolute,
		Duration:  qi.now().Sub(p.started),
	})
	return nil
}

// PendingLen reports how many commands currently await QueryExecuted.
func (qi *QueryInterceptor) PendingLen() int { return qi.pending.Size() }
