package telemetry

import "time"

// Kind identifies the class of a cache event.
type Kind string

const (
	KindHit                = Kind("CacheHit")
	KindMiss               = Kind("CacheMiss")
	KindQueryResultCached  = Kind("QueryResultCached")
	KindCacheInvalidated   = Kind("CacheInvalidated")
	KindCacheError         = Kind("CacheError")
	KindSkippedTooManyRows = Kind("SkippedTooManyRows")
	KindSkippedTooLarge    = Kind("SkippedTooLarge")
	KindSkippedExcluded    = Kind("SkippedExcludedTable")
	KindFallbackToDB       = Kind("CacheFallbackToDb")
)

// Event describes a single observable cache occurrence. Fields beyond Kind
// are populated when they apply to the event.
type Event struct {
	Kind      Kind
	Key       string
	Tables    []string
	RowCount  int
	SizeBytes int64
	TTL       time.Duration
	Duration  time.Duration
	Err       error
}

// Sink receives cache events. Sinks must be safe for concurrent use; the
// interceptor may emit from any goroutine.
type Sink func(Event)
