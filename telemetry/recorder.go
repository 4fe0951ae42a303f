package telemetry

import "github.com/stashql/stash/internal/logging"

// Recorder is the single funnel for cache events: it updates counters,
// forwards to the configured sink, and logs failures.
type Recorder struct {
	metrics *Metrics
	sink    Sink
	log     logging.Logger
}

// NewRecorder wires a Recorder. A nil sink or logger is replaced with a
// no-op.
func NewRecorder(metrics *Metrics, sink Sink, log logging.Logger) *Recorder {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Recorder{metrics: metrics, sink: sink, log: log}
}

// Metrics returns the counters the recorder updates.
func (r *Recorder) Metrics() *Metrics { return r.metrics }

// Emit records the event against the counters and forwards it to the sink.
func (r *Recorder) Emit(ev Event) {
	switch ev.Kind {
	case KindHit:
		r.metrics.RecordHit()
	case KindMiss:
		r.metrics.RecordMiss()
	case KindQueryResultCached:
		r.metrics.AddBytes(ev.SizeBytes)
	case KindCacheInvalidated:
		r.metrics.RecordInvalidation(ev.Tables)
	case KindCacheError:
		r.metrics.RecordError()
		r.log.Warn("cache error", "key", ev.Key, "error", ev.Err)
	case KindSkippedTooManyRows, KindSkippedTooLarge, KindSkippedExcluded:
		r.metrics.RecordSkip()
	case KindFallbackToDB:
		r.log.Debug("cache fallback to database", "key", ev.Key, "error", ev.Err)
	}
	if r.sink != nil {
		r.sink(ev)
	}
}
