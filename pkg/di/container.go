// Package di wires the cache components into ready-to-use singletons: the
// store, the read and write interceptors, the manual invalidation API and
// the health checker all share one configuration, one metrics set and one
// logger.
package di

import (
	"context"
	"time"

	"github.com/stashql/stash/cache"
	"github.com/stashql/stash/interceptor"
	"github.com/stashql/stash/internal/cacheinfra"
	"github.com/stashql/stash/internal/logging"
	"github.com/stashql/stash/telemetry"
)

// healthProbeKey is looked up by the health checker; it is never admitted,
// so the probe exercises the store's read path without touching real
// entries.
const healthProbeKey = "__stash-health-probe__"

type options struct {
	logger logging.Logger
	remote cacheinfra.RemoteTier
	hybrid bool
	clock  func() time.Time
}

// Option customizes container construction.
type Option func(*options)

// WithLogger replaces the default logger.
func WithLogger(log logging.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithHybridStore switches the container from the in-process store to the
// two-tier hybrid store. remote may be nil for an L1-only hybrid setup.
func WithHybridStore(remote cacheinfra.RemoteTier) Option {
	return func(o *options) {
		o.hybrid = true
		o.remote = remote
	}
}

// WithClock overrides the stores' time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// Container manages singleton instances of the cache components.
type Container struct {
	cfg      cache.Config
	log      logging.Logger
	metrics  *telemetry.Metrics
	recorder *telemetry.Recorder
	store    cache.Store
	query    *interceptor.QueryInterceptor
	save     *interceptor.SaveInterceptor
	inv      *interceptor.Invalidator
	health   *telemetry.HealthChecker
}

// NewContainer validates the configuration and wires every component.
func NewContainer(cfg cache.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = logging.Default()
	}

	metrics := telemetry.NewMetrics()
	recorder := telemetry.NewRecorder(metrics, cfg.OnEvent, log)

	store, err := newStore(cfg, o, metrics, log)
	if err != nil {
		return nil, err
	}

	probe := func(ctx context.Context) error {
		_, err := store.Get(ctx, cfg.KeyPrefix+healthProbeKey)
		return err
	}

	return &Container{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		recorder: recorder,
		store:    store,
		query:    interceptor.NewQueryInterceptor(store, cfg, recorder, log),
		save:     interceptor.NewSaveInterceptor(store, cfg, recorder, log),
		inv:      interceptor.NewInvalidator(store, recorder, log),
		health:   telemetry.NewHealthChecker(probe, metrics, cfg.MinimumHitRatePercent),
	}, nil
}

// NewContainerWithDefaults builds a container from DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

func newStore(cfg cache.Config, o options, metrics *telemetry.Metrics, log logging.Logger) (cache.Store, error) {
	if o.hybrid {
		return cacheinfra.NewHybridStore(cacheinfra.HybridConfig{
			Capacity:             cfg.Capacity,
			NumShards:            cfg.NumShards,
			DefaultTTL:           cfg.DefaultAbsoluteExpiration,
			EvictionPercentage:   cfg.EvictionPercentage,
			EvictionInterval:     cfg.EvictionInterval,
			EarlyRefresh:         cfg.EarlyRefresh,
			MissingRecordStorage: cfg.MissingRecordStorage,
			Remote:               o.remote,
			Clock:                o.clock,
			Logger:               log,
		})
	}
	return cacheinfra.NewLocalStore(cacheinfra.LocalConfig{
		DefaultTTL:         cfg.DefaultAbsoluteExpiration,
		Capacity:           cfg.Capacity,
		EvictionPercentage: cfg.EvictionPercentage,
		SweepInterval:      cfg.EvictionInterval,
		OnEvict: func(key string, sizeBytes int64) {
			metrics.AddBytes(-sizeBytes)
		},
		Clock:  o.clock,
		Logger: log,
	}), nil
}

// Store returns the singleton cache store.
func (c *Container) Store() cache.Store { return c.store }

// QueryInterceptor returns the read-side interceptor.
func (c *Container) QueryInterceptor() *interceptor.QueryInterceptor { return c.query }

// SaveInterceptor returns the write-side interceptor.
func (c *Container) SaveInterceptor() *interceptor.SaveInterceptor { return c.save }

// Invalidator returns the manual invalidation API.
func (c *Container) Invalidator() *interceptor.Invalidator { return c.inv }

// Metrics returns the shared counters.
func (c *Container) Metrics() *telemetry.Metrics { return c.metrics }

// Recorder returns the shared event recorder.
func (c *Container) Recorder() *telemetry.Recorder { return c.recorder }

// Health returns the store health checker.
func (c *Container) Health() *telemetry.HealthChecker { return c.health }

// Config returns a copy of the configuration the container was built from.
func (c *Container) Config() cache.Config { return c.cfg }

// Close releases the store's background resources.
func (c *Container) Close() error { return c.store.Close() }
