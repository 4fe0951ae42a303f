package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/stashql/stash/telemetry"
)

// Profile is a named TTL preset referenced by `-- Stash:Profile=<name>`
// directives. Zero fields defer to the global defaults.
type Profile struct {
	Absolute time.Duration
	Sliding  time.Duration
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options
// used by the hybrid store.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// Config exposes every runtime option of the cache.
type Config struct {
	// DefaultAbsoluteExpiration is the TTL applied to entries without an
	// explicit or profile TTL.
	DefaultAbsoluteExpiration time.Duration
	// DefaultSlidingExpiration is the sliding timeout default; zero
	// disables sliding unless a directive sets one.
	DefaultSlidingExpiration time.Duration
	// KeyPrefix is prepended to every cache key.
	KeyPrefix string
	// CacheAllQueries makes every SELECT/WITH eligible without a
	// directive.
	CacheAllQueries bool
	// ExcludedTables are skipped under CacheAllQueries. Matching is
	// case-insensitive.
	ExcludedTables []string
	// MaxRowsPerQuery bounds the admitted row count; larger results are
	// delivered but never cached. Zero disables the bound.
	MaxRowsPerQuery int
	// MaxCacheEntrySize bounds the admitted entry size in bytes; zero
	// disables the bound.
	MaxCacheEntrySize int64
	// FallbackToDatabase swallows cache-store errors and lets the query
	// run against the database. When false, store errors propagate.
	FallbackToDatabase bool
	// Profiles are the named TTL presets available to directives.
	Profiles map[string]Profile
	// OnEvent receives every telemetry.Event the cache emits.
	OnEvent telemetry.Sink
	// MinimumHitRatePercent is the health-check degradation threshold.
	MinimumHitRatePercent float64

	// Store sizing.

	// Capacity is the maximum number of entries the store holds before
	// eviction kicks in.
	Capacity int
	// NumShards is passed to the hybrid tier's sturdyc client.
	NumShards int
	// EvictionPercentage is the share of entries evicted under capacity
	// pressure, 1-100.
	EvictionPercentage int
	// EvictionInterval sets how often expired entries are swept; zero
	// uses the default.
	EvictionInterval time.Duration
	// EarlyRefresh configures the hybrid tier's stampede-avoiding early
	// refresh; nil disables it.
	EarlyRefresh *EarlyRefreshConfig
	// MissingRecordStorage enables the hybrid tier's missing-record
	// flags.
	MissingRecordStorage bool
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultAbsoluteExpiration: 5 * time.Minute,
		MaxRowsPerQuery:           10000,
		FallbackToDatabase:        true,
		Capacity:                  10000,
		NumShards:                 256,
		EvictionPercentage:        10,
		EarlyRefresh: &EarlyRefreshConfig{
			MinAsyncRefreshTime: 10 * time.Second,
			MaxAsyncRefreshTime: 20 * time.Second,
			SyncRefreshTime:     30 * time.Second,
			RetryBaseDelay:      100 * time.Millisecond,
		},
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.DefaultAbsoluteExpiration, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.DefaultSlidingExpiration, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRowsPerQuery, validation.Min(0)),
		validation.Field(&c.MaxCacheEntrySize, validation.Min(int64(0))),
		validation.Field(&c.MinimumHitRatePercent, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return err
	}
	for name, profile := range c.Profiles {
		if profile.Absolute < 0 || profile.Sliding < 0 {
			return validation.Errors{"Profiles": validation.NewError(
				"validation_profile_negative", "profile "+name+" has a negative TTL")}
		}
	}
	if c.EarlyRefresh != nil {
		er := c.EarlyRefresh
		if er.MinAsyncRefreshTime < 0 || er.MaxAsyncRefreshTime < 0 || er.SyncRefreshTime < 0 || er.RetryBaseDelay < 0 {
			return validation.Errors{"EarlyRefresh": validation.NewError(
				"validation_early_refresh_negative", "early refresh durations must be non-negative")}
		}
	}
	return nil
}

// Profile resolves a named profile.
func (c Config) Profile(name string) (Profile, bool) {
	p, ok := c.Profiles[name]
	return p, ok
}
