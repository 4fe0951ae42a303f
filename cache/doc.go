// Package cache defines the public surface of the stash query-result cache:
// the store contract, runtime configuration with named TTL profiles, the
// command fingerprint generator, the table extractor that turns SQL text
// into dependency tags, and the parser for the `-- Stash:` opt-in
// directives users embed in their queries.
//
// Store implementations live in internal/cacheinfra and are wired through
// pkg/di.
package cache
