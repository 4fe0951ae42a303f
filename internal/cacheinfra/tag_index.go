// Package cacheinfra holds the cache store implementations: the in-process
// local store and the sturdyc-backed hybrid store. Both satisfy
// cache.Store; the public packages never touch these types directly.
package cacheinfra

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// tagIndex is the bidirectional tag map: tag → set of keys and key → tags.
// The outer maps are lock-free concurrent maps. Exactly one caller path —
// the owning store's critical section — may mutate both directions
// together (replace, take, clear); removeKey is safe to call without the
// critical section because it only performs lock-free deletes, which is
// what the post-eviction callback path needs to avoid self-deadlock.
type tagIndex struct {
	byTag *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]
	byKey *xsync.MapOf[string, []string]
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		byTag: xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
		byKey: xsync.NewMapOf[string, []string](),
	}
}

// replace installs key → tags, first removing any prior rows for the key.
// Must be called under the store's critical section.
func (ti *tagIndex) replace(key string, tags []string) {
	ti.removeKey(key)
	if len(tags) == 0 {
		return
	}
	ti.byKey.Store(key, tags)
	for _, tag := range tags {
		set, _ := ti.byTag.LoadOrCompute(tag, func() *xsync.MapOf[string, struct{}] {
			return xsync.NewMapOf[string, struct{}]()
		})
		set.Store(key, struct{}{})
	}
}

// removeKey drops every index row for key. Lock-free; callable from
// eviction callbacks.
func (ti *tagIndex) removeKey(key string) {
	tags, ok := ti.byKey.LoadAndDelete(key)
	if !ok {
		return
	}
	for _, tag := range tags {
		if set, ok := ti.byTag.Load(tag); ok {
			set.Delete(key)
		}
	}
}

// take removes the given tags from the index and returns the union of keys
// they referenced, cleaning the keys' cross-references out of other tags'
// sets. Must be called under the store's critical section.
func (ti *tagIndex) take(tags []string) []string {
	seen := make(map[string]struct{})
	for _, tag := range tags {
		set, ok := ti.byTag.LoadAndDelete(tag)
		if !ok {
			continue
		}
		set.Range(func(key string, _ struct{}) bool {
			seen[key] = struct{}{}
			return true
		})
	}
	if len(seen) == 0 {
		return nil
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
		ti.removeKey(key)
	}
	return keys
}

// clear drops the whole index. Must be called under the store's critical
// section.
func (ti *tagIndex) clear() {
	ti.byTag.Clear()
	ti.byKey.Clear()
}

// tagsOf returns the tags currently recorded for key.
func (ti *tagIndex) tagsOf(key string) []string {
	tags, _ := ti.byKey.Load(key)
	return tags
}
