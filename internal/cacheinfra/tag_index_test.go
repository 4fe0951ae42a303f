package cacheinfra

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sorted(keys []string) []string {
	sort.Strings(keys)
	return keys
}

func TestTagIndex_ReplaceAndTake(t *testing.T) {
	ti := newTagIndex()

	ti.replace("k1", []string{"products", "orders"})
	ti.replace("k2", []string{"products"})
	ti.replace("k3", []string{"users"})

	keys := ti.take([]string{"products"})
	if diff := cmp.Diff([]string{"k1", "k2"}, sorted(keys)); diff != "" {
		t.Errorf("take(products) mismatch (-want +got):\n%s", diff)
	}

	// k1's cross-reference under "orders" must be gone too.
	if keys := ti.take([]string{"orders"}); len(keys) != 0 {
		t.Errorf("expected orders tag to be empty after take, got %v", keys)
	}
	// Unrelated tags are untouched.
	if keys := ti.take([]string{"users"}); len(keys) != 1 || keys[0] != "k3" {
		t.Errorf("expected users tag to still hold k3, got %v", keys)
	}
}

func TestTagIndex_ReplaceOverwritesPriorTags(t *testing.T) {
	ti := newTagIndex()

	ti.replace("k1", []string{"products"})
	ti.replace("k1", []string{"orders"})

	if keys := ti.take([]string{"products"}); len(keys) != 0 {
		t.Errorf("expected stale products row to be removed, got %v", keys)
	}
	if keys := ti.take([]string{"orders"}); len(keys) != 1 || keys[0] != "k1" {
		t.Errorf("expected k1 under orders, got %v", keys)
	}
}

func TestTagIndex_ReplaceWithNoTagsClearsKey(t *testing.T) {
	ti := newTagIndex()

	ti.replace("k1", []string{"products"})
	ti.replace("k1", nil)

	if tags := ti.tagsOf("k1"); tags != nil {
		t.Errorf("expected no tags for k1, got %v", tags)
	}
	if keys := ti.take([]string{"products"}); len(keys) != 0 {
		t.Errorf("expected products to be empty, got %v", keys)
	}
}

func TestTagIndex_RemoveKey(t *testing.T) {
	ti := newTagIndex()

	ti.replace("k1", []string{"products", "orders"})
	ti.removeKey("k1")

	if tags := ti.tagsOf("k1"); tags != nil {
		t.Errorf("expected no tags after removeKey, got %v", tags)
	}
	if keys := ti.take([]string{"products", "orders"}); len(keys) != 0 {
		t.Errorf("expected no keys after removeKey, got %v", keys)
	}

	// Removing an unknown key is a no-op.
	ti.removeKey("missing")
}

func TestTagIndex_TakeUnknownTag(t *testing.T) {
	ti := newTagIndex()
	if keys := ti.take([]string{"nothing"}); keys != nil {
		t.Errorf("expected nil for unknown tag, got %v", keys)
	}
}

func TestTagIndex_Clear(t *testing.T) {
	ti := newTagIndex()
	ti.replace("k1", []string{"products"})
	ti.replace("k2", []string{"orders"})

	ti.clear()

	if keys := ti.take([]string{"products", "orders"}); len(keys) != 0 {
		t.Errorf("expected empty index after clear, got %v", keys)
	}
}

func TestTagIndex_TagsOf(t *testing.T) {
	ti := newTagIndex()
	ti.replace("k1", []string{"a", "b"})

	if diff := cmp.Diff([]string{"a", "b"}, ti.tagsOf("k1")); diff != "" {
		t.Errorf("tagsOf mismatch (-want +got):\n%s", diff)
	}
}
