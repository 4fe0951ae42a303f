package interceptor

import (
	"context"

	"github.com/stashql/stash/cache"
)

type cacheTagsContextKey struct{}

// WithTags attaches additional cache tags to the context. Queries admitted
// under the returned context carry these tags besides the ones extracted
// from their SQL, so InvalidateTables can target them later.
func WithTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}

	combined := cache.NormalizeTags(append(tagsFromContext(ctx), tags...))
	if len(combined) == 0 {
		return ctx
	}
	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

func tagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}
