package beacon

import (
	"context"
)

type ctxKey int

const tagsCtxKey = ctxKey(1)

// ContextWithTags returns a copy of ctx carrying tags merged over any tags
// already attached to ctx. Notices reported with the returned context pick
// the tags up.
func ContextWithTags(ctx context.Context, tags map[string]string) context.Context {
	merged := make(map[string]string, len(tags))
	for k, v := range TagsFromContext(ctx) {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return context.WithValue(ctx, tagsCtxKey, merged)
}

// TagsFromContext returns the tags attached to ctx. The returned map must
// not be modified.
func TagsFromContext(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(tagsCtxKey).(map[string]string); ok {
		return tags
	}
	return nil
}
