package beacon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextWithTags(t *testing.T) {
	assert.Nil(t, TagsFromContext(context.Background()))

	parent := ContextWithTags(context.Background(), map[string]string{"a": "1", "b": "1"})
	child := ContextWithTags(parent, map[string]string{"b": "2"})

	assert.Equal(t, map[string]string{"a": "1", "b": "1"}, TagsFromContext(parent))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, TagsFromContext(child))
}
