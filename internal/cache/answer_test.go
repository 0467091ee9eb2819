package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-decision-assistant/internal/domain"
)

func TestKey(t *testing.T) {
	a := Key("medical_qa", "高血压的一线用药是什么?")
	b := Key("medical_qa", "高血压的一线用药是什么?")
	c := Key("diabetes", "高血压的一线用药是什么?")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "answer:medical_qa:"))
	assert.Len(t, strings.TrimPrefix(a, "answer:medical_qa:"), 32)
}

func TestNewAnswerCache_Disabled(t *testing.T) {
	c, err := NewAnswerCache(domain.CacheConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewAnswerCache_InvalidURL(t *testing.T) {
	_, err := NewAnswerCache(domain.CacheConfig{RedisURL: "not-a-url://"})
	assert.Error(t, err)
}

func TestAnswerCache_NilIsEmpty(t *testing.T) {
	var c *AnswerCache
	ctx := context.Background()

	answer, found, err := c.Get(ctx, "medical_qa", "q")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, answer)

	assert.NoError(t, c.Set(ctx, "medical_qa", "q", "a", time.Minute))
	assert.NoError(t, c.Invalidate(ctx, "medical_qa", "q"))
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}
