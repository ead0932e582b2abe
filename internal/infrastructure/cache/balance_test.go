package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Mupaky/topreach-sub001/internal/model"
	"github.com/Mupaky/topreach-sub001/internal/testutil"

	"github.com/stretchr/testify/assert"
)

func TestBalanceCache_SetGetInvalidate(t *testing.T) {
	client, mr := testutil.NewRedis(t)
	c := NewBalanceCache(client, 30*time.Second)
	ctx := context.Background()

	_, ok := c.Get(ctx, 1, model.CategoryEditing)
	assert.False(t, ok)

	c.Set(ctx, 1, model.CategoryEditing, 100, 4)
	c.Set(ctx, 1, model.CategoryDesign, 7, 0)

	got, ok := c.Get(ctx, 1, model.CategoryEditing)
	assert.True(t, ok)
	assert.Equal(t, Entry{Balance: 100, Version: 4}, got)

	c.Invalidate(ctx, 1, model.CategoryEditing)
	_, ok = c.Get(ctx, 1, model.CategoryEditing)
	assert.False(t, ok)

	got, ok = c.Get(ctx, 1, model.CategoryDesign)
	assert.True(t, ok)
	assert.EqualValues(t, 7, got.Balance)

	mr.FastForward(31 * time.Second)
	_, ok = c.Get(ctx, 1, model.CategoryDesign)
	assert.False(t, ok, "过期后应当重新聚合")
}

func TestBalanceCache_OlderVersionDoesNotOverwrite(t *testing.T) {
	client, _ := testutil.NewRedis(t)
	c := NewBalanceCache(client, 30*time.Second)
	ctx := context.Background()

	c.Set(ctx, 1, model.CategoryEditing, 40, 2)
	c.Set(ctx, 1, model.CategoryEditing, 100, 1)

	got, ok := c.Get(ctx, 1, model.CategoryEditing)
	assert.True(t, ok)
	assert.Equal(t, Entry{Balance: 40, Version: 2}, got)

	c.Set(ctx, 1, model.CategoryEditing, 25, 3)
	got, _ = c.Get(ctx, 1, model.CategoryEditing)
	assert.Equal(t, Entry{Balance: 25, Version: 3}, got)
}

func TestBalanceCache_NilClientIsNoop(t *testing.T) {
	c := NewBalanceCache(nil, time.Second)
	ctx := context.Background()

	c.Set(ctx, 1, model.CategoryEditing, 5, 1)
	c.Invalidate(ctx, 1, model.CategoryEditing)
	_, ok := c.Get(ctx, 1, model.CategoryEditing)
	assert.False(t, ok)
}
