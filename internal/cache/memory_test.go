package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, err := c.Load(ctx, "u1")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, c.Save(ctx, "u1", []byte(`{"state":1}`)))

	blob, err := c.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"state":1}`), blob)

	// Loaded blobs are copies.
	blob[0] = 'X'
	again, err := c.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, byte('{'), again[0])

	require.NoError(t, c.Clear(ctx, "u1"))
	_, err = c.Load(ctx, "u1")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	// Clearing again is a no-op.
	assert.NoError(t, c.Clear(ctx, "u1"))
}

func TestMemoryCache_EmptyOwner(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, err := c.Load(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyOwner)
	assert.ErrorIs(t, c.Save(ctx, "", nil), ErrEmptyOwner)
	assert.ErrorIs(t, c.Clear(ctx, ""), ErrEmptyOwner)
}

func TestMemoryCache_FailureInjection(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	boom := errors.New("boom")
	c.FailWith(boom)

	assert.ErrorIs(t, c.Save(ctx, "u1", []byte("x")), boom)
	_, err := c.Load(ctx, "u1")
	assert.ErrorIs(t, err, boom)

	c.FailWith(nil)
	assert.NoError(t, c.Save(ctx, "u1", []byte("x")))
}
