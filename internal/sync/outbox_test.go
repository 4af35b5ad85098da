package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/learnloop-core/internal/remote"
)

var stamp = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestOutbox_FIFOOrder(t *testing.T) {
	o := NewOutbox()
	o.EnqueueSet(remote.CollectionReviews, "a", map[string]any{"v": 1}, stamp)
	o.EnqueueSet(remote.CollectionPaths, "b", map[string]any{"v": 2}, stamp)
	o.EnqueueSet(remote.CollectionReviews, "c", map[string]any{"v": 3}, stamp)

	pending := o.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "review_items/a", pending[0].Path())
	assert.Equal(t, "learning_paths/b", pending[1].Path())
	assert.Equal(t, "review_items/c", pending[2].Path())
}

func TestOutbox_CoalescesSetsPerPath(t *testing.T) {
	o := NewOutbox()
	o.EnqueueSet(remote.CollectionReviews, "a", map[string]any{"v": 1}, stamp)
	firstKey := o.Pending()[0].Key

	o.EnqueueSet(remote.CollectionPaths, "b", map[string]any{"v": 2}, stamp)
	later := stamp.Add(time.Minute)
	o.EnqueueSet(remote.CollectionReviews, "a", map[string]any{"v": 3}, later)

	pending := o.Pending()
	require.Len(t, pending, 2)

	// Newer write replaced the queued one in place, with a fresh key
	// and the newer entity version.
	assert.Equal(t, "review_items/a", pending[0].Path())
	assert.Equal(t, 3, pending[0].Data["v"])
	assert.Equal(t, later, pending[0].UpdatedAt)
	assert.NotEqual(t, firstKey, pending[0].Key)
}

func TestOutbox_DeleteCancelsQueuedWrites(t *testing.T) {
	o := NewOutbox()
	o.EnqueueSet(remote.CollectionSessions, "s1", map[string]any{"v": 1}, stamp)
	o.EnqueueSet(remote.CollectionSessions, "s2", map[string]any{"v": 2}, stamp)
	o.EnqueueDelete(remote.CollectionSessions, "s1")

	pending := o.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, remote.OpSet, pending[0].Kind)
	assert.Equal(t, "sessions/s2", pending[0].Path())
	assert.Equal(t, remote.OpDelete, pending[1].Kind)
	assert.Equal(t, "sessions/s1", pending[1].Path())
}

func TestOutbox_MarkDoneRemovesByKey(t *testing.T) {
	o := NewOutbox()
	o.EnqueueSet(remote.CollectionReviews, "a", nil, stamp)
	o.EnqueueSet(remote.CollectionReviews, "b", nil, stamp)

	key := o.Pending()[0].Key
	o.MarkDone(key)

	pending := o.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "review_items/b", pending[0].Path())

	// Unknown keys are ignored.
	o.MarkDone("missing")
	assert.Equal(t, 1, o.Depth())
}

func TestOutbox_MarkFailedCountsAttempts(t *testing.T) {
	o := NewOutbox()
	o.EnqueueSet(remote.CollectionReviews, "a", nil, stamp)

	key := o.Pending()[0].Key
	o.MarkFailed(key)
	o.MarkFailed(key)

	assert.Equal(t, 2, o.Pending()[0].Attempts)
}
