package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/learnloop-core/internal/domain/shared"
)

func TestMemoryStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc := Document{
		Path:       "review_items/item-1",
		Collection: CollectionReviews,
		OwnerID:    "user-1",
		Data:       map[string]any{"content": "q"},
	}
	require.NoError(t, store.Set(ctx, doc))

	got, err := store.Get(ctx, "review_items/item-1")
	require.NoError(t, err)
	assert.Equal(t, "q", got.Data["content"])
	assert.False(t, got.UpdatedAt.IsZero())

	// Returned documents are copies.
	got.Data["content"] = "tampered"
	again, err := store.Get(ctx, "review_items/item-1")
	require.NoError(t, err)
	assert.Equal(t, "q", again.Data["content"])

	require.NoError(t, store.Delete(ctx, "review_items/item-1"))
	_, err = store.Get(ctx, "review_items/item-1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// Deleting a missing document is a no-op.
	assert.NoError(t, store.Delete(ctx, "review_items/item-1"))
}

func TestMemoryStore_UpdateFieldsScopedPaths(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, Document{
		Path:       "study_groups/g1",
		Collection: CollectionGroups,
		Data:       map[string]any{"activeQuiz": map[string]any{"participants": map[string]any{}}},
	}))

	// Two participants write under their own keys; neither clobbers the other.
	require.NoError(t, store.UpdateFields(ctx, "study_groups/g1", map[string]any{
		"activeQuiz.participants.alice": map[string]any{"score": 100, "answers": []any{1}},
	}))
	require.NoError(t, store.UpdateFields(ctx, "study_groups/g1", map[string]any{
		"activeQuiz.participants.bob": map[string]any{"score": 0, "answers": []any{0}},
	}))

	got, err := store.Get(ctx, "study_groups/g1")
	require.NoError(t, err)
	participants := got.Data["activeQuiz"].(map[string]any)["participants"].(map[string]any)
	assert.Contains(t, participants, "alice")
	assert.Contains(t, participants, "bob")

	_, ok := participants["alice"].(map[string]any)
	assert.True(t, ok)
}

func TestMemoryStore_UpdateFieldsMissingDoc(t *testing.T) {
	store := NewMemoryStore()
	err := store.UpdateFields(context.Background(), "nope/x", map[string]any{"a": 1})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMemoryStore_QueryFiltersByOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, Document{Path: "review_items/a", Collection: CollectionReviews, OwnerID: "u1"}))
	require.NoError(t, store.Set(ctx, Document{Path: "review_items/b", Collection: CollectionReviews, OwnerID: "u2"}))
	require.NoError(t, store.Set(ctx, Document{Path: "learning_paths/c", Collection: CollectionPaths, OwnerID: "u1"}))

	docs, err := store.Query(ctx, CollectionReviews, Filter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "review_items/a", docs[0].Path)

	all, err := store.Query(ctx, CollectionReviews, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore_SubscribeReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var got []Snapshot
	cancel, err := store.Subscribe(ctx, "study_groups/g1", func(s Snapshot) {
		got = append(got, s)
	})
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, Document{Path: "study_groups/g1", Collection: CollectionGroups, Data: map[string]any{"v": 1}}))
	require.NoError(t, store.UpdateFields(ctx, "study_groups/g1", map[string]any{"v": 2}))
	require.NoError(t, store.Delete(ctx, "study_groups/g1"))

	require.Len(t, got, 3)
	assert.False(t, got[0].Deleted)
	assert.True(t, got[2].Deleted)

	cancel()
	require.NoError(t, store.Set(ctx, Document{Path: "study_groups/g1", Collection: CollectionGroups}))
	assert.Len(t, got, 3, "no snapshots after unsubscribe")
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.FailWith(shared.ErrPermission)
	err := store.Set(ctx, Document{Path: "x/y"})
	assert.ErrorIs(t, err, shared.ErrPermission)
	_, err = store.Query(ctx, CollectionReviews, Filter{})
	assert.ErrorIs(t, err, shared.ErrPermission)

	store.FailWith(nil)
	assert.NoError(t, store.Set(ctx, Document{Path: "x/y"}))
}

func TestMemoryStore_BatchWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.BatchWrite(ctx, []WriteOp{
		{Kind: OpSet, Doc: Document{Path: "a/1", Collection: "a", Data: map[string]any{"n": 1}}},
		{Kind: OpSet, Doc: Document{Path: "a/2", Collection: "a", Data: map[string]any{"n": 2}}},
		{Kind: OpDelete, Doc: Document{Path: "a/1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
	_, err = store.Get(ctx, "a/2")
	assert.NoError(t, err)
}
