package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/learnloop-core/internal/cache"
	"github.com/learnloop/learnloop-core/internal/domain/group"
	"github.com/learnloop/learnloop-core/internal/domain/path"
	"github.com/learnloop/learnloop-core/internal/domain/review"
	"github.com/learnloop/learnloop-core/internal/domain/session"
	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/internal/remote"
)

const testOwner = "user-1"

type recordedIntent struct {
	kind       string
	collection string
	id         string
	data       map[string]any
	updatedAt  time.Time
}

type outboxRecorder struct {
	intents []recordedIntent
}

func (r *outboxRecorder) EnqueueSet(collection, id string, data map[string]any, updatedAt time.Time) {
	r.intents = append(r.intents, recordedIntent{kind: "set", collection: collection, id: id, data: data, updatedAt: updatedAt})
}

func (r *outboxRecorder) EnqueueDelete(collection, id string) {
	r.intents = append(r.intents, recordedIntent{kind: "delete", collection: collection, id: id})
}

type eventRecorder struct {
	events []shared.Event
}

func (r *eventRecorder) Publish(e shared.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []shared.EventType {
	out := make([]shared.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

func newTestStore(t *testing.T) (*Store, *outboxRecorder, *eventRecorder) {
	t.Helper()

	outbox := &outboxRecorder{}
	events := &eventRecorder{}
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	st, err := New(Options{
		OwnerID: testOwner,
		Outbox:  outbox,
		Bus:     events,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	return st, outbox, events
}

func TestStore_RequiresOwner(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStore_SessionLifecycle(t *testing.T) {
	st, outbox, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "Pointers")
	require.NoError(t, err)
	assert.Equal(t, testOwner, sess.OwnerID)

	_, err = st.AppendMessage(ctx, sess.ID, session.RoleUser, "What is a pointer?")
	require.NoError(t, err)
	updated, err := st.AppendMessage(ctx, sess.ID, session.RoleAssistant, "An address.")
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)

	// Each mutation produced a sync intent for the session document,
	// stamped with the entity's own version.
	var sets int
	for _, intent := range outbox.intents {
		if intent.collection == remote.CollectionSessions && intent.kind == "set" {
			sets++
			assert.Equal(t, updated.UpdatedAt, intent.updatedAt)
		}
	}
	assert.Equal(t, 3, sets)

	require.NoError(t, st.DeleteSession(ctx, sess.ID))
	last := outbox.intents[len(outbox.intents)-1]
	assert.Equal(t, "delete", last.kind)
	assert.Equal(t, sess.ID, last.id)

	_, err = st.Session(sess.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStore_AppendMessageValidation(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "t")
	require.NoError(t, err)

	_, err = st.AppendMessage(ctx, sess.ID, "narrator", "hi")
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = st.AppendMessage(ctx, "missing", session.RoleUser, "hi")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStore_SubmitReviewAdvancesScheduleAndStreak(t *testing.T) {
	st, _, events := newTestStore(t)
	ctx := context.Background()

	item, err := st.CreateReviewItem(ctx, "What does defer do?", "go")
	require.NoError(t, err)

	next, err := st.SubmitReview(ctx, item.ID, review.RatingGood)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Repetitions)
	assert.Equal(t, review.Interval(1), next.IntervalDays)

	types := events.types()
	assert.Contains(t, types, shared.EventReviewSubmitted)
	assert.Contains(t, types, shared.EventStreakUpdated)

	streak := st.Streak()
	assert.Equal(t, 1, streak.Current)

	// Same-day activity does not advance the streak again.
	_, err = st.SubmitReview(ctx, item.ID, review.RatingGood)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Streak().Current)
}

func TestStore_SubmitReviewUnknownItem(t *testing.T) {
	st, _, _ := newTestStore(t)
	_, err := st.SubmitReview(context.Background(), "missing", review.RatingGood)
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, err, shared.ErrReviewItemNotFound)

	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "review", de.Domain)
}

func TestStore_CreateItemsFromQuiz(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	items, err := st.CreateItemsFromQuiz(ctx, "go", []group.Question{
		{Prompt: "Q1", Options: []string{"a", "b"}, CorrectIndex: 0},
		{Prompt: "Q2", Options: []string{"a", "b"}, CorrectIndex: 1},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	due := st.DueReviews(time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC))
	assert.Len(t, due, 2, "fresh quiz items are due the next day")
}

func TestStore_PathIngestionAndCompletion(t *testing.T) {
	st, _, events := newTestStore(t)
	ctx := context.Background()

	p := &path.LearningPath{
		ID:      "p1",
		OwnerID: testOwner,
		Title:   "Go basics",
		Nodes: []path.PathNode{
			{ID: "a", Label: "Syntax", Status: path.StatusLocked},
			{ID: "b", Label: "Slices", Status: path.StatusLocked, Prerequisites: []string{"a"}},
		},
	}

	ingested, err := st.IngestPath(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, path.StatusUnlocked, ingested.Nodes[0].Status)

	result, err := st.CompleteNode(ctx, "p1", "a")
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, []string{"b"}, result.Unlocked)
	assert.Equal(t, 50, result.Path.Progress)
	assert.Contains(t, events.types(), shared.EventNodesUnlocked)

	result, err = st.CompleteNode(ctx, "p1", "b")
	require.NoError(t, err)
	assert.Equal(t, 100, result.Path.Progress)
	assert.Contains(t, events.types(), shared.EventPathCompleted)

	// Unknown node ids are reported no-ops.
	result, err = st.CompleteNode(ctx, "p1", "ghost")
	require.NoError(t, err)
	assert.False(t, result.Changed)
}

func TestStore_IngestPathRejectsCycles(t *testing.T) {
	st, _, _ := newTestStore(t)

	p := &path.LearningPath{
		ID:      "p1",
		OwnerID: testOwner,
		Title:   "Broken",
		Nodes: []path.PathNode{
			{ID: "a", Label: "A", Status: path.StatusLocked, Prerequisites: []string{"b"}},
			{ID: "b", Label: "B", Status: path.StatusLocked, Prerequisites: []string{"a"}},
		},
	}

	_, err := st.IngestPath(context.Background(), p)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStore_GroupViewIsCoordinatorOwned(t *testing.T) {
	st, outbox, _ := newTestStore(t)
	ctx := context.Background()

	g, err := group.NewStudyGroup(group.NewGroupParams{
		ID:          "g1",
		Code:        group.JoinCode("ABCDEFGH12"),
		CreatedBy:   testOwner,
		DisplayName: "Me",
	})
	require.NoError(t, err)

	before := len(outbox.intents)
	require.NoError(t, st.PutGroup(ctx, g))
	assert.Len(t, outbox.intents, before, "group writes bypass the outbox")

	got, err := st.Group("g1")
	require.NoError(t, err)
	assert.Equal(t, testOwner, got.Leader())

	st.RemoveGroup(ctx, "g1")
	_, err = st.Group("g1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStore_ApplyRemoteLastWriterWins(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	item, err := st.CreateReviewItem(ctx, "local", "go")
	require.NoError(t, err)

	newer := item.UpdatedAt.Add(time.Hour)
	data, err := encodeReviewItem(&review.ReviewItem{
		ID: item.ID, OwnerID: testOwner, Content: "remote", Topic: "go",
		EaseFactor: 2.5, IntervalDays: 1,
		CreatedAt: item.CreatedAt, LastReviewedAt: newer,
		NextReviewDate: newer.Add(24 * time.Hour), UpdatedAt: newer,
	})
	require.NoError(t, err)

	applied, err := st.ApplyRemote(ctx, remote.Document{
		Path:       DocPath(remote.CollectionReviews, item.ID),
		Collection: remote.CollectionReviews,
		OwnerID:    testOwner,
		Data:       data,
		UpdatedAt:  newer,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := st.ReviewItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote", got.Content)

	// A stale copy is rejected without touching local state.
	stale := item.UpdatedAt.Add(-time.Hour)
	data["updatedAt"] = stale.Format(time.RFC3339)
	applied, err = st.ApplyRemote(ctx, remote.Document{
		Path:       DocPath(remote.CollectionReviews, item.ID),
		Collection: remote.CollectionReviews,
		Data:       data,
		UpdatedAt:  stale,
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestStore_ApplyRemoteRejectsMalformed(t *testing.T) {
	st, _, _ := newTestStore(t)

	_, err := st.ApplyRemote(context.Background(), remote.Document{
		Path:       "review_items/x",
		Collection: remote.CollectionReviews,
		Data:       map[string]any{"id": "x", "easeFactor": 0.5},
	})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = st.ApplyRemote(context.Background(), remote.Document{
		Path:       "mystery/x",
		Collection: "mystery",
		Data:       map[string]any{},
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	snapshots := cache.NewMemoryCache()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	st, err := New(Options{
		OwnerID: testOwner,
		Cache:   snapshots,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	sess, err := st.CreateSession(ctx, "chat")
	require.NoError(t, err)
	item, err := st.CreateReviewItem(ctx, "card", "go")
	require.NoError(t, err)
	_, err = st.SubmitReview(ctx, item.ID, review.RatingEasy)
	require.NoError(t, err)

	// A fresh store over the same cache resumes from the snapshot.
	revived, err := New(Options{
		OwnerID: testOwner,
		Cache:   snapshots,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	require.NoError(t, revived.LoadSnapshot(ctx))

	gotSess, err := revived.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "chat", gotSess.Title)

	gotItem, err := revived.ReviewItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotItem.Repetitions)
	assert.Equal(t, 1, revived.Streak().Current)
}

func TestStore_LoadSnapshotColdStart(t *testing.T) {
	st, err := New(Options{OwnerID: testOwner, Cache: cache.NewMemoryCache()})
	require.NoError(t, err)

	require.NoError(t, st.LoadSnapshot(context.Background()))
	assert.Empty(t, st.Sessions())
	assert.Empty(t, st.ReviewItems())
}

func TestStore_ExportDocumentsExcludesGroups(t *testing.T) {
	st, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateReviewItem(ctx, "card", "go")
	require.NoError(t, err)

	g, err := group.NewStudyGroup(group.NewGroupParams{
		ID: "g1", Code: group.JoinCode("ABCDEFGH12"), CreatedBy: testOwner,
	})
	require.NoError(t, err)
	require.NoError(t, st.PutGroup(ctx, g))

	docs, err := st.ExportDocuments()
	require.NoError(t, err)
	for _, doc := range docs {
		assert.NotEqual(t, remote.CollectionGroups, doc.Collection)
	}
}
