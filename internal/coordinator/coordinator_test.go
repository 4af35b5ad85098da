package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/learnloop-core/internal/domain/group"
	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/internal/remote"
	"github.com/learnloop/learnloop-core/internal/store"
	"github.com/learnloop/learnloop-core/pkg/retry"
)

type quizNotification struct {
	groupID string
	topic   string
}

type notifierRecorder struct {
	quizzes []quizNotification
}

func (r *notifierRecorder) NotifyReviewsDue(ctx context.Context, ownerID string, dueCount int) error {
	return nil
}

func (r *notifierRecorder) NotifyStreakAtRisk(ctx context.Context, ownerID string, current int) error {
	return nil
}

func (r *notifierRecorder) NotifyQuizStarted(ctx context.Context, ownerID, groupID, topic string) error {
	r.quizzes = append(r.quizzes, quizNotification{groupID: groupID, topic: topic})
	return nil
}

// stubGenerator returns a canned question set and records what was asked for.
type stubGenerator struct {
	questions []group.Question
	err       error
	calls     int
	topic     string
	count     int
}

func (s *stubGenerator) GenerateQuiz(ctx context.Context, topic string, count int) ([]group.Question, error) {
	s.calls++
	s.topic = topic
	s.count = count
	if s.err != nil {
		return nil, s.err
	}
	return s.questions, nil
}

type member struct {
	coord    *Coordinator
	store    *store.Store
	notifier *notifierRecorder
	gen      *stubGenerator
}

// newMember wires one user's store and coordinator onto a shared remote.
func newMember(t *testing.T, rs remote.Store, userID string) member {
	t.Helper()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	st, err := store.New(store.Options{
		OwnerID: userID,
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)

	notifier := &notifierRecorder{}
	gen := &stubGenerator{}
	coord, err := New(Options{
		Store:     st,
		Remote:    rs,
		Generator: gen,
		Notifier:  notifier,
		Now:       func() time.Time { return now },
		Retrier: retry.New(
			retry.WithMaxAttempts(2),
			retry.WithInitialDelay(time.Millisecond),
			retry.WithMaxDelay(5*time.Millisecond),
		),
	})
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	return member{coord: coord, store: st, notifier: notifier, gen: gen}
}

func TestCoordinator_RequiresGenerator(t *testing.T) {
	st, err := store.New(store.Options{OwnerID: "leader"})
	require.NoError(t, err)

	_, err = New(Options{
		Store:    st,
		Remote:   remote.NewMemoryStore(),
		Notifier: &notifierRecorder{},
	})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCoordinator_CreateGroup(t *testing.T) {
	rs := remote.NewMemoryStore()
	leader := newMember(t, rs, "leader")

	g, err := leader.coord.CreateGroup(context.Background(), "Lea")
	require.NoError(t, err)

	assert.True(t, g.Code.IsValid())
	assert.Equal(t, "leader", g.Leader())

	// The document is on the shared store and mirrored locally.
	doc, err := rs.Get(context.Background(), store.DocPath(remote.CollectionGroups, g.ID))
	require.NoError(t, err)
	assert.Equal(t, "leader", doc.OwnerID)

	local, err := leader.store.Group(g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Code, local.Code)
}

func TestCoordinator_JoinGroupByCode(t *testing.T) {
	rs := remote.NewMemoryStore()
	ctx := context.Background()
	leader := newMember(t, rs, "leader")
	joiner := newMember(t, rs, "joiner")

	g, err := leader.coord.CreateGroup(ctx, "Lea")
	require.NoError(t, err)

	joined, err := joiner.coord.JoinGroup(ctx, g.Code, "Jo")
	require.NoError(t, err)
	assert.True(t, joined.IsMember("joiner"))

	// The leader's subscription picked up the new membership.
	leaderView, err := leader.store.Group(g.ID)
	require.NoError(t, err)
	assert.True(t, leaderView.IsMember("joiner"))

	// Rejoining is idempotent.
	again, err := joiner.coord.JoinGroup(ctx, g.Code, "Jo")
	require.NoError(t, err)
	assert.Len(t, again.Members, 2)
}

func TestCoordinator_JoinGroupUnknownCode(t *testing.T) {
	rs := remote.NewMemoryStore()
	joiner := newMember(t, rs, "joiner")

	_, err := joiner.coord.JoinGroup(context.Background(), group.JoinCode("ZZZZZZZZZZ"), "Jo")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = joiner.coord.JoinGroup(context.Background(), group.JoinCode("short"), "Jo")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCoordinator_StartQuizRequiresLeader(t *testing.T) {
	rs := remote.NewMemoryStore()
	ctx := context.Background()
	leader := newMember(t, rs, "leader")
	joiner := newMember(t, rs, "joiner")

	g, err := leader.coord.CreateGroup(ctx, "Lea")
	require.NoError(t, err)
	_, err = joiner.coord.JoinGroup(ctx, g.Code, "Jo")
	require.NoError(t, err)

	_, err = joiner.coord.StartQuiz(ctx, g.ID, "go", 3)
	assert.ErrorIs(t, err, shared.ErrPermission)

	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "group", de.Domain)

	// A member without the leader role never spends a generation call.
	assert.Equal(t, 0, joiner.gen.calls)
}

func TestCoordinator_StartQuizSurfacesGeneratorFailure(t *testing.T) {
	rs := remote.NewMemoryStore()
	ctx := context.Background()
	leader := newMember(t, rs, "leader")

	g, err := leader.coord.CreateGroup(ctx, "Lea")
	require.NoError(t, err)

	leader.gen.err = shared.ErrGeneration
	_, err = leader.coord.StartQuiz(ctx, g.ID, "go", 3)
	assert.ErrorIs(t, err, shared.ErrGeneration)

	// The failed start left no quiz behind, locally or on the remote.
	local, err := leader.store.Group(g.ID)
	require.NoError(t, err)
	assert.Nil(t, local.ActiveQuiz)

	doc, err := rs.Get(ctx, store.DocPath(remote.CollectionGroups, g.ID))
	require.NoError(t, err)
	assert.Nil(t, doc.Data["activeQuiz"])
}

func TestCoordinator_QuizRoundTrip(t *testing.T) {
	rs := remote.NewMemoryStore()
	ctx := context.Background()
	leader := newMember(t, rs, "leader")
	joiner := newMember(t, rs, "joiner")

	g, err := leader.coord.CreateGroup(ctx, "Lea")
	require.NoError(t, err)
	_, err = joiner.coord.JoinGroup(ctx, g.Code, "Jo")
	require.NoError(t, err)

	leader.gen.questions = []group.Question{
		{Prompt: "What does 'go' start?", Options: []string{"a goroutine", "a thread"}, CorrectIndex: 0},
	}
	_, err = leader.coord.StartQuiz(ctx, g.ID, "concurrency", 1)
	require.NoError(t, err)
	assert.Equal(t, "concurrency", leader.gen.topic)
	assert.Equal(t, 1, leader.gen.count)

	// The joiner saw the quiz appear and was notified; the leader, who
	// started it, was notified exactly once by their own call.
	require.Len(t, joiner.notifier.quizzes, 1)
	assert.Equal(t, "concurrency", joiner.notifier.quizzes[0].topic)
	assert.Len(t, leader.notifier.quizzes, 1)

	// Both members answer; answers land as field-scoped writes that do not
	// clobber each other.
	correct, err := joiner.coord.SubmitAnswer(ctx, g.ID, 0, 0)
	require.NoError(t, err)
	assert.True(t, correct)

	correct, err = leader.coord.SubmitAnswer(ctx, g.ID, 0, 1)
	require.NoError(t, err)
	assert.False(t, correct)

	doc, err := rs.Get(ctx, store.DocPath(remote.CollectionGroups, g.ID))
	require.NoError(t, err)
	quiz := doc.Data["activeQuiz"].(map[string]any)
	participants := quiz["participants"].(map[string]any)
	require.Len(t, participants, 2)

	// The leader advances past the last question; the quiz completes and
	// each member turns it into review items exactly once.
	advanced, err := leader.coord.AdvanceQuestion(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, group.StatusCompleted, advanced.ActiveQuiz.Status)

	assert.Len(t, leader.store.ReviewItems(), 1)
	assert.Len(t, joiner.store.ReviewItems(), 1)
	assert.Equal(t, 1, joiner.store.Streak().Current)

	// A replayed snapshot of the completed quiz does not duplicate items.
	final, err := rs.Get(ctx, store.DocPath(remote.CollectionGroups, g.ID))
	require.NoError(t, err)
	require.NoError(t, rs.Set(ctx, *final))
	assert.Len(t, joiner.store.ReviewItems(), 1)
}

func TestCoordinator_SubmitAnswerRejectsWrongIndex(t *testing.T) {
	rs := remote.NewMemoryStore()
	ctx := context.Background()
	leader := newMember(t, rs, "leader")

	g, err := leader.coord.CreateGroup(ctx, "Lea")
	require.NoError(t, err)

	leader.gen.questions = []group.Question{
		{Prompt: "Q1", Options: []string{"a", "b"}, CorrectIndex: 0},
		{Prompt: "Q2", Options: []string{"a", "b"}, CorrectIndex: 1},
	}
	_, err = leader.coord.StartQuiz(ctx, g.ID, "go", 2)
	require.NoError(t, err)

	_, err = leader.coord.SubmitAnswer(ctx, g.ID, 1, 0)
	assert.ErrorIs(t, err, shared.ErrValidation)

	// Answering the same question twice is rejected too.
	_, err = leader.coord.SubmitAnswer(ctx, g.ID, 0, 0)
	require.NoError(t, err)
	_, err = leader.coord.SubmitAnswer(ctx, g.ID, 0, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCoordinator_EndQuiz(t *testing.T) {
	rs := remote.NewMemoryStore()
	ctx := context.Background()
	leader := newMember(t, rs, "leader")

	g, err := leader.coord.CreateGroup(ctx, "Lea")
	require.NoError(t, err)

	leader.gen.questions = []group.Question{{Prompt: "Q", Options: []string{"a", "b"}, CorrectIndex: 0}}
	_, err = leader.coord.StartQuiz(ctx, g.ID, "go", 1)
	require.NoError(t, err)

	require.NoError(t, leader.coord.EndQuiz(ctx, g.ID))

	local, err := leader.store.Group(g.ID)
	require.NoError(t, err)
	assert.Nil(t, local.ActiveQuiz)

	require.ErrorIs(t, leader.coord.EndQuiz(ctx, g.ID), shared.ErrValidation)
}

func TestCoordinator_LeaveGroupDropsLocalView(t *testing.T) {
	rs := remote.NewMemoryStore()
	ctx := context.Background()
	leader := newMember(t, rs, "leader")
	joiner := newMember(t, rs, "joiner")

	g, err := leader.coord.CreateGroup(ctx, "Lea")
	require.NoError(t, err)
	_, err = joiner.coord.JoinGroup(ctx, g.Code, "Jo")
	require.NoError(t, err)

	joiner.coord.LeaveGroup(ctx, g.ID)
	_, err = joiner.store.Group(g.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	// Unsubscribed: later changes no longer reach the departed member.
	leader.gen.questions = []group.Question{{Prompt: "Q", Options: []string{"a", "b"}, CorrectIndex: 0}}
	_, err = leader.coord.StartQuiz(ctx, g.ID, "go", 1)
	require.NoError(t, err)
	_, err = joiner.store.Group(g.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
