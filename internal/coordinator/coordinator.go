// Package coordinator runs the shared group-quiz protocol on top of the
// remote document store. Every member holds a subscription to their group's
// document; the leader writes whole-document state transitions, members
// write only their own field-scoped participant record, and everyone treats
// incoming snapshots as authoritative.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/learnloop/learnloop-core/internal/domain/group"
	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/internal/notify"
	"github.com/learnloop/learnloop-core/internal/remote"
	"github.com/learnloop/learnloop-core/internal/store"
	"github.com/learnloop/learnloop-core/pkg/logger"
	"github.com/learnloop/learnloop-core/pkg/retry"
)

// QuestionGenerator produces quiz questions for a topic. Satisfied by
// generator.Client.
type QuestionGenerator interface {
	GenerateQuiz(ctx context.Context, topic string, count int) ([]group.Question, error)
}

// Options configures a Coordinator.
type Options struct {
	// Store is the local entity store. Required.
	Store *store.Store

	// Remote is the shared document store. Required. Group documents live
	// remote-first: the coordinator never queues them through the outbox.
	Remote remote.Store

	// Generator supplies quiz questions on StartQuiz. Required.
	Generator QuestionGenerator

	// Bus receives quiz lifecycle events. Optional.
	Bus shared.EventPublisher

	// Notifier surfaces quiz-started pushes. Optional.
	Notifier notify.Notifier

	// Logger defaults to the package default.
	Logger *logger.Logger

	// Now overrides the clock in tests.
	Now func() time.Time

	// Retrier overrides the default remote-store retrier. Tests pass a
	// fast one.
	Retrier *retry.Retrier
}

// Coordinator drives group membership and the quiz state machine. All
// authorization lives in the group entity; the coordinator's job is wiring
// transitions to the right kind of remote write.
type Coordinator struct {
	ownerID   string
	store     *store.Store
	remote    remote.Store
	generator QuestionGenerator
	bus       shared.EventPublisher
	notifier  notify.Notifier
	log       *logger.Logger
	retrier   *retry.Retrier
	now       func() time.Time

	mu   gosync.Mutex
	subs map[string]remote.Unsubscribe
	// harvested marks quiz runs already turned into review items, keyed by
	// group id + quiz start time. Snapshots replay, side effects must not.
	harvested map[string]bool
	closed    bool
}

// New creates a coordinator for the store's owner.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: coordinator needs a store", shared.ErrValidation)
	}
	if opts.Remote == nil {
		return nil, fmt.Errorf("%w: coordinator needs a remote store", shared.ErrValidation)
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("%w: coordinator needs a question generator", shared.ErrValidation)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.RemoteStoreRetrier()
	}

	return &Coordinator{
		ownerID:   opts.Store.OwnerID(),
		store:     opts.Store,
		remote:    opts.Remote,
		generator: opts.Generator,
		bus:       opts.Bus,
		notifier:  opts.Notifier,
		log:       opts.Logger.With(logger.Component("coordinator")),
		retrier:   opts.Retrier,
		now:       opts.Now,
		subs:      make(map[string]remote.Unsubscribe),
		harvested: make(map[string]bool),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBERSHIP
// ══════════════════════════════════════════════════════════════════════════════

// CreateGroup creates a group with the caller as leader, publishes it and
// subscribes to its document.
func (c *Coordinator) CreateGroup(ctx context.Context, displayName string) (*group.StudyGroup, error) {
	code, err := gonanoid.Generate(group.CodeAlphabet, group.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate join code: %w", err)
	}

	g, err := group.NewStudyGroup(group.NewGroupParams{
		ID:          uuid.NewString(),
		Code:        group.JoinCode(code),
		CreatedBy:   c.ownerID,
		DisplayName: displayName,
		Now:         c.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create group: %v", shared.ErrValidation, err)
	}

	if err := c.pushGroup(ctx, g); err != nil {
		return nil, err
	}
	if err := c.watch(ctx, g.ID); err != nil {
		return nil, err
	}

	c.log.Info("group created", logger.GroupID(g.ID))
	return g.Clone(), nil
}

// JoinGroup adds the caller to the group with the given join code.
func (c *Coordinator) JoinGroup(ctx context.Context, code group.JoinCode, displayName string) (*group.StudyGroup, error) {
	if !code.IsValid() {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, group.ErrBadCode)
	}

	var docs []remote.Document
	err := c.remoteDo(ctx, func(ctx context.Context) error {
		var qerr error
		docs, qerr = c.remote.Query(ctx, remote.CollectionGroups, remote.Filter{})
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("look up group by code: %w", err)
	}

	var g *group.StudyGroup
	for _, doc := range docs {
		candidate, err := store.DecodeGroup(doc.Data)
		if err != nil {
			c.log.Warn("skipping malformed group document",
				logger.DocPath(doc.Path), logger.Err(err))
			continue
		}
		if candidate.Code == code {
			g = candidate
			break
		}
	}
	if g == nil {
		return nil, fmt.Errorf("group with code %q: %w", code, shared.ErrNotFound)
	}

	if err := g.AddMember(c.ownerID, displayName, c.now()); err != nil {
		if errors.Is(err, group.ErrAlreadyMember) {
			// Rejoining is idempotent; just resubscribe.
			if err := c.installGroup(ctx, g); err != nil {
				return nil, err
			}
			return g.Clone(), nil
		}
		return nil, fmt.Errorf("%w: join group: %v", shared.ErrValidation, err)
	}

	if err := c.installGroup(ctx, g); err != nil {
		return nil, err
	}

	c.log.Info("joined group", logger.GroupID(g.ID))
	return g.Clone(), nil
}

// LeaveGroup drops the local subscription and view of a group. The remote
// member record stays; the group is simply no longer followed.
func (c *Coordinator) LeaveGroup(ctx context.Context, groupID string) {
	c.mu.Lock()
	if unsub, ok := c.subs[groupID]; ok {
		unsub()
		delete(c.subs, groupID)
	}
	c.mu.Unlock()

	c.store.RemoveGroup(ctx, groupID)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUIZ TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// StartQuiz generates questions for the topic and installs a quiz session
// on the group. The entity enforces that only the leader may do this; a
// generation failure surfaces to the caller and leaves the group untouched.
func (c *Coordinator) StartQuiz(ctx context.Context, groupID, topic string, questionCount int) (*group.StudyGroup, error) {
	g, err := c.store.Group(groupID)
	if err != nil {
		return nil, err
	}
	// Authorization is checked before spending a generation call.
	if !g.IsLeader(c.ownerID) {
		return nil, classifyGroupErr("StartQuiz", group.ErrNotLeader)
	}

	questions, err := c.generator.GenerateQuiz(ctx, topic, questionCount)
	if err != nil {
		return nil, err
	}

	if err := g.StartQuiz(c.ownerID, topic, questions, c.now()); err != nil {
		return nil, classifyGroupErr("StartQuiz", err)
	}
	if err := c.pushGroup(ctx, g); err != nil {
		return nil, err
	}

	c.publish(shared.NewBaseEvent(shared.EventQuizStarted, groupID, map[string]any{
		"topic":     topic,
		"questions": len(questions),
	}))
	if c.notifier != nil {
		if err := c.notifier.NotifyQuizStarted(ctx, c.ownerID, groupID, topic); err != nil {
			c.log.Warn("quiz-started notification failed", logger.Err(err))
		}
	}
	return g.Clone(), nil
}

// SubmitAnswer records the caller's answer for the current question. Only
// the caller's own participant record is written remotely, as a field-scoped
// update, so simultaneous submissions from other members are preserved.
func (c *Coordinator) SubmitAnswer(ctx context.Context, groupID string, qIndex, answerIndex int) (bool, error) {
	g, err := c.store.Group(groupID)
	if err != nil {
		return false, err
	}
	correct, err := g.SubmitAnswer(c.ownerID, qIndex, answerIndex, c.now())
	if err != nil {
		return false, classifyGroupErr("SubmitAnswer", err)
	}

	fields := store.ParticipantField(c.ownerID, g.ActiveQuiz.Participants[c.ownerID])
	path := store.DocPath(remote.CollectionGroups, groupID)
	err = c.remoteDo(ctx, func(ctx context.Context) error {
		return c.remote.UpdateFields(ctx, path, fields)
	})
	if err != nil {
		return false, fmt.Errorf("write answer: %w", err)
	}
	if err := c.store.PutGroup(ctx, g); err != nil {
		return false, err
	}

	c.publish(shared.NewBaseEvent(shared.EventAnswerSubmitted, groupID, map[string]any{
		"question_index": qIndex,
		"correct":        correct,
	}))
	return correct, nil
}

// AdvanceQuestion moves the quiz to the next question, completing it past
// the last one. Leader only.
func (c *Coordinator) AdvanceQuestion(ctx context.Context, groupID string) (*group.StudyGroup, error) {
	g, err := c.store.Group(groupID)
	if err != nil {
		return nil, err
	}
	if err := g.AdvanceQuestion(c.ownerID, c.now()); err != nil {
		return nil, classifyGroupErr("AdvanceQuestion", err)
	}
	if err := c.pushGroup(ctx, g); err != nil {
		return nil, err
	}

	c.publish(shared.NewBaseEvent(shared.EventQuestionAdvanced, groupID, map[string]any{
		"question_index": g.ActiveQuiz.CurrentQuestionIndex,
		"status":         string(g.ActiveQuiz.Status),
	}))
	c.harvestIfCompleted(ctx, g)
	return g.Clone(), nil
}

// EndQuiz clears the active quiz. Leader only.
func (c *Coordinator) EndQuiz(ctx context.Context, groupID string) error {
	g, err := c.store.Group(groupID)
	if err != nil {
		return err
	}
	if err := g.EndQuiz(c.ownerID, c.now()); err != nil {
		return classifyGroupErr("EndQuiz", err)
	}
	if err := c.pushGroup(ctx, g); err != nil {
		return err
	}

	c.publish(shared.NewBaseEvent(shared.EventQuizEnded, groupID, nil))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// Resubscribe re-establishes subscriptions for every group currently in the
// local store. Called after startup snapshot load and after sync recovery.
func (c *Coordinator) Resubscribe(ctx context.Context) error {
	for _, g := range c.store.Groups() {
		if err := c.watch(ctx, g.ID); err != nil {
			return err
		}
	}
	return nil
}

// Close cancels every subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, unsub := range c.subs {
		unsub()
		delete(c.subs, id)
	}
	c.closed = true
}

// watch subscribes to one group document, once.
func (c *Coordinator) watch(ctx context.Context, groupID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: coordinator is closed", shared.ErrValidation)
	}
	if _, ok := c.subs[groupID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	path := store.DocPath(remote.CollectionGroups, groupID)
	unsub, err := c.remote.Subscribe(ctx, path, func(snap remote.Snapshot) {
		c.onSnapshot(ctx, groupID, snap)
	})
	if err != nil {
		return fmt.Errorf("subscribe to group: %w", err)
	}

	c.mu.Lock()
	c.subs[groupID] = unsub
	c.mu.Unlock()
	return nil
}

// onSnapshot applies one authoritative group state. Snapshots always win
// over the local copy: a member who raced the leader sees their divergence
// corrected by the next snapshot.
func (c *Coordinator) onSnapshot(ctx context.Context, groupID string, snap remote.Snapshot) {
	if snap.Deleted {
		c.store.RemoveGroup(ctx, groupID)
		c.publish(shared.NewBaseEvent(shared.EventGroupSnapshot, groupID, map[string]any{
			"deleted": true,
		}))
		return
	}

	g, err := store.DecodeGroup(snap.Doc.Data)
	if err != nil {
		c.log.Warn("rejecting malformed group snapshot",
			logger.GroupID(groupID), logger.Err(err))
		return
	}

	prev, prevErr := c.store.Group(groupID)
	if err := c.store.PutGroup(ctx, g); err != nil {
		c.log.Warn("could not apply group snapshot",
			logger.GroupID(groupID), logger.Err(err))
		return
	}

	c.publish(shared.NewBaseEvent(shared.EventGroupSnapshot, groupID, map[string]any{
		"updated_at": g.UpdatedAt,
	}))

	if prevErr == nil && quizAppeared(prev, g) && !g.IsLeader(c.ownerID) && c.notifier != nil {
		if err := c.notifier.NotifyQuizStarted(ctx, c.ownerID, groupID, g.ActiveQuiz.Topic); err != nil {
			c.log.Warn("quiz-started notification failed", logger.Err(err))
		}
	}
	c.harvestIfCompleted(ctx, g)
}

// harvestIfCompleted turns a completed quiz run into review items for the
// local member, once per run.
func (c *Coordinator) harvestIfCompleted(ctx context.Context, g *group.StudyGroup) {
	quiz := g.ActiveQuiz
	if quiz == nil || quiz.Status != group.StatusCompleted {
		return
	}
	if quiz.Participants[c.ownerID] == nil {
		return
	}

	key := g.ID + "|" + quiz.StartedAt.UTC().Format(time.RFC3339Nano)
	c.mu.Lock()
	if c.harvested[key] {
		c.mu.Unlock()
		return
	}
	c.harvested[key] = true
	c.mu.Unlock()

	items, err := c.store.CreateItemsFromQuiz(ctx, quiz.Topic, quiz.Questions)
	if err != nil {
		c.log.Warn("could not create review items from quiz",
			logger.GroupID(g.ID), logger.Err(err))
		return
	}
	c.store.RecordActivity(ctx)
	c.log.Info("quiz completed",
		logger.GroupID(g.ID),
		logger.Int("review_items", len(items)))
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// installGroup pushes a group remotely, stores it locally and subscribes.
func (c *Coordinator) installGroup(ctx context.Context, g *group.StudyGroup) error {
	if err := c.pushGroup(ctx, g); err != nil {
		return err
	}
	return c.watch(ctx, g.ID)
}

// pushGroup writes the whole group document remotely and mirrors it into
// the local store.
func (c *Coordinator) pushGroup(ctx context.Context, g *group.StudyGroup) error {
	data, err := store.EncodeGroup(g)
	if err != nil {
		return fmt.Errorf("encode group: %w", err)
	}
	doc := remote.Document{
		Path:       store.DocPath(remote.CollectionGroups, g.ID),
		Collection: remote.CollectionGroups,
		OwnerID:    g.CreatedBy,
		Data:       data,
		UpdatedAt:  g.UpdatedAt,
	}
	err = c.remoteDo(ctx, func(ctx context.Context) error {
		return c.remote.Set(ctx, doc)
	})
	if err != nil {
		return fmt.Errorf("write group: %w", err)
	}
	return c.store.PutGroup(ctx, g)
}

// remoteDo runs one remote call through the retrier. Network-class
// failures back off and retry; everything else fails immediately.
func (c *Coordinator) remoteDo(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && shared.IsTransient(err) {
			return retry.Retryable(err)
		}
		return err
	})
}

func (c *Coordinator) publish(event shared.Event) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(event); err != nil {
		c.log.Warn("event publish failed",
			logger.EventType(string(event.EventType())), logger.Err(err))
	}
}

// quizAppeared reports whether the new snapshot carries a quiz the previous
// local copy did not.
func quizAppeared(prev, next *group.StudyGroup) bool {
	if next.ActiveQuiz == nil || next.ActiveQuiz.Status != group.StatusInProgress {
		return false
	}
	return prev.ActiveQuiz == nil || !prev.ActiveQuiz.StartedAt.Equal(next.ActiveQuiz.StartedAt)
}

// classifyGroupErr maps entity rejections onto the shared taxonomy:
// authorization failures are permission errors, everything else is a
// validation failure. The rejection travels as a DomainError so callers
// see which operation the group refused.
func classifyGroupErr(op string, err error) error {
	kind := shared.ErrValidation
	if errors.Is(err, group.ErrNotLeader) || errors.Is(err, group.ErrNotMember) {
		kind = shared.ErrPermission
	}
	return shared.WrapError("group", op, kind, "transition rejected", err)
}
