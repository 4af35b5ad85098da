// Package store implements the local store service: the single owner of
// the in-memory entity model. Every mutation happens synchronously under
// one mutex, runs the relevant domain engine inline, persists a snapshot
// to the local cache, enqueues a sync intent and publishes domain events.
// Callers always get back the post-mutation state.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/learnloop-core/internal/cache"
	"github.com/learnloop/learnloop-core/internal/domain/gamification"
	"github.com/learnloop/learnloop-core/internal/domain/group"
	"github.com/learnloop/learnloop-core/internal/domain/path"
	"github.com/learnloop/learnloop-core/internal/domain/review"
	"github.com/learnloop/learnloop-core/internal/domain/session"
	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/internal/remote"
	"github.com/learnloop/learnloop-core/pkg/logger"
)

// Outbox receives sync intents for every local mutation. The sync manager
// provides the real implementation; tests pass nil or a recorder.
type Outbox interface {
	// EnqueueSet records intent to write the full document. updatedAt is
	// the entity's merge version and travels with the write so the remote
	// copy carries the same version the local one does.
	EnqueueSet(collection, id string, data map[string]any, updatedAt time.Time)

	// EnqueueDelete records intent to delete the document, cancelling any
	// queued writes for the same path.
	EnqueueDelete(collection, id string)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Options configures a Store.
type Options struct {
	// OwnerID is the local user. Required.
	OwnerID string

	// Cache persists snapshots across restarts. Optional.
	Cache cache.SnapshotCache

	// Bus receives domain events. Optional.
	Bus shared.EventPublisher

	// Outbox receives sync intents. Optional; nil means local-only.
	Outbox Outbox

	// Logger for structured logging. Defaults to logger.Default().
	Logger *logger.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store owns the local entity model.
type Store struct {
	mu sync.Mutex

	ownerID  string
	sessions map[string]*session.ChatSession
	reviews  map[string]*review.ReviewItem
	paths    map[string]*path.LearningPath
	groups   map[string]*group.StudyGroup
	streak   *gamification.Streak

	cache  cache.SnapshotCache
	bus    shared.EventPublisher
	outbox Outbox
	log    *logger.Logger
	now    func() time.Time
}

// New creates an empty store for one owner.
func New(opts Options) (*Store, error) {
	if opts.OwnerID == "" {
		return nil, fmt.Errorf("%w: store owner is required", shared.ErrValidation)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Store{
		ownerID:  opts.OwnerID,
		sessions: make(map[string]*session.ChatSession),
		reviews:  make(map[string]*review.ReviewItem),
		paths:    make(map[string]*path.LearningPath),
		groups:   make(map[string]*group.StudyGroup),
		cache:    opts.Cache,
		bus:      opts.Bus,
		outbox:   opts.Outbox,
		log:      opts.Logger,
		now:      opts.Now,
	}, nil
}

// OwnerID returns the local user id.
func (s *Store) OwnerID() string { return s.ownerID }

// ══════════════════════════════════════════════════════════════════════════════
// CHAT SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

// CreateSession creates an empty chat session.
func (s *Store) CreateSession(ctx context.Context, title string) (*session.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, err := session.NewChatSession(uuid.NewString(), s.ownerID, title, now)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", shared.ErrValidation, err)
	}

	s.sessions[sess.ID] = sess
	s.afterMutationLocked(ctx, remote.CollectionSessions, sess.ID)
	return sess.Clone(), nil
}

// AppendMessage appends one message to a session's log.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role session.Role, content string) (*session.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, shared.ErrSessionNotFound)
	}
	if err := sess.Append(role, content, s.now()); err != nil {
		return nil, fmt.Errorf("%w: append message: %v", shared.ErrValidation, err)
	}

	s.afterMutationLocked(ctx, remote.CollectionSessions, sessionID)
	return sess.Clone(), nil
}

// DeleteSession removes a session. The delete intent cancels any queued
// writes for the same document.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return fmt.Errorf("session %q: %w", sessionID, shared.ErrSessionNotFound)
	}
	delete(s.sessions, sessionID)

	s.persistLocked(ctx)
	if s.outbox != nil {
		s.outbox.EnqueueDelete(remote.CollectionSessions, sessionID)
	}
	return nil
}

// Session returns a copy of one session.
func (s *Store) Session(sessionID string) (*session.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, shared.ErrSessionNotFound)
	}
	return sess.Clone(), nil
}

// Sessions returns copies of all sessions, most recently updated first.
func (s *Store) Sessions() []*session.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*session.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW ITEMS
// ══════════════════════════════════════════════════════════════════════════════

// CreateReviewItem creates a single review item due immediately.
func (s *Store) CreateReviewItem(ctx context.Context, content, topic string) (*review.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.createItemLocked(ctx, content, topic)
	if err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// CreateItemsFromQuiz creates one review item per quiz question. Called
// when a quiz completes so its material enters the review rotation.
func (s *Store) CreateItemsFromQuiz(ctx context.Context, topic string, questions []group.Question) ([]*review.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]*review.ReviewItem, 0, len(questions))
	for _, q := range questions {
		item, err := s.createItemLocked(ctx, q.Prompt, topic)
		if err != nil {
			return nil, err
		}
		items = append(items, item.Clone())
	}
	return items, nil
}

func (s *Store) createItemLocked(ctx context.Context, content, topic string) (*review.ReviewItem, error) {
	item, err := review.NewReviewItem(review.NewItemParams{
		ID:      uuid.NewString(),
		OwnerID: s.ownerID,
		Content: content,
		Topic:   topic,
		Now:     s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create review item: %v", shared.ErrValidation, err)
	}

	s.reviews[item.ID] = item
	s.afterMutationLocked(ctx, remote.CollectionReviews, item.ID)
	s.publish(shared.NewBaseEvent(shared.EventReviewItemCreated, item.ID, map[string]any{
		"owner_id": item.OwnerID,
		"topic":    item.Topic,
	}))
	return item, nil
}

// SubmitReview rates an item and advances its schedule. The day counts as
// study activity, so the streak advances too.
func (s *Store) SubmitReview(ctx context.Context, itemID string, rating review.Rating) (*review.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.reviews[itemID]
	if !ok {
		return nil, fmt.Errorf("review item %q: %w", itemID, shared.ErrReviewItemNotFound)
	}

	now := s.now()
	next, err := review.SubmitReview(item, rating, now)
	if err != nil {
		return nil, err
	}
	s.reviews[itemID] = next

	s.afterMutationLocked(ctx, remote.CollectionReviews, itemID)
	s.publish(shared.NewReviewSubmittedEvent(itemID, s.ownerID, string(rating), int(next.IntervalDays)))
	s.recordActivityLocked(ctx, now)
	return next.Clone(), nil
}

// DueReviews returns copies of items due at now, most overdue first.
func (s *Store) DueReviews(now time.Time) []*review.ReviewItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]*review.ReviewItem, 0, len(s.reviews))
	for _, item := range s.reviews {
		items = append(items, item)
	}
	due := review.Due(items, now)

	out := make([]*review.ReviewItem, 0, len(due))
	for _, item := range due {
		out = append(out, item.Clone())
	}
	return out
}

// ReviewItem returns a copy of one item.
func (s *Store) ReviewItem(itemID string) (*review.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.reviews[itemID]
	if !ok {
		return nil, fmt.Errorf("review item %q: %w", itemID, shared.ErrReviewItemNotFound)
	}
	return item.Clone(), nil
}

// ReviewItems returns copies of all items.
func (s *Store) ReviewItems() []*review.ReviewItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*review.ReviewItem, 0, len(s.reviews))
	for _, item := range s.reviews {
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING PATHS
// ══════════════════════════════════════════════════════════════════════════════

// IngestPath validates and stores a learning path. The prerequisite graph
// must be a DAG; root nodes come out unlocked.
func (s *Store) IngestPath(ctx context.Context, p *path.LearningPath) (*path.LearningPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized, err := path.Normalize(p)
	if err != nil {
		return nil, fmt.Errorf("%w: ingest path: %v", shared.ErrValidation, err)
	}
	normalized.UpdatedAt = s.now()

	s.paths[normalized.ID] = normalized
	s.afterMutationLocked(ctx, remote.CollectionPaths, normalized.ID)
	s.publish(shared.NewBaseEvent(shared.EventPathIngested, normalized.ID, map[string]any{
		"owner_id": normalized.OwnerID,
		"title":    normalized.Title,
		"nodes":    len(normalized.Nodes),
	}))
	return normalized.Clone(), nil
}

// CompleteNode marks a node completed and unlocks dependents. Unknown node
// ids are reported no-ops. Progress reaching 100 emits path.completed.
func (s *Store) CompleteNode(ctx context.Context, pathID, nodeID string) (path.CompleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paths[pathID]
	if !ok {
		return path.CompleteResult{}, fmt.Errorf("path %q: %w", pathID, shared.ErrPathNotFound)
	}

	now := s.now()
	result := path.CompleteNode(p, nodeID, now)
	if !result.Changed {
		result.Path = result.Path.Clone()
		return result, nil
	}

	s.paths[pathID] = result.Path
	s.afterMutationLocked(ctx, remote.CollectionPaths, pathID)
	s.publish(shared.NewNodeCompletedEvent(pathID, nodeID, result.Unlocked, result.Path.Progress))
	if len(result.Unlocked) > 0 {
		s.publish(shared.NewBaseEvent(shared.EventNodesUnlocked, pathID, map[string]any{
			"owner_id": result.Path.OwnerID,
			"node_ids": result.Unlocked,
		}))
	}
	if result.Path.Progress == 100 {
		s.publish(shared.NewBaseEvent(shared.EventPathCompleted, pathID, map[string]any{
			"owner_id": result.Path.OwnerID,
		}))
	}
	s.recordActivityLocked(ctx, now)

	result.Path = result.Path.Clone()
	return result, nil
}

// Path returns a copy of one learning path.
func (s *Store) Path(pathID string) (*path.LearningPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.paths[pathID]
	if !ok {
		return nil, fmt.Errorf("path %q: %w", pathID, shared.ErrPathNotFound)
	}
	return p.Clone(), nil
}

// Paths returns copies of all learning paths.
func (s *Store) Paths() []*path.LearningPath {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*path.LearningPath, 0, len(s.paths))
	for _, p := range s.paths {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDY GROUPS
// ══════════════════════════════════════════════════════════════════════════════
//
// Group state is authoritative on the remote; the coordinator owns the
// write path. The store just keeps the local view and the snapshot.

// PutGroup overwrites the local view of a group. No outbox intent: group
// writes go through the coordinator directly.
func (s *Store) PutGroup(ctx context.Context, g *group.StudyGroup) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: put group: %v", shared.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups[g.ID] = g.Clone()
	s.persistLocked(ctx)
	return nil
}

// RemoveGroup drops the local view of a group.
func (s *Store) RemoveGroup(ctx context.Context, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.groups, groupID)
	s.persistLocked(ctx)
}

// Group returns a copy of one group.
func (s *Store) Group(groupID string) (*group.StudyGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", groupID, shared.ErrGroupNotFound)
	}
	return g.Clone(), nil
}

// Groups returns copies of all groups the owner belongs to.
func (s *Store) Groups() []*group.StudyGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*group.StudyGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// Streak returns a copy of the owner's streak, or a zero streak when no
// activity was ever recorded.
func (s *Store) Streak() *gamification.Streak {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streak == nil {
		streak, _ := gamification.NewStreak(s.ownerID)
		return streak
	}
	return s.streak.Clone()
}

// RecordActivity counts now's day as study activity. Exposed for the
// coordinator, which records quiz participation.
func (s *Store) RecordActivity(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordActivityLocked(ctx, s.now())
}

func (s *Store) recordActivityLocked(ctx context.Context, now time.Time) {
	if s.streak == nil {
		streak, err := gamification.NewStreak(s.ownerID)
		if err != nil {
			return
		}
		s.streak = streak
	}

	prev := s.streak.Current
	if !s.streak.RecordActivity(now) {
		return
	}

	s.afterMutationLocked(ctx, remote.CollectionStreaks, s.ownerID)
	if prev > 1 && s.streak.Current == 1 {
		s.publish(shared.NewBaseEvent(shared.EventStreakBroken, s.ownerID, map[string]interface{}{
			"previous_streak": prev,
		}))
	}
	s.publish(shared.NewStreakUpdatedEvent(s.ownerID, s.streak.Current, s.streak.Longest))
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC INTEGRATION
// ══════════════════════════════════════════════════════════════════════════════

// ApplyRemote merges one authoritative remote document into the local
// model. The remote copy wins only when its version is newer; stale or
// malformed documents are rejected without touching local state.
func (s *Store) ApplyRemote(ctx context.Context, doc remote.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied, err := s.applyRemoteLocked(doc)
	if err != nil {
		return false, err
	}
	if applied {
		s.persistLocked(ctx)
	}
	return applied, nil
}

func (s *Store) applyRemoteLocked(doc remote.Document) (bool, error) {
	switch doc.Collection {
	case remote.CollectionSessions:
		sess, err := decodeSession(doc.Data)
		if err != nil {
			return false, fmt.Errorf("%w: %v", shared.ErrRemoteDocInvalid, err)
		}
		if existing, ok := s.sessions[sess.ID]; ok && !sess.NewerThan(existing) {
			return false, nil
		}
		s.sessions[sess.ID] = sess
		return true, nil

	case remote.CollectionReviews:
		item, err := decodeReviewItem(doc.Data)
		if err != nil {
			return false, fmt.Errorf("%w: %v", shared.ErrRemoteDocInvalid, err)
		}
		if existing, ok := s.reviews[item.ID]; ok && !item.NewerThan(existing) {
			return false, nil
		}
		s.reviews[item.ID] = item
		return true, nil

	case remote.CollectionPaths:
		p, err := decodePath(doc.Data)
		if err != nil {
			return false, fmt.Errorf("%w: %v", shared.ErrRemoteDocInvalid, err)
		}
		if existing, ok := s.paths[p.ID]; ok && !p.NewerThan(existing) {
			return false, nil
		}
		s.paths[p.ID] = p
		return true, nil

	case remote.CollectionGroups:
		g, err := decodeGroup(doc.Data)
		if err != nil {
			return false, fmt.Errorf("%w: %v", shared.ErrRemoteDocInvalid, err)
		}
		if existing, ok := s.groups[g.ID]; ok && !g.NewerThan(existing) {
			return false, nil
		}
		s.groups[g.ID] = g
		return true, nil

	case remote.CollectionStreaks:
		streak, err := decodeStreak(doc.Data)
		if err != nil {
			return false, fmt.Errorf("%w: %v", shared.ErrRemoteDocInvalid, err)
		}
		if s.streak != nil && !streak.NewerThan(s.streak) {
			return false, nil
		}
		s.streak = streak
		return true, nil

	default:
		return false, fmt.Errorf("%w: unknown collection %q", shared.ErrValidation, doc.Collection)
	}
}

// ExportDocuments encodes the whole local model as remote documents. The
// sync manager pushes these during the initial merge.
func (s *Store) ExportDocuments() ([]remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []remote.Document

	for id, sess := range s.sessions {
		data, err := encodeSession(sess)
		if err != nil {
			return nil, err
		}
		docs = append(docs, s.document(remote.CollectionSessions, id, data, sess.UpdatedAt))
	}
	for id, item := range s.reviews {
		data, err := encodeReviewItem(item)
		if err != nil {
			return nil, err
		}
		docs = append(docs, s.document(remote.CollectionReviews, id, data, item.UpdatedAt))
	}
	for id, p := range s.paths {
		data, err := encodePath(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, s.document(remote.CollectionPaths, id, data, p.UpdatedAt))
	}
	if s.streak != nil {
		data, err := encodeStreak(s.streak)
		if err != nil {
			return nil, err
		}
		docs = append(docs, s.document(remote.CollectionStreaks, s.ownerID, data, s.streak.UpdatedAt))
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (s *Store) document(collection, id string, data map[string]any, updatedAt time.Time) remote.Document {
	return remote.Document{
		Path:       DocPath(collection, id),
		Collection: collection,
		OwnerID:    s.ownerID,
		Data:       data,
		UpdatedAt:  updatedAt,
	}
}

// DocPath builds the canonical document path for a collection entry.
func DocPath(collection, id string) string {
	return collection + "/" + id
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERNALS
// ══════════════════════════════════════════════════════════════════════════════

// afterMutationLocked persists the snapshot and enqueues the sync intent
// for one changed document.
func (s *Store) afterMutationLocked(ctx context.Context, collection, id string) {
	s.persistLocked(ctx)

	if s.outbox == nil {
		return
	}
	data, updatedAt, err := s.encodeLocked(collection, id)
	if err != nil {
		s.log.Warn("failed to encode document for outbox",
			logger.Component("store"),
			logger.DocPath(DocPath(collection, id)),
			logger.Err(err),
		)
		return
	}
	s.outbox.EnqueueSet(collection, id, data, updatedAt)
}

func (s *Store) encodeLocked(collection, id string) (map[string]any, time.Time, error) {
	switch collection {
	case remote.CollectionSessions:
		if sess, ok := s.sessions[id]; ok {
			data, err := encodeSession(sess)
			return data, sess.UpdatedAt, err
		}
	case remote.CollectionReviews:
		if item, ok := s.reviews[id]; ok {
			data, err := encodeReviewItem(item)
			return data, item.UpdatedAt, err
		}
	case remote.CollectionPaths:
		if p, ok := s.paths[id]; ok {
			data, err := encodePath(p)
			return data, p.UpdatedAt, err
		}
	case remote.CollectionStreaks:
		if s.streak != nil {
			data, err := encodeStreak(s.streak)
			return data, s.streak.UpdatedAt, err
		}
	}
	return nil, time.Time{}, fmt.Errorf("%s/%s: %w", collection, id, shared.ErrNotFound)
}

func (s *Store) publish(event shared.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event); err != nil {
		s.log.Warn("failed to publish event",
			logger.Component("store"),
			logger.EventType(string(event.EventType())),
			logger.Err(err),
		)
	}
}
