package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the local store or the sync layer.
const (
	// Review events
	EventReviewSubmitted   EventType = "review.submitted"
	EventReviewItemCreated EventType = "review.item_created"

	// Path events
	EventNodeCompleted EventType = "path.node_completed"
	EventNodesUnlocked EventType = "path.nodes_unlocked"
	EventPathCompleted EventType = "path.completed"
	EventPathIngested  EventType = "path.ingested"

	// Group quiz events
	EventQuizStarted      EventType = "group.quiz_started"
	EventAnswerSubmitted  EventType = "group.answer_submitted"
	EventQuestionAdvanced EventType = "group.question_advanced"
	EventQuizEnded        EventType = "group.quiz_ended"
	EventGroupSnapshot    EventType = "group.snapshot_received"

	// Gamification events
	EventStreakUpdated EventType = "streak.updated"
	EventStreakBroken  EventType = "streak.broken"

	// Sync events
	EventSyncCompleted    EventType = "sync.completed"
	EventSyncDegraded     EventType = "sync.degraded"
	EventSyncRecovered    EventType = "sync.recovered"
	EventConflictDetected EventType = "sync.conflict_detected"
	EventOutboxDrained    EventType = "sync.outbox_drained"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event.
type EventHandler func(Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventBus combines publishing and subscription.
type EventBus interface {
	EventPublisher
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
	Close() error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Data        map[string]interface{}
}

// NewBaseEvent creates a BaseEvent stamped with the current UTC time.
func NewBaseEvent(t EventType, aggregateID string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		Type:        t,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Data:        data,
	}
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType { return e.Type }

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string { return e.AggregateId }

// Payload implements Event interface.
func (e BaseEvent) Payload() map[string]interface{} { return e.Data }

// NewReviewSubmittedEvent is emitted after the scheduler advances an item.
func NewReviewSubmittedEvent(itemID, ownerID, rating string, interval int) BaseEvent {
	return NewBaseEvent(EventReviewSubmitted, itemID, map[string]interface{}{
		"owner_id": ownerID,
		"rating":   rating,
		"interval": interval,
	})
}

// NewNodeCompletedEvent is emitted when a path node is marked completed.
func NewNodeCompletedEvent(pathID, nodeID string, unlocked []string, progress int) BaseEvent {
	return NewBaseEvent(EventNodeCompleted, pathID, map[string]interface{}{
		"node_id":  nodeID,
		"unlocked": unlocked,
		"progress": progress,
	})
}

// NewConflictDetectedEvent is emitted when the initial merge finds an entity
// changed on both replicas. The merge still resolves by last writer; the
// event exists so the UI can surface the divergence.
func NewConflictDetectedEvent(entityID, collection string, localVersion, remoteVersion time.Time) BaseEvent {
	return NewBaseEvent(EventConflictDetected, entityID, map[string]interface{}{
		"collection":     collection,
		"local_version":  localVersion,
		"remote_version": remoteVersion,
	})
}

// NewSyncDegradedEvent is emitted when a permanent remote failure latches
// local-only mode.
func NewSyncDegradedEvent(ownerID, reason string) BaseEvent {
	return NewBaseEvent(EventSyncDegraded, ownerID, map[string]interface{}{
		"reason": reason,
	})
}

// NewStreakUpdatedEvent is emitted when daily activity advances a streak.
func NewStreakUpdatedEvent(ownerID string, current, longest int) BaseEvent {
	return NewBaseEvent(EventStreakUpdated, ownerID, map[string]interface{}{
		"current": current,
		"longest": longest,
	})
}
