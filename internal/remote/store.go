// Package remote defines the remote document store the sync layer reconciles
// against, along with an in-memory implementation used by tests and offline
// development. The postgres implementation lives in the postgres subpackage.
//
// The core treats every operation here as potentially failing; failures are
// classified by the sync manager into the network / permission /
// not-configured / validation taxonomy.
package remote

import (
	"context"
	"time"
)

// Collection names used by the core.
const (
	CollectionSessions = "sessions"
	CollectionReviews  = "review_items"
	CollectionPaths    = "learning_paths"
	CollectionGroups   = "study_groups"
	CollectionStreaks  = "streaks"
)

// Document is a stored JSON document addressed by a path such as
// "study_groups/group-42".
type Document struct {
	Path       string
	Collection string
	OwnerID    string
	Data       map[string]any
	UpdatedAt  time.Time
}

// Filter narrows a Query. A zero filter matches the whole collection.
type Filter struct {
	OwnerID string
}

// Matches reports whether a document passes the filter.
func (f Filter) Matches(doc Document) bool {
	return f.OwnerID == "" || f.OwnerID == doc.OwnerID
}

// OpKind is the kind of a batched write operation.
type OpKind string

const (
	OpSet    OpKind = "set"
	OpDelete OpKind = "delete"
	OpUpdate OpKind = "update"
)

// WriteOp is one operation in a batch write.
type WriteOp struct {
	Kind OpKind
	Doc  Document

	// Fields holds dotted field paths for OpUpdate, e.g.
	// "activeQuiz.participants.alice". Field-scoped updates are how
	// concurrent participants write without clobbering each other.
	Fields map[string]any
}

// Snapshot is an authoritative document state pushed to subscribers.
// Deleted is set when the document disappeared.
type Snapshot struct {
	Doc     Document
	Deleted bool
}

// SnapshotHandler receives subscription snapshots. Handlers run on the
// store's dispatch goroutine and must not block.
type SnapshotHandler func(Snapshot)

// Unsubscribe cancels a subscription.
type Unsubscribe func()

// Store is the remote document store contract consumed by the sync manager
// and the group quiz coordinator.
type Store interface {
	// Get fetches one document. Missing documents return shared.ErrNotFound.
	Get(ctx context.Context, path string) (*Document, error)

	// Set writes a whole document, creating or replacing it.
	Set(ctx context.Context, doc Document) error

	// Delete removes a document. Deleting a missing document is a no-op.
	Delete(ctx context.Context, path string) error

	// UpdateFields patches individual fields by dotted path, leaving the
	// rest of the document untouched.
	UpdateFields(ctx context.Context, path string, fields map[string]any) error

	// Query returns every document in a collection passing the filter.
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)

	// BatchWrite applies a set of operations as one round trip. Atomicity
	// is best-effort and implementation-dependent.
	BatchWrite(ctx context.Context, ops []WriteOp) error

	// Subscribe registers a handler for authoritative snapshots of one
	// document path. The handler fires for every subsequent change.
	Subscribe(ctx context.Context, path string, handler SnapshotHandler) (Unsubscribe, error)

	// Ping checks reachability.
	Ping(ctx context.Context) error

	// Close releases resources and cancels all subscriptions.
	Close() error
}
