// Package sync implements the sync manager: initial merge between the
// local entity model and the remote document store, the offline write
// outbox, and the online/degraded state machine the UI reads.
package sync

import (
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/learnloop-core/internal/remote"
	"github.com/learnloop/learnloop-core/internal/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// OUTBOX
// ══════════════════════════════════════════════════════════════════════════════

// Intent is one queued remote write. Every intent carries a fresh
// idempotency key so a replayed flush is harmless.
type Intent struct {
	Key        string
	Kind       remote.OpKind
	Collection string
	ID         string
	Data       map[string]any
	// UpdatedAt is the entity's merge version at enqueue time. The flush
	// writes it into the remote document so both replicas agree on the
	// version of an undiverged entity.
	UpdatedAt  time.Time
	EnqueuedAt time.Time
	Attempts   int
}

// Path returns the remote document path this intent targets.
func (i *Intent) Path() string {
	return store.DocPath(i.Collection, i.ID)
}

// Outbox is a FIFO of pending remote writes. Ordering is preserved
// per document path; a full-document set supersedes an earlier queued set
// for the same path in place, and a delete cancels all queued writes for
// its path before being queued itself.
type Outbox struct {
	mu      gosync.Mutex
	intents []*Intent
	now     func() time.Time
}

var _ store.Outbox = (*Outbox)(nil)

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{now: func() time.Time { return time.Now().UTC() }}
}

// EnqueueSet implements store.Outbox.
func (o *Outbox) EnqueueSet(collection, id string, data map[string]any, updatedAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := store.DocPath(collection, id)
	for _, intent := range o.intents {
		if intent.Kind == remote.OpSet && intent.Path() == path {
			// Coalesce: the newer full document replaces the queued one,
			// keeping its position so cross-path ordering holds.
			intent.Key = uuid.NewString()
			intent.Data = data
			intent.UpdatedAt = updatedAt
			intent.EnqueuedAt = o.now()
			intent.Attempts = 0
			return
		}
	}

	o.intents = append(o.intents, &Intent{
		Key:        uuid.NewString(),
		Kind:       remote.OpSet,
		Collection: collection,
		ID:         id,
		Data:       data,
		UpdatedAt:  updatedAt,
		EnqueuedAt: o.now(),
	})
}

// EnqueueDelete implements store.Outbox.
func (o *Outbox) EnqueueDelete(collection, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := store.DocPath(collection, id)
	kept := o.intents[:0]
	for _, intent := range o.intents {
		if intent.Path() == path {
			continue
		}
		kept = append(kept, intent)
	}
	o.intents = kept

	o.intents = append(o.intents, &Intent{
		Key:        uuid.NewString(),
		Kind:       remote.OpDelete,
		Collection: collection,
		ID:         id,
		EnqueuedAt: o.now(),
	})
}

// Pending returns the queued intents in flush order.
func (o *Outbox) Pending() []*Intent {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*Intent, len(o.intents))
	copy(out, o.intents)
	return out
}

// Depth returns the number of queued intents.
func (o *Outbox) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.intents)
}

// MarkDone removes a flushed intent by idempotency key. A key that was
// superseded by coalescing is simply gone already.
func (o *Outbox) MarkDone(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, intent := range o.intents {
		if intent.Key == key {
			o.intents = append(o.intents[:i], o.intents[i+1:]...)
			return
		}
	}
}

// MarkFailed increments the attempt counter of a queued intent.
func (o *Outbox) MarkFailed(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, intent := range o.intents {
		if intent.Key == key {
			intent.Attempts++
			return
		}
	}
}

// Drop removes an intent without flushing it. Used when the remote rejects
// the document as invalid: retrying can never succeed.
func (o *Outbox) Drop(key string) {
	o.MarkDone(key)
}
