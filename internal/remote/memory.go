package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/learnloop/learnloop-core/internal/domain/shared"
)

// MemoryStore is an in-memory Store used by tests and offline development.
// It supports failure injection so sync-manager behavior under network and
// permission failures can be exercised deterministically.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]Document
	subs      map[string]map[int]SnapshotHandler
	nextSubID int
	closed    bool

	// FailWith, when non-nil, is returned by every mutating and reading
	// operation. Set it to a taxonomy error (shared.ErrNetwork,
	// shared.ErrPermission, ...) to simulate outages.
	failWith error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		subs: make(map[string]map[int]SnapshotHandler),
	}
}

// FailWith makes every subsequent operation return err. Pass nil to heal.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryStore) check() error {
	if m.closed {
		return fmt.Errorf("memory store: %w", shared.ErrNetwork)
	}
	return m.failWith
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, path string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	doc, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", path, shared.ErrNotFound)
	}
	clone := cloneDocument(doc)
	return &clone, nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, doc Document) error {
	m.mu.Lock()
	if err := m.check(); err != nil {
		m.mu.Unlock()
		return err
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	stored := cloneDocument(doc)
	m.docs[doc.Path] = stored
	handlers := m.handlersFor(doc.Path)
	m.mu.Unlock()

	for _, h := range handlers {
		h(Snapshot{Doc: cloneDocument(stored)})
	}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	if err := m.check(); err != nil {
		m.mu.Unlock()
		return err
	}
	doc, existed := m.docs[path]
	delete(m.docs, path)
	handlers := m.handlersFor(path)
	m.mu.Unlock()

	if existed {
		for _, h := range handlers {
			h(Snapshot{Doc: cloneDocument(doc), Deleted: true})
		}
	}
	return nil
}

// UpdateFields implements Store. Dotted paths create intermediate objects
// as needed, mirroring the postgres jsonb_set behavior.
func (m *MemoryStore) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	m.mu.Lock()
	if err := m.check(); err != nil {
		m.mu.Unlock()
		return err
	}
	doc, ok := m.docs[path]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("update %q: %w", path, shared.ErrNotFound)
	}
	for fieldPath, value := range fields {
		setField(doc.Data, strings.Split(fieldPath, "."), value)
	}
	doc.UpdatedAt = time.Now().UTC()
	m.docs[path] = doc
	handlers := m.handlersFor(path)
	snapshot := cloneDocument(doc)
	m.mu.Unlock()

	for _, h := range handlers {
		h(Snapshot{Doc: cloneDocument(snapshot)})
	}
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	var out []Document
	for _, doc := range m.docs {
		if doc.Collection == collection && filter.Matches(doc) {
			out = append(out, cloneDocument(doc))
		}
	}
	return out, nil
}

// BatchWrite implements Store.
func (m *MemoryStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpSet:
			err = m.Set(ctx, op.Doc)
		case OpDelete:
			err = m.Delete(ctx, op.Doc.Path)
		case OpUpdate:
			err = m.UpdateFields(ctx, op.Doc.Path, op.Fields)
		default:
			err = fmt.Errorf("batch write: unknown op %q: %w", op.Kind, shared.ErrInvalidInput)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe(ctx context.Context, path string, handler SnapshotHandler) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]SnapshotHandler)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subs[path][id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[path], id)
	}, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check()
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]SnapshotHandler)
	return nil
}

func (m *MemoryStore) handlersFor(path string) []SnapshotHandler {
	out := make([]SnapshotHandler, 0, len(m.subs[path]))
	for _, h := range m.subs[path] {
		out = append(out, h)
	}
	return out
}

// setField walks dotted segments, creating intermediate maps.
func setField(data map[string]any, segments []string, value any) {
	if len(segments) == 1 {
		data[segments[0]] = value
		return
	}
	child, ok := data[segments[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		data[segments[0]] = child
	}
	setField(child, segments[1:], value)
}

// cloneDocument deep-copies the document data so callers cannot alias the
// store's internal state.
func cloneDocument(doc Document) Document {
	clone := doc
	clone.Data = cloneMap(doc.Data)
	return clone
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(tv)
		case []any:
			cp := make([]any, len(tv))
			for i, e := range tv {
				if em, ok := e.(map[string]any); ok {
					cp[i] = cloneMap(em)
				} else {
					cp[i] = e
				}
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
