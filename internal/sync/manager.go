package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/internal/remote"
	"github.com/learnloop/learnloop-core/internal/store"
	"github.com/learnloop/learnloop-core/pkg/circuitbreaker"
	"github.com/learnloop/learnloop-core/pkg/logger"
	"github.com/learnloop/learnloop-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is the connectivity snapshot the UI renders banners from.
type State struct {
	// IsOnline is false while the remote is transiently unreachable.
	// Transient failures heal themselves: the next successful flush or
	// merge flips it back.
	IsOnline bool

	// IsRemoteAvailable is false once a permanent failure (permission,
	// not-configured) latched local-only mode. Only Retry re-enables
	// remote attempts.
	IsRemoteAvailable bool

	// LastError describes the failure behind the current state, empty
	// when healthy.
	LastError string

	// LastSyncAt is when the last merge or full drain finished.
	LastSyncAt time.Time

	// PendingWrites is the outbox depth.
	PendingWrites int
}

// mergeCollections are the collections the initial merge reconciles.
// Groups are excluded: group state is remote-authoritative and flows
// through the coordinator's subscription instead.
var mergeCollections = []string{
	remote.CollectionSessions,
	remote.CollectionReviews,
	remote.CollectionPaths,
	remote.CollectionStreaks,
}

// ══════════════════════════════════════════════════════════════════════════════
// MANAGER
// ══════════════════════════════════════════════════════════════════════════════

// Options configures a Manager.
type Options struct {
	Store  *store.Store
	Remote remote.Store
	Outbox *Outbox
	Bus    shared.EventPublisher
	Logger *logger.Logger
	Now    func() time.Time

	// Retrier overrides the default outbox retrier. Tests pass a fast one.
	Retrier *retry.Retrier
}

// Manager reconciles the local store with the remote document store and
// drains the outbox. All remote calls flow through one retrier and one
// circuit breaker.
type Manager struct {
	mu    gosync.Mutex
	state State

	store   *store.Store
	remote  remote.Store
	outbox  *Outbox
	bus     shared.EventPublisher
	log     *logger.Logger
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
}

// NewManager creates a sync manager in the online, remote-available state.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil || opts.Remote == nil || opts.Outbox == nil {
		return nil, fmt.Errorf("%w: sync manager needs store, remote and outbox", shared.ErrValidation)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Retrier == nil {
		opts.Retrier = retry.OutboxRetrier()
	}

	m := &Manager{
		state:   State{IsOnline: true, IsRemoteAvailable: true},
		store:   opts.Store,
		remote:  opts.Remote,
		outbox:  opts.Outbox,
		bus:     opts.Bus,
		log:     opts.Logger,
		retrier: opts.Retrier,
		now:     opts.Now,
	}
	m.breaker = circuitbreaker.RemoteStoreBreaker(func(name string, from, to circuitbreaker.State) {
		opts.Logger.Warn("remote store circuit state changed",
			logger.Component(name),
			logger.F("from", from.String()),
			logger.F("to", to.String()),
		)
	})
	return m, nil
}

// State returns the current connectivity snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	s.PendingWrites = m.outbox.Depth()
	return s
}

// Start runs the initial merge and a first outbox drain. Failures leave
// the manager in the matching degraded or offline state rather than
// failing startup: the local model keeps working either way.
func (m *Manager) Start(ctx context.Context) {
	if err := m.InitialMerge(ctx); err != nil {
		m.handleFailure(err)
		return
	}
	m.Drain(ctx)
}

// InitialMerge reconciles every merge collection:
//   - remote-only documents are accepted locally,
//   - local-only documents are pushed,
//   - documents on both sides resolve by last writer on UpdatedAt, with a
//     conflict event when the versions diverge.
//
// The merge never deletes on either side.
func (m *Manager) InitialMerge(ctx context.Context) error {
	if !m.remoteAllowed() {
		return nil
	}

	local, err := m.store.ExportDocuments()
	if err != nil {
		return err
	}
	localByPath := make(map[string]remote.Document, len(local))
	for _, doc := range local {
		localByPath[doc.Path] = doc
	}

	var pushes []remote.WriteOp
	filter := remote.Filter{OwnerID: m.store.OwnerID()}

	for _, collection := range mergeCollections {
		remoteDocs, err := m.query(ctx, collection, filter)
		if err != nil {
			return err
		}

		for _, remoteDoc := range remoteDocs {
			localDoc, exists := localByPath[remoteDoc.Path]
			if !exists {
				if _, err := m.applyRemote(ctx, remoteDoc); err != nil {
					continue
				}
				continue
			}
			delete(localByPath, remoteDoc.Path)

			if remoteDoc.UpdatedAt.Equal(localDoc.UpdatedAt) {
				continue
			}
			m.publish(shared.NewConflictDetectedEvent(
				remoteDoc.Path, collection, localDoc.UpdatedAt, remoteDoc.UpdatedAt,
			))

			if remoteDoc.UpdatedAt.After(localDoc.UpdatedAt) {
				_, _ = m.applyRemote(ctx, remoteDoc)
			} else {
				pushes = append(pushes, remote.WriteOp{Kind: remote.OpSet, Doc: localDoc})
			}
		}
	}

	// Whatever survived in localByPath exists only locally.
	for _, doc := range local {
		if _, stillLocalOnly := localByPath[doc.Path]; stillLocalOnly {
			pushes = append(pushes, remote.WriteOp{Kind: remote.OpSet, Doc: doc})
		}
	}

	if len(pushes) > 0 {
		if err := m.batchWrite(ctx, pushes); err != nil {
			return err
		}
	}

	m.markSynced("")
	m.publish(shared.NewBaseEvent(shared.EventSyncCompleted, m.store.OwnerID(), map[string]any{
		"pushed": len(pushes),
	}))
	m.log.Info("initial merge finished",
		logger.Component("sync"),
		logger.OwnerID(m.store.OwnerID()),
		logger.Int("pushed", len(pushes)),
	)
	return nil
}

// Drain flushes the outbox in order. A transient failure stops the pass
// and flips IsOnline off; a permanent failure latches degraded mode; a
// validation rejection drops the record and continues.
func (m *Manager) Drain(ctx context.Context) {
	if !m.remoteAllowed() {
		return
	}

	for _, intent := range m.outbox.Pending() {
		err := m.flush(ctx, intent)
		if err == nil {
			m.outbox.MarkDone(intent.Key)
			continue
		}

		if shared.IsValidation(err) {
			m.log.Warn("remote rejected document, dropping intent",
				logger.Component("sync"),
				logger.DocPath(intent.Path()),
				logger.Err(err),
			)
			m.outbox.Drop(intent.Key)
			continue
		}

		m.outbox.MarkFailed(intent.Key)
		m.handleFailure(err)
		return
	}

	m.markSynced("")
	if m.outbox.Depth() == 0 {
		m.publish(shared.NewBaseEvent(shared.EventOutboxDrained, m.store.OwnerID(), nil))
	}
}

// Retry re-enables remote attempts after a permanent failure latched
// local-only mode, then re-runs the merge and drains the queue.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.Lock()
	m.state.IsRemoteAvailable = true
	m.state.IsOnline = true
	m.state.LastError = ""
	m.mu.Unlock()
	m.breaker.Reset()

	if err := m.InitialMerge(ctx); err != nil {
		m.handleFailure(err)
		return err
	}
	m.Drain(ctx)

	m.publish(shared.NewBaseEvent(shared.EventSyncRecovered, m.store.OwnerID(), nil))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERNALS
// ══════════════════════════════════════════════════════════════════════════════

func (m *Manager) flush(ctx context.Context, intent *Intent) error {
	doc := remote.Document{
		Path:       intent.Path(),
		Collection: intent.Collection,
		OwnerID:    m.store.OwnerID(),
		Data:       intent.Data,
		UpdatedAt:  intent.UpdatedAt,
	}

	return m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.retrier.Do(ctx, func(ctx context.Context) error {
			var err error
			switch intent.Kind {
			case remote.OpSet:
				err = m.remote.Set(ctx, doc)
			case remote.OpDelete:
				err = m.remote.Delete(ctx, doc.Path)
			default:
				return retry.Permanent(fmt.Errorf("%w: unknown intent kind %q", shared.ErrValidation, intent.Kind))
			}
			return classifyForRetry(err)
		})
	})
}

func (m *Manager) query(ctx context.Context, collection string, filter remote.Filter) ([]remote.Document, error) {
	var docs []remote.Document
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.retrier.Do(ctx, func(ctx context.Context) error {
			var err error
			docs, err = m.remote.Query(ctx, collection, filter)
			return classifyForRetry(err)
		})
	})
	return docs, err
}

func (m *Manager) batchWrite(ctx context.Context, ops []remote.WriteOp) error {
	return m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.retrier.Do(ctx, func(ctx context.Context) error {
			return classifyForRetry(m.remote.BatchWrite(ctx, ops))
		})
	})
}

// classifyForRetry marks network-class failures retryable so the retrier
// backs off and re-attempts them; everything else (permission, validation,
// misconfiguration) fails the attempt immediately. The retrier unwraps the
// markers on exit, so callers still see the taxonomy error.
func classifyForRetry(err error) error {
	if err == nil {
		return nil
	}
	if shared.IsTransient(err) {
		return retry.Retryable(err)
	}
	return retry.Permanent(err)
}

// applyRemote feeds one remote document into the store. Malformed remote
// documents are logged and skipped, never fatal to the pass.
func (m *Manager) applyRemote(ctx context.Context, doc remote.Document) (bool, error) {
	applied, err := m.store.ApplyRemote(ctx, doc)
	if err != nil {
		m.log.Warn("skipping malformed remote document",
			logger.Component("sync"),
			logger.DocPath(doc.Path),
			logger.Err(err),
		)
		return false, err
	}
	return applied, nil
}

// handleFailure classifies a remote failure into the state machine.
func (m *Manager) handleFailure(err error) {
	m.mu.Lock()
	switch {
	case shared.IsPermanentRemote(err):
		m.state.IsRemoteAvailable = false
		m.state.IsOnline = false
		m.state.LastError = err.Error()
		m.mu.Unlock()

		m.publish(shared.NewSyncDegradedEvent(m.store.OwnerID(), err.Error()))
		m.log.Error("remote permanently unavailable, entering local-only mode",
			logger.Component("sync"),
			logger.Err(err),
		)

	case shared.IsTransient(err):
		m.state.IsOnline = false
		m.state.LastError = err.Error()
		m.mu.Unlock()

		m.log.Warn("remote unreachable, queueing writes",
			logger.Component("sync"),
			logger.QueueDepth(m.outbox.Depth()),
			logger.Err(err),
		)

	default:
		m.state.LastError = err.Error()
		m.mu.Unlock()

		m.log.Warn("sync pass failed",
			logger.Component("sync"),
			logger.Err(err),
		)
	}
}

func (m *Manager) markSynced(lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.IsOnline = true
	m.state.LastError = lastError
	m.state.LastSyncAt = m.now()
}

func (m *Manager) remoteAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsRemoteAvailable
}

func (m *Manager) publish(event shared.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(event); err != nil {
		m.log.Warn("failed to publish sync event",
			logger.Component("sync"),
			logger.EventType(string(event.EventType())),
			logger.Err(err),
		)
	}
}
