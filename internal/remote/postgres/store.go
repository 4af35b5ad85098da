// Package postgres implements the remote document store on PostgreSQL.
// Documents live in a single JSONB table keyed by path; field-scoped
// updates use jsonb_set so concurrent writers touching disjoint fields
// never clobber each other. Change notifications ride LISTEN/NOTIFY.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/internal/remote"
	"github.com/learnloop/learnloop-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds PostgreSQL connection configuration.
type Config struct {
	// DatabaseURL is the full connection string. When set it takes
	// precedence over the individual fields below.
	DatabaseURL string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Port:              5432,
		Database:          "learnloop",
		User:              "postgres",
		SSLMode:           "prefer",
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
	}
}

// DSN returns the connection string for PostgreSQL.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Host,
		c.Port,
		c.Database,
		c.User,
		c.Password,
		c.SSLMode,
		int(c.ConnectTimeout.Seconds()),
	)
}

// PoolConfig returns pgxpool configuration.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}

	if c.MaxConns > 0 {
		config.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		config.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		config.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = c.HealthCheckPeriod
	}

	return config, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// notifyChannel is the pg_notify channel the documents trigger fires on.
const notifyChannel = "learnloop_documents"

// Store implements remote.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Logger

	mu             sync.Mutex
	subs           map[string]map[int]remote.SnapshotHandler
	nextSub        int
	listenerCancel context.CancelFunc
	closed         bool
}

var _ remote.Store = (*Store)(nil)

// NewStore opens a connection pool, runs migrations and returns a ready
// store.
func NewStore(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, classify(fmt.Errorf("postgres: failed to create connection pool: %w", err))
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(fmt.Errorf("postgres: failed to ping database: %w", err))
	}

	s := &Store{
		pool: pool,
		log:  log,
		subs: make(map[string]map[int]remote.SnapshotHandler),
	}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Get implements remote.Store.
func (s *Store) Get(ctx context.Context, path string) (*remote.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT path, collection, owner_id, data, updated_at
		FROM documents
		WHERE path = $1
	`, path)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get %q: %w", path, shared.ErrNotFound)
		}
		return nil, classify(err)
	}
	return doc, nil
}

// Set implements remote.Store. The document's UpdatedAt is stored as-is:
// it is the entity's merge version, not a server receipt time. A zero
// value falls back to the write's wall-clock time.
func (s *Store) Set(ctx context.Context, doc remote.Document) error {
	data, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("%w: encode document %q: %v", shared.ErrValidation, doc.Path, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (path, collection, owner_id, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (path) DO UPDATE
		SET collection = EXCLUDED.collection,
		    owner_id   = EXCLUDED.owner_id,
		    data       = EXCLUDED.data,
		    updated_at = EXCLUDED.updated_at
	`, doc.Path, doc.Collection, doc.OwnerID, data, docVersion(doc))
	if err != nil {
		return classify(fmt.Errorf("set %q: %w", doc.Path, err))
	}
	return nil
}

// docVersion returns the version timestamp to persist for a document.
func docVersion(doc remote.Document) time.Time {
	if doc.UpdatedAt.IsZero() {
		return time.Now().UTC()
	}
	return doc.UpdatedAt.UTC()
}

// Delete implements remote.Store. Deleting a missing document is a no-op.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path)
	if err != nil {
		return classify(fmt.Errorf("delete %q: %w", path, err))
	}
	return nil
}

// UpdateFields implements remote.Store. Each dotted field path becomes a
// chained jsonb_set; missing intermediate objects are created first so
// "activeQuiz.participants.<uid>" works even before any participant wrote.
func (s *Store) UpdateFields(ctx context.Context, path string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	expr, args, err := buildFieldUpdate(fields)
	if err != nil {
		return fmt.Errorf("%w: update %q: %v", shared.ErrValidation, path, err)
	}

	query := fmt.Sprintf(`
		UPDATE documents
		SET data = %s, updated_at = NOW()
		WHERE path = $1
	`, expr)

	tag, err := s.pool.Exec(ctx, query, append([]any{path}, args...)...)
	if err != nil {
		return classify(fmt.Errorf("update %q: %w", path, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %q: %w", path, shared.ErrNotFound)
	}
	return nil
}

// Query implements remote.Store.
func (s *Store) Query(ctx context.Context, collection string, filter remote.Filter) ([]remote.Document, error) {
	query := `
		SELECT path, collection, owner_id, data, updated_at
		FROM documents
		WHERE collection = $1
	`
	args := []any{collection}
	if filter.OwnerID != "" {
		query += ` AND owner_id = $2`
		args = append(args, filter.OwnerID)
	}
	query += ` ORDER BY path`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("query %q: %w", collection, err))
	}
	defer rows.Close()

	var docs []remote.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, classify(err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return docs, nil
}

// BatchWrite implements remote.Store. All operations ride one pgx batch in
// a single transaction, so the outbox either lands a flush or keeps it.
func (s *Store) BatchWrite(ctx context.Context, ops []remote.WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, op := range ops {
		switch op.Kind {
		case remote.OpSet:
			data, err := json.Marshal(op.Doc.Data)
			if err != nil {
				return fmt.Errorf("%w: encode document %q: %v", shared.ErrValidation, op.Doc.Path, err)
			}
			batch.Queue(`
				INSERT INTO documents (path, collection, owner_id, data, updated_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (path) DO UPDATE
				SET collection = EXCLUDED.collection,
				    owner_id   = EXCLUDED.owner_id,
				    data       = EXCLUDED.data,
				    updated_at = EXCLUDED.updated_at
			`, op.Doc.Path, op.Doc.Collection, op.Doc.OwnerID, data, docVersion(op.Doc))

		case remote.OpDelete:
			batch.Queue(`DELETE FROM documents WHERE path = $1`, op.Doc.Path)

		case remote.OpUpdate:
			expr, args, err := buildFieldUpdate(op.Fields)
			if err != nil {
				return fmt.Errorf("%w: update %q: %v", shared.ErrValidation, op.Doc.Path, err)
			}
			query := fmt.Sprintf(`
				UPDATE documents
				SET data = %s, updated_at = NOW()
				WHERE path = $1
			`, expr)
			batch.Queue(query, append([]any{op.Doc.Path}, args...)...)

		default:
			return fmt.Errorf("%w: unknown batch op %q", shared.ErrValidation, op.Kind)
		}
	}

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range ops {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return results.Close()
	})
	if err != nil {
		return classify(fmt.Errorf("batch write (%d ops): %w", len(ops), err))
	}
	return nil
}

// Subscribe implements remote.Store. The first subscription starts the
// shared LISTEN loop; subsequent ones just register a handler.
func (s *Store) Subscribe(ctx context.Context, path string, handler remote.SnapshotHandler) (remote.Unsubscribe, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe %q: %w", path, shared.ErrNotConfigured)
	}
	if s.listenerCancel == nil {
		listenCtx, cancel := context.WithCancel(context.Background())
		s.listenerCancel = cancel
		go s.listen(listenCtx)
	}
	id := s.nextSub
	s.nextSub++
	if s.subs[path] == nil {
		s.subs[path] = make(map[int]remote.SnapshotHandler)
	}
	s.subs[path][id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if handlers, ok := s.subs[path]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(s.subs, path)
			}
		}
	}, nil
}

// Ping implements remote.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close implements remote.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.listenerCancel != nil {
		s.listenerCancel()
		s.listenerCancel = nil
	}
	s.subs = make(map[string]map[int]remote.SnapshotHandler)
	s.mu.Unlock()

	s.pool.Close()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LISTEN/NOTIFY LOOP
// ══════════════════════════════════════════════════════════════════════════════

// changePayload mirrors the JSON the documents trigger emits.
type changePayload struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted"`
}

// listen holds a dedicated connection on LISTEN and fans notifications out
// to registered handlers. Connection loss backs off and re-listens.
func (s *Store) listen(ctx context.Context) {
	for {
		if err := s.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("document listener disconnected, retrying",
				logger.Component("postgres"),
				logger.Err(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var payload changePayload
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			s.log.Warn("malformed change notification",
				logger.Component("postgres"),
				logger.Err(err),
			)
			continue
		}

		s.dispatch(ctx, payload)
	}
}

func (s *Store) dispatch(ctx context.Context, payload changePayload) {
	s.mu.Lock()
	handlers := make([]remote.SnapshotHandler, 0, len(s.subs[payload.Path]))
	for _, h := range s.subs[payload.Path] {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	snapshot := remote.Snapshot{Deleted: payload.Deleted}
	if payload.Deleted {
		snapshot.Doc = remote.Document{Path: payload.Path}
	} else {
		doc, err := s.Get(ctx, payload.Path)
		if err != nil {
			s.log.Warn("failed to fetch changed document",
				logger.Component("postgres"),
				logger.DocPath(payload.Path),
				logger.Err(err),
			)
			return
		}
		snapshot.Doc = *doc
	}

	for _, h := range handlers {
		h(snapshot)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*remote.Document, error) {
	var (
		doc  remote.Document
		data []byte
	)
	if err := row.Scan(&doc.Path, &doc.Collection, &doc.OwnerID, &data, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc.Data); err != nil {
			return nil, fmt.Errorf("decode document %q: %w", doc.Path, err)
		}
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

// buildFieldUpdate turns dotted field paths into a chained jsonb_set
// expression. For every intermediate prefix an empty object is spliced in
// first, since jsonb_set only creates the final key. Placeholders start at
// $2 because $1 is the document path in the enclosing UPDATE.
func buildFieldUpdate(fields map[string]any) (string, []any, error) {
	expr := "data"
	var args []any
	next := 2

	for fieldPath, value := range fields {
		segments := strings.Split(fieldPath, ".")
		for _, seg := range segments {
			if seg == "" {
				return "", nil, fmt.Errorf("empty segment in field path %q", fieldPath)
			}
		}

		for i := 1; i < len(segments); i++ {
			prefix := segments[:i]
			expr = fmt.Sprintf(
				"jsonb_set(%s, $%d::text[], COALESCE(%s #> $%d::text[], '{}'::jsonb), true)",
				expr, next, expr, next,
			)
			args = append(args, prefix)
			next++
		}

		encoded, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("encode field %q: %w", fieldPath, err)
		}
		expr = fmt.Sprintf("jsonb_set(%s, $%d::text[], $%d::jsonb, true)", expr, next, next+1)
		args = append(args, segments, string(encoded))
		next += 2
	}

	return expr, args, nil
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

// classify maps driver errors onto the taxonomy the sync manager keys its
// degraded-mode decisions on.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501" || strings.HasPrefix(pgErr.Code, "28"):
			// insufficient_privilege, invalid_authorization
			return fmt.Errorf("%w: %v", shared.ErrPermission, err)
		case pgErr.Code == "42P01" || pgErr.Code == "3D000":
			// undefined_table, invalid_catalog_name: schema was never provisioned
			return fmt.Errorf("%w: %v", shared.ErrNotConfigured, err)
		case strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23"):
			// data exception, integrity violation
			return fmt.Errorf("%w: %v", shared.ErrValidation, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", shared.ErrNetwork, err)
	}

	// Unclassified driver errors are treated as transient so the outbox
	// keeps retrying instead of latching degraded mode.
	return fmt.Errorf("%w: %v", shared.ErrNetwork, err)
}
