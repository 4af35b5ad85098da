package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/learnloop/learnloop-core/internal/cache"
	"github.com/learnloop/learnloop-core/internal/domain/shared"
	"github.com/learnloop/learnloop-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT PERSISTENCE
// ══════════════════════════════════════════════════════════════════════════════

// snapshotBlob is the serialized form of the whole entity model, written
// to the local cache after every mutation.
type snapshotBlob struct {
	OwnerID  string          `json:"ownerId"`
	Sessions []sessionDoc    `json:"sessions"`
	Reviews  []reviewItemDoc `json:"reviews"`
	Paths    []pathDoc       `json:"paths"`
	Groups   []groupDoc      `json:"groups"`
	Streak   *streakDoc      `json:"streak,omitempty"`
	SavedAt  time.Time       `json:"savedAt"`
}

// Snapshot serializes the current entity model.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() ([]byte, error) {
	blob := snapshotBlob{
		OwnerID: s.ownerID,
		SavedAt: s.now(),
	}

	for _, sess := range s.sessions {
		blob.Sessions = append(blob.Sessions, sessionToDoc(sess))
	}
	for _, item := range s.reviews {
		blob.Reviews = append(blob.Reviews, reviewToDoc(item))
	}
	for _, p := range s.paths {
		blob.Paths = append(blob.Paths, pathToDoc(p))
	}
	for _, g := range s.groups {
		blob.Groups = append(blob.Groups, groupToDoc(g))
	}
	if s.streak != nil {
		doc := streakToDoc(s.streak)
		blob.Streak = &doc
	}

	return json.Marshal(blob)
}

// persistLocked writes the snapshot to the cache. Persistence failures are
// logged and swallowed: losing a snapshot degrades restarts, not the
// running session.
func (s *Store) persistLocked(ctx context.Context) {
	if s.cache == nil {
		return
	}

	blob, err := s.snapshotLocked()
	if err != nil {
		s.log.Warn("failed to serialize snapshot",
			logger.Component("store"),
			logger.OwnerID(s.ownerID),
			logger.Err(err),
		)
		return
	}

	if err := s.cache.Save(ctx, s.ownerID, blob); err != nil {
		s.log.Warn("failed to persist snapshot",
			logger.Component("store"),
			logger.OwnerID(s.ownerID),
			logger.Err(err),
		)
	}
}

// LoadSnapshot rehydrates the entity model from the cache. A missing or
// corrupt snapshot leaves the store empty and is not an error: cold starts
// are normal.
func (s *Store) LoadSnapshot(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}

	blob, err := s.cache.Load(ctx, s.ownerID)
	if err != nil {
		if errors.Is(err, cache.ErrNoSnapshot) {
			return nil
		}
		s.log.Warn("failed to load snapshot, starting empty",
			logger.Component("store"),
			logger.OwnerID(s.ownerID),
			logger.Err(err),
		)
		return nil
	}

	var snap snapshotBlob
	if err := json.Unmarshal(blob, &snap); err != nil {
		s.log.Warn("corrupt snapshot, starting empty",
			logger.Component("store"),
			logger.OwnerID(s.ownerID),
			logger.Err(err),
		)
		return nil
	}
	if snap.OwnerID != s.ownerID {
		return fmt.Errorf("%w: snapshot owner %q does not match store owner %q",
			shared.ErrValidation, snap.OwnerID, s.ownerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range snap.Sessions {
		m, err := toMap(doc)
		if err != nil {
			continue
		}
		if sess, err := decodeSession(m); err == nil {
			s.sessions[sess.ID] = sess
		}
	}
	for _, doc := range snap.Reviews {
		m, err := toMap(doc)
		if err != nil {
			continue
		}
		if item, err := decodeReviewItem(m); err == nil {
			s.reviews[item.ID] = item
		}
	}
	for _, doc := range snap.Paths {
		m, err := toMap(doc)
		if err != nil {
			continue
		}
		if p, err := decodePath(m); err == nil {
			s.paths[p.ID] = p
		}
	}
	for _, doc := range snap.Groups {
		m, err := toMap(doc)
		if err != nil {
			continue
		}
		if g, err := decodeGroup(m); err == nil {
			s.groups[g.ID] = g
		}
	}
	if snap.Streak != nil {
		m, err := toMap(snap.Streak)
		if err == nil {
			if streak, err := decodeStreak(m); err == nil {
				s.streak = streak
			}
		}
	}

	s.log.Info("snapshot loaded",
		logger.Component("store"),
		logger.OwnerID(s.ownerID),
		logger.Int("sessions", len(s.sessions)),
		logger.Int("reviews", len(s.reviews)),
		logger.Int("paths", len(s.paths)),
		logger.Int("groups", len(s.groups)),
	)
	return nil
}
