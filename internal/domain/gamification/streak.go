// Package gamification contains the daily streak counter tied to review and
// quiz activity.
package gamification

import (
	"errors"
	"time"
)

// Streak tracks consecutive days of study activity for one user.
type Streak struct {
	OwnerID string
	Current int
	Longest int

	// LastActiveDay is midnight UTC of the most recent active day.
	LastActiveDay time.Time

	// UpdatedAt is the entity's merge version (wall-clock, last writer wins).
	UpdatedAt time.Time
}

var (
	ErrEmptyOwner    = errors.New("streak owner is required")
	ErrNegativeCount = errors.New("streak counters cannot be negative")
)

// NewStreak creates an empty streak for a user.
func NewStreak(ownerID string) (*Streak, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwner
	}
	return &Streak{OwnerID: ownerID}, nil
}

// Validate checks invariants. Used when accepting remote documents.
func (s *Streak) Validate() error {
	if s.OwnerID == "" {
		return ErrEmptyOwner
	}
	if s.Current < 0 || s.Longest < 0 {
		return ErrNegativeCount
	}
	return nil
}

// day truncates a timestamp to midnight UTC.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RecordActivity advances the streak for activity at the given time.
// Same-day activity is a no-op; the day after the last active day increments;
// any gap resets to 1. Returns true when the counters changed.
func (s *Streak) RecordActivity(at time.Time) bool {
	today := day(at)

	switch {
	case s.LastActiveDay.Equal(today):
		return false
	case s.LastActiveDay.Equal(today.AddDate(0, 0, -1)):
		s.Current++
	default:
		s.Current = 1
	}

	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	s.LastActiveDay = today
	s.UpdatedAt = at
	return true
}

// AtRisk reports whether the streak will break unless the user is active
// today: yesterday was active, today is not yet.
func (s *Streak) AtRisk(now time.Time) bool {
	if s.Current == 0 {
		return false
	}
	return s.LastActiveDay.Equal(day(now).AddDate(0, 0, -1))
}

// Broken reports whether the streak has already lapsed at the given time.
func (s *Streak) Broken(now time.Time) bool {
	if s.Current == 0 || s.LastActiveDay.IsZero() {
		return false
	}
	return day(now).Sub(s.LastActiveDay) > 24*time.Hour
}

// NewerThan reports whether this copy's version wins a last-writer merge.
func (s *Streak) NewerThan(other *Streak) bool {
	if other == nil {
		return true
	}
	return s.UpdatedAt.After(other.UpdatedAt)
}

// Clone creates a copy of the streak.
func (s *Streak) Clone() *Streak {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
