// Package review contains the spaced-repetition domain model: the ReviewItem
// entity and the scheduler that advances it. This is core business logic -
// there are no external dependencies here.
package review

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// EaseFactorFloor is the minimum ease factor an item can reach. Below this
// the SM-2 interval growth would collapse and bury the item.
const EaseFactorFloor = 1.3

// DefaultEaseFactor is the ease factor assigned to freshly created items.
const DefaultEaseFactor = 2.5

// EaseFactor is the per-item multiplier governing interval growth.
type EaseFactor float64

// IsValid checks the 1.3 floor.
func (e EaseFactor) IsValid() bool {
	return float64(e) >= EaseFactorFloor
}

// Clamp returns the ease factor raised to the floor if it fell below it.
func (e EaseFactor) Clamp() EaseFactor {
	if float64(e) < EaseFactorFloor {
		return EaseFactor(EaseFactorFloor)
	}
	return e
}

// Interval is a review interval in whole days.
type Interval int

// IsValid checks that the interval is at least one day.
func (i Interval) IsValid() bool {
	return i >= 1
}

// Duration converts the interval to a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i) * 24 * time.Hour
}

// Rating is the user's self-assessment of a recall attempt.
type Rating string

const (
	// RatingAgain - complete lapse; the item resets to daily review.
	RatingAgain Rating = "again"
	// RatingHard - recalled with significant effort.
	RatingHard Rating = "hard"
	// RatingGood - recalled after some hesitation.
	RatingGood Rating = "good"
	// RatingEasy - perfect recall.
	RatingEasy Rating = "easy"
)

// IsValid checks that the rating is one of the four known values.
func (r Rating) IsValid() bool {
	switch r {
	case RatingAgain, RatingHard, RatingGood, RatingEasy:
		return true
	default:
		return false
	}
}

// Quality maps the rating onto the SM-2 quality scale.
func (r Rating) Quality() int {
	switch r {
	case RatingAgain:
		return 0
	case RatingHard:
		return 3
	case RatingGood:
		return 4
	case RatingEasy:
		return 5
	default:
		return 0
	}
}

// IsLapse reports whether the rating resets the repetition streak (q < 3).
func (r Rating) IsLapse() bool {
	return r.Quality() < 3
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: REVIEW ITEM
// ══════════════════════════════════════════════════════════════════════════════

// ReviewItem is a single unit of reviewable knowledge. Items are created when
// a quiz is completed (one per question), mutated only by the scheduler, and
// never deleted.
type ReviewItem struct {
	// ID is the unique identifier (UUID in string form).
	ID string

	// OwnerID is the user the item belongs to.
	OwnerID string

	// Content is the prompt shown at review time.
	Content string

	// Topic groups items for due-review summaries.
	Topic string

	// EaseFactor governs how quickly the interval grows (floor 1.3).
	EaseFactor EaseFactor

	// IntervalDays is the current gap between reviews.
	IntervalDays Interval

	// Repetitions counts consecutive successful reviews.
	Repetitions int

	// CreatedAt is when the item entered the system.
	CreatedAt time.Time

	// LastReviewedAt is when the item was last rated.
	LastReviewedAt time.Time

	// NextReviewDate is always LastReviewedAt + IntervalDays.
	NextReviewDate time.Time

	// UpdatedAt is the entity's merge version (wall-clock, last writer wins).
	UpdatedAt time.Time
}

// Domain errors.
var (
	ErrEmptyID        = errors.New("review item id is required")
	ErrEmptyOwner     = errors.New("review item owner is required")
	ErrEmptyContent   = errors.New("review item content is required")
	ErrEaseBelowFloor = errors.New("ease factor below 1.3 floor")
	ErrBadInterval    = errors.New("interval must be at least 1 day")
	ErrNegativeReps   = errors.New("repetitions cannot be negative")
	ErrUnknownRating  = errors.New("unknown review rating")
)

// NewItemParams contains parameters for creating a review item.
type NewItemParams struct {
	ID      string
	OwnerID string
	Content string
	Topic   string
	Now     time.Time
}

// NewReviewItem creates a fresh item due immediately, with validation.
func NewReviewItem(params NewItemParams) (*ReviewItem, error) {
	if params.ID == "" {
		return nil, ErrEmptyID
	}
	if params.OwnerID == "" {
		return nil, ErrEmptyOwner
	}
	if strings.TrimSpace(params.Content) == "" {
		return nil, ErrEmptyContent
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return &ReviewItem{
		ID:             params.ID,
		OwnerID:        params.OwnerID,
		Content:        strings.TrimSpace(params.Content),
		Topic:          params.Topic,
		EaseFactor:     DefaultEaseFactor,
		IntervalDays:   1,
		Repetitions:    0,
		CreatedAt:      now,
		LastReviewedAt: now,
		NextReviewDate: now.Add(Interval(1).Duration()),
		UpdatedAt:      now,
	}, nil
}

// Validate checks the item's invariants. Used when accepting remote documents.
func (r *ReviewItem) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.OwnerID == "" {
		return ErrEmptyOwner
	}
	if !r.EaseFactor.IsValid() {
		return ErrEaseBelowFloor
	}
	if !r.IntervalDays.IsValid() {
		return ErrBadInterval
	}
	if r.Repetitions < 0 {
		return ErrNegativeReps
	}
	return nil
}

// IsDue reports whether the item should be reviewed at the given time.
func (r *ReviewItem) IsDue(now time.Time) bool {
	return !r.NextReviewDate.After(now)
}

// Equal compares items by identity.
func (r *ReviewItem) Equal(other *ReviewItem) bool {
	return other != nil && r.ID == other.ID
}

// NewerThan reports whether this copy's version wins a last-writer merge.
func (r *ReviewItem) NewerThan(other *ReviewItem) bool {
	if other == nil {
		return true
	}
	return r.UpdatedAt.After(other.UpdatedAt)
}

// Clone creates a copy of the item.
func (r *ReviewItem) Clone() *ReviewItem {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// String returns a representation for logging.
func (r *ReviewItem) String() string {
	return fmt.Sprintf("ReviewItem{ID: %s, EF: %.2f, Interval: %dd, Reps: %d}",
		r.ID, float64(r.EaseFactor), r.IntervalDays, r.Repetitions)
}

// Due filters and orders items by how overdue they are, most overdue first.
// Used by the reminder job to build the notification payload.
func Due(items []*ReviewItem, now time.Time) []*ReviewItem {
	due := make([]*ReviewItem, 0)
	for _, item := range items {
		if item.IsDue(now) {
			due = append(due, item)
		}
	}
	// Insertion sort: due sets are small and mostly ordered already.
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && due[j].NextReviewDate.Before(due[j-1].NextReviewDate); j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}
	return due
}
