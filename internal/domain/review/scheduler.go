package review

// The scheduler is an SM-2 variant: four ratings map onto the classic 0-5
// quality scale (0, 3, 4, 5), lapses reset repetitions without touching the
// ease factor, and successful reviews grow the interval 1 -> 6 ->
// round(interval * EF).

import (
	"math"
	"time"
)

// SubmitReview applies a rating to an item and returns the advanced copy.
// It is a deterministic pure function of (item, rating, now); the input item
// is not mutated. It cannot fail for a valid rating.
func SubmitReview(item *ReviewItem, rating Rating, now time.Time) (*ReviewItem, error) {
	if !rating.IsValid() {
		return nil, ErrUnknownRating
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	next := item.Clone()
	q := rating.Quality()

	if rating.IsLapse() {
		// A lapse holds the item at daily review. The ease factor is left
		// unchanged so repeated failures never bury the item permanently.
		next.Repetitions = 0
		next.IntervalDays = 1
	} else {
		switch next.Repetitions {
		case 0:
			next.IntervalDays = 1
		case 1:
			next.IntervalDays = 6
		default:
			next.IntervalDays = Interval(math.Round(float64(next.IntervalDays) * float64(next.EaseFactor)))
		}
		next.Repetitions++

		penalty := float64(5 - q)
		next.EaseFactor = EaseFactor(float64(next.EaseFactor) + 0.1 - penalty*(0.08+penalty*0.02))
		next.EaseFactor = next.EaseFactor.Clamp()
	}

	next.LastReviewedAt = now
	next.NextReviewDate = now.Add(next.IntervalDays.Duration())
	next.UpdatedAt = now

	return next, nil
}
