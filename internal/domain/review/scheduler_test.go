package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestItem(t *testing.T) *ReviewItem {
	t.Helper()
	item, err := NewReviewItem(NewItemParams{
		ID:      "item-1",
		OwnerID: "user-1",
		Content: "What is a goroutine?",
		Topic:   "go-basics",
		Now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return item
}

func TestSubmitReview_RepeatedAgainNeverBuriesItem(t *testing.T) {
	item := newTestItem(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		next, err := SubmitReview(item, RatingAgain, now)
		require.NoError(t, err)

		assert.Equal(t, Interval(1), next.IntervalDays)
		assert.Equal(t, 0, next.Repetitions)
		assert.Equal(t, EaseFactor(DefaultEaseFactor), next.EaseFactor,
			"lapse must not touch the ease factor")
		assert.Equal(t, now.Add(24*time.Hour), next.NextReviewDate)

		item = next
		now = now.Add(24 * time.Hour)
	}
}

func TestSubmitReview_GoodGrowthSequence(t *testing.T) {
	item := newTestItem(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// good at q=4 leaves EF unchanged: 0.1 - 1*(0.08 + 1*0.02) = 0.
	first, err := SubmitReview(item, RatingGood, now)
	require.NoError(t, err)
	assert.Equal(t, Interval(1), first.IntervalDays)
	assert.Equal(t, 1, first.Repetitions)
	assert.InDelta(t, 2.5, float64(first.EaseFactor), 1e-9)

	second, err := SubmitReview(first, RatingGood, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Interval(6), second.IntervalDays)
	assert.Equal(t, 2, second.Repetitions)

	third, err := SubmitReview(second, RatingGood, now.Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Interval(15), third.IntervalDays, "round(6 * 2.5)")
	assert.Equal(t, 3, third.Repetitions)
}

func TestSubmitReview_EasyRaisesEaseFactor(t *testing.T) {
	item := newTestItem(t)

	next, err := SubmitReview(item, RatingEasy, time.Now().UTC())
	require.NoError(t, err)
	assert.InDelta(t, 2.6, float64(next.EaseFactor), 1e-9)
}

func TestSubmitReview_HardLowersEaseFactorToFloor(t *testing.T) {
	item := newTestItem(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// hard at q=3 subtracts 0.14 each time; the floor must hold.
	for i := 0; i < 20; i++ {
		next, err := SubmitReview(item, RatingHard, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, float64(next.EaseFactor), EaseFactorFloor)
		item = next
		now = now.Add(24 * time.Hour)
	}
	assert.InDelta(t, EaseFactorFloor, float64(item.EaseFactor), 1e-9)
}

func TestSubmitReview_NextReviewDateInvariant(t *testing.T) {
	item := newTestItem(t)
	now := time.Date(2026, 3, 5, 18, 30, 0, 0, time.UTC)

	next, err := SubmitReview(item, RatingGood, now)
	require.NoError(t, err)

	assert.Equal(t, next.LastReviewedAt.Add(next.IntervalDays.Duration()), next.NextReviewDate)
}

func TestSubmitReview_Deterministic(t *testing.T) {
	item := newTestItem(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	a, err := SubmitReview(item, RatingGood, now)
	require.NoError(t, err)
	b, err := SubmitReview(item, RatingGood, now)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 0, item.Repetitions, "input item must not be mutated")
}

func TestSubmitReview_UnknownRating(t *testing.T) {
	item := newTestItem(t)

	_, err := SubmitReview(item, Rating("brilliant"), time.Now().UTC())
	assert.ErrorIs(t, err, ErrUnknownRating)
}

func TestDue_OrdersMostOverdueFirst(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mk := func(id string, dueOffset time.Duration) *ReviewItem {
		item, err := NewReviewItem(NewItemParams{
			ID: id, OwnerID: "user-1", Content: "c", Now: now.Add(-30 * 24 * time.Hour),
		})
		require.NoError(t, err)
		item.NextReviewDate = now.Add(dueOffset)
		return item
	}

	items := []*ReviewItem{
		mk("future", 48 * time.Hour),
		mk("overdue-1d", -24 * time.Hour),
		mk("overdue-5d", -5 * 24 * time.Hour),
		mk("due-now", 0),
	}

	due := Due(items, now)
	require.Len(t, due, 3)
	assert.Equal(t, "overdue-5d", due[0].ID)
	assert.Equal(t, "overdue-1d", due[1].ID)
	assert.Equal(t, "due-now", due[2].ID)
}
