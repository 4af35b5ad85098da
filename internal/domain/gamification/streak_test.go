package gamification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordActivity_Sequence(t *testing.T) {
	s, err := NewStreak("user-1")
	require.NoError(t, err)

	day1 := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	assert.True(t, s.RecordActivity(day1))
	assert.Equal(t, 1, s.Current)

	// Same day again: no-op.
	assert.False(t, s.RecordActivity(day1.Add(8*time.Hour)))
	assert.Equal(t, 1, s.Current)

	// Consecutive days increment.
	assert.True(t, s.RecordActivity(day1.AddDate(0, 0, 1)))
	assert.True(t, s.RecordActivity(day1.AddDate(0, 0, 2)))
	assert.Equal(t, 3, s.Current)
	assert.Equal(t, 3, s.Longest)

	// A gap resets Current but keeps Longest.
	assert.True(t, s.RecordActivity(day1.AddDate(0, 0, 5)))
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 3, s.Longest)
}

func TestAtRisk(t *testing.T) {
	s, err := NewStreak("user-1")
	require.NoError(t, err)

	day1 := time.Date(2026, 6, 1, 22, 0, 0, 0, time.UTC)
	s.RecordActivity(day1)

	assert.False(t, s.AtRisk(day1), "active today is not at risk")
	assert.True(t, s.AtRisk(day1.AddDate(0, 0, 1)))
	assert.False(t, s.AtRisk(day1.AddDate(0, 0, 2)), "already broken, not at risk")
	assert.True(t, s.Broken(day1.AddDate(0, 0, 2)))
}

func TestNewStreak_RequiresOwner(t *testing.T) {
	_, err := NewStreak("")
	assert.ErrorIs(t, err, ErrEmptyOwner)
}
