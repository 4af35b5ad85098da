package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCode_IsValid(t *testing.T) {
	assert.True(t, JoinCode("ABC123XYZ0").IsValid())
	assert.False(t, JoinCode("short").IsValid())
	assert.False(t, JoinCode("abc123xyz0").IsValid(), "lowercase not in alphabet")
	assert.False(t, JoinCode("ABC123XYZ!").IsValid())
}

func TestNewStudyGroup_CreatorIsLeaderAndMember(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	g, err := NewStudyGroup(NewGroupParams{
		ID: "g1", Code: "ABC123XYZ0", CreatedBy: "u1", DisplayName: "User", Now: now,
	})
	require.NoError(t, err)

	assert.Equal(t, "u1", g.Leader())
	assert.True(t, g.IsMember("u1"))
	assert.NoError(t, g.Validate())
}

func TestNewStudyGroup_Validation(t *testing.T) {
	_, err := NewStudyGroup(NewGroupParams{Code: "ABC123XYZ0", CreatedBy: "u"})
	assert.ErrorIs(t, err, ErrEmptyID)

	_, err = NewStudyGroup(NewGroupParams{ID: "g", Code: "bad", CreatedBy: "u"})
	assert.ErrorIs(t, err, ErrBadCode)

	_, err = NewStudyGroup(NewGroupParams{ID: "g", Code: "ABC123XYZ0"})
	assert.ErrorIs(t, err, ErrEmptyCreator)
}

func TestAddMember_Duplicate(t *testing.T) {
	now := time.Now().UTC()
	g, err := NewStudyGroup(NewGroupParams{ID: "g1", Code: "ABC123XYZ0", CreatedBy: "u1", Now: now})
	require.NoError(t, err)

	require.NoError(t, g.AddMember("u2", "Two", now))
	assert.ErrorIs(t, g.AddMember("u2", "Two", now), ErrAlreadyMember)
	assert.Len(t, g.Members, 2)
}

func TestClone_DeepCopiesQuizState(t *testing.T) {
	now := time.Now().UTC()
	g, err := NewStudyGroup(NewGroupParams{ID: "g1", Code: "ABC123XYZ0", CreatedBy: "u1", Now: now})
	require.NoError(t, err)
	require.NoError(t, g.StartQuiz("u1", "math", []Question{
		{Prompt: "q", Options: []string{"a", "b"}, CorrectIndex: 0},
	}, now))
	_, err = g.SubmitAnswer("u1", 0, 0, now)
	require.NoError(t, err)

	clone := g.Clone()
	clone.ActiveQuiz.Participants["u1"].Score = 999
	clone.ActiveQuiz.Participants["u1"].Answers[0] = 5

	assert.Equal(t, ScoreAward, g.ActiveQuiz.Participants["u1"].Score)
	assert.Equal(t, 0, g.ActiveQuiz.Participants["u1"].Answers[0])
}
