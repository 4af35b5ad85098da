package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func testQuestions() []Question {
	return []Question{
		{Prompt: "2+2?", Options: []string{"3", "4"}, CorrectIndex: 1},
		{Prompt: "Capital of France?", Options: []string{"Paris", "Lyon", "Nice"}, CorrectIndex: 0},
	}
}

func testGroup(t *testing.T) *StudyGroup {
	t.Helper()
	g, err := NewStudyGroup(NewGroupParams{
		ID:          "group-1",
		Code:        "ABC123XYZ0",
		CreatedBy:   "leader",
		DisplayName: "Lead",
		Now:         testNow,
	})
	require.NoError(t, err)
	require.NoError(t, g.AddMember("alice", "Alice", testNow))
	require.NoError(t, g.AddMember("bob", "Bob", testNow))
	return g
}

func TestStartQuiz_LeaderOnly(t *testing.T) {
	g := testGroup(t)

	err := g.StartQuiz("alice", "math", testQuestions(), testNow)
	assert.ErrorIs(t, err, ErrNotLeader)
	assert.Nil(t, g.ActiveQuiz)

	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))
	require.NotNil(t, g.ActiveQuiz)
	assert.Equal(t, 0, g.ActiveQuiz.CurrentQuestionIndex)
	assert.Equal(t, StatusInProgress, g.ActiveQuiz.Status)
}

func TestStartQuiz_AtMostOneActive(t *testing.T) {
	g := testGroup(t)
	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))

	err := g.StartQuiz("leader", "history", testQuestions(), testNow)
	assert.ErrorIs(t, err, ErrQuizActive)
}

func TestStartQuiz_RejectsMalformedQuestions(t *testing.T) {
	g := testGroup(t)

	err := g.StartQuiz("leader", "math", []Question{
		{Prompt: "bad", Options: []string{"only one"}, CorrectIndex: 0},
	}, testNow)
	assert.ErrorIs(t, err, ErrBadQuestion)

	err = g.StartQuiz("leader", "math", nil, testNow)
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestSubmitAnswer_ScoringAndDuplicateRejection(t *testing.T) {
	g := testGroup(t)
	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))

	correct, err := g.SubmitAnswer("alice", 0, 1, testNow)
	require.NoError(t, err)
	assert.True(t, correct)
	assert.Equal(t, ScoreAward, g.ActiveQuiz.Participants["alice"].Score)

	// Duplicate submission for an already-answered question.
	_, err = g.SubmitAnswer("alice", 0, 0, testNow)
	assert.ErrorIs(t, err, ErrAnswerRejected)
	assert.Equal(t, ScoreAward, g.ActiveQuiz.Participants["alice"].Score)
	assert.Len(t, g.ActiveQuiz.Participants["alice"].Answers, 1)
}

func TestSubmitAnswer_WrongAnswerNoAward(t *testing.T) {
	g := testGroup(t)
	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))

	correct, err := g.SubmitAnswer("bob", 0, 0, testNow)
	require.NoError(t, err)
	assert.False(t, correct)
	assert.Equal(t, 0, g.ActiveQuiz.Participants["bob"].Score)
	assert.Equal(t, []int{0}, g.ActiveQuiz.Participants["bob"].Answers)
}

func TestSubmitAnswer_OutOfOrderRejected(t *testing.T) {
	g := testGroup(t)
	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))

	_, err := g.SubmitAnswer("alice", 1, 0, testNow)
	assert.ErrorIs(t, err, ErrAnswerRejected)

	// After advancing, a participant who skipped question 0 still cannot
	// answer question 1: their answer count does not match.
	require.NoError(t, g.AdvanceQuestion("leader", testNow))
	_, err = g.SubmitAnswer("alice", 1, 0, testNow)
	assert.ErrorIs(t, err, ErrAnswerRejected)
}

func TestSubmitAnswer_ScoreIsolation(t *testing.T) {
	g := testGroup(t)
	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))

	_, err := g.SubmitAnswer("alice", 0, 1, testNow)
	require.NoError(t, err)
	_, err = g.SubmitAnswer("bob", 0, 0, testNow)
	require.NoError(t, err)

	assert.Equal(t, ScoreAward, g.ActiveQuiz.Participants["alice"].Score)
	assert.Equal(t, 0, g.ActiveQuiz.Participants["bob"].Score)
	assert.Len(t, g.ActiveQuiz.Participants["alice"].Answers, 1)
	assert.Len(t, g.ActiveQuiz.Participants["bob"].Answers, 1)
}

func TestSubmitAnswer_NonMemberRejected(t *testing.T) {
	g := testGroup(t)
	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))

	_, err := g.SubmitAnswer("stranger", 0, 1, testNow)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestAdvanceQuestion_CompletesAtEnd(t *testing.T) {
	g := testGroup(t)
	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))

	assert.ErrorIs(t, g.AdvanceQuestion("alice", testNow), ErrNotLeader)

	require.NoError(t, g.AdvanceQuestion("leader", testNow))
	assert.Equal(t, 1, g.ActiveQuiz.CurrentQuestionIndex)
	assert.Equal(t, StatusInProgress, g.ActiveQuiz.Status)

	require.NoError(t, g.AdvanceQuestion("leader", testNow))
	assert.Equal(t, 1, g.ActiveQuiz.CurrentQuestionIndex, "index does not run past the last question")
	assert.Equal(t, StatusCompleted, g.ActiveQuiz.Status)

	assert.ErrorIs(t, g.AdvanceQuestion("leader", testNow), ErrQuizCompleted)
}

func TestEndQuiz_ClearsSession(t *testing.T) {
	g := testGroup(t)
	require.NoError(t, g.StartQuiz("leader", "math", testQuestions(), testNow))

	assert.ErrorIs(t, g.EndQuiz("bob", testNow), ErrNotLeader)

	require.NoError(t, g.EndQuiz("leader", testNow))
	assert.Nil(t, g.ActiveQuiz)
	assert.ErrorIs(t, g.EndQuiz("leader", testNow), ErrNoActiveQuiz)

	// A new quiz can start once the old one is gone.
	assert.NoError(t, g.StartQuiz("leader", "history", testQuestions(), testNow))
}

func TestQuizSessionValidate_AnswerBound(t *testing.T) {
	s, err := NewQuizSession("math", testQuestions(), testNow)
	require.NoError(t, err)

	s.Participants["alice"] = &Participant{Answers: []int{0, 1}}
	assert.Error(t, s.Validate(), "answers.length must not exceed currentQuestionIndex+1")

	s.Participants["alice"] = &Participant{Answers: []int{0}}
	assert.NoError(t, s.Validate())
}
