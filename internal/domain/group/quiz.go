package group

import (
	"fmt"
	"time"
)

// ScoreAward is the fixed number of points for a correct answer.
const ScoreAward = 100

// QuizStatus is the lifecycle state of a shared quiz session.
type QuizStatus string

const (
	// StatusWaiting - session installed, first question not yet shown.
	StatusWaiting QuizStatus = "waiting"
	// StatusInProgress - participants are answering.
	StatusInProgress QuizStatus = "in-progress"
	// StatusCompleted - the last question has been advanced past.
	StatusCompleted QuizStatus = "completed"
)

// IsValid checks that the status is a known value.
func (s QuizStatus) IsValid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// Question is a single multiple-choice quiz question.
type Question struct {
	Prompt       string
	Options      []string
	CorrectIndex int
}

// Validate checks the question shape. Generated content passes through here
// before entering the entity model.
func (q Question) Validate() error {
	if q.Prompt == "" {
		return fmt.Errorf("empty prompt: %w", ErrBadQuestion)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("need at least two options: %w", ErrBadQuestion)
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return fmt.Errorf("correct index out of range: %w", ErrBadQuestion)
	}
	return nil
}

// Participant is one member's per-quiz state. Each participant's record is
// written under a key scoped to their user id, so concurrent submissions
// never clobber each other.
type Participant struct {
	Score   int
	Answers []int
}

// QuizSession is the shared quiz state machine. currentQuestionIndex only
// advances, and only the leader advances it.
type QuizSession struct {
	Topic                string
	Questions            []Question
	CurrentQuestionIndex int
	Status               QuizStatus
	Participants         map[string]*Participant
	StartedAt            time.Time
}

// NewQuizSession installs a fresh session at question zero.
func NewQuizSession(topic string, questions []Question, now time.Time) (*QuizSession, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
	}
	return &QuizSession{
		Topic:                topic,
		Questions:            questions,
		CurrentQuestionIndex: 0,
		Status:               StatusInProgress,
		Participants:         make(map[string]*Participant),
		StartedAt:            now,
	}, nil
}

// Validate checks session invariants, including the per-participant bound
// answers.length <= currentQuestionIndex+1.
func (s *QuizSession) Validate() error {
	if !s.Status.IsValid() {
		return fmt.Errorf("status %q: %w", s.Status, ErrBadQuestion)
	}
	if len(s.Questions) == 0 {
		return ErrNoQuestions
	}
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.Questions) {
		return fmt.Errorf("question index %d out of range: %w", s.CurrentQuestionIndex, ErrBadQuestion)
	}
	for uid, p := range s.Participants {
		if p == nil {
			return fmt.Errorf("participant %q is nil: %w", uid, ErrBadQuestion)
		}
		if len(p.Answers) > s.CurrentQuestionIndex+1 {
			return fmt.Errorf("participant %q answered ahead of the session: %w", uid, ErrBadQuestion)
		}
		if p.Score < 0 {
			return fmt.Errorf("participant %q has negative score: %w", uid, ErrBadQuestion)
		}
	}
	return nil
}

// Clone creates a deep copy of the session.
func (s *QuizSession) Clone() *QuizSession {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Questions = append([]Question(nil), s.Questions...)
	clone.Participants = make(map[string]*Participant, len(s.Participants))
	for uid, p := range s.Participants {
		cp := *p
		cp.Answers = append([]int(nil), p.Answers...)
		clone.Participants[uid] = &cp
	}
	return &clone
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// StartQuiz installs a fresh session. Leader only; rejected while another
// quiz is active.
func (g *StudyGroup) StartQuiz(callerID, topic string, questions []Question, now time.Time) error {
	if !g.IsLeader(callerID) {
		return ErrNotLeader
	}
	if g.ActiveQuiz != nil && g.ActiveQuiz.Status != StatusCompleted {
		return ErrQuizActive
	}

	session, err := NewQuizSession(topic, questions, now)
	if err != nil {
		return err
	}
	g.ActiveQuiz = session
	g.UpdatedAt = now
	return nil
}

// SubmitAnswer records a participant's answer for the given question index.
// Accepted only when the participant's recorded answer count equals qIndex:
// answering out of order or twice is rejected. A correct answer adds the
// fixed award to the participant's score.
func (g *StudyGroup) SubmitAnswer(callerID string, qIndex, answerIndex int, now time.Time) (correct bool, err error) {
	if !g.IsMember(callerID) {
		return false, ErrNotMember
	}
	s := g.ActiveQuiz
	if s == nil {
		return false, ErrNoActiveQuiz
	}
	if s.Status == StatusCompleted {
		return false, ErrQuizCompleted
	}
	if qIndex != s.CurrentQuestionIndex {
		return false, ErrAnswerRejected
	}

	p := s.Participants[callerID]
	if p == nil {
		p = &Participant{}
		s.Participants[callerID] = p
	}
	if len(p.Answers) != qIndex {
		return false, ErrAnswerRejected
	}

	p.Answers = append(p.Answers, answerIndex)
	correct = answerIndex == s.Questions[qIndex].CorrectIndex
	if correct {
		p.Score += ScoreAward
	}
	g.UpdatedAt = now
	return correct, nil
}

// AdvanceQuestion moves to the next question, or completes the quiz when no
// questions remain. Leader only.
func (g *StudyGroup) AdvanceQuestion(callerID string, now time.Time) error {
	if !g.IsLeader(callerID) {
		return ErrNotLeader
	}
	s := g.ActiveQuiz
	if s == nil {
		return ErrNoActiveQuiz
	}
	if s.Status == StatusCompleted {
		return ErrQuizCompleted
	}

	if s.CurrentQuestionIndex < len(s.Questions)-1 {
		s.CurrentQuestionIndex++
	} else {
		s.Status = StatusCompleted
	}
	g.UpdatedAt = now
	return nil
}

// EndQuiz clears the active session from any state. Leader only.
func (g *StudyGroup) EndQuiz(callerID string, now time.Time) error {
	if !g.IsLeader(callerID) {
		return ErrNotLeader
	}
	if g.ActiveQuiz == nil {
		return ErrNoActiveQuiz
	}
	g.ActiveQuiz = nil
	g.UpdatedAt = now
	return nil
}
