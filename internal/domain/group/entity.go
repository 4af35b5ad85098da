// Package group contains the study-group domain model and the shared quiz
// state machine. Transitions are leader-privileged and enforced here, in the
// engine, not at the call site. No external dependencies.
package group

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CodeLength is the length of a join code. Codes are generated as uppercase
// alphanumeric nanoids by the store layer; the entity only validates shape.
const CodeLength = 10

// CodeAlphabet is the character set join codes are drawn from.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// JoinCode is the shareable token members use to enter a group.
type JoinCode string

// IsValid checks length and character set.
func (c JoinCode) IsValid() bool {
	if len(c) != CodeLength {
		return false
	}
	for _, r := range c {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}

// String returns the code in string form.
func (c JoinCode) String() string { return string(c) }

// GroupMember is a user's membership record.
type GroupMember struct {
	UserID      string
	DisplayName string
	JoinedAt    time.Time
}

// StudyGroup is the shared aggregate all participants subscribe to. The
// member who created the group is its leader and drives the quiz machine.
type StudyGroup struct {
	ID        string
	Code      JoinCode
	CreatedBy string
	Members   []GroupMember

	// ActiveQuiz is nil when no quiz is running. At most one per group.
	ActiveQuiz *QuizSession

	CreatedAt time.Time
	// UpdatedAt is the entity's merge version (wall-clock, last writer wins).
	UpdatedAt time.Time
}

// Domain errors.
var (
	ErrEmptyID        = errors.New("group id is required")
	ErrEmptyCreator   = errors.New("group creator is required")
	ErrBadCode        = errors.New("malformed join code")
	ErrNotMember      = errors.New("caller is not a group member")
	ErrAlreadyMember  = errors.New("user is already a member")
	ErrNotLeader      = errors.New("transition requires the group leader")
	ErrQuizActive     = errors.New("group already has an active quiz")
	ErrNoActiveQuiz   = errors.New("group has no active quiz")
	ErrQuizCompleted  = errors.New("quiz is already completed")
	ErrAnswerRejected = errors.New("answer rejected: wrong question index for participant")
	ErrNoQuestions    = errors.New("quiz needs at least one question")
	ErrBadQuestion    = errors.New("malformed quiz question")
)

// NewGroupParams contains parameters for creating a study group.
type NewGroupParams struct {
	ID          string
	Code        JoinCode
	CreatedBy   string
	DisplayName string
	Now         time.Time
}

// NewStudyGroup creates a group with the creator as its first member.
func NewStudyGroup(params NewGroupParams) (*StudyGroup, error) {
	if params.ID == "" {
		return nil, ErrEmptyID
	}
	if params.CreatedBy == "" {
		return nil, ErrEmptyCreator
	}
	if !params.Code.IsValid() {
		return nil, ErrBadCode
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return &StudyGroup{
		ID:        params.ID,
		Code:      params.Code,
		CreatedBy: params.CreatedBy,
		Members: []GroupMember{{
			UserID:      params.CreatedBy,
			DisplayName: params.DisplayName,
			JoinedAt:    now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Leader returns the user id privileged to drive the quiz machine.
func (g *StudyGroup) Leader() string { return g.CreatedBy }

// IsLeader reports whether the given user is the group leader.
func (g *StudyGroup) IsLeader(userID string) bool { return userID == g.CreatedBy }

// IsMember reports whether the given user belongs to the group.
func (g *StudyGroup) IsMember(userID string) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// AddMember joins a user to the group.
func (g *StudyGroup) AddMember(userID, displayName string, now time.Time) error {
	if g.IsMember(userID) {
		return ErrAlreadyMember
	}
	g.Members = append(g.Members, GroupMember{
		UserID:      userID,
		DisplayName: displayName,
		JoinedAt:    now,
	})
	g.UpdatedAt = now
	return nil
}

// Validate checks structural invariants, recursing into an active quiz.
// Used when accepting remote snapshots.
func (g *StudyGroup) Validate() error {
	if g.ID == "" {
		return ErrEmptyID
	}
	if g.CreatedBy == "" {
		return ErrEmptyCreator
	}
	if !g.Code.IsValid() {
		return ErrBadCode
	}
	if !g.IsMember(g.CreatedBy) {
		return fmt.Errorf("leader %q: %w", g.CreatedBy, ErrNotMember)
	}
	if g.ActiveQuiz != nil {
		return g.ActiveQuiz.Validate()
	}
	return nil
}

// NewerThan reports whether this copy's version wins a last-writer merge.
func (g *StudyGroup) NewerThan(other *StudyGroup) bool {
	if other == nil {
		return true
	}
	return g.UpdatedAt.After(other.UpdatedAt)
}

// Clone creates a deep copy of the group.
func (g *StudyGroup) Clone() *StudyGroup {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Members = append([]GroupMember(nil), g.Members...)
	clone.ActiveQuiz = g.ActiveQuiz.Clone()
	return &clone
}
