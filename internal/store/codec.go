package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/learnloop/learnloop-core/internal/domain/gamification"
	"github.com/learnloop/learnloop-core/internal/domain/group"
	"github.com/learnloop/learnloop-core/internal/domain/path"
	"github.com/learnloop/learnloop-core/internal/domain/review"
	"github.com/learnloop/learnloop-core/internal/domain/session"
	"github.com/learnloop/learnloop-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENT CODECS
// ══════════════════════════════════════════════════════════════════════════════
//
// Entities cross the remote store as JSON documents. The DTOs below pin the
// wire field names; the group shape in particular must keep "activeQuiz"
// and "participants" stable because the coordinator patches them by dotted
// field path.

type messageDoc struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionDoc struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"ownerId"`
	Title     string       `json:"title"`
	Messages  []messageDoc `json:"messages"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type reviewItemDoc struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	Content        string    `json:"content"`
	Topic          string    `json:"topic"`
	EaseFactor     float64   `json:"easeFactor"`
	IntervalDays   int       `json:"intervalDays"`
	Repetitions    int       `json:"repetitions"`
	CreatedAt      time.Time `json:"createdAt"`
	LastReviewedAt time.Time `json:"lastReviewedAt"`
	NextReviewDate time.Time `json:"nextReviewDate"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type pathNodeDoc struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Status        string   `json:"status"`
	Prerequisites []string `json:"prerequisites"`
	X             float64  `json:"x"`
	Y             float64  `json:"y"`
}

type pathDoc struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"ownerId"`
	Title     string        `json:"title"`
	Progress  int           `json:"progress"`
	Nodes     []pathNodeDoc `json:"nodes"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type questionDoc struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

type participantDoc struct {
	Score   int   `json:"score"`
	Answers []int `json:"answers"`
}

type quizSessionDoc struct {
	Topic                string                    `json:"topic"`
	Questions            []questionDoc             `json:"questions"`
	CurrentQuestionIndex int                       `json:"currentQuestionIndex"`
	Status               string                    `json:"status"`
	Participants         map[string]participantDoc `json:"participants"`
	StartedAt            time.Time                 `json:"startedAt"`
}

type groupMemberDoc struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type groupDoc struct {
	ID         string           `json:"id"`
	Code       string           `json:"code"`
	CreatedBy  string           `json:"createdBy"`
	Members    []groupMemberDoc `json:"members"`
	ActiveQuiz *quizSessionDoc  `json:"activeQuiz"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

type streakDoc struct {
	OwnerID       string    `json:"ownerId"`
	Current       int       `json:"current"`
	Longest       int       `json:"longest"`
	LastActiveDay time.Time `json:"lastActiveDay"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// toMap round-trips a DTO through JSON into the map form the remote store
// carries.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode document: %v", shared.ErrValidation, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: encode document: %v", shared.ErrValidation, err)
	}
	return m, nil
}

func fromMap(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: decode document: %v", shared.ErrValidation, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode document: %v", shared.ErrValidation, err)
	}
	return nil
}

// ─── sessions ────────────────────────────────────────────────────────────────

func encodeSession(s *session.ChatSession) (map[string]any, error) {
	return toMap(sessionToDoc(s))
}

func sessionToDoc(s *session.ChatSession) sessionDoc {
	doc := sessionDoc{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		Title:     s.Title,
		Messages:  make([]messageDoc, 0, len(s.Messages)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	for _, m := range s.Messages {
		doc.Messages = append(doc.Messages, messageDoc{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return doc
}

func decodeSession(m map[string]any) (*session.ChatSession, error) {
	var doc sessionDoc
	if err := fromMap(m, &doc); err != nil {
		return nil, err
	}

	s := &session.ChatSession{
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		Title:     doc.Title,
		Messages:  make([]session.Message, 0, len(doc.Messages)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, m := range doc.Messages {
		s.Messages = append(s.Messages, session.Message{
			Role:      session.Role(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	if s.ID == "" || s.OwnerID == "" {
		return nil, fmt.Errorf("%w: session document missing id or owner", shared.ErrValidation)
	}
	return s, nil
}

// ─── review items ────────────────────────────────────────────────────────────

func encodeReviewItem(r *review.ReviewItem) (map[string]any, error) {
	return toMap(reviewToDoc(r))
}

func reviewToDoc(r *review.ReviewItem) reviewItemDoc {
	return reviewItemDoc{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Content:        r.Content,
		Topic:          r.Topic,
		EaseFactor:     float64(r.EaseFactor),
		IntervalDays:   int(r.IntervalDays),
		Repetitions:    r.Repetitions,
		CreatedAt:      r.CreatedAt,
		LastReviewedAt: r.LastReviewedAt,
		NextReviewDate: r.NextReviewDate,
		UpdatedAt:      r.UpdatedAt,
	}
}

func decodeReviewItem(m map[string]any) (*review.ReviewItem, error) {
	var doc reviewItemDoc
	if err := fromMap(m, &doc); err != nil {
		return nil, err
	}

	item := &review.ReviewItem{
		ID:             doc.ID,
		OwnerID:        doc.OwnerID,
		Content:        doc.Content,
		Topic:          doc.Topic,
		EaseFactor:     review.EaseFactor(doc.EaseFactor),
		IntervalDays:   review.Interval(doc.IntervalDays),
		Repetitions:    doc.Repetitions,
		CreatedAt:      doc.CreatedAt,
		LastReviewedAt: doc.LastReviewedAt,
		NextReviewDate: doc.NextReviewDate,
		UpdatedAt:      doc.UpdatedAt,
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("%w: review item document: %v", shared.ErrValidation, err)
	}
	return item, nil
}

// ─── learning paths ──────────────────────────────────────────────────────────

func encodePath(p *path.LearningPath) (map[string]any, error) {
	return toMap(pathToDoc(p))
}

func pathToDoc(p *path.LearningPath) pathDoc {
	doc := pathDoc{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Title:     p.Title,
		Progress:  p.Progress,
		Nodes:     make([]pathNodeDoc, 0, len(p.Nodes)),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	for _, n := range p.Nodes {
		doc.Nodes = append(doc.Nodes, pathNodeDoc{
			ID:            n.ID,
			Label:         n.Label,
			Status:        string(n.Status),
			Prerequisites: n.Prerequisites,
			X:             n.X,
			Y:             n.Y,
		})
	}
	return doc
}

func decodePath(m map[string]any) (*path.LearningPath, error) {
	var doc pathDoc
	if err := fromMap(m, &doc); err != nil {
		return nil, err
	}

	p := &path.LearningPath{
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		Title:     doc.Title,
		Progress:  doc.Progress,
		Nodes:     make([]path.PathNode, 0, len(doc.Nodes)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, n := range doc.Nodes {
		p.Nodes = append(p.Nodes, path.PathNode{
			ID:            n.ID,
			Label:         n.Label,
			Status:        path.NodeStatus(n.Status),
			Prerequisites: n.Prerequisites,
			X:             n.X,
			Y:             n.Y,
		})
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: path document: %v", shared.ErrValidation, err)
	}
	return p, nil
}

// ─── study groups ────────────────────────────────────────────────────────────

// EncodeGroup serializes a group to its wire shape. Group documents are
// written by the coordinator rather than the outbox, so this codec is
// exported.
func EncodeGroup(g *group.StudyGroup) (map[string]any, error) {
	return encodeGroup(g)
}

// DecodeGroup parses and validates a group wire document.
func DecodeGroup(m map[string]any) (*group.StudyGroup, error) {
	return decodeGroup(m)
}

// ParticipantField produces the field-scoped update a member writes for
// their own quiz record, keyed "activeQuiz.participants.<uid>".
func ParticipantField(userID string, p *group.Participant) map[string]any {
	return map[string]any{
		"activeQuiz.participants." + userID: encodeParticipant(p),
	}
}

func encodeGroup(g *group.StudyGroup) (map[string]any, error) {
	return toMap(groupToDoc(g))
}

func groupToDoc(g *group.StudyGroup) groupDoc {
	doc := groupDoc{
		ID:        g.ID,
		Code:      g.Code.String(),
		CreatedBy: g.CreatedBy,
		Members:   make([]groupMemberDoc, 0, len(g.Members)),
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
	for _, m := range g.Members {
		doc.Members = append(doc.Members, groupMemberDoc{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			JoinedAt:    m.JoinedAt,
		})
	}
	if g.ActiveQuiz != nil {
		doc.ActiveQuiz = encodeQuizSession(g.ActiveQuiz)
	}
	return doc
}

func encodeQuizSession(q *group.QuizSession) *quizSessionDoc {
	doc := &quizSessionDoc{
		Topic:                q.Topic,
		Questions:            make([]questionDoc, 0, len(q.Questions)),
		CurrentQuestionIndex: q.CurrentQuestionIndex,
		Status:               string(q.Status),
		Participants:         make(map[string]participantDoc, len(q.Participants)),
		StartedAt:            q.StartedAt,
	}
	for _, question := range q.Questions {
		doc.Questions = append(doc.Questions, questionDoc{
			Prompt:       question.Prompt,
			Options:      question.Options,
			CorrectIndex: question.CorrectIndex,
		})
	}
	for uid, p := range q.Participants {
		doc.Participants[uid] = participantDoc{Score: p.Score, Answers: p.Answers}
	}
	return doc
}

// encodeParticipant produces the field-scoped value written under
// "activeQuiz.participants.<uid>".
func encodeParticipant(p *group.Participant) map[string]any {
	answers := make([]any, 0, len(p.Answers))
	for _, a := range p.Answers {
		answers = append(answers, a)
	}
	return map[string]any{
		"score":   p.Score,
		"answers": answers,
	}
}

func decodeGroup(m map[string]any) (*group.StudyGroup, error) {
	var doc groupDoc
	if err := fromMap(m, &doc); err != nil {
		return nil, err
	}

	g := &group.StudyGroup{
		ID:        doc.ID,
		Code:      group.JoinCode(doc.Code),
		CreatedBy: doc.CreatedBy,
		Members:   make([]group.GroupMember, 0, len(doc.Members)),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, m := range doc.Members {
		g.Members = append(g.Members, group.GroupMember{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			JoinedAt:    m.JoinedAt,
		})
	}
	if doc.ActiveQuiz != nil {
		quiz := &group.QuizSession{
			Topic:                doc.ActiveQuiz.Topic,
			Questions:            make([]group.Question, 0, len(doc.ActiveQuiz.Questions)),
			CurrentQuestionIndex: doc.ActiveQuiz.CurrentQuestionIndex,
			Status:               group.QuizStatus(doc.ActiveQuiz.Status),
			Participants:         make(map[string]*group.Participant, len(doc.ActiveQuiz.Participants)),
			StartedAt:            doc.ActiveQuiz.StartedAt,
		}
		for _, q := range doc.ActiveQuiz.Questions {
			quiz.Questions = append(quiz.Questions, group.Question{
				Prompt:       q.Prompt,
				Options:      q.Options,
				CorrectIndex: q.CorrectIndex,
			})
		}
		for uid, p := range doc.ActiveQuiz.Participants {
			quiz.Participants[uid] = &group.Participant{Score: p.Score, Answers: p.Answers}
		}
		g.ActiveQuiz = quiz
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: group document: %v", shared.ErrValidation, err)
	}
	return g, nil
}

// ─── streaks ─────────────────────────────────────────────────────────────────

func encodeStreak(s *gamification.Streak) (map[string]any, error) {
	return toMap(streakToDoc(s))
}

func streakToDoc(s *gamification.Streak) streakDoc {
	return streakDoc{
		OwnerID:       s.OwnerID,
		Current:       s.Current,
		Longest:       s.Longest,
		LastActiveDay: s.LastActiveDay,
		UpdatedAt:     s.UpdatedAt,
	}
}

func decodeStreak(m map[string]any) (*gamification.Streak, error) {
	var doc streakDoc
	if err := fromMap(m, &doc); err != nil {
		return nil, err
	}

	s := &gamification.Streak{
		OwnerID:       doc.OwnerID,
		Current:       doc.Current,
		Longest:       doc.Longest,
		LastActiveDay: doc.LastActiveDay,
		UpdatedAt:     doc.UpdatedAt,
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: streak document: %v", shared.ErrValidation, err)
	}
	return s, nil
}
