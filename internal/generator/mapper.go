package generator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/learnloop-core/internal/domain/group"
	"github.com/learnloop/learnloop-core/internal/domain/path"
	"github.com/learnloop/learnloop-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER
// ══════════════════════════════════════════════════════════════════════════════

// Mapper converts service DTOs into validated domain objects. Generated
// content is untrusted input; anything malformed is rejected here with an
// ErrValidation-kinded error and never reaches the entity model.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapQuestions converts generated questions, validating each one.
func (m *Mapper) MapQuestions(dto QuizResponseDTO) ([]group.Question, error) {
	if len(dto.Questions) == 0 {
		return nil, fmt.Errorf("%w: generated quiz has no questions", shared.ErrValidation)
	}

	questions := make([]group.Question, 0, len(dto.Questions))
	for i, q := range dto.Questions {
		question := group.Question{
			Prompt:       q.Prompt,
			Options:      q.Options,
			CorrectIndex: q.CorrectIndex,
		}
		if err := question.Validate(); err != nil {
			return nil, fmt.Errorf("%w: generated question %d: %v", shared.ErrValidation, i, err)
		}
		questions = append(questions, question)
	}
	return questions, nil
}

// MapLearningPath converts a generated path for the given owner. Nodes
// arrive locked; Normalize unlocks roots and verifies the prerequisite
// graph is acyclic.
func (m *Mapper) MapLearningPath(dto PathResponseDTO, ownerID string, now time.Time) (*path.LearningPath, error) {
	if dto.Title == "" {
		return nil, fmt.Errorf("%w: generated path has no title", shared.ErrValidation)
	}

	nodes := make([]path.PathNode, 0, len(dto.Nodes))
	for _, n := range dto.Nodes {
		nodes = append(nodes, path.PathNode{
			ID:            n.ID,
			Label:         n.Label,
			Status:        path.StatusLocked,
			Prerequisites: n.Prerequisites,
			X:             n.X,
			Y:             n.Y,
		})
	}

	p := &path.LearningPath{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     dto.Title,
		Nodes:     nodes,
		CreatedAt: now,
		UpdatedAt: now,
	}

	normalized, err := path.Normalize(p)
	if err != nil {
		return nil, fmt.Errorf("%w: generated path: %v", shared.ErrValidation, err)
	}
	return normalized, nil
}
