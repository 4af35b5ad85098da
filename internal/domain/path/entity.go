// Package path contains the curriculum domain model: learning paths as DAGs
// of nodes linked by prerequisite edges, plus the completion-propagation
// engine. No external dependencies.
package path

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS & ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// NodeStatus is the lifecycle state of a curriculum node. Status only moves
// forward: locked -> unlocked -> completed, never backward.
type NodeStatus string

const (
	// StatusLocked - prerequisites not yet satisfied.
	StatusLocked NodeStatus = "locked"
	// StatusUnlocked - available to study.
	StatusUnlocked NodeStatus = "unlocked"
	// StatusCompleted - finished.
	StatusCompleted NodeStatus = "completed"
)

// IsValid checks that the status is a known value.
func (s NodeStatus) IsValid() bool {
	switch s {
	case StatusLocked, StatusUnlocked, StatusCompleted:
		return true
	default:
		return false
	}
}

// rank orders statuses for the forward-only check.
func (s NodeStatus) rank() int {
	switch s {
	case StatusLocked:
		return 0
	case StatusUnlocked:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving to next is a forward transition.
func (s NodeStatus) CanAdvanceTo(next NodeStatus) bool {
	return next.rank() >= s.rank()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// PathNode is a single curriculum step with its prerequisite edges and a
// layout position for rendering.
type PathNode struct {
	ID            string
	Label         string
	Status        NodeStatus
	Prerequisites []string
	X             float64
	Y             float64
}

// LearningPath is a user-owned DAG of curriculum nodes.
type LearningPath struct {
	ID       string
	OwnerID  string
	Title    string
	Progress int // 0-100, derived from completed node count
	Nodes    []PathNode

	CreatedAt time.Time
	// UpdatedAt is the entity's merge version (wall-clock, last writer wins).
	UpdatedAt time.Time
}

// Domain errors.
var (
	ErrEmptyID      = errors.New("learning path id is required")
	ErrEmptyOwner   = errors.New("learning path owner is required")
	ErrEmptyTitle   = errors.New("learning path title is required")
	ErrNoNodes      = errors.New("learning path has no nodes")
	ErrDuplicateID  = errors.New("duplicate node id")
	ErrBadStatus    = errors.New("unknown node status")
	ErrBadProgress  = errors.New("progress out of range")
)

// Validate checks structural invariants. DAG validation is separate
// (ValidateDAG) because it is only required at ingestion time.
func (p *LearningPath) Validate() error {
	if p.ID == "" {
		return ErrEmptyID
	}
	if p.OwnerID == "" {
		return ErrEmptyOwner
	}
	if p.Title == "" {
		return ErrEmptyTitle
	}
	if len(p.Nodes) == 0 {
		return ErrNoNodes
	}
	if p.Progress < 0 || p.Progress > 100 {
		return ErrBadProgress
	}

	seen := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		if !n.Status.IsValid() {
			return fmt.Errorf("node %q: %w", n.ID, ErrBadStatus)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("node %q: %w", n.ID, ErrDuplicateID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// Node returns a pointer to the node with the given id, or nil.
func (p *LearningPath) Node(id string) *PathNode {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i]
		}
	}
	return nil
}

// CompletedCount returns the number of completed nodes.
func (p *LearningPath) CompletedCount() int {
	count := 0
	for _, n := range p.Nodes {
		if n.Status == StatusCompleted {
			count++
		}
	}
	return count
}

// IsComplete reports whether every node is completed.
func (p *LearningPath) IsComplete() bool {
	return len(p.Nodes) > 0 && p.CompletedCount() == len(p.Nodes)
}

// computeProgress derives progress = round(100 * completed / total).
func (p *LearningPath) computeProgress() int {
	if len(p.Nodes) == 0 {
		return 0
	}
	return int(math.Round(100 * float64(p.CompletedCount()) / float64(len(p.Nodes))))
}

// NewerThan reports whether this copy's version wins a last-writer merge.
func (p *LearningPath) NewerThan(other *LearningPath) bool {
	if other == nil {
		return true
	}
	return p.UpdatedAt.After(other.UpdatedAt)
}

// Clone creates a deep copy of the path.
func (p *LearningPath) Clone() *LearningPath {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Nodes = make([]PathNode, len(p.Nodes))
	for i, n := range p.Nodes {
		clone.Nodes[i] = n
		clone.Nodes[i].Prerequisites = append([]string(nil), n.Prerequisites...)
	}
	return &clone
}

// String returns a representation for logging.
func (p *LearningPath) String() string {
	return fmt.Sprintf("LearningPath{ID: %s, Nodes: %d, Progress: %d%%}",
		p.ID, len(p.Nodes), p.Progress)
}
