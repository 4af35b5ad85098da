package path

import (
	"time"
)

// CompleteResult describes what a CompleteNode call changed.
type CompleteResult struct {
	// Path is the advanced copy. The input path is never mutated.
	Path *LearningPath

	// Unlocked lists node ids whose prerequisites became fully satisfied.
	Unlocked []string

	// Changed is false when the call was a no-op (unknown id, or the node
	// was already completed).
	Changed bool
}

// CompleteNode marks the target node completed, unlocks every node whose
// prerequisites are now all completed, and recomputes progress. Unlock
// checks re-derive status from prerequisite state rather than toggling, so
// the fold is monotonic: no node ever moves backward.
//
// An unknown node id is a reported no-op, not an error: the caller gets the
// untouched path back with Changed=false.
func CompleteNode(p *LearningPath, nodeID string, now time.Time) CompleteResult {
	target := p.Node(nodeID)
	if target == nil {
		return CompleteResult{Path: p, Changed: false}
	}
	if target.Status == StatusCompleted {
		return CompleteResult{Path: p, Changed: false}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	next := p.Clone()
	next.Node(nodeID).Status = StatusCompleted

	completed := make(map[string]bool, len(next.Nodes))
	for _, n := range next.Nodes {
		completed[n.ID] = n.Status == StatusCompleted
	}

	unlocked := make([]string, 0)
	for i := range next.Nodes {
		n := &next.Nodes[i]
		if n.Status != StatusLocked {
			continue
		}
		if !dependsOn(n, nodeID) {
			continue
		}
		if allSatisfied(n.Prerequisites, completed) {
			n.Status = StatusUnlocked
			unlocked = append(unlocked, n.ID)
		}
	}

	next.Progress = next.computeProgress()
	next.UpdatedAt = now

	return CompleteResult{Path: next, Unlocked: unlocked, Changed: true}
}

func dependsOn(n *PathNode, nodeID string) bool {
	for _, p := range n.Prerequisites {
		if p == nodeID {
			return true
		}
	}
	return false
}

func allSatisfied(prereqs []string, completed map[string]bool) bool {
	for _, p := range prereqs {
		if !completed[p] {
			return false
		}
	}
	return true
}
