package path

import (
	"errors"
	"fmt"
)

// Paths come from an external generator and from remote snapshots, so the
// acyclic assumption is checked at the door: a cycle would leave nodes
// permanently unreachable.

var (
	// ErrCyclicPrerequisites means the prerequisite graph is not a DAG.
	ErrCyclicPrerequisites = errors.New("prerequisite graph contains a cycle")

	// ErrUnknownPrerequisite means an edge points at a node not in the path.
	ErrUnknownPrerequisite = errors.New("prerequisite references unknown node")
)

// ValidateDAG runs a Kahn feasibility check over the prerequisite edges.
// Every node must be reachable through a topological order; self-references
// count as cycles.
func ValidateDAG(p *LearningPath) error {
	ids := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		ids[n.ID] = struct{}{}
	}

	indegree := make(map[string]int, len(p.Nodes))
	dependents := make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		indegree[n.ID] += 0
		for _, pre := range n.Prerequisites {
			if _, ok := ids[pre]; !ok {
				return fmt.Errorf("node %q -> %q: %w", n.ID, pre, ErrUnknownPrerequisite)
			}
			indegree[n.ID]++
			dependents[pre] = append(dependents[pre], n.ID)
		}
	}

	queue := make([]string, 0, len(p.Nodes))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(p.Nodes) {
		return ErrCyclicPrerequisites
	}
	return nil
}

// Normalize prepares a freshly ingested path: validates structure and the
// DAG, unlocks every node with an empty prerequisite list (such nodes are
// never locked), and recomputes progress.
func Normalize(p *LearningPath) (*LearningPath, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateDAG(p); err != nil {
		return nil, err
	}

	next := p.Clone()
	completed := make(map[string]bool, len(next.Nodes))
	for _, n := range next.Nodes {
		completed[n.ID] = n.Status == StatusCompleted
	}
	for i := range next.Nodes {
		n := &next.Nodes[i]
		if n.Status != StatusLocked {
			continue
		}
		if len(n.Prerequisites) == 0 || allSatisfied(n.Prerequisites, completed) {
			n.Status = StatusUnlocked
		}
	}
	next.Progress = next.computeProgress()
	return next, nil
}
