package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDAG_AcceptsAcyclic(t *testing.T) {
	p := &LearningPath{
		ID: "p", OwnerID: "u", Title: "t",
		Nodes: []PathNode{
			{ID: "a", Status: StatusUnlocked},
			{ID: "b", Status: StatusLocked, Prerequisites: []string{"a"}},
			{ID: "c", Status: StatusLocked, Prerequisites: []string{"a", "b"}},
		},
	}
	assert.NoError(t, ValidateDAG(p))
}

func TestValidateDAG_RejectsCycle(t *testing.T) {
	p := &LearningPath{
		ID: "p", OwnerID: "u", Title: "t",
		Nodes: []PathNode{
			{ID: "a", Status: StatusLocked, Prerequisites: []string{"c"}},
			{ID: "b", Status: StatusLocked, Prerequisites: []string{"a"}},
			{ID: "c", Status: StatusLocked, Prerequisites: []string{"b"}},
		},
	}
	assert.ErrorIs(t, ValidateDAG(p), ErrCyclicPrerequisites)
}

func TestValidateDAG_RejectsSelfReference(t *testing.T) {
	p := &LearningPath{
		ID: "p", OwnerID: "u", Title: "t",
		Nodes: []PathNode{
			{ID: "a", Status: StatusLocked, Prerequisites: []string{"a"}},
		},
	}
	assert.ErrorIs(t, ValidateDAG(p), ErrCyclicPrerequisites)
}

func TestValidateDAG_RejectsUnknownPrerequisite(t *testing.T) {
	p := &LearningPath{
		ID: "p", OwnerID: "u", Title: "t",
		Nodes: []PathNode{
			{ID: "a", Status: StatusLocked, Prerequisites: []string{"ghost"}},
		},
	}
	assert.ErrorIs(t, ValidateDAG(p), ErrUnknownPrerequisite)
}

func TestNormalize_UnlocksEmptyPrereqNodes(t *testing.T) {
	p := &LearningPath{
		ID: "p", OwnerID: "u", Title: "t",
		Nodes: []PathNode{
			{ID: "a", Status: StatusLocked},
			{ID: "b", Status: StatusLocked, Prerequisites: []string{"a"}},
		},
	}

	normalized, err := Normalize(p)
	require.NoError(t, err)

	assert.Equal(t, StatusUnlocked, normalized.Node("a").Status,
		"a node with no prerequisites is never locked")
	assert.Equal(t, StatusLocked, normalized.Node("b").Status)
	assert.Equal(t, 0, normalized.Progress)
}

func TestNormalize_UnlocksSatisfiedNodes(t *testing.T) {
	// A remote snapshot can carry a completed prerequisite with the
	// dependent still locked; normalization repairs that.
	p := &LearningPath{
		ID: "p", OwnerID: "u", Title: "t",
		Nodes: []PathNode{
			{ID: "a", Status: StatusCompleted},
			{ID: "b", Status: StatusLocked, Prerequisites: []string{"a"}},
		},
	}

	normalized, err := Normalize(p)
	require.NoError(t, err)
	assert.Equal(t, StatusUnlocked, normalized.Node("b").Status)
	assert.Equal(t, 50, normalized.Progress)
}

func TestNormalize_PropagatesValidationErrors(t *testing.T) {
	p := &LearningPath{
		ID: "p", OwnerID: "u", Title: "t",
		Nodes: []PathNode{
			{ID: "a", Status: StatusLocked, Prerequisites: []string{"b"}},
			{ID: "b", Status: StatusLocked, Prerequisites: []string{"a"}},
		},
	}
	_, err := Normalize(p)
	assert.ErrorIs(t, err, ErrCyclicPrerequisites)

	p2 := &LearningPath{ID: "p", OwnerID: "u", Title: "t"}
	_, err = Normalize(p2)
	assert.ErrorIs(t, err, ErrNoNodes)
}
