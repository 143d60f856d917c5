package queue

import (
	"testing"

	"github.com/grangefarm/grange/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q(id, parent, name string) *types.JobQueue {
	return &types.JobQueue{ID: id, ParentID: parent, Name: name, Weight: 10}
}

func ids(queues []*types.JobQueue) []string {
	out := make([]string, len(queues))
	for i, queue := range queues {
		out[i] = queue.ID
	}
	return out
}

func TestNewTreeRejectsMissingParent(t *testing.T) {
	_, err := NewTree([]*types.JobQueue{q("a", "ghost", "a")})
	assert.Error(t, err)
}

func TestNewTreeRejectsCorruptedCycle(t *testing.T) {
	_, err := NewTree([]*types.JobQueue{
		q("a", "b", "a"),
		q("b", "a", "b"),
	})
	var cerr *types.CyclicDependencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "queue", cerr.Kind)
}

func TestPath(t *testing.T) {
	tree, err := NewTree([]*types.JobQueue{
		q("root", "", "films"),
		q("show", "root", "show01"),
		q("seq", "show", "seq010"),
	})
	require.NoError(t, err)

	assert.Equal(t, "films", tree.Path("root"))
	assert.Equal(t, "films.show01.seq010", tree.Path("seq"))
	assert.Empty(t, tree.Path("missing"))
}

func TestRenameCascadesToDescendants(t *testing.T) {
	root := q("root", "", "films")
	show := q("show", "root", "show01")
	seq := q("seq", "show", "seq010")
	root.Fullpath = "films"
	show.Fullpath = "films.show01"
	seq.Fullpath = "films.show01.seq010"

	tree, err := NewTree([]*types.JobQueue{root, show, seq})
	require.NoError(t, err)

	changed, err := tree.Rename("show", "show02")
	require.NoError(t, err)

	// The renamed queue and its descendant both change; the root is
	// untouched.
	require.Len(t, changed, 2)
	assert.Equal(t, "films.show02", show.Fullpath)
	assert.Equal(t, "films.show02.seq010", seq.Fullpath)
	assert.Equal(t, "films", root.Fullpath)
}

func TestRenameRejectsDuplicateSibling(t *testing.T) {
	tree, err := NewTree([]*types.JobQueue{
		q("root", "", "films"),
		q("a", "root", "show01"),
		q("b", "root", "show02"),
	})
	require.NoError(t, err)

	_, err = tree.Rename("a", "show02")
	var verr *types.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestCheckParent(t *testing.T) {
	tree, err := NewTree([]*types.JobQueue{
		q("root", "", "films"),
		q("show", "root", "show01"),
	})
	require.NoError(t, err)

	assert.NoError(t, tree.CheckParent("new", "show"))
	assert.NoError(t, tree.CheckParent("new", ""))
	assert.Error(t, tree.CheckParent("show", "show"))
	assert.Error(t, tree.CheckParent("root", "show"), "attaching an ancestor under its descendant")
}

func TestOrderedStrictPriority(t *testing.T) {
	tree, err := NewTree([]*types.JobQueue{
		{ID: "low", Name: "low", Priority: 0, Weight: 10},
		{ID: "high", Name: "high", Priority: 5, Weight: 10},
		{ID: "mid", Name: "mid", Priority: 3, Weight: 10},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "mid", "low"}, ids(tree.Ordered(nil)))
}

func TestOrderedWeightShareTieBreak(t *testing.T) {
	tree, err := NewTree([]*types.JobQueue{
		{ID: "heavy", Name: "heavy", Weight: 30},
		{ID: "light", Name: "light", Weight: 10},
	})
	require.NoError(t, err)

	// With nothing assigned the larger weight goes first.
	assert.Equal(t, []string{"heavy", "light"}, ids(tree.Ordered(nil)))

	// Once heavy holds most of the farm its assigned share exceeds
	// its weight share and light moves ahead.
	direct := map[string]int{"heavy": 9, "light": 1}
	assert.Equal(t, []string{"light", "heavy"}, ids(tree.Ordered(direct)))
}

func TestOrderedUnmetMinimumFirst(t *testing.T) {
	tree, err := NewTree([]*types.JobQueue{
		{ID: "floor", Name: "floor", Priority: 0, Weight: 10, MinimumAgents: 2},
		{ID: "vip", Name: "vip", Priority: 100, Weight: 10},
	})
	require.NoError(t, err)

	// The unmet floor beats even a much higher priority.
	assert.Equal(t, []string{"floor", "vip"}, ids(tree.Ordered(nil)))

	// A satisfied floor falls back to priority order.
	direct := map[string]int{"floor": 2}
	assert.Equal(t, []string{"vip", "floor"}, ids(tree.Ordered(direct)))
}

func TestOrderedExcludesCappedQueues(t *testing.T) {
	tree, err := NewTree([]*types.JobQueue{
		{ID: "capped", Name: "capped", Weight: 10, MaximumAgents: 2},
		{ID: "open", Name: "open", Weight: 10},
	})
	require.NoError(t, err)

	direct := map[string]int{"capped": 2}
	assert.Equal(t, []string{"open"}, ids(tree.Ordered(direct)))
}

func TestCapacityLeftHonorsAncestorCaps(t *testing.T) {
	parent := &types.JobQueue{ID: "parent", Name: "parent", Weight: 10, MaximumAgents: 3}
	child := &types.JobQueue{ID: "child", ParentID: "parent", Name: "child", Weight: 10}
	sibling := &types.JobQueue{ID: "sibling", ParentID: "parent", Name: "sibling", Weight: 10}

	tree, err := NewTree([]*types.JobQueue{parent, child, sibling})
	require.NoError(t, err)

	// Two agents on the sibling leave one slot under the parent cap
	// for the child, even though the child itself is uncapped.
	direct := map[string]int{"sibling": 2}
	assert.Equal(t, 1, tree.CapacityLeft("child", direct))

	direct["sibling"] = 3
	assert.Equal(t, 0, tree.CapacityLeft("child", direct))
}

func TestSubtreeAssigned(t *testing.T) {
	tree, err := NewTree([]*types.JobQueue{
		q("root", "", "films"),
		q("a", "root", "show01"),
		q("b", "root", "show02"),
		q("a1", "a", "seq010"),
	})
	require.NoError(t, err)

	direct := map[string]int{"root": 1, "a": 2, "a1": 3, "b": 4}
	assert.Equal(t, 10, tree.SubtreeAssigned("root", direct))
	assert.Equal(t, 5, tree.SubtreeAssigned("a", direct))
	assert.Equal(t, 4, tree.SubtreeAssigned("b", direct))
}
