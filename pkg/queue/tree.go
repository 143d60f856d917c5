package queue

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/grangefarm/grange/pkg/types"
)

// Tree is an in-memory view of the job queue forest, built from stored
// queue records for one scheduling pass or one mutation.
type Tree struct {
	byID     map[string]*types.JobQueue
	children map[string][]*types.JobQueue
	roots    []*types.JobQueue
}

// NewTree indexes the queue records into a forest. A record whose
// parent chain loops back on itself is rejected; the parent pointer is
// immutable after creation, so this only defends against corrupted
// storage.
func NewTree(queues []*types.JobQueue) (*Tree, error) {
	t := &Tree{
		byID:     make(map[string]*types.JobQueue, len(queues)),
		children: make(map[string][]*types.JobQueue),
	}
	for _, q := range queues {
		t.byID[q.ID] = q
	}
	for _, q := range queues {
		if q.ParentID == "" {
			t.roots = append(t.roots, q)
			continue
		}
		if _, ok := t.byID[q.ParentID]; !ok {
			return nil, fmt.Errorf("queue %s references missing parent %s", q.ID, q.ParentID)
		}
		t.children[q.ParentID] = append(t.children[q.ParentID], q)
	}

	for _, q := range queues {
		seen := map[string]bool{q.ID: true}
		for cur := q; cur.ParentID != ""; {
			cur = t.byID[cur.ParentID]
			if seen[cur.ID] {
				return nil, &types.CyclicDependencyError{Kind: "queue", ID: q.ID, ParentID: q.ParentID}
			}
			seen[cur.ID] = true
		}
	}

	sortSiblings(t.roots)
	for _, siblings := range t.children {
		sortSiblings(siblings)
	}
	return t, nil
}

// sortSiblings keeps sibling iteration deterministic between passes.
func sortSiblings(siblings []*types.JobQueue) {
	sort.Slice(siblings, func(i, j int) bool {
		return siblings[i].Name < siblings[j].Name
	})
}

// Get returns a queue by id.
func (t *Tree) Get(id string) (*types.JobQueue, bool) {
	q, ok := t.byID[id]
	return q, ok
}

// Roots returns the top-level queues.
func (t *Tree) Roots() []*types.JobQueue {
	return t.roots
}

// Children returns the direct children of a queue.
func (t *Tree) Children(id string) []*types.JobQueue {
	return t.children[id]
}

// Path computes the dot-joined chain of names from the root down to
// the queue.
func (t *Tree) Path(id string) string {
	q, ok := t.byID[id]
	if !ok {
		return ""
	}
	names := []string{q.Name}
	for q.ParentID != "" {
		q = t.byID[q.ParentID]
		names = append(names, q.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, ".")
}

// Rename changes a queue's name and recomputes the materialized
// fullpath of the queue and every descendant. It returns each queue
// whose record changed so the caller can persist them in one mutation
// set; no descendant may observe a stale path.
func (t *Tree) Rename(id, newName string) ([]*types.JobQueue, error) {
	q, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("job queue not found: %s", id)
	}
	if newName == "" {
		return nil, &types.ValidationError{Field: "name", Value: newName, Reason: "must not be empty"}
	}
	for _, sibling := range t.siblingsOf(q) {
		if sibling.ID != q.ID && sibling.Name == newName {
			return nil, &types.ValidationError{Field: "name", Value: newName, Reason: "duplicate name among siblings"}
		}
	}

	q.Name = newName
	changed := []*types.JobQueue{}
	t.refreshPaths(q, &changed)
	return changed, nil
}

// RefreshPaths recomputes every queue's fullpath, returning the queues
// whose stored path was stale.
func (t *Tree) RefreshPaths() []*types.JobQueue {
	changed := []*types.JobQueue{}
	for _, root := range t.roots {
		t.refreshPaths(root, &changed)
	}
	return changed
}

func (t *Tree) refreshPaths(q *types.JobQueue, changed *[]*types.JobQueue) {
	path := t.Path(q.ID)
	if q.Fullpath != path {
		q.Fullpath = path
		*changed = append(*changed, q)
	}
	for _, child := range t.children[q.ID] {
		t.refreshPaths(child, changed)
	}
}

// CheckParent verifies that attaching childID under parentID would not
// close a cycle. Creation-time validation calls this; reparenting an
// existing queue is not supported.
func (t *Tree) CheckParent(childID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if childID == parentID {
		return &types.CyclicDependencyError{Kind: "queue", ID: childID, ParentID: parentID}
	}
	cur, ok := t.byID[parentID]
	if !ok {
		return fmt.Errorf("job queue not found: %s", parentID)
	}
	for cur.ParentID != "" {
		if cur.ParentID == childID {
			return &types.CyclicDependencyError{Kind: "queue", ID: childID, ParentID: parentID}
		}
		cur = t.byID[cur.ParentID]
	}
	return nil
}

func (t *Tree) siblingsOf(q *types.JobQueue) []*types.JobQueue {
	if q.ParentID == "" {
		return t.roots
	}
	return t.children[q.ParentID]
}

// SubtreeAssigned sums the directly assigned agent counts of a queue
// and all its descendants. direct maps queue id to the number of
// agents committed to jobs directly in that queue.
func (t *Tree) SubtreeAssigned(id string, direct map[string]int) int {
	total := direct[id]
	for _, child := range t.children[id] {
		total += t.SubtreeAssigned(child.ID, direct)
	}
	return total
}

// CapacityLeft returns how many more agents may be committed to jobs
// in the queue before it or any ancestor reaches maximum_agents.
// Unlimited capacity reports math.MaxInt.
func (t *Tree) CapacityLeft(id string, direct map[string]int) int {
	left := math.MaxInt
	q, ok := t.byID[id]
	if !ok {
		return 0
	}
	for {
		if q.MaximumAgents > 0 {
			room := q.MaximumAgents - t.SubtreeAssigned(q.ID, direct)
			if room < left {
				left = room
			}
		}
		if q.ParentID == "" {
			break
		}
		q = t.byID[q.ParentID]
	}
	if left < 0 {
		return 0
	}
	return left
}

// Ordered flattens the forest into scheduling preference order:
//
//  1. queues whose subtree is below minimum_agents come first, so
//     unmet floors win any contention;
//  2. then strictly higher priority among siblings;
//  3. among siblings of equal priority, the largest gap between weight
//     share and assigned share goes first, which converges on
//     weight-proportional distribution.
//
// Queues at their own or an ancestor's maximum_agents are excluded.
func (t *Tree) Ordered(direct map[string]int) []*types.JobQueue {
	var unmet, rest []*types.JobQueue
	t.order(t.roots, direct, &unmet, &rest)
	return append(unmet, rest...)
}

func (t *Tree) order(siblings []*types.JobQueue, direct map[string]int, unmet, rest *[]*types.JobQueue) {
	eligible := make([]*types.JobQueue, 0, len(siblings))
	for _, q := range siblings {
		if q.MaximumAgents > 0 && t.SubtreeAssigned(q.ID, direct) >= q.MaximumAgents {
			continue
		}
		eligible = append(eligible, q)
	}

	var weightSum, assignedSum int
	for _, q := range eligible {
		weightSum += q.Weight
		assignedSum += t.SubtreeAssigned(q.ID, direct)
	}

	share := func(q *types.JobQueue) float64 {
		var s float64
		if weightSum > 0 {
			s = float64(q.Weight) / float64(weightSum)
		}
		if assignedSum > 0 {
			s -= float64(t.SubtreeAssigned(q.ID, direct)) / float64(assignedSum)
		}
		return s
	}

	ordered := make([]*types.JobQueue, len(eligible))
	copy(ordered, eligible)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return share(ordered[i]) > share(ordered[j])
	})

	for _, q := range ordered {
		if q.MinimumAgents > 0 && t.SubtreeAssigned(q.ID, direct) < q.MinimumAgents {
			*unmet = append(*unmet, q)
		} else {
			*rest = append(*rest, q)
		}
		t.order(t.children[q.ID], direct, unmet, rest)
	}
}
