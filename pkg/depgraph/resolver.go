package depgraph

import (
	"github.com/grangefarm/grange/pkg/types"
)

// CheckJobDependency verifies that adding parentID as a dependency of
// childID keeps the job graph acyclic. It walks every ancestor of the
// prospective parent; finding the child means the edge would close a
// cycle.
func CheckJobDependency(jobs []*types.Job, childID, parentID string) error {
	if childID == parentID {
		return &types.CyclicDependencyError{Kind: "job", ID: childID, ParentID: parentID}
	}

	byID := make(map[string]*types.Job, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}

	if reachable(parentID, childID, func(id string) []string {
		if job, ok := byID[id]; ok {
			return job.ParentIDs
		}
		return nil
	}) {
		return &types.CyclicDependencyError{Kind: "job", ID: childID, ParentID: parentID}
	}
	return nil
}

// CheckTaskDependency verifies that adding parentID as a dependency of
// childID keeps the task graph acyclic.
func CheckTaskDependency(tasks []*types.Task, childID, parentID string) error {
	if childID == parentID {
		return &types.CyclicDependencyError{Kind: "task", ID: childID, ParentID: parentID}
	}

	byID := make(map[string]*types.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	if reachable(parentID, childID, func(id string) []string {
		if task, ok := byID[id]; ok {
			return task.ParentIDs
		}
		return nil
	}) {
		return &types.CyclicDependencyError{Kind: "task", ID: childID, ParentID: parentID}
	}
	return nil
}

// reachable walks the ancestor chain from start looking for target.
// Edge creation is the only place cycles can appear, so the walk
// assumes a DAG and guards against malformed input with a visited set.
func reachable(start, target string, parents func(string) []string) bool {
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, parents(id)...)
	}
	return false
}

// Resolver answers runnability questions for one scheduling pass. It
// memoizes every answer, so a pass never re-walks the same dependency
// chain for each candidate task. Build a fresh Resolver per tick; task
// and job states change between ticks.
type Resolver struct {
	jobs  map[string]*types.Job
	tasks map[string]*types.Task

	jobMemo  map[string]bool
	taskMemo map[string]bool
}

// NewResolver builds a Resolver over a snapshot of jobs and tasks.
func NewResolver(jobs []*types.Job, tasks []*types.Task) *Resolver {
	r := &Resolver{
		jobs:     make(map[string]*types.Job, len(jobs)),
		tasks:    make(map[string]*types.Task, len(tasks)),
		jobMemo:  make(map[string]bool),
		taskMemo: make(map[string]bool),
	}
	for _, job := range jobs {
		r.jobs[job.ID] = job
	}
	for _, task := range tasks {
		r.tasks[task.ID] = task
	}
	return r
}

// JobRunnable reports whether every direct and transitive parent job
// has finished successfully. Unknown parent ids count as unfinished.
func (r *Resolver) JobRunnable(jobID string) bool {
	if done, ok := r.jobMemo[jobID]; ok {
		return done
	}

	// Seed the memo against malformed cyclic input so the walk
	// terminates; edges are validated at creation time.
	r.jobMemo[jobID] = false

	job, ok := r.jobs[jobID]
	if !ok {
		return false
	}

	runnable := true
	for _, parentID := range job.ParentIDs {
		parent, ok := r.jobs[parentID]
		if !ok || parent.State != types.JobDone || !r.JobRunnable(parentID) {
			runnable = false
			break
		}
	}

	r.jobMemo[jobID] = runnable
	return runnable
}

// TaskRunnable reports whether a task may start: every parent task is
// done and the owning job is runnable.
func (r *Resolver) TaskRunnable(taskID string) bool {
	if runnable, ok := r.taskMemo[taskID]; ok {
		return runnable
	}
	r.taskMemo[taskID] = false

	task, ok := r.tasks[taskID]
	if !ok {
		return false
	}

	runnable := r.JobRunnable(task.JobID)
	if runnable {
		for _, parentID := range task.ParentIDs {
			parent, ok := r.tasks[parentID]
			if !ok || parent.State != types.WorkDone || !r.TaskRunnable(parentID) {
				runnable = false
				break
			}
		}
	}

	r.taskMemo[taskID] = runnable
	return runnable
}
