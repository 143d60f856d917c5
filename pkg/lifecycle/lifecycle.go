package lifecycle

import (
	"time"

	"github.com/grangefarm/grange/pkg/types"
)

// AssignAgent binds a task to an agent. Setting the agent reference
// and the transition to assign are one atomic operation; there is no
// way to do one without the other. Attempts are not touched here, they
// increment when the agent reports the task running.
func AssignAgent(task *types.Task, agent *types.Agent) error {
	if task.State != types.WorkQueued || task.AgentID != "" {
		return &types.InvalidStateTransitionError{TaskID: task.ID, From: task.State, To: types.WorkAssign}
	}
	task.AgentID = agent.ID
	task.State = types.WorkAssign
	task.SentToAgent = false
	return nil
}

// ReportRunning records an agent's report that execution started.
func ReportRunning(task *types.Task, now time.Time) error {
	if task.State != types.WorkAssign {
		return &types.InvalidStateTransitionError{TaskID: task.ID, From: task.State, To: types.WorkRunning}
	}
	task.State = types.WorkRunning
	task.Attempts++
	task.TimeStarted = now
	task.TimeFinished = time.Time{}
	return nil
}

// ReportDone records a success report. The error column clears and
// progress is forced complete; agent is the assigned agent and gets
// its last-success timestamp updated when present.
func ReportDone(task *types.Task, agent *types.Agent, now time.Time) error {
	if task.State != types.WorkRunning {
		return &types.InvalidStateTransitionError{TaskID: task.ID, From: task.State, To: types.WorkDone}
	}
	task.State = types.WorkDone
	task.TimeFinished = now
	task.Progress = 1.0
	task.LastError = ""
	if agent != nil {
		agent.LastSuccessOn = now
	}
	return nil
}

// ReportFailed records a failure report or an agent-loss detection.
// Valid from assign (the agent never started it) and running.
func ReportFailed(task *types.Task, now time.Time, reason string) error {
	if task.State != types.WorkAssign && task.State != types.WorkRunning {
		return &types.InvalidStateTransitionError{TaskID: task.ID, From: task.State, To: types.WorkFailed}
	}
	task.State = types.WorkFailed
	task.Failures++
	task.TimeFinished = now
	task.LastError = reason
	return nil
}

// Requeue returns a failed task to the queue when the job's retry
// budget allows: attempts below job.Requeue, or RequeueForever. It
// reports whether the task was requeued; a task out of budget stays
// failed and that is not an error. Aside from the attempt and failure
// counters the requeued task is indistinguishable from a fresh queued
// task.
func Requeue(task *types.Task, job *types.Job) (bool, error) {
	if task.State != types.WorkFailed {
		return false, &types.InvalidStateTransitionError{TaskID: task.ID, From: task.State, To: types.WorkQueued}
	}
	if job.Requeue != types.RequeueForever && task.Attempts >= job.Requeue {
		return false, nil
	}
	task.State = types.WorkQueued
	task.AgentID = ""
	task.LastError = ""
	task.SentToAgent = false
	task.Progress = 0
	task.TimeStarted = time.Time{}
	task.TimeFinished = time.Time{}
	return true, nil
}

// JobState derives a job's aggregate state from its tasks. Job state
// is read-only: nothing sets it except this derivation and the alloc
// placeholder that exists before tasks are generated.
func JobState(job *types.Job, tasks []*types.Task) types.JobState {
	if len(tasks) == 0 {
		return types.JobAlloc
	}
	if job.Paused {
		return types.JobPaused
	}

	var done, failed, active, queued int
	for _, task := range tasks {
		switch task.State {
		case types.WorkDone:
			done++
		case types.WorkFailed:
			failed++
		case types.WorkAssign, types.WorkRunning:
			active++
		default:
			queued++
		}
	}

	switch {
	case done == len(tasks):
		return types.JobDone
	case done+failed == len(tasks) && failed > 0:
		return types.JobFailed
	case active > 0:
		return types.JobRunning
	default:
		return types.JobQueued
	}
}
