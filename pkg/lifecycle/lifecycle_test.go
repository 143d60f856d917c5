package lifecycle

import (
	"testing"
	"time"

	"github.com/grangefarm/grange/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignAgent(t *testing.T) {
	task := &types.Task{ID: "t1"}
	agent := &types.Agent{ID: "a1"}

	require.NoError(t, AssignAgent(task, agent))
	assert.Equal(t, "a1", task.AgentID)
	assert.Equal(t, types.WorkAssign, task.State)
	assert.False(t, task.SentToAgent)

	// A second assignment of the same task must be rejected.
	err := AssignAgent(task, &types.Agent{ID: "a2"})
	assert.Error(t, err)
	assert.Equal(t, "a1", task.AgentID)
}

func TestTransitionMatrix(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		from types.WorkState
		call func(task *types.Task) error
		ok   bool
	}{
		{"queued to assign", types.WorkQueued, func(task *types.Task) error {
			return AssignAgent(task, &types.Agent{ID: "a1"})
		}, true},
		{"assign to running", types.WorkAssign, func(task *types.Task) error {
			return ReportRunning(task, now)
		}, true},
		{"running to done", types.WorkRunning, func(task *types.Task) error {
			return ReportDone(task, nil, now)
		}, true},
		{"running to failed", types.WorkRunning, func(task *types.Task) error {
			return ReportFailed(task, now, "render error")
		}, true},
		{"assign to failed", types.WorkAssign, func(task *types.Task) error {
			return ReportFailed(task, now, "agent lost")
		}, true},
		{"queued to running", types.WorkQueued, func(task *types.Task) error {
			return ReportRunning(task, now)
		}, false},
		{"queued to done", types.WorkQueued, func(task *types.Task) error {
			return ReportDone(task, nil, now)
		}, false},
		{"assign to done skips running", types.WorkAssign, func(task *types.Task) error {
			return ReportDone(task, nil, now)
		}, false},
		{"done to running", types.WorkDone, func(task *types.Task) error {
			return ReportRunning(task, now)
		}, false},
		{"done to failed", types.WorkDone, func(task *types.Task) error {
			return ReportFailed(task, now, "late report")
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &types.Task{ID: "t1", State: tt.from}
			if tt.from != types.WorkQueued {
				task.AgentID = "a1"
			}

			err := tt.call(task)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				var terr *types.InvalidStateTransitionError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, tt.from, task.State, "failed transition must not mutate")
			}
		})
	}
}

func TestAttemptsIncrementOnRunningOnly(t *testing.T) {
	task := &types.Task{ID: "t1"}
	agent := &types.Agent{ID: "a1"}
	now := time.Now()

	require.NoError(t, AssignAgent(task, agent))
	assert.Equal(t, 0, task.Attempts, "assignment alone is not an attempt")

	require.NoError(t, ReportRunning(task, now))
	assert.Equal(t, 1, task.Attempts)

	require.NoError(t, ReportFailed(task, now, "crash"))
	assert.Equal(t, 1, task.Attempts)
	assert.Equal(t, 1, task.Failures)
}

func TestReportDoneClearsErrorAndCompletesProgress(t *testing.T) {
	agent := &types.Agent{ID: "a1"}
	task := &types.Task{ID: "t1", State: types.WorkRunning, AgentID: "a1", LastError: "previous crash", Progress: 0.4}
	now := time.Now()

	require.NoError(t, ReportDone(task, agent, now))
	assert.Empty(t, task.LastError)
	assert.Equal(t, 1.0, task.Progress)
	assert.Equal(t, now, task.TimeFinished)
	assert.Equal(t, now, agent.LastSuccessOn)
}

func TestRequeueBudget(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		requeue  int
		want     bool
	}{
		{"never requeue", 1, types.RequeueNever, false},
		{"forever requeues", 99, types.RequeueForever, true},
		{"within budget", 1, 2, true},
		{"budget exactly exhausted", 2, 2, false},
		{"budget exceeded", 3, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &types.Task{
				ID:       "t1",
				State:    types.WorkFailed,
				AgentID:  "a1",
				Attempts: tt.attempts,
				Failures: 1,
				LastError: "crash",
			}
			job := &types.Job{ID: "j1", Requeue: tt.requeue}

			requeued, err := Requeue(task, job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, requeued)

			if tt.want {
				assert.Equal(t, types.WorkQueued, task.State)
				assert.Empty(t, task.AgentID)
				assert.Empty(t, task.LastError)
				assert.Zero(t, task.Progress)
				// History survives the requeue.
				assert.Equal(t, tt.attempts, task.Attempts)
				assert.Equal(t, 1, task.Failures)
			} else {
				assert.Equal(t, types.WorkFailed, task.State)
			}
		})
	}
}

func TestRequeueRejectsNonFailedTask(t *testing.T) {
	task := &types.Task{ID: "t1", State: types.WorkRunning, AgentID: "a1"}
	_, err := Requeue(task, &types.Job{Requeue: types.RequeueForever})
	assert.Error(t, err)
}

func TestJobStateDerivation(t *testing.T) {
	job := &types.Job{ID: "j1"}

	tests := []struct {
		name   string
		paused bool
		states []types.WorkState
		want   types.JobState
	}{
		{"no tasks", false, nil, types.JobAlloc},
		{"all queued", false, []types.WorkState{types.WorkQueued, types.WorkQueued}, types.JobQueued},
		{"one running", false, []types.WorkState{types.WorkQueued, types.WorkRunning}, types.JobRunning},
		{"assigned counts as active", false, []types.WorkState{types.WorkAssign, types.WorkDone}, types.JobRunning},
		{"all done", false, []types.WorkState{types.WorkDone, types.WorkDone}, types.JobDone},
		{"terminal with a failure", false, []types.WorkState{types.WorkDone, types.WorkFailed}, types.JobFailed},
		{"failed but queued remain", false, []types.WorkState{types.WorkFailed, types.WorkQueued}, types.JobQueued},
		{"paused wins", true, []types.WorkState{types.WorkQueued}, types.JobPaused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job.Paused = tt.paused
			var tasks []*types.Task
			for _, s := range tt.states {
				tasks = append(tasks, &types.Task{State: s})
			}
			assert.Equal(t, tt.want, JobState(job, tasks))
		})
	}
}
