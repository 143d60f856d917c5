package scheduler

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grangefarm/grange/pkg/config"
	"github.com/grangefarm/grange/pkg/manager"
	"github.com/grangefarm/grange/pkg/storage"
	"github.com/grangefarm/grange/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*Scheduler, *manager.Manager) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	mgr := manager.NewManagerWithStore(cfg, store)
	t.Cleanup(func() {
		mgr.Shutdown()
	})

	return NewScheduler(mgr, cfg, nil, nil), mgr
}

var nextAddr atomic.Int64

func registerAgent(t *testing.T, mgr *manager.Manager, hostname string, cpus, ram int) *types.Agent {
	t.Helper()

	agent, err := mgr.RegisterAgent(&manager.AgentRegistration{
		Hostname: hostname,
		Address:  fmt.Sprintf("10.0.0.%d", nextAddr.Add(1)),
		Port:     50000,
		CPUs:     cpus,
		RAM:      ram,
	})
	require.NoError(t, err)
	return agent
}

func submitJob(t *testing.T, mgr *manager.Manager, sub *manager.JobSubmission) *types.Job {
	t.Helper()

	if sub.Title == "" {
		sub.Title = "render"
	}
	if sub.User == "" {
		sub.User = "artist"
	}
	job, err := mgr.SubmitJob(sub)
	require.NoError(t, err)
	return job
}

func assignedTasks(t *testing.T, mgr *manager.Manager, jobID string) []*types.Task {
	t.Helper()

	tasks, err := mgr.ListTasksByJob(jobID)
	require.NoError(t, err)

	var assigned []*types.Task
	for _, task := range tasks {
		if task.State == types.WorkAssign {
			assigned = append(assigned, task)
		}
	}
	return assigned
}

func TestTickAssignsWithinAllocationBudget(t *testing.T) {
	s, mgr := newTestScheduler(t)

	// 2048 MB at the default 0.8 allocation leaves a 1638 MB budget:
	// one 1024 MB task fits, a second does not.
	registerAgent(t, mgr, "wolf01", 8, 2048)
	job := submitJob(t, mgr, &manager.JobSubmission{RAM: 1024, Start: 1, End: 2})

	require.NoError(t, s.Tick())

	assigned := assignedTasks(t, mgr, job.ID)
	assert.Len(t, assigned, 1)
}

func TestTickNeverOversubscribesAcrossTicks(t *testing.T) {
	s, mgr := newTestScheduler(t)

	registerAgent(t, mgr, "wolf01", 8, 2048)
	job := submitJob(t, mgr, &manager.JobSubmission{RAM: 1024, Start: 1, End: 5})

	// The committed task from the first tick must keep blocking the
	// second.
	require.NoError(t, s.Tick())
	require.NoError(t, s.Tick())

	assigned := assignedTasks(t, mgr, job.ID)
	assert.Len(t, assigned, 1)
}

func TestTickExclusiveJobTakesWholeAgent(t *testing.T) {
	s, mgr := newTestScheduler(t)

	registerAgent(t, mgr, "wolf01", 8, 4096)
	exclusive := submitJob(t, mgr, &manager.JobSubmission{RAM: types.ExclusiveResource, Start: 1, End: 1, Priority: 100})
	other := submitJob(t, mgr, &manager.JobSubmission{RAM: 64, Start: 1, End: 1})

	require.NoError(t, s.Tick())

	assert.Len(t, assignedTasks(t, mgr, exclusive.ID), 1)
	assert.Empty(t, assignedTasks(t, mgr, other.ID), "exclusively held agent must not be co-scheduled")
}

func TestTickExclusiveJobSkipsBusyAgent(t *testing.T) {
	s, mgr := newTestScheduler(t)

	registerAgent(t, mgr, "wolf01", 8, 4096)
	busy := submitJob(t, mgr, &manager.JobSubmission{RAM: 64, Start: 1, End: 1, Priority: 100})
	require.NoError(t, s.Tick())
	require.Len(t, assignedTasks(t, mgr, busy.ID), 1)

	exclusive := submitJob(t, mgr, &manager.JobSubmission{RAM: types.ExclusiveResource, Start: 1, End: 1})
	require.NoError(t, s.Tick())

	assert.Empty(t, assignedTasks(t, mgr, exclusive.ID))
}

func TestTickEnforcesQueueMaximumAgents(t *testing.T) {
	s, mgr := newTestScheduler(t)

	registerAgent(t, mgr, "wolf01", 8, 4096)
	registerAgent(t, mgr, "wolf02", 8, 4096)
	registerAgent(t, mgr, "wolf03", 8, 4096)

	_, err := mgr.CreateQueue(&manager.QueueSpec{Name: "capped", MaximumAgents: 2})
	require.NoError(t, err)

	// Each task needs most of an agent's budget, so every assignment
	// engages a fresh agent.
	job := submitJob(t, mgr, &manager.JobSubmission{RAM: 3000, Start: 1, End: 3, QueuePath: "capped"})

	require.NoError(t, s.Tick())

	assert.Len(t, assignedTasks(t, mgr, job.ID), 2, "queue cap of 2 agents must leave the third task queued")
}

func TestTickHonorsJobDependencies(t *testing.T) {
	s, mgr := newTestScheduler(t)

	registerAgent(t, mgr, "wolf01", 8, 4096)

	parent := submitJob(t, mgr, &manager.JobSubmission{RAM: 64, Start: 1, End: 1})
	child := submitJob(t, mgr, &manager.JobSubmission{RAM: 64, Start: 1, End: 1, ParentIDs: []string{parent.ID}})

	require.NoError(t, s.Tick())
	assert.Empty(t, assignedTasks(t, mgr, child.ID), "child must wait for parent job")

	// Finish the parent, then the child becomes schedulable.
	parentTasks := assignedTasks(t, mgr, parent.ID)
	require.Len(t, parentTasks, 1)
	require.NoError(t, mgr.TaskStarted(parentTasks[0].ID, time.Now()))
	require.NoError(t, mgr.TaskCompleted(parentTasks[0].ID, time.Now()))

	require.NoError(t, s.Tick())
	assert.Len(t, assignedTasks(t, mgr, child.ID), 1)
}

func TestTickSkipsPausedJobs(t *testing.T) {
	s, mgr := newTestScheduler(t)

	registerAgent(t, mgr, "wolf01", 8, 4096)
	job := submitJob(t, mgr, &manager.JobSubmission{RAM: 64, Start: 1, End: 2})
	require.NoError(t, mgr.PauseJob(job.ID))

	require.NoError(t, s.Tick())
	assert.Empty(t, assignedTasks(t, mgr, job.ID))

	require.NoError(t, mgr.ResumeJob(job.ID))
	require.NoError(t, s.Tick())
	assert.Len(t, assignedTasks(t, mgr, job.ID), 2)
}

func TestTickSkipsStaleAgents(t *testing.T) {
	s, mgr := newTestScheduler(t)

	agent := registerAgent(t, mgr, "wolf01", 8, 4096)
	agent.LastHeardFrom = time.Now().Add(-time.Hour)
	require.NoError(t, mgr.Store().UpdateAgent(agent))

	job := submitJob(t, mgr, &manager.JobSubmission{RAM: 64, Start: 1, End: 1})

	require.NoError(t, s.Tick())
	assert.Empty(t, assignedTasks(t, mgr, job.ID))
}

func TestTickPrefersHigherPriorityJobs(t *testing.T) {
	s, mgr := newTestScheduler(t)

	registerAgent(t, mgr, "wolf01", 8, 4096)

	low := submitJob(t, mgr, &manager.JobSubmission{RAM: 3000, Start: 1, End: 1, Priority: 0})
	high := submitJob(t, mgr, &manager.JobSubmission{RAM: 3000, Start: 1, End: 1, Priority: 50})

	require.NoError(t, s.Tick())

	assert.Len(t, assignedTasks(t, mgr, high.ID), 1)
	assert.Empty(t, assignedTasks(t, mgr, low.ID))
}

func TestTickRespectsSoftwareRequirements(t *testing.T) {
	s, mgr := newTestScheduler(t)

	min := 5
	agent, err := mgr.RegisterAgent(&manager.AgentRegistration{
		Hostname: "wolf01",
		Address:  "10.0.0.1",
		Port:     50000,
		CPUs:     8,
		RAM:      4096,
		Software: []*types.SoftwareVersion{{Software: "blender", Version: "3.6", Rank: 3}},
	})
	require.NoError(t, err)

	job := submitJob(t, mgr, &manager.JobSubmission{
		RAM:   64,
		Start: 1, End: 1,
		SoftwareRequirements: []*types.SoftwareRequirement{{Software: "blender", MinRank: &min}},
	})

	require.NoError(t, s.Tick())
	assert.Empty(t, assignedTasks(t, mgr, job.ID))

	// Upgrading past the required rank makes the agent eligible.
	agent.Software = []*types.SoftwareVersion{{Software: "blender", Version: "4.0", Rank: 6}}
	require.NoError(t, mgr.Store().UpdateAgent(agent))

	require.NoError(t, s.Tick())
	assert.Len(t, assignedTasks(t, mgr, job.ID), 1)
}

func TestTickBatchesContiguousFrames(t *testing.T) {
	s, mgr := newTestScheduler(t)

	registerAgent(t, mgr, "wolf01", 8, 4096)
	job := submitJob(t, mgr, &manager.JobSubmission{
		RAM:   64,
		Start: 1, End: 4,
		Batch:           4,
		BatchContiguous: true,
	})

	require.NoError(t, s.Tick())

	assigned := assignedTasks(t, mgr, job.ID)
	require.Len(t, assigned, 4)
	for _, task := range assigned {
		assert.Equal(t, assigned[0].AgentID, task.AgentID, "a contiguous batch lands on one agent")
	}
}

func TestNextBatchStopsAtFrameGap(t *testing.T) {
	job := &types.Job{Batch: 4, BatchContiguous: true, By: 1}
	tasks := []*types.Task{
		{Frame: 1}, {Frame: 2}, {Frame: 5}, {Frame: 6},
	}

	batch := nextBatch(job, tasks)
	assert.Len(t, batch, 2, "batch must stop at the 2 to 5 gap")
}

func TestNextBatchWithoutContiguity(t *testing.T) {
	job := &types.Job{Batch: 3}
	tasks := []*types.Task{
		{Frame: 1}, {Frame: 5}, {Frame: 9}, {Frame: 13},
	}

	batch := nextBatch(job, tasks)
	assert.Len(t, batch, 3)
}

func TestCandidateFits(t *testing.T) {
	tests := []struct {
		name string
		c    candidate
		job  *types.Job
		want bool
	}{
		{
			name: "fits within budget",
			c:    candidate{ramLeft: 2048, cpusLeft: 8},
			job:  &types.Job{RAM: 1024, CPUs: 4},
			want: true,
		},
		{
			name: "ram exhausted",
			c:    candidate{ramLeft: 512, cpusLeft: 8},
			job:  &types.Job{RAM: 1024, CPUs: 4},
			want: false,
		},
		{
			name: "cpu exhausted",
			c:    candidate{ramLeft: 2048, cpusLeft: 2},
			job:  &types.Job{RAM: 1024, CPUs: 4},
			want: false,
		},
		{
			name: "no floor accepts tiny agent",
			c:    candidate{ramLeft: 1, cpusLeft: 1},
			job:  &types.Job{RAM: types.NoResourceFloor, CPUs: types.NoResourceFloor},
			want: true,
		},
		{
			name: "exclusive needs idle agent",
			c:    candidate{ramLeft: 2048, cpusLeft: 8, busy: true},
			job:  &types.Job{RAM: types.ExclusiveResource},
			want: false,
		},
		{
			name: "exclusively held agent takes nothing",
			c:    candidate{exclusive: true},
			job:  &types.Job{RAM: types.NoResourceFloor},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.c.agent = &types.Agent{ID: "a"}
			assert.Equal(t, tt.want, tt.c.fits(tt.job))
		})
	}
}

// eagerDispatcher reports its tasks running before Deliver returns,
// like a real agent that starts work as soon as the batch arrives.
type eagerDispatcher struct {
	mgr *manager.Manager
}

func (d *eagerDispatcher) Deliver(agent *types.Agent, job *types.Job, tasks []*types.Task) error {
	for _, task := range tasks {
		if err := d.mgr.TaskStarted(task.ID, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func TestDeliveryKeepsConcurrentReports(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	mgr := manager.NewManagerWithStore(cfg, store)
	t.Cleanup(func() {
		mgr.Shutdown()
	})
	s := NewScheduler(mgr, cfg, &eagerDispatcher{mgr: mgr}, nil)

	registerAgent(t, mgr, "render01", 8, 8192)
	job := submitJob(t, mgr, &manager.JobSubmission{RAM: 1024, Start: 1, End: 1})

	require.NoError(t, s.Tick())

	// The running report landed mid-delivery; recording the delivery
	// must not revert it or drop the attempt count.
	tasks, err := mgr.ListTasksByJob(job.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.WorkRunning, tasks[0].State)
	assert.Equal(t, 1, tasks[0].Attempts)
	assert.True(t, tasks[0].SentToAgent)

	require.NoError(t, mgr.TaskCompleted(tasks[0].ID, time.Now()))

	done, err := mgr.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobDone, done.State)
}
