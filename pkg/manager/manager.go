package manager

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grangefarm/grange/pkg/config"
	"github.com/grangefarm/grange/pkg/depgraph"
	"github.com/grangefarm/grange/pkg/events"
	"github.com/grangefarm/grange/pkg/health"
	"github.com/grangefarm/grange/pkg/lifecycle"
	"github.com/grangefarm/grange/pkg/log"
	"github.com/grangefarm/grange/pkg/metrics"
	"github.com/grangefarm/grange/pkg/queue"
	"github.com/grangefarm/grange/pkg/storage"
	"github.com/grangefarm/grange/pkg/types"
	"github.com/rs/zerolog"
)

// Manager owns farm state and the operations that mutate it: agent
// registration and heartbeats, job submission and task generation,
// queue management, and the status reports agents send back. Reports
// for different tasks and agents apply as independent operations;
// storage serializes the writes.
type Manager struct {
	cfg       *config.Config
	store     storage.Store
	validator *types.Validator
	broker    *events.Broker
	tokens    *TokenManager
	logger    zerolog.Logger

	// Serializes multi-entity report handling per manager so a task
	// report and a requeue never interleave on the same records.
	mu sync.Mutex
}

// NewManager creates a Manager backed by a BoltDB store in the
// configured data directory.
func NewManager(cfg *config.Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	return &Manager{
		cfg:       cfg,
		store:     store,
		validator: types.NewValidator(cfg),
		broker:    broker,
		tokens:    NewTokenManager(),
		logger:    log.WithComponent("manager"),
	}, nil
}

// NewManagerWithStore creates a Manager over an existing store,
// used by tests.
func NewManagerWithStore(cfg *config.Config, store storage.Store) *Manager {
	broker := events.NewBroker()
	broker.Start()

	return &Manager{
		cfg:       cfg,
		store:     store,
		validator: types.NewValidator(cfg),
		broker:    broker,
		tokens:    NewTokenManager(),
		logger:    log.WithComponent("manager"),
	}
}

// Shutdown stops the event broker and closes the store.
func (m *Manager) Shutdown() error {
	m.broker.Stop()
	return m.store.Close()
}

// Store exposes the underlying store to collaborating components.
func (m *Manager) Store() storage.Store {
	return m.store
}

// Events exposes the event broker.
func (m *Manager) Events() *events.Broker {
	return m.broker
}

// Tokens exposes the registration token manager.
func (m *Manager) Tokens() *TokenManager {
	return m.tokens
}

// Validator exposes the configured validator.
func (m *Manager) Validator() *types.Validator {
	return m.validator
}

// AgentRegistration is the payload of an agent's first contact or an
// admin-side agent creation.
type AgentRegistration struct {
	Hostname    string
	Address     string
	AddressMode types.AddressMode
	Port        int
	CPUs        int
	RAM         int
	FreeRAM     int
	Software    []*types.SoftwareVersion
	Tags        []string
}

// RegisterAgent creates an agent on first contact, or refreshes the
// record of a known (hostname, address, port) endpoint. Either way the
// resulting record passes full validation before anything persists.
func (m *Manager) RegisterAgent(reg *AgentRegistration) (*types.Agent, error) {
	now := time.Now()

	agent, err := m.store.GetAgentByEndpoint(reg.Hostname, reg.Address, reg.Port)
	if err != nil {
		agent = &types.Agent{
			ID:            uuid.New().String(),
			RAMAllocation: m.cfg.Agents.RAMAllocation,
			CPUAllocation: m.cfg.Agents.CPUAllocation,
			CreatedAt:     now,
		}
	}

	agent.Hostname = reg.Hostname
	agent.Address = reg.Address
	agent.Port = reg.Port
	agent.CPUs = reg.CPUs
	agent.RAM = reg.RAM
	agent.FreeRAM = reg.FreeRAM
	if agent.FreeRAM == 0 {
		agent.FreeRAM = reg.RAM
	}
	agent.AddressMode = reg.AddressMode
	if agent.AddressMode == "" {
		agent.AddressMode = types.AddressModeIP
	}
	agent.Software = reg.Software
	agent.Tags = reg.Tags
	agent.State = types.AgentOnline
	agent.LastHeardFrom = now

	if err := m.validator.ValidateAgent(agent); err != nil {
		return nil, err
	}

	for _, tag := range agent.Tags {
		if _, err := m.store.EnsureTag(tag); err != nil {
			return nil, err
		}
	}

	if err := m.store.UpdateAgent(agent); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("agent_id", agent.ID).
		Str("hostname", agent.Hostname).
		Int("cpus", agent.CPUs).
		Int("ram", agent.RAM).
		Msg("agent registered")

	m.broker.Publish(&events.Event{
		Type:    events.EventAgentRegistered,
		Message: "agent registered",
		Metadata: map[string]string{
			"agent_id": agent.ID,
			"hostname": agent.Hostname,
		},
	})
	return agent, nil
}

// Heartbeat applies one agent status report. Out-of-order reports are
// discarded silently apart from a counter.
func (m *Manager) Heartbeat(report *health.HeartbeatReport) error {
	agent, err := m.store.GetAgent(report.AgentID)
	if err != nil {
		return err
	}

	if !health.ApplyHeartbeat(agent, report) {
		metrics.HeartbeatsDiscarded.Inc()
		m.logger.Debug().
			Str("agent_id", agent.ID).
			Time("reported", report.Reported).
			Msg("discarded out-of-order heartbeat")
		return nil
	}

	return m.store.UpdateAgent(agent)
}

// DisableAgent soft-disables an agent. Agents referenced by tasks are
// never deleted; disabling removes them from scheduling while keeping
// task history intact.
func (m *Manager) DisableAgent(agentID string) error {
	agent, err := m.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	agent.State = types.AgentDisabled
	return m.store.UpdateAgent(agent)
}

// EnableAgent returns a disabled agent to the online pool.
func (m *Manager) EnableAgent(agentID string) error {
	agent, err := m.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	if agent.State == types.AgentDisabled {
		agent.State = types.AgentOnline
	}
	return m.store.UpdateAgent(agent)
}

// JobSubmission is the payload for submitting a job.
type JobSubmission struct {
	Title                string
	User                 string
	Priority             int
	CPUs                 int
	RAM                  int
	Start                float64
	End                  float64
	By                   float64
	Batch                int
	BatchContiguous      bool
	Tiles                int
	Requeue              int
	SoftwareRequirements []*types.SoftwareRequirement
	Hidden               bool
	ParentIDs            []string
	QueuePath            string
	GroupID              string
	Tags                 []string
	Notes                string
}

// SubmitJob creates a job and expands its frame range into tasks. The
// job is created in the alloc placeholder state and becomes queued in
// the same atomic commit that creates its tasks, so no reader ever
// observes a queued job without tasks.
func (m *Manager) SubmitJob(sub *JobSubmission) (*types.Job, error) {
	now := time.Now()

	job := &types.Job{
		ID:                   uuid.New().String(),
		Title:                sub.Title,
		User:                 sub.User,
		Priority:             sub.Priority,
		CPUs:                 sub.CPUs,
		RAM:                  sub.RAM,
		Start:                sub.Start,
		End:                  sub.End,
		By:                   sub.By,
		Batch:                sub.Batch,
		BatchContiguous:      sub.BatchContiguous,
		Tiles:                sub.Tiles,
		Requeue:              sub.Requeue,
		SoftwareRequirements: sub.SoftwareRequirements,
		Hidden:               sub.Hidden,
		GroupID:              sub.GroupID,
		Tags:                 sub.Tags,
		Notes:                sub.Notes,
		State:                types.JobAlloc,
		TimeSubmitted:        now,
	}
	if job.By == 0 {
		job.By = 1
	}
	if job.Batch == 0 {
		job.Batch = 1
	}

	if sub.QueuePath != "" {
		q, err := m.store.GetQueueByPath(sub.QueuePath)
		if err != nil {
			return nil, err
		}
		job.QueueID = q.ID
	}

	if err := m.validator.ValidateJob(job); err != nil {
		return nil, err
	}

	// Dependency edges are checked before anything persists.
	if len(sub.ParentIDs) > 0 {
		jobs, err := m.store.ListJobs()
		if err != nil {
			return nil, err
		}
		for _, parentID := range sub.ParentIDs {
			if _, err := m.store.GetJob(parentID); err != nil {
				return nil, err
			}
			if err := depgraph.CheckJobDependency(append(jobs, job), job.ID, parentID); err != nil {
				return nil, err
			}
		}
		job.ParentIDs = sub.ParentIDs
	}

	for _, tag := range job.Tags {
		if _, err := m.store.EnsureTag(tag); err != nil {
			return nil, err
		}
	}

	tasks := expandFrameRange(job, now)
	job.State = types.JobQueued

	ms := &storage.MutationSet{Jobs: []*types.Job{job}, Tasks: tasks}
	if err := m.store.Commit(ms); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("title", job.Title).
		Int("tasks", len(tasks)).
		Msg("job submitted")

	m.broker.Publish(&events.Event{
		Type:    events.EventJobSubmitted,
		Message: "job submitted",
		Metadata: map[string]string{
			"job_id": job.ID,
			"title":  job.Title,
		},
	})
	return job, nil
}

// expandFrameRange generates one task per frame in [start, end]
// counting by the job's step, or one task per tile per frame when the
// job renders tiled. The step may be fractional; the epsilon guards
// against float accumulation dropping the final frame.
func expandFrameRange(job *types.Job, now time.Time) []*types.Task {
	const eps = 1e-9

	var tasks []*types.Task
	for frame := job.Start; frame <= job.End+eps; frame += job.By {
		if job.Tiles > 1 {
			for tile := 0; tile < job.Tiles; tile++ {
				tasks = append(tasks, &types.Task{
					ID:            uuid.New().String(),
					JobID:         job.ID,
					Frame:         frame,
					Tile:          &tile,
					Priority:      job.Priority,
					TimeSubmitted: now,
				})
			}
			continue
		}
		tasks = append(tasks, &types.Task{
			ID:            uuid.New().String(),
			JobID:         job.ID,
			Frame:         frame,
			Priority:      job.Priority,
			TimeSubmitted: now,
		})
	}
	return tasks
}

// AddTaskDependency records that child must wait for parent, both in
// the same job or across jobs. The edge is rejected if it would close
// a cycle.
func (m *Manager) AddTaskDependency(childID, parentID string) error {
	child, err := m.store.GetTask(childID)
	if err != nil {
		return err
	}
	if _, err := m.store.GetTask(parentID); err != nil {
		return err
	}

	tasks, err := m.store.ListTasks()
	if err != nil {
		return err
	}
	if err := depgraph.CheckTaskDependency(tasks, childID, parentID); err != nil {
		return err
	}

	child.ParentIDs = append(child.ParentIDs, parentID)
	return m.store.UpdateTask(child)
}

// PauseJob excludes a job's tasks from scheduling without touching
// their state.
func (m *Manager) PauseJob(jobID string) error {
	job, err := m.store.GetJob(jobID)
	if err != nil {
		return err
	}
	job.Paused = true
	return m.store.UpdateJob(job)
}

// ResumeJob lifts a pause.
func (m *Manager) ResumeJob(jobID string) error {
	job, err := m.store.GetJob(jobID)
	if err != nil {
		return err
	}
	job.Paused = false
	return m.refreshJobState(job, nil)
}

// QueueSpec is the payload for creating a job queue.
type QueueSpec struct {
	Name          string
	ParentPath    string
	Priority      *int
	Weight        *int
	MinimumAgents int
	MaximumAgents int
}

// CreateQueue adds a queue to the tree. The parent is fixed for the
// queue's lifetime.
func (m *Manager) CreateQueue(spec *QueueSpec) (*types.JobQueue, error) {
	q := &types.JobQueue{
		ID:            uuid.New().String(),
		Name:          spec.Name,
		Priority:      m.cfg.Scheduling.DefaultQueuePriority,
		Weight:        m.cfg.Scheduling.DefaultQueueWeight,
		MinimumAgents: spec.MinimumAgents,
		MaximumAgents: spec.MaximumAgents,
		CreatedAt:     time.Now(),
	}
	if spec.Priority != nil {
		q.Priority = *spec.Priority
	}
	if spec.Weight != nil {
		q.Weight = *spec.Weight
	}

	if err := m.validator.ValidateQueue(q); err != nil {
		return nil, err
	}

	queues, err := m.store.ListQueues()
	if err != nil {
		return nil, err
	}

	if spec.ParentPath != "" {
		parent, err := m.store.GetQueueByPath(spec.ParentPath)
		if err != nil {
			return nil, err
		}
		q.ParentID = parent.ID
	}

	// Sibling names must be unique; this is what makes fullpath a key.
	for _, sibling := range queues {
		if sibling.ParentID == q.ParentID && sibling.Name == q.Name {
			return nil, &types.ValidationError{Field: "name", Value: q.Name, Reason: "duplicate name among siblings"}
		}
	}

	tree, err := queue.NewTree(append(queues, q))
	if err != nil {
		return nil, err
	}
	if err := tree.CheckParent(q.ID, q.ParentID); err != nil {
		return nil, err
	}
	q.Fullpath = tree.Path(q.ID)

	if err := m.store.CreateQueue(q); err != nil {
		return nil, err
	}

	m.broker.Publish(&events.Event{
		Type:    events.EventQueueCreated,
		Message: "job queue created",
		Metadata: map[string]string{
			"queue_id": q.ID,
			"fullpath": q.Fullpath,
		},
	})
	return q, nil
}

// RenameQueue renames a queue and cascades the fullpath change to
// every descendant in one atomic commit.
func (m *Manager) RenameQueue(id, newName string) error {
	queues, err := m.store.ListQueues()
	if err != nil {
		return err
	}
	tree, err := queue.NewTree(queues)
	if err != nil {
		return err
	}

	changed, err := tree.Rename(id, newName)
	if err != nil {
		return err
	}

	if err := m.store.Commit(&storage.MutationSet{Queues: changed}); err != nil {
		return err
	}

	m.broker.Publish(&events.Event{
		Type:    events.EventQueueRenamed,
		Message: "job queue renamed",
		Metadata: map[string]string{
			"queue_id": id,
			"name":     newName,
		},
	})
	return nil
}

// ForceAssign pins a queued task onto a chosen agent, bypassing queue
// ordering and caps. The agent must be reachable and must still have
// uncommitted budget for the task's job; afterward the assignment is
// indistinguishable from a scheduled one. The dispatcher is not
// involved, so the next delivery to the agent carries the task.
func (m *Manager) ForceAssign(taskID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}
	agent, err := m.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	job, err := m.store.GetJob(task.JobID)
	if err != nil {
		return err
	}

	now := time.Now()
	if agent.State != types.AgentOnline && agent.State != types.AgentRunning {
		return fmt.Errorf("agent %s is %s, not accepting work", agent.ID, agent.State)
	}
	if health.IsStale(agent, now, m.cfg.Scheduling.HeartbeatTimeout) {
		return &types.StaleAgentError{AgentID: agent.ID, LastHeardFrom: agent.LastHeardFrom}
	}

	held, err := m.store.ListTasksByAgent(agent.ID)
	if err != nil {
		return err
	}
	ramLeft := int(float64(agent.RAM) * agent.RAMAllocation)
	cpusLeft := int(float64(agent.CPUs) * agent.CPUAllocation)
	busy := false
	for _, active := range held {
		if active.State != types.WorkAssign && active.State != types.WorkRunning {
			continue
		}
		busy = true
		heldJob, err := m.store.GetJob(active.JobID)
		if err != nil {
			return err
		}
		if heldJob.RAM == types.ExclusiveResource || heldJob.CPUs == types.ExclusiveResource {
			return &types.CapacityExceededError{AgentID: agent.ID, Resource: "exclusive hold"}
		}
		if heldJob.RAM != types.NoResourceFloor {
			ramLeft -= heldJob.RAM
		}
		if heldJob.CPUs != types.NoResourceFloor {
			cpusLeft -= heldJob.CPUs
		}
	}

	if job.RAM == types.ExclusiveResource || job.CPUs == types.ExclusiveResource {
		if busy {
			return &types.CapacityExceededError{AgentID: agent.ID, Resource: "whole agent"}
		}
	} else {
		if job.RAM != types.NoResourceFloor && ramLeft < job.RAM {
			return &types.CapacityExceededError{AgentID: agent.ID, Resource: "ram"}
		}
		if job.CPUs != types.NoResourceFloor && cpusLeft < job.CPUs {
			return &types.CapacityExceededError{AgentID: agent.ID, Resource: "cpus"}
		}
	}

	if err := lifecycle.AssignAgent(task, agent); err != nil {
		return err
	}

	ms := &storage.MutationSet{Tasks: []*types.Task{task}}
	if job.State == types.JobQueued {
		job.State = types.JobRunning
		job.TimeStarted = now
		ms.Jobs = append(ms.Jobs, job)
	}
	agent.State = types.AgentRunning
	ms.Agents = append(ms.Agents, agent)

	if err := m.store.Commit(ms); err != nil {
		return err
	}

	m.broker.Publish(&events.Event{
		Type:    events.EventTaskAssigned,
		Message: "task force assigned",
		Metadata: map[string]string{
			"task_id":  task.ID,
			"job_id":   job.ID,
			"agent_id": agent.ID,
		},
	})
	return nil
}

// MarkDelivered records that an agent acknowledged receipt of the
// listed tasks. Each task is re-read under the report lock so that
// only the delivery flag changes; a report that raced ahead of the
// acknowledgement keeps the state it set. Tasks no longer held by the
// agent are skipped.
func (m *Manager) MarkDelivered(agentID string, taskIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := &storage.MutationSet{}
	for _, id := range taskIDs {
		task, err := m.store.GetTask(id)
		if err != nil {
			return err
		}
		if task.AgentID != agentID {
			continue
		}
		task.SentToAgent = true
		ms.Tasks = append(ms.Tasks, task)
	}
	if len(ms.Tasks) == 0 {
		return nil
	}
	return m.store.Commit(ms)
}

// TaskStarted handles an agent's report that it began executing a
// task.
func (m *Manager) TaskStarted(taskID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if err := lifecycle.ReportRunning(task, at); err != nil {
		return err
	}

	agent, err := m.store.GetAgent(task.AgentID)
	if err != nil {
		return err
	}
	agent.State = types.AgentRunning

	job, err := m.store.GetJob(task.JobID)
	if err != nil {
		return err
	}

	ms := &storage.MutationSet{
		Tasks:  []*types.Task{task},
		Agents: []*types.Agent{agent},
	}
	if err := m.refreshJobStateInto(job, task, ms); err != nil {
		return err
	}
	if err := m.store.Commit(ms); err != nil {
		return err
	}

	m.broker.Publish(&events.Event{
		Type:     events.EventTaskRunning,
		Message:  "task running",
		Metadata: map[string]string{"task_id": task.ID, "agent_id": task.AgentID},
	})
	return nil
}

// TaskCompleted handles an agent's success report.
func (m *Manager) TaskCompleted(taskID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}

	agent, err := m.store.GetAgent(task.AgentID)
	if err != nil {
		return err
	}

	if err := lifecycle.ReportDone(task, agent, at); err != nil {
		return err
	}

	// Completion releases the committed capacity; clear the binding
	// once the history (attempts, times) is recorded on the task.
	assignedElsewhere, err := m.agentHasOtherActiveTasks(agent.ID, task.ID)
	if err != nil {
		return err
	}
	if !assignedElsewhere && agent.State == types.AgentRunning {
		agent.State = types.AgentOnline
	}

	job, err := m.store.GetJob(task.JobID)
	if err != nil {
		return err
	}

	ms := &storage.MutationSet{
		Tasks:  []*types.Task{task},
		Agents: []*types.Agent{agent},
	}
	if err := m.refreshJobStateInto(job, task, ms); err != nil {
		return err
	}
	if err := m.store.Commit(ms); err != nil {
		return err
	}

	m.broker.Publish(&events.Event{
		Type:     events.EventTaskDone,
		Message:  "task done",
		Metadata: map[string]string{"task_id": task.ID, "job_id": task.JobID},
	})

	if job.State == types.JobDone {
		m.broker.Publish(&events.Event{
			Type:     events.EventJobDone,
			Message:  "job done",
			Metadata: map[string]string{"job_id": job.ID, "title": job.Title},
		})
	}
	return nil
}

// TaskFailed handles an agent's failure report, requeueing within the
// job's retry budget.
func (m *Manager) TaskFailed(taskID string, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}
	agentID := task.AgentID

	if err := lifecycle.ReportFailed(task, at, reason); err != nil {
		return err
	}
	metrics.TasksFailed.Inc()

	job, err := m.store.GetJob(task.JobID)
	if err != nil {
		return err
	}

	requeued, err := lifecycle.Requeue(task, job)
	if err != nil {
		return err
	}
	if requeued {
		metrics.TasksRequeued.Inc()
	}

	ms := &storage.MutationSet{Tasks: []*types.Task{task}}

	if agentID != "" {
		agent, err := m.store.GetAgent(agentID)
		if err == nil {
			active, err := m.agentHasOtherActiveTasks(agent.ID, task.ID)
			if err == nil && !active && agent.State == types.AgentRunning {
				agent.State = types.AgentOnline
			}
			ms.Agents = append(ms.Agents, agent)
		}
	}

	if err := m.refreshJobStateInto(job, task, ms); err != nil {
		return err
	}
	if err := m.store.Commit(ms); err != nil {
		return err
	}

	m.broker.Publish(&events.Event{
		Type:     events.EventTaskFailed,
		Message:  reason,
		Metadata: map[string]string{"task_id": task.ID, "job_id": task.JobID},
	})
	if requeued {
		m.broker.Publish(&events.Event{
			Type:     events.EventTaskRequeued,
			Message:  "task requeued",
			Metadata: map[string]string{"task_id": task.ID, "job_id": task.JobID},
		})
	}
	if job.State == types.JobFailed {
		m.broker.Publish(&events.Event{
			Type:     events.EventJobFailed,
			Message:  "job failed",
			Metadata: map[string]string{"job_id": job.ID, "title": job.Title},
		})
	}
	return nil
}

func (m *Manager) agentHasOtherActiveTasks(agentID, exceptTaskID string) (bool, error) {
	tasks, err := m.store.ListTasksByAgent(agentID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.ID == exceptTaskID {
			continue
		}
		if t.State == types.WorkAssign || t.State == types.WorkRunning {
			return true, nil
		}
	}
	return false, nil
}

// refreshJobStateInto recomputes the job's aggregate state with the
// fresher task record overlaid and stages the job into the mutation
// set when the state changed.
func (m *Manager) refreshJobStateInto(job *types.Job, fresh *types.Task, ms *storage.MutationSet) error {
	tasks, err := m.store.ListTasksByJob(job.ID)
	if err != nil {
		return err
	}
	if fresh != nil {
		for i, t := range tasks {
			if t.ID == fresh.ID {
				tasks[i] = fresh
			}
		}
	}

	state := lifecycle.JobState(job, tasks)
	if state != job.State {
		job.State = state
		if state == types.JobDone || state == types.JobFailed {
			job.TimeFinished = time.Now()
		}
		ms.Jobs = append(ms.Jobs, job)
	}
	return nil
}

func (m *Manager) refreshJobState(job *types.Job, fresh *types.Task) error {
	ms := &storage.MutationSet{}
	if err := m.refreshJobStateInto(job, fresh, ms); err != nil {
		return err
	}
	if ms.Empty() {
		return m.store.UpdateJob(job)
	}
	return m.store.Commit(ms)
}

// Read accessors used by API layers to render listings.

// ListAgents returns every agent with its current resource snapshot.
func (m *Manager) ListAgents() ([]*types.Agent, error) {
	return m.store.ListAgents()
}

// GetAgent returns one agent.
func (m *Manager) GetAgent(id string) (*types.Agent, error) {
	return m.store.GetAgent(id)
}

// ListJobs returns every job.
func (m *Manager) ListJobs() ([]*types.Job, error) {
	return m.store.ListJobs()
}

// GetJob returns one job.
func (m *Manager) GetJob(id string) (*types.Job, error) {
	return m.store.GetJob(id)
}

// ListTasks returns every task.
func (m *Manager) ListTasks() ([]*types.Task, error) {
	return m.store.ListTasks()
}

// ListTasksByJob returns a job's tasks.
func (m *Manager) ListTasksByJob(jobID string) ([]*types.Task, error) {
	return m.store.ListTasksByJob(jobID)
}

// ListQueues returns every queue with its materialized path.
func (m *Manager) ListQueues() ([]*types.JobQueue, error) {
	return m.store.ListQueues()
}

// CreateGroup creates a job group.
func (m *Manager) CreateGroup(title, user, mainJobType string) (*types.JobGroup, error) {
	group := &types.JobGroup{
		ID:          uuid.New().String(),
		Title:       title,
		User:        user,
		MainJobType: mainJobType,
		CreatedAt:   time.Now(),
	}
	if err := m.store.CreateGroup(group); err != nil {
		return nil, err
	}
	return group, nil
}

// GroupTaskCounts aggregates task states across every job in a group,
// for reporting.
func (m *Manager) GroupTaskCounts(groupID string) (*types.TaskStateCount, error) {
	jobs, err := m.store.ListJobsByGroup(groupID)
	if err != nil {
		return nil, err
	}

	counts := &types.TaskStateCount{}
	for _, job := range jobs {
		tasks, err := m.store.ListTasksByJob(job.ID)
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			switch task.State {
			case types.WorkAssign:
				counts.Assign++
			case types.WorkRunning:
				counts.Running++
			case types.WorkDone:
				counts.Done++
			case types.WorkFailed:
				counts.Failed++
			default:
				counts.Queued++
			}
		}
	}
	return counts, nil
}
