package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grangefarm/grange/pkg/config"
	"github.com/grangefarm/grange/pkg/depgraph"
	"github.com/grangefarm/grange/pkg/events"
	"github.com/grangefarm/grange/pkg/health"
	"github.com/grangefarm/grange/pkg/lifecycle"
	"github.com/grangefarm/grange/pkg/log"
	"github.com/grangefarm/grange/pkg/manager"
	"github.com/grangefarm/grange/pkg/metrics"
	"github.com/grangefarm/grange/pkg/queue"
	"github.com/grangefarm/grange/pkg/storage"
	"github.com/grangefarm/grange/pkg/types"
	"github.com/rs/zerolog"
)

// Dispatcher delivers an assignment batch to an agent. The scheduler
// does not retry delivery; failed delivery is handled as agent loss.
type Dispatcher interface {
	Deliver(agent *types.Agent, job *types.Job, tasks []*types.Task) error
}

// AgentLossHandler takes an agent out of the pool and recovers its
// work when the scheduler cannot reach it.
type AgentLossHandler interface {
	MarkLost(agentID string, now time.Time) error
}

// Scheduler matches queued tasks to available agents on a fixed tick.
// It is the single writer of assignments; agent reports flow through
// the manager as independent operations.
type Scheduler struct {
	manager    *manager.Manager
	cfg        *config.Config
	dispatcher Dispatcher
	loss       AgentLossHandler
	logger     zerolog.Logger
	mu         sync.Mutex
	stopCh     chan struct{}
}

// NewScheduler creates a scheduler over the manager's state. The
// dispatcher and loss handler may be nil, in which case assignments
// are recorded but not delivered.
func NewScheduler(mgr *manager.Manager, cfg *config.Config, dispatcher Dispatcher, loss AgentLossHandler) *Scheduler {
	return &Scheduler{
		manager:    mgr,
		cfg:        cfg,
		dispatcher: dispatcher,
		loss:       loss,
		logger:     log.WithComponent("scheduler"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the tick loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.Scheduling.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Tick(); err != nil {
				s.logger.Error().Err(err).Msg("scheduling pass failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// candidate is an agent's scheduling view for one tick: its capacity
// budget minus what is already committed, tracked as assignments
// accumulate within the pass.
type candidate struct {
	agent     *types.Agent
	ramLeft   int
	cpusLeft  int
	exclusive bool
	busy      bool
}

// fits reports whether the candidate can take one task of the job.
func (c *candidate) fits(job *types.Job) bool {
	if c.exclusive {
		return false
	}
	if job.RAM == types.ExclusiveResource || job.CPUs == types.ExclusiveResource {
		return !c.busy
	}
	if job.RAM != types.NoResourceFloor && c.ramLeft < job.RAM {
		return false
	}
	if job.CPUs != types.NoResourceFloor && c.cpusLeft < job.CPUs {
		return false
	}
	for _, req := range job.SoftwareRequirements {
		if !req.Satisfies(c.agent.Software) {
			return false
		}
	}
	return true
}

// commit debits the candidate for one task of the job.
func (c *candidate) commit(job *types.Job) {
	if c.exclusive {
		// fits() filters exclusively held agents out; reaching here
		// means the pass is corrupting its own bookkeeping.
		panic(fmt.Sprintf("scheduler: co-scheduling onto exclusively held agent %s", c.agent.ID))
	}
	if job.RAM == types.ExclusiveResource || job.CPUs == types.ExclusiveResource {
		c.exclusive = true
		c.ramLeft = 0
		c.cpusLeft = 0
	} else {
		if job.RAM != types.NoResourceFloor {
			c.ramLeft -= job.RAM
		}
		if job.CPUs != types.NoResourceFloor {
			c.cpusLeft -= job.CPUs
		}
	}
	c.busy = true
}

// Tick performs one complete read-filter-match-commit pass. Errors on
// individual candidates skip the pair; only snapshot failures abort
// the pass.
func (s *Scheduler) Tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	store := s.manager.Store()

	agents, err := store.ListAgents()
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}
	jobs, err := store.ListJobs()
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	tasks, err := store.ListTasks()
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	queues, err := store.ListQueues()
	if err != nil {
		return fmt.Errorf("failed to list queues: %w", err)
	}

	tree, err := queue.NewTree(queues)
	if err != nil {
		return fmt.Errorf("failed to build queue tree: %w", err)
	}

	now := time.Now()
	jobByID := make(map[string]*types.Job, len(jobs))
	for _, job := range jobs {
		jobByID[job.ID] = job
	}

	candidates := s.buildCandidates(agents, tasks, jobByID, now)
	if len(candidates) == 0 {
		return nil
	}

	direct, queueAgents := queueCommitments(tasks, jobByID)

	// Freshly computed per pass; task states change between ticks.
	resolver := depgraph.NewResolver(jobs, tasks)

	runnable := make(map[string][]*types.Task)
	for _, task := range tasks {
		if !task.Queued() {
			continue
		}
		job, ok := jobByID[task.JobID]
		if !ok || job.Paused || job.Hidden || task.Hidden {
			continue
		}
		if !resolver.TaskRunnable(task.ID) {
			continue
		}
		runnable[job.ID] = append(runnable[job.ID], task)
	}
	if len(runnable) == 0 {
		return nil
	}

	jobsByQueue := make(map[string][]*types.Job)
	for jobID := range runnable {
		job := jobByID[jobID]
		jobsByQueue[job.QueueID] = append(jobsByQueue[job.QueueID], job)
	}

	scheduled := 0
	for _, q := range tree.Ordered(direct) {
		qjobs := jobsByQueue[q.ID]
		if len(qjobs) == 0 {
			continue
		}
		qt := metrics.NewTimer()
		scheduled += s.scheduleQueue(q, tree, direct, queueAgents, qjobs, runnable, candidates)
		qt.ObserveDurationVec(metrics.QueueSchedulingLatency, q.Fullpath)
	}

	// Jobs outside any queue share one unbounded pool, considered
	// after every queue had its turn.
	if free := jobsByQueue[""]; len(free) != 0 {
		scheduled += s.scheduleJobs(free, runnable, candidates, nil)
	}

	for id, count := range direct {
		if q, ok := tree.Get(id); ok {
			metrics.QueueAssignedAgents.WithLabelValues(q.Fullpath).Set(float64(count))
		}
	}

	if scheduled > 0 {
		s.logger.Info().Int("assigned", scheduled).Msg("scheduling pass complete")
	}
	return nil
}

// buildCandidates filters agents to those that may take work this tick
// and computes each one's remaining capacity budget.
func (s *Scheduler) buildCandidates(agents []*types.Agent, tasks []*types.Task, jobByID map[string]*types.Job, now time.Time) map[string]*candidate {
	active := make(map[string][]*types.Task)
	for _, task := range tasks {
		if task.State == types.WorkAssign || task.State == types.WorkRunning {
			active[task.AgentID] = append(active[task.AgentID], task)
		}
	}

	candidates := make(map[string]*candidate)
	for _, agent := range agents {
		if agent.State != types.AgentOnline && agent.State != types.AgentRunning {
			continue
		}
		if health.IsStale(agent, now, s.cfg.Scheduling.HeartbeatTimeout) {
			continue
		}

		c := &candidate{
			agent:    agent,
			ramLeft:  int(float64(agent.RAM) * agent.RAMAllocation),
			cpusLeft: int(float64(agent.CPUs) * agent.CPUAllocation),
		}
		for _, task := range active[agent.ID] {
			job, ok := jobByID[task.JobID]
			if !ok {
				continue
			}
			c.commit(job)
			if c.exclusive {
				break
			}
		}
		if c.exclusive {
			continue
		}
		candidates[agent.ID] = c
	}
	return candidates
}

// queueCommitments counts, per queue, how many distinct agents are
// already committed to its jobs' tasks.
func queueCommitments(tasks []*types.Task, jobByID map[string]*types.Job) (map[string]int, map[string]map[string]bool) {
	queueAgents := make(map[string]map[string]bool)
	for _, task := range tasks {
		if task.State != types.WorkAssign && task.State != types.WorkRunning {
			continue
		}
		job, ok := jobByID[task.JobID]
		if !ok || job.QueueID == "" {
			continue
		}
		set := queueAgents[job.QueueID]
		if set == nil {
			set = make(map[string]bool)
			queueAgents[job.QueueID] = set
		}
		set[task.AgentID] = true
	}

	direct := make(map[string]int, len(queueAgents))
	for id, set := range queueAgents {
		direct[id] = len(set)
	}
	return direct, queueAgents
}

// scheduleQueue assigns work for one queue's jobs within the queue's
// agent cap, charging newly engaged agents against the cap as the pass
// proceeds.
func (s *Scheduler) scheduleQueue(q *types.JobQueue, tree *queue.Tree, direct map[string]int, queueAgents map[string]map[string]bool, qjobs []*types.Job, runnable map[string][]*types.Task, candidates map[string]*candidate) int {
	engaged := queueAgents[q.ID]
	if engaged == nil {
		engaged = make(map[string]bool)
		queueAgents[q.ID] = engaged
	}

	capLeft := tree.CapacityLeft(q.ID, direct)

	onAssign := func(agentID string) bool {
		if engaged[agentID] {
			return true
		}
		if capLeft <= 0 {
			return false
		}
		engaged[agentID] = true
		direct[q.ID]++
		capLeft--
		return true
	}

	return s.scheduleJobs(qjobs, runnable, candidates, onAssign)
}

// scheduleJobs assigns runnable tasks for a set of jobs in priority
// order. onAssign, when non-nil, admits or rejects charging an agent
// against a queue cap; a rejected agent is skipped for the batch.
func (s *Scheduler) scheduleJobs(jobs []*types.Job, runnable map[string][]*types.Task, candidates map[string]*candidate, onAssign func(agentID string) bool) int {
	prefer := s.cfg.Scheduling.PreferRunningJobs
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		// Finishing partially done jobs beats starting fresh ones.
		if prefer {
			ri, rj := jobs[i].State == types.JobRunning, jobs[j].State == types.JobRunning
			if ri != rj {
				return ri
			}
		}
		return jobs[i].TimeSubmitted.Before(jobs[j].TimeSubmitted)
	})

	scheduled := 0
	for _, job := range jobs {
		tasks := runnable[job.ID]
		sort.SliceStable(tasks, func(i, j int) bool {
			if tasks[i].Priority != tasks[j].Priority {
				return tasks[i].Priority > tasks[j].Priority
			}
			if !tasks[i].TimeSubmitted.Equal(tasks[j].TimeSubmitted) {
				return tasks[i].TimeSubmitted.Before(tasks[j].TimeSubmitted)
			}
			return tasks[i].Frame < tasks[j].Frame
		})

		for len(tasks) > 0 {
			batch := nextBatch(job, tasks)

			c := s.selectAgent(job, candidates, onAssign)
			if c == nil {
				// Nothing fits this job right now; its remaining
				// tasks stay queued for the next tick.
				break
			}

			n, err := s.assign(c, job, batch)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("job_id", job.ID).
					Str("agent_id", c.agent.ID).
					Msg("assignment failed, skipping pair")
				tasks = tasks[len(batch):]
				continue
			}
			scheduled += n
			tasks = tasks[len(batch):]
		}
		runnable[job.ID] = tasks
	}
	return scheduled
}

// nextBatch carves up to job.Batch tasks off the front of the ordered
// task list. With BatchContiguous set the batch stops at the first gap
// in the frame sequence.
func nextBatch(job *types.Job, tasks []*types.Task) []*types.Task {
	size := job.Batch
	if size < 1 {
		size = 1
	}
	if size > len(tasks) {
		size = len(tasks)
	}

	if !job.BatchContiguous {
		return tasks[:size]
	}

	const eps = 1e-9
	by := job.By
	if by == 0 {
		by = 1
	}
	end := 1
	for end < size {
		gap := tasks[end].Frame - tasks[end-1].Frame
		if gap < by-eps || gap > by+eps {
			break
		}
		end++
	}
	return tasks[:end]
}

// selectAgent picks the fitting candidate with the least leftover RAM
// after placement, honoring the queue-cap admission callback.
func (s *Scheduler) selectAgent(job *types.Job, candidates map[string]*candidate, onAssign func(agentID string) bool) *candidate {
	var best *candidate
	bestLeft := -1
	for _, c := range candidates {
		if !c.fits(job) {
			continue
		}
		left := c.ramLeft
		if job.RAM != types.NoResourceFloor && job.RAM != types.ExclusiveResource {
			left -= job.RAM
		}
		if best == nil || left < bestLeft {
			best = c
			bestLeft = left
		}
	}
	if best == nil {
		return nil
	}
	if onAssign != nil && !onAssign(best.agent.ID) {
		return nil
	}
	return best
}

// assign commits one batch to one agent: the task transitions and the
// agent record persist in a single mutation set, then the batch is
// handed to the dispatcher.
func (s *Scheduler) assign(c *candidate, job *types.Job, batch []*types.Task) (int, error) {
	ms := &storage.MutationSet{}
	for i, task := range batch {
		if err := lifecycle.AssignAgent(task, c.agent); err != nil {
			for _, prev := range batch[:i] {
				prev.AgentID = ""
				prev.State = types.WorkQueued
			}
			return 0, err
		}
		ms.Tasks = append(ms.Tasks, task)
	}

	if job.State == types.JobQueued {
		job.State = types.JobRunning
		job.TimeStarted = time.Now()
		ms.Jobs = append(ms.Jobs, job)
	}

	wasRunning := c.agent.State == types.AgentRunning
	c.agent.State = types.AgentRunning
	ms.Agents = append(ms.Agents, c.agent)

	if err := s.manager.Store().Commit(ms); err != nil {
		// Roll the in-memory records back so the next tick sees
		// them untouched.
		for _, task := range batch {
			task.AgentID = ""
			task.State = types.WorkQueued
		}
		if !wasRunning {
			c.agent.State = types.AgentOnline
		}
		return 0, err
	}

	// An exclusive job holds the whole agent regardless of how many of
	// its tasks the batch carries.
	if job.RAM == types.ExclusiveResource || job.CPUs == types.ExclusiveResource {
		c.commit(job)
	} else {
		for range batch {
			c.commit(job)
		}
	}
	metrics.TasksScheduled.Add(float64(len(batch)))

	for _, task := range batch {
		s.manager.Events().Publish(&events.Event{
			Type:    events.EventTaskAssigned,
			Message: "task assigned",
			Metadata: map[string]string{
				"task_id":  task.ID,
				"job_id":   job.ID,
				"agent_id": c.agent.ID,
			},
		})
	}

	s.logger.Debug().
		Str("agent_id", c.agent.ID).
		Str("job_id", job.ID).
		Int("tasks", len(batch)).
		Msg("batch assigned")

	s.deliver(c, job, batch)
	return len(batch), nil
}

// deliver hands the batch to the dispatcher. Delivery failure is
// treated as agent loss; the loss handler force-fails and requeues the
// agent's work.
func (s *Scheduler) deliver(c *candidate, job *types.Job, batch []*types.Task) {
	if s.dispatcher == nil {
		return
	}

	if err := s.dispatcher.Deliver(c.agent, job, batch); err != nil {
		metrics.DispatchFailures.Inc()
		s.logger.Warn().Err(err).
			Str("agent_id", c.agent.ID).
			Msg("dispatch failed, marking agent lost")
		if s.loss != nil {
			if lerr := s.loss.MarkLost(c.agent.ID, time.Now()); lerr != nil {
				s.logger.Error().Err(lerr).
					Str("agent_id", c.agent.ID).
					Msg("failed to mark agent lost")
			}
		}
		// Take the agent out of this pass; the stored state was
		// already corrected by the loss handler.
		c.exclusive = true
		return
	}

	// The agent may have reported one of these tasks running while
	// the delivery call was in flight, so the recorded copies are
	// stale by now. MarkDelivered re-reads each task and flips only
	// the delivery flag.
	ids := make([]string, len(batch))
	for i, task := range batch {
		ids[i] = task.ID
	}
	if err := s.manager.MarkDelivered(c.agent.ID, ids); err != nil {
		s.logger.Warn().Err(err).Msg("failed to record delivery")
	}
}
