package health

import (
	"time"

	"github.com/grangefarm/grange/pkg/config"
	"github.com/grangefarm/grange/pkg/events"
	"github.com/grangefarm/grange/pkg/lifecycle"
	"github.com/grangefarm/grange/pkg/log"
	"github.com/grangefarm/grange/pkg/metrics"
	"github.com/grangefarm/grange/pkg/storage"
	"github.com/grangefarm/grange/pkg/types"
	"github.com/rs/zerolog"
)

// Monitor periodically sweeps agents for heartbeat staleness. A stale
// agent is marked offline and every task assigned to or running on it
// is force-failed, which feeds the normal requeue path.
type Monitor struct {
	store  storage.Store
	broker *events.Broker
	cfg    *config.Config
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewMonitor creates a health monitor.
func NewMonitor(store storage.Store, broker *events.Broker, cfg *config.Config) *Monitor {
	return &Monitor{
		store:  store,
		broker: broker,
		cfg:    cfg,
		logger: log.WithComponent("health"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the sweep loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.cfg.Scheduling.HealthSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Sweep(time.Now()); err != nil {
				m.logger.Error().Err(err).Msg("health sweep failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

// Sweep runs one staleness pass at the given time.
func (m *Monitor) Sweep(now time.Time) error {
	agents, err := m.store.ListAgents()
	if err != nil {
		return err
	}

	threshold := m.cfg.Scheduling.HeartbeatTimeout
	for _, agent := range agents {
		if agent.State == types.AgentOffline || agent.State == types.AgentDisabled {
			continue
		}
		if !IsStale(agent, now, threshold) {
			continue
		}
		if err := m.markLost(agent, now); err != nil {
			m.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("failed to mark agent lost")
		}
	}
	return nil
}

// MarkLost handles an externally detected agent loss, such as a failed
// assignment delivery, the same way a stale heartbeat is handled.
func (m *Monitor) MarkLost(agentID string, now time.Time) error {
	agent, err := m.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	return m.markLost(agent, now)
}

func (m *Monitor) markLost(agent *types.Agent, now time.Time) error {
	m.logger.Warn().
		Str("agent_id", agent.ID).
		Str("hostname", agent.Hostname).
		Time("last_heard_from", agent.LastHeardFrom).
		Msg("agent is stale, failing its tasks")

	agent.State = types.AgentOffline

	tasks, err := m.store.ListTasksByAgent(agent.ID)
	if err != nil {
		return err
	}

	ms := &storage.MutationSet{Agents: []*types.Agent{agent}}
	touchedJobs := make(map[string]bool)

	for _, task := range tasks {
		if task.State != types.WorkAssign && task.State != types.WorkRunning {
			continue
		}

		staleErr := &types.StaleAgentError{AgentID: agent.ID, LastHeardFrom: agent.LastHeardFrom}
		if err := lifecycle.ReportFailed(task, now, staleErr.Error()); err != nil {
			m.logger.Error().Err(err).Str("task_id", task.ID).Msg("cannot fail task on lost agent")
			continue
		}
		metrics.TasksFailed.Inc()

		job, err := m.store.GetJob(task.JobID)
		if err != nil {
			m.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to load job for requeue")
		} else {
			requeued, err := lifecycle.Requeue(task, job)
			if err != nil {
				m.logger.Error().Err(err).Str("task_id", task.ID).Msg("requeue failed")
			} else if requeued {
				metrics.TasksRequeued.Inc()
				m.broker.Publish(&events.Event{
					Type:    events.EventTaskRequeued,
					Message: "task requeued after agent loss",
					Metadata: map[string]string{
						"task_id":  task.ID,
						"agent_id": agent.ID,
					},
				})
			}
		}

		ms.Tasks = append(ms.Tasks, task)
		touchedJobs[task.JobID] = true
	}

	// Recompute aggregate job states for every job that lost a task.
	for jobID := range touchedJobs {
		job, err := m.store.GetJob(jobID)
		if err != nil {
			continue
		}
		jobTasks, err := m.store.ListTasksByJob(jobID)
		if err != nil {
			continue
		}
		// The mutation set carries fresher task records than storage.
		for i, jt := range jobTasks {
			for _, mt := range ms.Tasks {
				if mt.ID == jt.ID {
					jobTasks[i] = mt
				}
			}
		}
		state := lifecycle.JobState(job, jobTasks)
		if state != job.State {
			job.State = state
			ms.Jobs = append(ms.Jobs, job)
		}
	}

	if err := m.store.Commit(ms); err != nil {
		return err
	}

	m.broker.Publish(&events.Event{
		Type:    events.EventAgentStale,
		Message: "agent heartbeat went stale",
		Metadata: map[string]string{
			"agent_id": agent.ID,
			"hostname": agent.Hostname,
		},
	})
	return nil
}
