package metrics

import (
	"time"

	"github.com/grangefarm/grange/pkg/storage"
	"github.com/grangefarm/grange/pkg/types"
)

// Collector periodically refreshes the state gauges from storage
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectAgentMetrics()
	c.collectJobMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectAgentMetrics() {
	agents, err := c.store.ListAgents()
	if err != nil {
		return
	}

	counts := map[types.AgentState]int{
		types.AgentOffline:  0,
		types.AgentOnline:   0,
		types.AgentDisabled: 0,
		types.AgentRunning:  0,
	}
	for _, agent := range agents {
		counts[agent.State]++
	}
	for state, count := range counts {
		AgentsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectJobMetrics() {
	jobs, err := c.store.ListJobs()
	if err != nil {
		return
	}

	counts := make(map[types.JobState]int)
	for _, job := range jobs {
		counts[job.State]++
	}
	for state, count := range counts {
		JobsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		return
	}

	counts := map[types.WorkState]int{
		types.WorkQueued:  0,
		types.WorkAssign:  0,
		types.WorkRunning: 0,
		types.WorkDone:    0,
		types.WorkFailed:  0,
	}
	for _, task := range tasks {
		counts[task.State]++
	}
	for state, count := range counts {
		label := string(state)
		if state == types.WorkQueued {
			label = "queued"
		}
		TasksTotal.WithLabelValues(label).Set(float64(count))
	}
}
