package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grangefarm/grange/pkg/log"
	"github.com/grangefarm/grange/pkg/types"
	"github.com/rs/zerolog"
)

// Assignment is the payload delivered to an agent: the job context and
// the task batch the agent should execute.
type Assignment struct {
	JobID    string           `json:"job_id"`
	JobTitle string           `json:"job_title"`
	User     string           `json:"user"`
	Tasks    []AssignmentTask `json:"tasks"`
}

// AssignmentTask is one task inside an assignment.
type AssignmentTask struct {
	ID    string  `json:"id"`
	Frame float64 `json:"frame"`
	Tile  *int    `json:"tile,omitempty"`
}

// Dispatcher delivers assignments to agent endpoints over HTTP.
type Dispatcher struct {
	client *http.Client
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher with the given delivery timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		logger: log.WithComponent("dispatch"),
	}
}

// Endpoint resolves the URL an agent receives work on, honoring the
// agent's address mode.
func Endpoint(agent *types.Agent) string {
	host := agent.Address
	if agent.AddressMode == types.AddressModeHostname || host == "" {
		host = agent.Hostname
	}
	return fmt.Sprintf("http://%s/assign", net.JoinHostPort(host, fmt.Sprintf("%d", agent.Port)))
}

// Deliver posts one assignment batch to the agent. Delivery is not
// retried here; the caller treats failure as agent loss.
func (d *Dispatcher) Deliver(agent *types.Agent, job *types.Job, tasks []*types.Task) error {
	assignment := &Assignment{
		JobID:    job.ID,
		JobTitle: job.Title,
		User:     job.User,
	}
	for _, task := range tasks {
		assignment.Tasks = append(assignment.Tasks, AssignmentTask{
			ID:    task.ID,
			Frame: task.Frame,
			Tile:  task.Tile,
		})
	}

	body, err := json.Marshal(assignment)
	if err != nil {
		return fmt.Errorf("failed to encode assignment: %w", err)
	}

	url := Endpoint(agent)
	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver assignment to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent %s rejected assignment: %s", agent.ID, resp.Status)
	}

	d.logger.Debug().
		Str("agent_id", agent.ID).
		Str("job_id", job.ID).
		Int("tasks", len(tasks)).
		Msg("assignment delivered")
	return nil
}
