package health

import (
	"time"

	"github.com/grangefarm/grange/pkg/types"
)

// HeartbeatReport is one status report from an agent.
type HeartbeatReport struct {
	AgentID  string
	State    types.AgentState
	FreeRAM  int
	Reported time.Time
}

// IsStale reports whether an agent has been silent past the threshold.
func IsStale(agent *types.Agent, now time.Time, threshold time.Duration) bool {
	return now.Sub(agent.LastHeardFrom) > threshold
}

// ApplyHeartbeat folds a status report into the agent record: state,
// free ram and last-heard-from move together. Reports older than the
// stored last-heard-from are discarded, which protects against
// out-of-order delivery; discarding is reported via the return value
// and is not an error.
func ApplyHeartbeat(agent *types.Agent, report *HeartbeatReport) bool {
	if report.Reported.Before(agent.LastHeardFrom) {
		return false
	}
	agent.LastHeardFrom = report.Reported
	if report.FreeRAM >= 0 {
		agent.FreeRAM = report.FreeRAM
		if agent.FreeRAM > agent.RAM {
			agent.FreeRAM = agent.RAM
		}
	}
	// A disabled agent stays disabled regardless of what it reports;
	// only an operator re-enables it.
	if agent.State != types.AgentDisabled && report.State != "" {
		agent.State = report.State
	}
	return true
}
