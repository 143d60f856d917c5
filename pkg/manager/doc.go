// Package manager implements the farm master's state operations.
//
// The Manager is the single write path for farm state. Every mutation,
// whether it originates from an agent (registration, heartbeats, task
// reports) or an operator (job submission, queue management, pausing),
// goes through a Manager method that validates the input, applies the
// change through the lifecycle rules, and persists the result.
//
// # Agent registration
//
// Agents announce themselves with their hostname, address, port and
// resource totals. A (hostname, address, port) endpoint identifies an
// agent across restarts; re-registration refreshes the existing record
// rather than creating a duplicate. Registration can be gated behind
// one-time tokens issued by the TokenManager.
//
// # Job submission
//
// Submitting a job expands its frame range into tasks. The job is
// created in the alloc placeholder state and moves to queued in the
// same atomic commit that writes its tasks, so no reader observes a
// queued job with no tasks.
//
// # Task reports
//
// TaskStarted, TaskCompleted and TaskFailed fold an agent's execution
// reports into task, agent and job records together. A failure consults
// the job's retry budget and requeues the task when budget remains.
// Each report recomputes the owning job's aggregate state.
//
// # Events
//
// Mutations publish events on the broker so observers (API streams,
// loggers) can follow farm activity without polling.
package manager
