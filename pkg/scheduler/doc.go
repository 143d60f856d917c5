// Package scheduler implements the assignment engine.
//
// The engine runs as a single-writer tick loop. Each tick takes a
// snapshot of agents, jobs, tasks and queues, filters it down to
// runnable work and available capacity, and commits assignments one
// batch at a time. A tick never fails because one candidate pair did;
// per-pair errors skip the pair and the pass continues.
//
// # Candidate filtering
//
// An agent is a candidate when it is online (or running with spare
// capacity), its heartbeat is fresh, and it is not exclusively held.
// Its budget for the pass is total capacity scaled by its allocation
// fractions, minus what its active tasks already commit.
//
// A task is runnable when it is queued, its job is neither paused nor
// hidden, and the dependency resolver clears both the job's parents
// and the task's own. The resolver memoization lives for exactly one
// tick.
//
// # Matching
//
// Queues are visited in the order pkg/queue produces: unmet minimums
// first, then priority, then weight share. Within a queue, jobs by
// priority then submission time, tasks by priority, submission time
// and frame. For each batch the engine picks the fitting agent that
// would have the least RAM left over. Resource sentinels: 0 accepts
// any agent, -1 demands the whole agent and is never co-scheduled.
//
// # Committing
//
// One batch commits as one storage mutation set: forced assign
// transitions plus the agent record. Partial progress within a tick is
// kept. Delivery to the agent happens after the commit; a delivery
// failure marks the agent lost, which force-fails and requeues its
// work through the health path.
package scheduler
