package types

import (
	"time"
)

// AgentState represents the current state of an agent host
type AgentState string

const (
	// AgentOffline means the host is unreachable
	AgentOffline AgentState = "offline"

	// AgentOnline means the host is ready to receive work
	AgentOnline AgentState = "online"

	// AgentDisabled means the host is reachable but must not receive work
	AgentDisabled AgentState = "disabled"

	// AgentRunning means the host is currently processing work
	AgentRunning AgentState = "running"
)

// AddressMode selects which address the master uses to reach an agent
type AddressMode string

const (
	// AddressModeIP dials the agent's reported IPv4 address
	AddressModeIP AddressMode = "ip"

	// AddressModeHostname dials the agent's hostname
	AddressModeHostname AddressMode = "hostname"
)

// SoftwareVersion is one installed software entry on an agent. Rank is a
// monotonic ordering value; version comparisons use ranks, never the
// version string itself.
type SoftwareVersion struct {
	Software string
	Version  string
	Rank     int
}

// SoftwareRequirement is a job's demand for installed software within a
// rank range. Nil bounds are unbounded on that side.
type SoftwareRequirement struct {
	Software string
	MinRank  *int
	MaxRank  *int
}

// Agent represents a worker host that executes tasks
type Agent struct {
	ID          string
	Hostname    string
	Address     string // IPv4 network address
	AddressMode AddressMode
	Port        int

	CPUs    int
	RAM     int // Megabytes installed
	FreeRAM int // Megabytes last reported free

	// Fraction of total capacity that may be committed to work.
	// 1.0 allows the whole host.
	RAMAllocation float64
	CPUAllocation float64

	State    AgentState
	Software []*SoftwareVersion
	Tags     []string

	LastHeardFrom time.Time
	LastSuccessOn time.Time
	LastPolled    time.Time
	CreatedAt     time.Time
}

// WorkState is the state of a task. The zero value is "queued": a task
// with no recorded state is waiting for assignment.
type WorkState string

const (
	WorkQueued  WorkState = ""
	WorkAssign  WorkState = "assign"
	WorkRunning WorkState = "running"
	WorkDone    WorkState = "done"
	WorkFailed  WorkState = "failed"
)

// Terminal reports whether s is an end state for a task attempt.
func (s WorkState) Terminal() bool {
	return s == WorkDone || s == WorkFailed
}

// JobState is the derived aggregate state of a job. It is computed from
// the job's tasks and never set directly, except for the Alloc
// placeholder that exists before task generation.
type JobState string

const (
	JobAlloc   JobState = "alloc"
	JobQueued  JobState = "queued"
	JobPaused  JobState = "paused"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// RequeueNever and RequeueForever are the sentinel values for
// Job.Requeue.
const (
	RequeueNever   = 0
	RequeueForever = -1
)

// ExclusiveResource marks a resource requirement asking for whole-agent
// exclusivity; NoResourceFloor accepts any agent.
const (
	NoResourceFloor   = 0
	ExclusiveResource = -1
)

// Job is a unit of submitted work expanded into one or more tasks, one
// per frame in [Start, End] counting by By.
type Job struct {
	ID       string
	Title    string
	User     string
	Priority int

	// Per-task resource requirements. NoResourceFloor (0) accepts any
	// agent; ExclusiveResource (-1) demands the whole agent.
	CPUs int
	RAM  int

	Start float64
	End   float64
	By    float64

	// Batch is the number of tasks handed to one agent per dispatch.
	// BatchContiguous restricts a batch to consecutive frames.
	Batch           int
	BatchContiguous bool

	// Tiles above 1 splits every frame into that many tile tasks.
	Tiles int

	// Requeue is the retry budget for failed tasks: RequeueNever,
	// RequeueForever, or a positive count.
	Requeue int

	SoftwareRequirements []*SoftwareRequirement

	Hidden bool
	Paused bool

	// ParentIDs are job ids that must reach WorkDone-equivalent
	// aggregate state before this job may run.
	ParentIDs []string

	QueueID string
	GroupID string
	Tags    []string
	Notes   string

	State JobState

	TimeSubmitted time.Time
	TimeStarted   time.Time
	TimeFinished  time.Time
}

// Task is one unit of work (one frame, or one tile of a frame)
// belonging to a job.
type Task struct {
	ID    string
	JobID string

	// Frame is not necessarily integral; step values below 1.0 are
	// legal for subframe rendering.
	Frame float64

	// Tile is set when the job uses tiled rendering, nil otherwise.
	Tile *int

	State    WorkState
	Priority int

	// Attempts increments each time the task transitions to running.
	// Failures increments each time it transitions to failed.
	Attempts int
	Failures int

	// AgentID is empty while the task is unassigned. It is set and
	// cleared only through the lifecycle transitions.
	AgentID string

	ParentIDs []string

	Hidden      bool
	LastError   string
	SentToAgent bool
	Progress    float64

	TimeSubmitted time.Time
	TimeStarted   time.Time
	TimeFinished  time.Time
}

// Queued reports whether the task is waiting for assignment.
func (t *Task) Queued() bool {
	return t.State == WorkQueued
}

// JobQueue is a node in the scheduling tree. Queues form a forest; a
// queue with an empty ParentID is a root. The parent pointer is
// immutable once set.
type JobQueue struct {
	ID       string
	ParentID string
	Name     string

	Priority int
	Weight   int

	// MinimumAgents is a floor the scheduler tries to satisfy before
	// any other consideration; 0 means no floor. MaximumAgents caps
	// concurrently assigned agents; 0 means no cap.
	MinimumAgents int
	MaximumAgents int

	// Fullpath is the dot-joined chain of ancestor names. It is
	// denormalized for fast access and recomputed whenever the queue
	// or an ancestor is renamed.
	Fullpath string

	CreatedAt time.Time
}

// JobGroup is an organizational grouping of jobs. It plays no part in
// scheduling; it exists for aggregate reporting.
type JobGroup struct {
	ID          string
	Title       string
	User        string
	MainJobType string
	CreatedAt   time.Time
}

// Tag is a unique label shared by agents and jobs. Two tags are equal
// iff their names are equal.
type Tag struct {
	ID   string
	Name string
}

// TaskStateCount is an aggregate of task states, used for job-group
// reporting.
type TaskStateCount struct {
	Queued  int
	Assign  int
	Running int
	Done    int
	Failed  int
}
