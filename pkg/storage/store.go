package storage

import (
	"github.com/grangefarm/grange/pkg/types"
)

// Store defines the interface for farm state storage. The core assumes
// nothing about the engine beyond atomic read-modify-write per entity
// and atomic application of a MutationSet.
type Store interface {
	// Agents
	CreateAgent(agent *types.Agent) error
	GetAgent(id string) (*types.Agent, error)
	GetAgentByEndpoint(hostname, address string, port int) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	UpdateAgent(agent *types.Agent) error

	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	ListJobsByQueue(queueID string) ([]*types.Job, error)
	ListJobsByGroup(groupID string) ([]*types.Job, error)
	UpdateJob(job *types.Job) error

	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListTasksByJob(jobID string) ([]*types.Task, error)
	ListTasksByAgent(agentID string) ([]*types.Task, error)
	UpdateTask(task *types.Task) error

	// Job queues
	CreateQueue(queue *types.JobQueue) error
	GetQueue(id string) (*types.JobQueue, error)
	GetQueueByPath(fullpath string) (*types.JobQueue, error)
	ListQueues() ([]*types.JobQueue, error)
	UpdateQueue(queue *types.JobQueue) error
	DeleteQueue(id string) error

	// Job groups
	CreateGroup(group *types.JobGroup) error
	GetGroup(id string) (*types.JobGroup, error)
	ListGroups() ([]*types.JobGroup, error)

	// Tags
	EnsureTag(name string) (*types.Tag, error)
	ListTags() ([]*types.Tag, error)

	// Commit applies a mutation set in one atomic transaction. Either
	// every mutation in the set is visible afterwards or none is.
	Commit(ms *MutationSet) error

	// Utility
	Close() error
}

// MutationSet collects entity upserts to be applied atomically, keyed
// by the scheduling pass that produced them. Task creation in bulk and
// assignment commits both go through it.
type MutationSet struct {
	Agents []*types.Agent
	Jobs   []*types.Job
	Tasks  []*types.Task
	Queues []*types.JobQueue
}

// Empty reports whether the set carries no mutations.
func (ms *MutationSet) Empty() bool {
	return len(ms.Agents) == 0 && len(ms.Jobs) == 0 &&
		len(ms.Tasks) == 0 && len(ms.Queues) == 0
}
