package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/grangefarm/grange/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketAgents = []byte("agents")
	bucketJobs   = []byte("jobs")
	bucketTasks  = []byte("tasks")
	bucketQueues = []byte("jobqueues")
	bucketGroups = []byte("jobgroups")
	bucketTags   = []byte("tags")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "grange.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketAgents,
			bucketJobs,
			bucketTasks,
			bucketQueues,
			bucketGroups,
			bucketTags,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	b := tx.Bucket(bucket)
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// Agent operations
func (s *BoltStore) CreateAgent(agent *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketAgents, agent.ID, agent)
	})
}

func (s *BoltStore) GetAgent(id string) (*types.Agent, error) {
	var agent types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("agent not found: %s", id)
		}
		return json.Unmarshal(data, &agent)
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) GetAgentByEndpoint(hostname, address string, port int) (*types.Agent, error) {
	var found *types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		return b.ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			if agent.Hostname == hostname && agent.Address == address && agent.Port == port {
				found = &agent
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("agent not found: %s:%d", hostname, port)
	}
	return found, nil
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		return b.ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			agents = append(agents, &agent)
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) UpdateAgent(agent *types.Agent) error {
	return s.CreateAgent(agent) // Same as create (upsert)
}

// Job operations
func (s *BoltStore) CreateJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketJobs, job.ID, job)
	})
}

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var job types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job not found: %s", id)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		return b.ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ListJobsByQueue(queueID string) ([]*types.Job, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Job
	for _, job := range jobs {
		if job.QueueID == queueID {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListJobsByGroup(groupID string) ([]*types.Job, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Job
	for _, job := range jobs {
		if job.GroupID == groupID {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateJob(job *types.Job) error {
	return s.CreateJob(job)
}

// Task operations
func (s *BoltStore) CreateTask(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketTasks, task.ID, task)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("task not found: %s", id)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	return tasks, err
}

func (s *BoltStore) ListTasksByJob(jobID string) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Task
	for _, task := range tasks {
		if task.JobID == jobID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListTasksByAgent(agentID string) ([]*types.Task, error) {
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Task
	for _, task := range tasks {
		if task.AgentID == agentID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateTask(task *types.Task) error {
	return s.CreateTask(task)
}

// Job queue operations
func (s *BoltStore) CreateQueue(queue *types.JobQueue) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketQueues, queue.ID, queue)
	})
}

func (s *BoltStore) GetQueue(id string) (*types.JobQueue, error) {
	var queue types.JobQueue
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueues)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job queue not found: %s", id)
		}
		return json.Unmarshal(data, &queue)
	})
	if err != nil {
		return nil, err
	}
	return &queue, nil
}

func (s *BoltStore) GetQueueByPath(fullpath string) (*types.JobQueue, error) {
	var found *types.JobQueue
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueues)
		return b.ForEach(func(k, v []byte) error {
			var queue types.JobQueue
			if err := json.Unmarshal(v, &queue); err != nil {
				return err
			}
			if queue.Fullpath == fullpath {
				found = &queue
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("job queue not found: %s", fullpath)
	}
	return found, nil
}

func (s *BoltStore) ListQueues() ([]*types.JobQueue, error) {
	var queues []*types.JobQueue
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueues)
		return b.ForEach(func(k, v []byte) error {
			var queue types.JobQueue
			if err := json.Unmarshal(v, &queue); err != nil {
				return err
			}
			queues = append(queues, &queue)
			return nil
		})
	})
	return queues, err
}

func (s *BoltStore) UpdateQueue(queue *types.JobQueue) error {
	return s.CreateQueue(queue)
}

func (s *BoltStore) DeleteQueue(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueues)
		return b.Delete([]byte(id))
	})
}

// Job group operations
func (s *BoltStore) CreateGroup(group *types.JobGroup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketGroups, group.ID, group)
	})
}

func (s *BoltStore) GetGroup(id string) (*types.JobGroup, error) {
	var group types.JobGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("job group not found: %s", id)
		}
		return json.Unmarshal(data, &group)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *BoltStore) ListGroups() ([]*types.JobGroup, error) {
	var groups []*types.JobGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		return b.ForEach(func(k, v []byte) error {
			var group types.JobGroup
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			groups = append(groups, &group)
			return nil
		})
	})
	return groups, err
}

// Tag operations. Tags are keyed by name, which enforces their
// uniqueness: two tags are the same tag iff their names are equal.
func (s *BoltStore) EnsureTag(name string) (*types.Tag, error) {
	var tag types.Tag
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTags)
		data := b.Get([]byte(name))
		if data != nil {
			return json.Unmarshal(data, &tag)
		}
		tag = types.Tag{ID: name, Name: name}
		out, err := json.Marshal(&tag)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), out)
	})
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (s *BoltStore) ListTags() ([]*types.Tag, error) {
	var tags []*types.Tag
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTags)
		return b.ForEach(func(k, v []byte) error {
			var tag types.Tag
			if err := json.Unmarshal(v, &tag); err != nil {
				return err
			}
			tags = append(tags, &tag)
			return nil
		})
	})
	return tags, err
}

// Commit applies every mutation in the set inside one bolt transaction.
func (s *BoltStore) Commit(ms *MutationSet) error {
	if ms == nil || ms.Empty() {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, agent := range ms.Agents {
			if err := put(tx, bucketAgents, agent.ID, agent); err != nil {
				return err
			}
		}
		for _, job := range ms.Jobs {
			if err := put(tx, bucketJobs, job.ID, job); err != nil {
				return err
			}
		}
		for _, task := range ms.Tasks {
			if err := put(tx, bucketTasks, task.ID, task); err != nil {
				return err
			}
		}
		for _, queue := range ms.Queues {
			if err := put(tx, bucketQueues, queue.ID, queue); err != nil {
				return err
			}
		}
		return nil
	})
}
