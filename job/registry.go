package job

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Registry is the in-memory job store. All mutation is serialized through a
// single mutex so partial updates (including the derived CompletedAt) are
// atomic. Jobs live for the process lifetime only.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	nextSeq uint64
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

func (r *Registry) Create(j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	j.seq = r.nextSeq
	r.nextSeq++
	stored := *j
	r.jobs[j.ID] = &stored
	log.Printf("Created job %s of kind %s", j.ID, j.Kind)
	return nil
}

// Get returns a snapshot copy of the job, safe to read without further locking.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *j
	return &snapshot, true
}

// Update applies a partial update under the registry lock. A transition into
// completed or failed stamps CompletedAt exactly once. Terminal states are
// absorbing: updates against a terminal job are dropped. Returns the updated
// snapshot, or false if the job does not exist.
func (r *Registry) Update(id string, u Update) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	if j.Status.Terminal() {
		snapshot := *j
		return &snapshot, true
	}

	if u.Status != nil {
		j.Status = *u.Status
		if j.Status.Terminal() && j.CompletedAt == nil {
			now := time.Now().UTC()
			j.CompletedAt = &now
		}
	}
	if u.Progress != nil {
		j.Progress = *u.Progress
	}
	if u.Message != nil {
		j.Message = *u.Message
	}
	if u.ResultPath != nil {
		j.ResultPath = *u.ResultPath
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.RemoteTaskID != nil {
		j.RemoteTaskID = *u.RemoteTaskID
	}

	snapshot := *j
	return &snapshot, true
}

// List returns snapshots of all jobs, newest first. A non-empty kind filters
// the result. Jobs created in the same instant keep insertion order.
func (r *Registry) List(kind Kind) []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if kind != "" && j.Kind != kind {
			continue
		}
		snapshot := *j
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].seq > out[b].seq
	})
	return out
}
