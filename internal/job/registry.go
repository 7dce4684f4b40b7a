package job

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/nace/diskimg/internal/restore"
)

// ErrBusy is returned when an object already has a running job
var ErrBusy = errors.New("object already has a running job")

// Registry tracks running jobs by the object they operate on
type Registry struct {
	mu   sync.Mutex
	jobs map[dbus.ObjectPath]*Job
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[dbus.ObjectPath]*Job)}
}

// Start registers a job for path. The returned context is cancelled by
// Job.Cancel; Finish must be called to unregister the job.
func (r *Registry) Start(ctx context.Context, path dbus.ObjectPath, operation, description string) (*Job, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[path]; ok {
		return nil, nil, fmt.Errorf("%w: %s (%s)", ErrBusy, path, existing.Operation)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &Job{
		ID:          uuid.New(),
		Path:        path,
		Operation:   operation,
		Description: description,
		Started:     time.Now(),
		registry:    r,
		cancel:      cancel,
		subscribers: make(map[int]chan restore.Progress),
	}
	r.jobs[path] = j
	return j, jobCtx, nil
}

// Get returns the running job on path, or nil
func (r *Registry) Get(path dbus.ObjectPath) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.jobs[path]
}

// List returns the running jobs ordered by start time
func (r *Registry) List() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Started.Before(jobs[k].Started) })
	return jobs
}

// CancelAll cancels every running job
func (r *Registry) CancelAll() {
	for _, j := range r.List() {
		j.Cancel()
	}
}

func (r *Registry) remove(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.jobs[j.Path] == j {
		delete(r.jobs, j.Path)
	}
}
