package job

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/nace/diskimg/internal/restore"
)

// Job is one running operation on a storage object
type Job struct {
	ID          uuid.UUID
	Path        dbus.ObjectPath
	Operation   string
	Description string
	Started     time.Time

	registry *Registry
	cancel   context.CancelFunc

	mu          sync.Mutex
	last        restore.Progress
	finished    bool
	nextSub     int
	subscribers map[int]chan restore.Progress
}

// Update stores p and offers it to every subscriber without blocking.
// A subscriber that has not consumed the previous update misses this one.
func (j *Job) Update(p restore.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.finished {
		return
	}
	j.last = p
	for _, ch := range j.subscribers {
		select {
		case ch <- p:
		default:
		}
	}
}

// Progress returns the latest update
func (j *Job) Progress() restore.Progress {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.last
}

// Subscribe returns a channel of updates and a function that ends the
// subscription. The channel is closed when the job finishes.
func (j *Job) Subscribe() (<-chan restore.Progress, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan restore.Progress, 1)
	if j.finished {
		close(ch)
		return ch, func() {}
	}

	id := j.nextSub
	j.nextSub++
	j.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			defer j.mu.Unlock()
			if sub, ok := j.subscribers[id]; ok {
				delete(j.subscribers, id)
				close(sub)
			}
		})
	}
}

// Cancel cancels the job's context
func (j *Job) Cancel() {
	j.cancel()
}

// Finish closes subscriptions and unregisters the job. Later calls do
// nothing.
func (j *Job) Finish() {
	j.mu.Lock()
	if j.finished {
		j.mu.Unlock()
		return
	}
	j.finished = true
	for id, ch := range j.subscribers {
		close(ch)
		delete(j.subscribers, id)
	}
	j.mu.Unlock()

	j.cancel()
	j.registry.remove(j)
}
