package events

import (
	"log"
	"sync"

	"github.com/jupark12/segment-transcriber/models"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 64

// Subscription is one live listener on a job's event stream.
type Subscription struct {
	ID    uint64
	JobID string

	ch        chan models.Event
	done      chan struct{}
	closeOnce sync.Once
	registry  *Registry
}

// Events delivers the job's events in publish order. It is never closed;
// select on Done to learn that the subscription ended.
func (s *Subscription) Events() <-chan models.Event {
	return s.ch
}

// Done is closed once the subscription has been removed from the registry.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unregisters the subscription. Safe to call more than once and from
// either side of the connection.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.registry.remove(s)
		close(s.done)
	})
}

// Deliver queues an event for this subscriber only. It reports false when
// the subscriber is gone or its queue is full.
func (s *Subscription) Deliver(ev models.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Registry maps a job id to its currently connected subscribers
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
}

// NewRegistry creates a registry whose subscribers buffer up to buffer events.
func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Registry{
		subs:   make(map[string]map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new listener for jobID.
func (r *Registry) Subscribe(jobID string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{
		ID:       r.nextID,
		JobID:    jobID,
		ch:       make(chan models.Event, r.buffer),
		done:     make(chan struct{}),
		registry: r,
	}
	if r.subs[jobID] == nil {
		r.subs[jobID] = make(map[uint64]*Subscription)
	}
	r.subs[jobID][sub.ID] = sub

	log.Printf("Subscriber %d connected to job %s. Total subscribers: %d", sub.ID, jobID, len(r.subs[jobID]))
	return sub
}

// Publish delivers ev to every subscriber of jobID without blocking. A
// subscriber whose queue is full has stopped reading and is pruned.
func (r *Registry) Publish(jobID string, ev models.Event) {
	r.mu.RLock()
	var stale []*Subscription
	for _, sub := range r.subs[jobID] {
		if !sub.Deliver(ev) {
			stale = append(stale, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range stale {
		log.Printf("Pruning subscriber %d of job %s: delivery of %s failed", sub.ID, jobID, ev.Name)
		sub.Close()
	}
}

// Count returns the number of subscribers currently registered for jobID.
func (r *Registry) Count(jobID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[jobID])
}

func (r *Registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[sub.JobID]
	if !ok {
		return
	}
	if _, ok := set[sub.ID]; !ok {
		return
	}
	delete(set, sub.ID)
	if len(set) == 0 {
		delete(r.subs, sub.JobID)
	}
	log.Printf("Subscriber %d disconnected from job %s. Remaining subscribers: %d", sub.ID, sub.JobID, len(set))
}
