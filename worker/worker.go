package worker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jupark12/segment-transcriber/models"
)

// Task is one uploaded segment waiting to be submitted.
type Task struct {
	JobID        string
	SegmentIndex int
	Audio        []byte
	MimeType     string
}

// ProcessFunc handles one task. Its error is logged; tasks are never retried.
type ProcessFunc func(ctx context.Context, task Task) error

// Worker represents a processing goroutine that consumes tasks
type Worker struct {
	ID         string
	Processing bool
	mu         sync.Mutex
}

func (w *Worker) setProcessing(v bool) {
	w.mu.Lock()
	w.Processing = v
	w.mu.Unlock()
}

// Busy reports whether the worker is handling a task.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Processing
}

// Pool feeds tasks from a bounded queue to a fixed set of workers.
type Pool struct {
	tasks   chan Task
	workers []*Worker
	process ProcessFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	started bool
}

// NewPool creates a pool of size workers with room for queueSize waiting tasks.
func NewPool(size, queueSize int, process ProcessFunc) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan Task, queueSize),
		process: process,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, &Worker{ID: fmt.Sprintf("worker-%d", i+1)})
	}
	return p
}

// Start begins processing tasks. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for _, w := range p.workers {
		p.wg.Add(1)
		go p.run(w)
	}
	log.Printf("Submission pool started with %d workers", len(p.workers))
}

func (p *Pool) run(w *Worker) {
	defer p.wg.Done()
	log.Printf("Worker %s starting", w.ID)

	for task := range p.tasks {
		w.setProcessing(true)
		log.Printf("Worker %s submitting job %s segment %d", w.ID, task.JobID, task.SegmentIndex)

		if err := p.process(p.ctx, task); err != nil {
			log.Printf("Worker %s failed job %s segment %d: %v", w.ID, task.JobID, task.SegmentIndex, err)
		} else {
			log.Printf("Worker %s submitted job %s segment %d", w.ID, task.JobID, task.SegmentIndex)
		}
		w.setProcessing(false)
	}
	log.Printf("Worker %s stopped", w.ID)
}

// Enqueue adds a task, waiting for room in the queue until ctx is done.
func (p *Pool) Enqueue(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return models.ErrQueueClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue and waits for queued and in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		// Nothing will drain the queue; drop what is left.
		for range p.tasks {
		}
	}
	p.wg.Wait()
	p.cancel()
	log.Println("Submission pool stopped")
}

// Pending is the number of tasks waiting for a worker.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Busy is the number of workers currently handling a task.
func (p *Pool) Busy() int {
	n := 0
	for _, w := range p.workers {
		if w.Busy() {
			n++
		}
	}
	return n
}

// Size is the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}
