package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jupark12/segment-transcriber/archive"
	"github.com/jupark12/segment-transcriber/audio"
	"github.com/jupark12/segment-transcriber/events"
	"github.com/jupark12/segment-transcriber/models"
	"github.com/jupark12/segment-transcriber/provider"
	"github.com/jupark12/segment-transcriber/store"
	"github.com/jupark12/segment-transcriber/webhook"
	"github.com/jupark12/segment-transcriber/worker"
)

// Options configures an Orchestrator.
type Options struct {
	Provider        provider.Provider
	WebhookSecret   string
	SubmitWorkers   int
	SubmitQueueSize int
	SubmitTimeout   time.Duration
	MaxSegmentBytes int64
	MaxSegments     int
	SubscriberQueue int
	// Archiver receives every completed job. Nil disables archiving.
	Archiver archive.Archiver
}

// Stats is a point-in-time view of the orchestrator's load.
type Stats struct {
	Jobs         int `json:"jobs"`
	Correlations int `json:"correlations"`
	QueuePending int `json:"queuePending"`
	WorkersBusy  int `json:"workersBusy"`
	Workers      int `json:"workers"`
}

// Orchestrator owns the job store, correlation table and subscriber
// registry of one instance and exposes the job lifecycle operations.
type Orchestrator struct {
	jobs        *store.JobStore
	correlation *store.CorrelationTable
	registry    *events.Registry
	webhooks    *webhook.Handler
	submitter   *worker.Submitter
	pool        *worker.Pool
	archiver    archive.Archiver

	maxSegmentBytes int64
	archiving       sync.WaitGroup

	// closed is set once Shutdown has drained the pool. Late completions
	// and archive requests are dropped after that.
	mu     sync.RWMutex
	closed bool
}

// New wires the components together and starts the submission pool.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		correlation:     store.NewCorrelationTable(),
		registry:        events.NewRegistry(opts.SubscriberQueue),
		archiver:        opts.Archiver,
		maxSegmentBytes: opts.MaxSegmentBytes,
	}
	if o.archiver == nil {
		o.archiver = archive.Nop{}
	}

	o.jobs = store.NewJobStore(o)
	o.jobs.SetMaxSegments(opts.MaxSegments)
	o.webhooks = webhook.NewHandler(opts.WebhookSecret, o.jobs, o.correlation)
	o.submitter = worker.NewSubmitter(o.jobs, o.correlation, opts.Provider, opts.SubmitTimeout)
	o.pool = worker.NewPool(opts.SubmitWorkers, opts.SubmitQueueSize, o.submitter.Process)
	o.pool.Start()
	return o
}

// Publish forwards store events to subscribers and archives completed jobs.
// It runs under the job lock, so archiving happens on its own goroutine.
func (o *Orchestrator) Publish(jobID string, ev models.Event) {
	o.registry.Publish(jobID, ev)
	if ev.Name != models.EventJobCompleted {
		return
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		log.Printf("Archive of job %s skipped: orchestrator is shut down", jobID)
		return
	}
	o.archiving.Add(1)
	go o.archive(jobID)
}

func (o *Orchestrator) archive(jobID string) {
	defer o.archiving.Done()

	job, err := o.jobs.GetJob(jobID)
	if err != nil {
		log.Printf("Archive of job %s skipped: %v", jobID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.archiver.Save(ctx, job); err != nil {
		log.Printf("Failed to archive job %s: %v", jobID, err)
	}
}

// CreateJob registers a new job with segmentCount pending segments.
func (o *Orchestrator) CreateJob(filename string, segmentCount int) (*models.Job, error) {
	return o.jobs.CreateJob(filename, segmentCount)
}

// GetJob returns a snapshot of one job.
func (o *Orchestrator) GetJob(jobID string) (*models.Job, error) {
	return o.jobs.GetJob(jobID)
}

// FindJob returns a live job, falling back to the archive for jobs this
// instance no longer holds.
func (o *Orchestrator) FindJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := o.jobs.GetJob(jobID)
	if err == nil || !errors.Is(err, models.ErrNotFound) {
		return job, err
	}
	loader, ok := o.archiver.(archive.Loader)
	if !ok {
		return nil, err
	}
	return loader.Load(ctx, jobID)
}

// ListJobs returns summaries of every job.
func (o *Orchestrator) ListJobs() []models.JobSummary {
	return o.jobs.ListJobs()
}

// Subscribe attaches a listener to the job. The first event it receives is
// a snapshot of the job, and no event published after the snapshot is missed.
func (o *Orchestrator) Subscribe(jobID string) (*events.Subscription, error) {
	var sub *events.Subscription
	err := o.jobs.View(jobID, func(job *models.Job) {
		sub = o.registry.Subscribe(jobID)
		sub.Deliver(models.Event{Name: models.EventSnapshot, JobID: jobID, Data: job.Clone()})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// UploadSegment accepts one segment's audio and queues it for submission.
// It returns once the segment is queued; the provider call happens later.
func (o *Orchestrator) UploadSegment(ctx context.Context, jobID string, index int, payload []byte, mimeType string) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: segment body is empty", models.ErrInvalidInput)
	}
	if o.maxSegmentBytes > 0 && int64(len(payload)) > o.maxSegmentBytes {
		return fmt.Errorf("%w: segment is %d bytes, limit is %d", models.ErrInvalidInput, len(payload), o.maxSegmentBytes)
	}

	info := audio.Inspect(payload, mimeType)
	_, err := o.jobs.UpdateSegment(jobID, index, func(job *models.Job, seg *models.Segment) (*models.SegmentUpdate, error) {
		if job.Status == models.StatusCompleted {
			return nil, fmt.Errorf("%w: job %s is already completed", models.ErrInvalidInput, jobID)
		}
		if seg.Status != models.SegmentPending && seg.Status != models.SegmentError {
			return nil, fmt.Errorf("%w: segment %d is already %s", models.ErrInvalidInput, index, seg.Status)
		}

		now := time.Now()
		seg.Status = models.SegmentUploaded
		seg.Error = ""
		seg.TaskID = ""
		seg.MimeType = mimeType
		seg.SizeBytes = info.SizeBytes
		seg.DurationSeconds = info.Duration.Seconds()
		seg.SampleRate = info.SampleRate
		seg.Channels = info.Channels
		seg.UploadedAt = &now
		return &models.SegmentUpdate{Event: models.EventSegmentUploaded}, nil
	})
	if err != nil {
		return err
	}
	log.Printf("Segment %d of job %s uploaded (%d bytes, %s)", index, jobID, len(payload), mimeType)

	task := worker.Task{JobID: jobID, SegmentIndex: index, Audio: payload, MimeType: mimeType}
	if err := o.pool.Enqueue(ctx, task); err != nil {
		o.failSegment(jobID, index, fmt.Sprintf("submission not queued: %v", err))
		return err
	}
	return nil
}

func (o *Orchestrator) failSegment(jobID string, index int, msg string) {
	_, err := o.jobs.UpdateSegment(jobID, index, func(job *models.Job, seg *models.Segment) (*models.SegmentUpdate, error) {
		if seg.Status != models.SegmentUploaded {
			return nil, nil
		}
		seg.Status = models.SegmentError
		seg.Error = msg
		return &models.SegmentUpdate{Event: models.EventSegmentError, Error: msg}, nil
	})
	if err != nil {
		log.Printf("Could not mark job %s segment %d as failed: %v", jobID, index, err)
	}
}

// HandleCallback authenticates and applies one provider webhook.
func (o *Orchestrator) HandleCallback(raw []byte, signature string) (webhook.Ack, error) {
	return o.webhooks.HandleCallback(raw, signature)
}

// Deliver applies a completion from a provider that does not use webhooks.
func (o *Orchestrator) Deliver(c provider.Completion) {
	if o.isClosed() {
		log.Printf("Completion %s dropped: orchestrator is shut down", c.Token)
		return
	}
	o.webhooks.Deliver(c)
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// Stats reports current load.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Jobs:         len(o.jobs.ListJobs()),
		Correlations: o.correlation.Len(),
		QueuePending: o.pool.Pending(),
		WorkersBusy:  o.pool.Busy(),
		Workers:      o.pool.Size(),
	}
}

// Shutdown drains queued submissions and pending archive writes, then
// releases the archiver. ctx bounds the wait. Completions delivered after
// the pool has drained are dropped and no further jobs are archived.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.pool.Stop()
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		o.archiving.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.archiver.Close()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
