package store

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jupark12/segment-transcriber/models"
)

// Publisher receives every event produced by a job mutation. It is called
// with the job's lock held, so implementations must not block.
type Publisher interface {
	Publish(jobID string, ev models.Event)
}

// Mutation changes one segment of a job under that job's lock. It returns the
// segment event to publish, or nil for a silent change. Returning an error
// aborts the update: the segment and the transcriptions are restored to what
// they were before the mutation ran.
type Mutation func(job *models.Job, seg *models.Segment) (*models.SegmentUpdate, error)

// UpdateResult is what UpdateSegment hands back to the caller.
type UpdateResult struct {
	Job *models.Job
	// Completed is true only for the update that moved the job to completed.
	Completed bool
}

// DefaultMaxSegments bounds the segment count of a job unless SetMaxSegments says otherwise.
const DefaultMaxSegments = 10000

type jobEntry struct {
	mu  sync.Mutex
	job *models.Job
}

// JobStore holds all job and segment state in memory, keyed by job id.
// The map lock only guards membership; each job has its own lock.
type JobStore struct {
	mu          sync.RWMutex
	jobsByID    map[string]*jobEntry
	publisher   Publisher
	maxSegments int
	now         func() time.Time
}

// NewJobStore creates an empty store that reports mutations to publisher.
func NewJobStore(publisher Publisher) *JobStore {
	return &JobStore{
		jobsByID:    make(map[string]*jobEntry),
		publisher:   publisher,
		maxSegments: DefaultMaxSegments,
		now:         time.Now,
	}
}

// SetMaxSegments changes the largest segment count CreateJob accepts.
// Values below one are ignored. Call it before the store is shared.
func (s *JobStore) SetMaxSegments(n int) {
	if n > 0 {
		s.maxSegments = n
	}
}

// CreateJob allocates a job with totalSegments pending segments
func (s *JobStore) CreateJob(filename string, totalSegments int) (*models.Job, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", models.ErrInvalidInput)
	}
	if totalSegments <= 0 {
		return nil, fmt.Errorf("%w: segmentCount must be positive, got %d", models.ErrInvalidInput, totalSegments)
	}
	if totalSegments > s.maxSegments {
		return nil, fmt.Errorf("%w: segmentCount %d exceeds the limit of %d", models.ErrInvalidInput, totalSegments, s.maxSegments)
	}

	job := &models.Job{
		ID:             uuid.New().String(),
		Filename:       filename,
		Status:         models.StatusCreated,
		CreatedAt:      s.now(),
		TotalSegments:  totalSegments,
		Segments:       make([]models.Segment, totalSegments),
		Transcriptions: []models.TranscriptionResult{},
	}
	for i := range job.Segments {
		job.Segments[i] = models.Segment{Index: i, Status: models.SegmentPending}
	}

	entry := &jobEntry{job: job}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s.mu.Lock()
	s.jobsByID[job.ID] = entry
	s.mu.Unlock()

	snapshot := job.Clone()
	s.publish(job.ID, models.EventJobCreated, snapshot)

	log.Printf("Job created: %s for file %s with %d segments", job.ID, filename, totalSegments)
	return snapshot, nil
}

// GetJob returns a snapshot of the job
func (s *JobStore) GetJob(jobID string) (*models.Job, error) {
	entry, err := s.entry(jobID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.Clone(), nil
}

// ListJobs returns summaries of all jobs, oldest first.
func (s *JobStore) ListJobs() []models.JobSummary {
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.jobsByID))
	for _, entry := range s.jobsByID {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	summaries := make([]models.JobSummary, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		summaries = append(summaries, entry.job.Summary())
		entry.mu.Unlock()
	}

	sort.Slice(summaries, func(a, b int) bool {
		if summaries[a].CreatedAt.Equal(summaries[b].CreatedAt) {
			return summaries[a].ID < summaries[b].ID
		}
		return summaries[a].CreatedAt.Before(summaries[b].CreatedAt)
	})
	return summaries
}

// View runs fn with the live job under its lock. fn must not modify the job
// or call back into the store for the same job.
func (s *JobStore) View(jobID string, fn func(job *models.Job)) error {
	entry, err := s.entry(jobID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.job)
	return nil
}

// UpdateSegment applies mutate to segment index of the job, recomputes the
// job aggregate and publishes the resulting events, all under the job lock.
func (s *JobStore) UpdateSegment(jobID string, index int, mutate Mutation) (*UpdateResult, error) {
	entry, err := s.entry(jobID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	job := entry.job
	if index < 0 || index >= job.TotalSegments {
		return nil, fmt.Errorf("%w: segment %d of job %s (total %d)", models.ErrNotFound, index, jobID, job.TotalSegments)
	}

	savedSegment := job.Segments[index]
	savedResults := append(make([]models.TranscriptionResult, 0, len(job.Transcriptions)), job.Transcriptions...)

	update, err := mutate(job, &job.Segments[index])
	if err != nil {
		job.Segments[index] = savedSegment
		job.Transcriptions = savedResults
		return nil, err
	}

	completed := s.recompute(job)

	if update != nil {
		update.SegmentIndex = index
		if update.Status == "" {
			update.Status = job.Segments[index].Status
		}
		update.Completed = job.CompletedSegments
		update.Failed = job.FailedSegments
		update.Total = job.TotalSegments
		update.Progress = job.Progress()
		update.JobStatus = job.Status
		s.publish(jobID, update.Event, update)
	}

	if completed {
		s.publish(jobID, models.EventJobCompleted, &models.JobCompleted{
			CombinedText: job.CombinedText,
			CompletedAt:  *job.CompletedAt,
			Completed:    job.CompletedSegments,
			Failed:       job.FailedSegments,
			Total:        job.TotalSegments,
		})
		log.Printf("Job %s completed: %d/%d segments transcribed, %d failed, transcript length %d",
			jobID, job.CompletedSegments, job.TotalSegments, job.FailedSegments, len(job.CombinedText))
	}

	return &UpdateResult{Job: job.Clone(), Completed: completed}, nil
}

// recompute refreshes counters, status and the combined transcript. It
// reports true only on the transition into completed.
func (s *JobStore) recompute(job *models.Job) bool {
	completedCount, failedCount, touched := 0, 0, false
	for _, seg := range job.Segments {
		switch seg.Status {
		case models.SegmentCompleted:
			completedCount++
		case models.SegmentError:
			failedCount++
		}
		if seg.Status != models.SegmentPending {
			touched = true
		}
	}
	job.CompletedSegments = completedCount
	job.FailedSegments = failedCount

	allTerminal := completedCount+failedCount == job.TotalSegments

	if job.Status == models.StatusCompleted {
		// Late deliveries may still fill in text; the transition itself happens once.
		job.CombinedText = models.CombineTranscript(job.Transcriptions)
		return false
	}

	switch {
	case allTerminal:
		now := s.now()
		job.Status = models.StatusCompleted
		job.CompletedAt = &now
		job.CombinedText = models.CombineTranscript(job.Transcriptions)
		return true
	case touched:
		job.Status = models.StatusProcessing
	}
	return false
}

func (s *JobStore) publish(jobID string, name models.EventName, data any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(jobID, models.Event{Name: name, JobID: jobID, Data: data})
}

func (s *JobStore) entry(jobID string) (*jobEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.jobsByID[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: job %s", models.ErrNotFound, jobID)
	}
	return entry, nil
}
