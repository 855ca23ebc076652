package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jupark12/segment-transcriber/audio"
	"github.com/jupark12/segment-transcriber/models"
	"github.com/jupark12/segment-transcriber/provider"
	"github.com/jupark12/segment-transcriber/store"
)

// Submitter sends one segment to the transcription provider and records the
// outcome on the job. The provider call runs without holding the job lock.
type Submitter struct {
	jobs        *store.JobStore
	correlation *store.CorrelationTable
	provider    provider.Provider
	timeout     time.Duration
}

// NewSubmitter creates a submitter whose provider calls are bounded by timeout.
func NewSubmitter(jobs *store.JobStore, correlation *store.CorrelationTable, p provider.Provider, timeout time.Duration) *Submitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Submitter{jobs: jobs, correlation: correlation, provider: p, timeout: timeout}
}

// Process is the pool entry point for a queued task.
func (s *Submitter) Process(ctx context.Context, task Task) error {
	_, err := s.Submit(ctx, task.JobID, task.SegmentIndex, task.Audio, task.MimeType)
	return err
}

// Submit makes exactly one provider call for the segment and returns the
// correlation token. A provider failure marks the segment as errored and is
// returned wrapped in ErrUpstream.
func (s *Submitter) Submit(ctx context.Context, jobID string, index int, payload []byte, mimeType string) (string, error) {
	if err := s.checkPreconditions(jobID, index, payload); err != nil {
		return "", err
	}

	label := store.Label(jobID, index)
	req := provider.Request{
		JobID:        jobID,
		SegmentIndex: index,
		Label:        label,
		Filename:     label + audio.Extension(mimeType),
		Audio:        payload,
		MimeType:     mimeType,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	token, err := s.provider.Submit(callCtx, req)
	cancel()

	if err != nil {
		s.markFailed(jobID, index, err)
		return "", fmt.Errorf("%w: %s job %s segment %d: %v", models.ErrUpstream, s.provider.Name(), jobID, index, err)
	}

	if _, err := s.jobs.UpdateSegment(jobID, index, s.markTranscribing(jobID, token)); err != nil {
		return token, err
	}
	log.Printf("Submitted job %s segment %d to %s, token %s", jobID, index, s.provider.Name(), token)
	return token, nil
}

func (s *Submitter) checkPreconditions(jobID string, index int, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: audio payload is empty", models.ErrInvalidInput)
	}

	total := 0
	if err := s.jobs.View(jobID, func(job *models.Job) { total = job.TotalSegments }); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidInput, err)
	}
	if index < 0 || index >= total {
		return fmt.Errorf("%w: segment %d out of range [0, %d)", models.ErrInvalidInput, index, total)
	}
	return nil
}

// markTranscribing records the token and moves the segment on, unless a
// callback already finished it while the provider call was in flight.
func (s *Submitter) markTranscribing(jobID, token string) store.Mutation {
	return func(job *models.Job, seg *models.Segment) (*models.SegmentUpdate, error) {
		s.correlation.Record(token, jobID, seg.Index)
		if seg.TaskID == "" || !seg.Status.Terminal() {
			seg.TaskID = token
		}
		job.UpsertResult(seg.Index, token)

		switch seg.Status {
		case models.SegmentPending, models.SegmentUploaded:
			seg.Status = models.SegmentTranscribing
			seg.Error = ""
			return &models.SegmentUpdate{Event: models.EventSegmentTranscribing, TaskID: token}, nil
		default:
			return nil, nil
		}
	}
}

func (s *Submitter) markFailed(jobID string, index int, cause error) {
	msg := cause.Error()
	_, err := s.jobs.UpdateSegment(jobID, index, func(job *models.Job, seg *models.Segment) (*models.SegmentUpdate, error) {
		if seg.Status == models.SegmentCompleted {
			return nil, nil
		}
		seg.Status = models.SegmentError
		seg.Error = msg
		return &models.SegmentUpdate{Event: models.EventSegmentError, Error: msg}, nil
	})
	if err != nil {
		log.Printf("Could not record submission failure for job %s segment %d: %v", jobID, index, err)
	}
}
