package models

import (
	"sort"
	"strings"
	"time"
)

// JobStatus represents the current state of a job in the system
type JobStatus string

const (
	StatusCreated    JobStatus = "created"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
)

// SegmentStatus tracks one segment through upload, submission and transcription.
type SegmentStatus string

const (
	SegmentPending      SegmentStatus = "pending"
	SegmentUploaded     SegmentStatus = "uploaded"
	SegmentTranscribing SegmentStatus = "transcribing"
	SegmentCompleted    SegmentStatus = "completed"
	SegmentError        SegmentStatus = "error"
)

// Terminal reports whether the segment will not change without outside input.
func (s SegmentStatus) Terminal() bool {
	return s == SegmentCompleted || s == SegmentError
}

// ResultStatus is the state of a provider response for one segment.
type ResultStatus string

const (
	ResultProcessing ResultStatus = "processing"
	ResultCompleted  ResultStatus = "completed"
)

// Segment is one slice of the source media. Index is also its transcript position.
type Segment struct {
	Index           int           `json:"index"`
	Status          SegmentStatus `json:"status"`
	TaskID          string        `json:"taskId,omitempty"`
	Error           string        `json:"error,omitempty"`
	MimeType        string        `json:"mimeType,omitempty"`
	SizeBytes       int64         `json:"sizeBytes,omitempty"`
	DurationSeconds float64       `json:"durationSeconds,omitempty"`
	SampleRate      int           `json:"sampleRate,omitempty"`
	Channels        int           `json:"channels,omitempty"`
	UploadedAt      *time.Time    `json:"uploadedAt,omitempty"`
}

// TranscriptionResult is the provider's answer for one segment.
type TranscriptionResult struct {
	SegmentIndex int          `json:"segmentIndex"`
	TaskID       string       `json:"taskId"`
	Status       ResultStatus `json:"status"`
	Text         string       `json:"text"`
	Language     string       `json:"language,omitempty"`
	Confidence   float64      `json:"confidence,omitempty"`
}

// Job represents one media file split into TotalSegments segments
type Job struct {
	ID                string                `json:"id"`
	Filename          string                `json:"filename"`
	Status            JobStatus             `json:"status"`
	CreatedAt         time.Time             `json:"createdAt"`
	CompletedAt       *time.Time            `json:"completedAt,omitempty"`
	TotalSegments     int                   `json:"totalSegments"`
	Segments          []Segment             `json:"segments"`
	Transcriptions    []TranscriptionResult `json:"transcriptions"`
	CompletedSegments int                   `json:"completedSegments"`
	FailedSegments    int                   `json:"failedSegments"`
	CombinedText      string                `json:"combinedText,omitempty"`
}

// JobSummary is the diagnostic view returned by job listings.
type JobSummary struct {
	ID                string    `json:"id"`
	Status            JobStatus `json:"status"`
	Filename          string    `json:"filename"`
	CreatedAt         time.Time `json:"createdAt"`
	TotalSegments     int       `json:"totalSegments"`
	CompletedSegments int       `json:"completedSegments"`
}

// Summary returns the listing view of the job.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:                j.ID,
		Status:            j.Status,
		Filename:          j.Filename,
		CreatedAt:         j.CreatedAt,
		TotalSegments:     j.TotalSegments,
		CompletedSegments: j.CompletedSegments,
	}
}

// Clone returns a deep copy safe to hand out after the job lock is released.
func (j *Job) Clone() *Job {
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Segments = make([]Segment, len(j.Segments))
	for i, seg := range j.Segments {
		if seg.UploadedAt != nil {
			t := *seg.UploadedAt
			seg.UploadedAt = &t
		}
		c.Segments[i] = seg
	}
	c.Transcriptions = append([]TranscriptionResult(nil), j.Transcriptions...)
	if c.Transcriptions == nil {
		c.Transcriptions = []TranscriptionResult{}
	}
	return &c
}

// Result returns the transcription for a segment, or nil if none arrived yet.
func (j *Job) Result(index int) *TranscriptionResult {
	for i := range j.Transcriptions {
		if j.Transcriptions[i].SegmentIndex == index {
			return &j.Transcriptions[i]
		}
	}
	return nil
}

// UpsertResult creates the result for a segment or returns the existing one.
func (j *Job) UpsertResult(index int, taskID string) *TranscriptionResult {
	if r := j.Result(index); r != nil {
		if taskID != "" {
			r.TaskID = taskID
		}
		return r
	}
	j.Transcriptions = append(j.Transcriptions, TranscriptionResult{
		SegmentIndex: index,
		TaskID:       taskID,
		Status:       ResultProcessing,
	})
	return &j.Transcriptions[len(j.Transcriptions)-1]
}

// Progress is the share of terminal segments, as a percentage.
func (j *Job) Progress() float64 {
	if j.TotalSegments == 0 {
		return 0
	}
	return float64(j.CompletedSegments+j.FailedSegments) / float64(j.TotalSegments) * 100
}

// CombineTranscript joins completed texts in segment order, skipping blank ones.
func CombineTranscript(results []TranscriptionResult) string {
	sorted := append([]TranscriptionResult(nil), results...)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].SegmentIndex < sorted[b].SegmentIndex
	})

	parts := make([]string, 0, len(sorted))
	for _, r := range sorted {
		if r.Status != ResultCompleted || strings.TrimSpace(r.Text) == "" {
			continue
		}
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n\n")
}
