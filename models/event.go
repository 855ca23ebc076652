package models

import "time"

// EventName identifies a message on a job's live stream.
type EventName string

const (
	EventSnapshot            EventName = "snapshot"
	EventJobCreated          EventName = "job_created"
	EventSegmentUploaded     EventName = "segment_uploaded"
	EventSegmentTranscribing EventName = "segment_transcribing"
	EventSegmentCompleted    EventName = "segment_completed"
	EventSegmentError        EventName = "segment_error"
	EventJobCompleted        EventName = "job_completed"
)

// Event is one named message delivered to a job's subscribers.
type Event struct {
	Name  EventName `json:"event"`
	JobID string    `json:"jobId"`
	Data  any       `json:"data"`
}

// SegmentUpdate is the payload of every segment_* event. The progress fields
// are filled by the job store after the aggregate has been recomputed.
type SegmentUpdate struct {
	Event        EventName     `json:"-"`
	SegmentIndex int           `json:"segmentIndex"`
	Status       SegmentStatus `json:"status"`
	TaskID       string        `json:"taskId,omitempty"`
	Text         string        `json:"text,omitempty"`
	Language     string        `json:"language,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
	Error        string        `json:"error,omitempty"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Total        int           `json:"total"`
	Progress     float64       `json:"progress"`
	JobStatus    JobStatus     `json:"jobStatus"`
}

// JobCompleted is the payload of job_completed.
type JobCompleted struct {
	CombinedText string    `json:"combinedText"`
	CompletedAt  time.Time `json:"completedAt"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	Total        int       `json:"total"`
}
