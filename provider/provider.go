package provider

import (
	"context"
	"fmt"
)

// Request is one segment submission.
type Request struct {
	JobID        string
	SegmentIndex int
	// Label embeds the job id and segment index so callbacks can be resolved
	// even when the returned token is unknown.
	Label    string
	Filename string
	Audio    []byte
	MimeType string
}

// Provider submits audio to a speech-to-text service and returns the
// correlation token the service will echo in its asynchronous result.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req Request) (string, error)
}

// Completion is a finished transcription delivered outside the webhook path.
type Completion struct {
	Token      string
	Label      string
	Text       string
	Language   string
	Confidence float64
}

// HTTPError is returned when the provider answers with a non-2xx status.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
}
