package models

import "errors"

var (
	// ErrInvalidInput marks a request with a bad shape or out-of-range value.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks an unknown job or segment.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized marks a webhook whose signature did not verify.
	ErrUnauthorized = errors.New("invalid signature")
	// ErrBadRequest marks a webhook body that is not valid JSON.
	ErrBadRequest = errors.New("bad request")
	// ErrUpstream marks a failed call to the transcription provider.
	ErrUpstream = errors.New("upstream failure")
	// ErrUnresolvable marks a webhook that cannot be tied to any job segment.
	ErrUnresolvable = errors.New("unresolvable callback")
	// ErrQueueClosed is returned when submitting to a stopped worker pool.
	ErrQueueClosed = errors.New("submission queue closed")
)
