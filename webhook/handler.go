package webhook

import (
	"errors"
	"fmt"
	"log"

	"github.com/jupark12/segment-transcriber/models"
	"github.com/jupark12/segment-transcriber/provider"
	"github.com/jupark12/segment-transcriber/store"
)

// Ack is the outcome of an authenticated callback. Unresolved callbacks are
// still acknowledged so the provider does not retry them.
type Ack struct {
	Resolved     bool
	JobID        string
	SegmentIndex int
	// Via names how the segment was found: ids, token, label.
	Via string
	// JobCompleted is set when this callback completed the job.
	JobCompleted bool
	Reason       string
}

// Handler authenticates, parses and applies provider callbacks.
type Handler struct {
	secret      string
	jobs        *store.JobStore
	correlation *store.CorrelationTable
	parsers     []Parser
}

// NewHandler creates a handler that verifies callbacks with secret.
func NewHandler(secret string, jobs *store.JobStore, correlation *store.CorrelationTable) *Handler {
	return &Handler{
		secret:      secret,
		jobs:        jobs,
		correlation: correlation,
		parsers:     DefaultParsers,
	}
}

// HandleCallback processes one raw webhook body. The signature is checked
// against the exact bytes received before anything is parsed.
func (h *Handler) HandleCallback(raw []byte, signature string) (Ack, error) {
	if !VerifySignature(raw, signature, h.secret) {
		log.Printf("Webhook rejected: signature did not verify (%d bytes)", len(raw))
		return Ack{}, models.ErrUnauthorized
	}

	cb, err := Parse(raw, h.parsers)
	if err != nil {
		if errors.Is(err, models.ErrUnresolvable) {
			log.Printf("Webhook acknowledged without action: %v", err)
			return Ack{Reason: err.Error()}, nil
		}
		return Ack{}, err
	}
	return h.Apply(cb), nil
}

// Deliver applies a completion produced outside the webhook path.
func (h *Handler) Deliver(c provider.Completion) {
	h.Apply(Callback{
		Schema:     "direct",
		Token:      c.Token,
		Label:      c.Label,
		Text:       c.Text,
		Language:   c.Language,
		Confidence: c.Confidence,
	})
}

// Apply resolves the callback to a segment and records the result. Applying
// the same callback twice leaves the job as after the first time.
func (h *Handler) Apply(cb Callback) Ack {
	jobID, index, via, ok := h.resolve(cb)
	if !ok {
		log.Printf("Webhook (%s) could not be correlated: token=%q label=%q", cb.Schema, cb.Token, cb.Label)
		return Ack{Reason: "no matching job segment"}
	}

	res, err := h.jobs.UpdateSegment(jobID, index, h.mutation(cb))
	if err != nil {
		log.Printf("Webhook (%s) for job %s segment %d not applied: %v", cb.Schema, jobID, index, err)
		return Ack{JobID: jobID, SegmentIndex: index, Via: via, Reason: err.Error()}
	}

	log.Printf("Webhook (%s) applied to job %s segment %d via %s", cb.Schema, jobID, index, via)
	return Ack{
		Resolved:     true,
		JobID:        jobID,
		SegmentIndex: index,
		Via:          via,
		JobCompleted: res.Completed,
	}
}

// resolve tries direct ids, then the correlation table, then the label
// pattern on the token and label.
func (h *Handler) resolve(cb Callback) (string, int, string, bool) {
	if cb.HasIDs && cb.JobID != "" {
		return cb.JobID, cb.SegmentIndex, "ids", true
	}

	candidates := make([]string, 0, 2)
	for _, s := range []string{cb.Token, cb.Label} {
		if s != "" {
			candidates = append(candidates, s)
		}
	}

	for _, s := range candidates {
		if corr, ok := h.correlation.Resolve(s); ok {
			return corr.JobID, corr.SegmentIndex, "token", true
		}
	}
	for _, s := range candidates {
		if jobID, index, ok := store.ParseLabel(s); ok {
			return jobID, index, "label", true
		}
	}
	return "", 0, "", false
}

func (h *Handler) mutation(cb Callback) store.Mutation {
	return func(job *models.Job, seg *models.Segment) (*models.SegmentUpdate, error) {
		if cb.Failed {
			if seg.Status == models.SegmentCompleted {
				return nil, nil
			}
			seg.Status = models.SegmentError
			seg.Error = cb.Error
			return &models.SegmentUpdate{
				Event:  models.EventSegmentError,
				TaskID: seg.TaskID,
				Error:  cb.Error,
			}, nil
		}

		token := cb.Token
		if token == "" {
			token = seg.TaskID
		}
		r := job.UpsertResult(seg.Index, token)
		r.Status = models.ResultCompleted
		r.Text = cb.Text
		r.Language = cb.Language
		r.Confidence = cb.Confidence

		seg.Status = models.SegmentCompleted
		seg.Error = ""
		if seg.TaskID == "" {
			seg.TaskID = token
		}

		return &models.SegmentUpdate{
			Event:      models.EventSegmentCompleted,
			TaskID:     r.TaskID,
			Text:       r.Text,
			Language:   r.Language,
			Confidence: r.Confidence,
		}, nil
	}
}

func (a Ack) String() string {
	if !a.Resolved {
		return fmt.Sprintf("unresolved (%s)", a.Reason)
	}
	return fmt.Sprintf("job %s segment %d via %s", a.JobID, a.SegmentIndex, a.Via)
}
