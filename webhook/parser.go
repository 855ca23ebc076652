package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jupark12/segment-transcriber/models"
)

// Callback is the canonical form every webhook schema is decoded into.
type Callback struct {
	Schema string
	// Token is the provider correlation id, Label the name we sent with the
	// segment. Either may be empty.
	Token string
	Label string
	// JobID and SegmentIndex are set directly by schemas that carry them.
	JobID        string
	SegmentIndex int
	HasIDs       bool

	Text       string
	Language   string
	Confidence float64

	Failed bool
	Error  string
}

// Parser decodes one webhook schema. ok is false when the body is not that schema.
type Parser interface {
	Name() string
	Parse(body []byte) (cb Callback, ok bool)
}

// DefaultParsers is the chain tried in order; the first match wins.
var DefaultParsers = []Parser{envelopeParser{}, legacyParser{}, genericParser{}}

// Parse runs body through parsers. Malformed JSON is ErrBadRequest; valid
// JSON no parser accepts is ErrUnresolvable.
func Parse(body []byte, parsers []Parser) (Callback, error) {
	if !json.Valid(body) {
		return Callback{}, fmt.Errorf("%w: body is not valid JSON", models.ErrBadRequest)
	}
	for _, p := range parsers {
		if cb, ok := p.Parse(body); ok {
			cb.Schema = p.Name()
			return cb, nil
		}
	}
	return Callback{}, fmt.Errorf("%w: no parser matched the payload", models.ErrUnresolvable)
}

// envelopeParser handles {type, data:{...}, webhook_metadata:{...}}.
type envelopeParser struct{}

func (envelopeParser) Name() string { return "envelope" }

type envelopeData struct {
	Transcript          json.RawMessage `json:"transcript"`
	Transcription       json.RawMessage `json:"transcription"`
	Text                string          `json:"text"`
	Language            string          `json:"language"`
	LanguageCode        string          `json:"language_code"`
	LanguageConfidence  *float64        `json:"language_confidence"`
	LanguageProbability *float64        `json:"language_probability"`
	RequestID           string          `json:"request_id"`
	TaskID              string          `json:"task_id"`
	Error               json.RawMessage `json:"error"`
}

type envelope struct {
	Type            string          `json:"type"`
	Data            *envelopeData   `json:"data"`
	WebhookMetadata json.RawMessage `json:"webhook_metadata"`
}

type metadata struct {
	RequestID string `json:"request_id"`
	Filename  string `json:"filename"`
}

func (envelopeParser) Parse(body []byte) (Callback, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Type == "" || env.Data == nil {
		return Callback{}, false
	}
	d := env.Data
	meta := decodeMetadata(env.WebhookMetadata)

	nested := decodeTranscript(d.Transcription)
	if nested.Text == "" {
		nested = decodeTranscript(d.Transcript)
	}

	cb := Callback{
		Token:    firstNonEmpty(d.TaskID, d.RequestID, meta.RequestID),
		Label:    firstNonEmpty(meta.Filename, meta.RequestID),
		Text:     firstNonEmpty(nested.Text, d.Text),
		Language: firstNonEmpty(d.Language, d.LanguageCode, nested.LanguageCode),
	}
	switch {
	case d.LanguageConfidence != nil:
		cb.Confidence = *d.LanguageConfidence
	case d.LanguageProbability != nil:
		cb.Confidence = *d.LanguageProbability
	case nested.LanguageProbability != nil:
		cb.Confidence = *nested.LanguageProbability
	}
	errMsg := decodeError(d.Error)
	if errMsg != "" || strings.Contains(strings.ToLower(env.Type), "error") || strings.Contains(strings.ToLower(env.Type), "fail") {
		cb.Failed = true
		cb.Error = firstNonEmpty(errMsg, env.Type)
	}
	return cb, true
}

// legacyParser handles the flat {request_id, text, language_code, ...} shape.
type legacyParser struct{}

func (legacyParser) Name() string { return "legacy" }

type legacyPayload struct {
	RequestID           string   `json:"request_id"`
	TaskID              string   `json:"task_id"`
	Filename            string   `json:"filename"`
	Text                string   `json:"text"`
	LanguageCode        string   `json:"language_code"`
	LanguageProbability *float64 `json:"language_probability"`
}

func (legacyParser) Parse(body []byte) (Callback, bool) {
	var p legacyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Callback{}, false
	}
	if p.RequestID == "" && p.TaskID == "" {
		return Callback{}, false
	}
	cb := Callback{
		Token:    firstNonEmpty(p.RequestID, p.TaskID),
		Label:    p.Filename,
		Text:     p.Text,
		Language: p.LanguageCode,
	}
	if p.LanguageProbability != nil {
		cb.Confidence = *p.LanguageProbability
	}
	return cb, true
}

// genericParser handles {jobId, segmentIndex, status, text}.
type genericParser struct{}

func (genericParser) Name() string { return "generic" }

type genericPayload struct {
	JobID        string          `json:"jobId"`
	SegmentIndex *int            `json:"segmentIndex"`
	Status       string          `json:"status"`
	Text         string          `json:"text"`
	Language     string          `json:"language"`
	Confidence   *float64        `json:"confidence"`
	TaskID       string          `json:"taskId"`
	Error        json.RawMessage `json:"error"`
}

func (genericParser) Parse(body []byte) (Callback, bool) {
	var p genericPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Callback{}, false
	}
	if p.JobID == "" || p.SegmentIndex == nil {
		return Callback{}, false
	}
	cb := Callback{
		Token:        p.TaskID,
		JobID:        p.JobID,
		SegmentIndex: *p.SegmentIndex,
		HasIDs:       true,
		Text:         p.Text,
		Language:     p.Language,
	}
	if p.Confidence != nil {
		cb.Confidence = *p.Confidence
	}
	switch strings.ToLower(p.Status) {
	case "error", "failed":
		cb.Failed = true
		cb.Error = firstNonEmpty(decodeError(p.Error), "transcription failed")
	}
	return cb, true
}

type transcript struct {
	Text                string   `json:"text"`
	LanguageCode        string   `json:"language_code"`
	LanguageProbability *float64 `json:"language_probability"`
}

// decodeTranscript accepts either a plain string or a {text, ...} object.
func decodeTranscript(raw json.RawMessage) transcript {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return transcript{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return transcript{Text: s}
	}
	var t transcript
	_ = json.Unmarshal(raw, &t)
	return t
}

// decodeMetadata accepts the metadata as an object or as a JSON-encoded string.
func decodeMetadata(raw json.RawMessage) metadata {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return metadata{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(s)
	}
	var m metadata
	_ = json.Unmarshal(raw, &m)
	return m
}

type providerError struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// decodeError accepts the error as a string or as an object. Objects without
// a message or detail field are kept as compact JSON text.
func decodeError(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var e providerError
	if err := json.Unmarshal(raw, &e); err == nil {
		if msg := firstNonEmpty(e.Message, e.Detail); msg != "" {
			return msg
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
