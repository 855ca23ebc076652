package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// ElevenLabs submits segments to the ElevenLabs speech-to-text API in
// webhook mode. Results arrive later on the webhook endpoint.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	modelID string
	client  *http.Client
}

// NewElevenLabs creates a client. The request context bounds each call.
func NewElevenLabs(apiKey, baseURL, modelID string, client *http.Client) *ElevenLabs {
	if client == nil {
		client = &http.Client{}
	}
	return &ElevenLabs{apiKey: apiKey, baseURL: baseURL, modelID: modelID, client: client}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

type elevenLabsResponse struct {
	TaskID    string `json:"task_id"`
	TaskIDAlt string `json:"taskId"`
	RequestID string `json:"request_id"`
}

// Submit uploads one segment and returns the provider task id.
func (e *ElevenLabs) Submit(ctx context.Context, req Request) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	contentType := req.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return "", err
	}

	metadata, err := json.Marshal(map[string]string{
		"request_id": req.Label,
		"filename":   req.Filename,
	})
	if err != nil {
		return "", err
	}
	fields := [][2]string{
		{"model_id", e.modelID},
		{"webhook", "true"},
		{"diarize", "true"},
		{"timestamp_granularity", "word"},
		{"webhook_metadata", string(metadata)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPError{Provider: e.Name(), StatusCode: resp.StatusCode, Body: string(b)}
	}

	var parsed elevenLabsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil && err != io.EOF {
		return "", fmt.Errorf("decode elevenlabs response: %w", err)
	}

	switch {
	case parsed.TaskID != "":
		return parsed.TaskID, nil
	case parsed.TaskIDAlt != "":
		return parsed.TaskIDAlt, nil
	case parsed.RequestID != "":
		return parsed.RequestID, nil
	default:
		// No id in the acknowledgement; the label still correlates the callback.
		return req.Label, nil
	}
}
