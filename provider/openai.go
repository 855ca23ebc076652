package provider

import (
	"bytes"
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

// OpenAI transcribes segments synchronously with the Whisper API and hands
// the result to deliver, so it flows through the same apply path a webhook
// callback would.
type OpenAI struct {
	client  *openai.Client
	model   string
	deliver func(Completion)
}

// NewOpenAI creates a provider. baseURL may be empty for the public API.
func NewOpenAI(apiKey, baseURL, model string, deliver func(Completion)) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		deliver: deliver,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Submit runs the transcription and returns a fresh token for it. The
// completion is delivered on its own goroutine after Submit returns.
func (o *OpenAI) Submit(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: req.Filename,
		Reader:   bytes.NewReader(req.Audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", err
	}

	token := uuid.New().String()
	completion := Completion{
		Token:      token,
		Label:      req.Label,
		Text:       resp.Text,
		Language:   resp.Language,
		Confidence: confidence(resp),
	}
	if o.deliver != nil {
		go o.deliver(completion)
	}
	return token, nil
}

// confidence averages per-segment token probabilities.
func confidence(resp openai.AudioResponse) float64 {
	if len(resp.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, seg := range resp.Segments {
		sum += math.Exp(seg.AvgLogprob)
	}
	return sum / float64(len(resp.Segments))
}
