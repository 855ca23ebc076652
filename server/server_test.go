package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jupark12/segment-transcriber/config"
	"github.com/jupark12/segment-transcriber/models"
	"github.com/jupark12/segment-transcriber/orchestrator"
	"github.com/jupark12/segment-transcriber/provider"
	"github.com/jupark12/segment-transcriber/webhook"
)

const testSecret = "server-test-secret"

type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Submit(ctx context.Context, req provider.Request) (string, error) {
	return "task-" + fmt.Sprint(req.SegmentIndex), nil
}

func newTestServer(t *testing.T, tweaks ...func(*Server)) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ElevenLabsAPIKey = "key"
	cfg.WebhookSecret = testSecret
	cfg.MaxSegmentBytes = 1 << 10
	cfg.MaxSegments = 16
	cfg.PublicBaseURL = "http://localhost:5000"

	orch := orchestrator.New(orchestrator.Options{
		Provider:        stubProvider{},
		WebhookSecret:   cfg.WebhookSecret,
		SubmitWorkers:   2,
		SubmitQueueSize: 4,
		SubmitTimeout:   time.Second,
		MaxSegmentBytes: cfg.MaxSegmentBytes,
		MaxSegments:     cfg.MaxSegments,
	})
	srv := NewServer(orch, cfg)
	for _, tweak := range tweaks {
		tweak(srv)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		orch.Shutdown(context.Background())
	})
	return ts, orch
}

func createJob(t *testing.T, ts *httptest.Server, filename string, n int) string {
	t.Helper()
	body := fmt.Sprintf(`{"filename":%q,"segmentCount":%d}`, filename, n)
	resp, err := http.Post(ts.URL+"/api/upload", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var out struct {
		JobID   string `json:"jobId"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.JobID == "" || out.Message == "" {
		t.Fatalf("response = %+v", out)
	}
	return out.JobID
}

func postWebhook(t *testing.T, ts *httptest.Server, body []byte, header, signature string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/webhooks/elevenlabs", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(header, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func waitTranscribing(t *testing.T, orch *orchestrator.Orchestrator, jobID string, index int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := orch.GetJob(jobID)
		if job.Segments[index].Status == models.SegmentTranscribing {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("segment %d never reached transcribing", index)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	ts, orch := newTestServer(t)
	jobID := createJob(t, ts, "a.wav", 2)

	for i := 0; i < 2; i++ {
		resp, err := http.Post(fmt.Sprintf("%s/api/upload/%s/segment/%d", ts.URL, jobID, i), "audio/wav", strings.NewReader("audio"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("upload %d status = %d", i, resp.StatusCode)
		}
		waitTranscribing(t, orch, jobID, i)
	}

	// Segment 1 is answered first.
	for _, cb := range []struct {
		index int
		text  string
	}{{1, "world"}, {0, "hello"}} {
		body := []byte(fmt.Sprintf(`{"type":"speech_to_text_transcription","data":{"request_id":"task-%d","text":%q}}`, cb.index, cb.text))
		resp := postWebhook(t, ts, body, "X-ElevenLabs-Signature", "t=1,v0="+webhook.Sign(body, testSecret))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("webhook status = %d", resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/api/jobs/" + jobID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.Status != models.StatusCompleted || job.CombinedText != "hello\n\nworld" {
		t.Fatalf("job = %s %q", job.Status, job.CombinedText)
	}

	list, err := http.Get(ts.URL + "/api/jobs")
	if err != nil {
		t.Fatal(err)
	}
	defer list.Body.Close()
	var summaries []models.JobSummary
	if err := json.NewDecoder(list.Body).Decode(&summaries); err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].CompletedSegments != 2 {
		t.Fatalf("summaries = %+v", summaries)
	}
}

func TestErrorStatusCodes(t *testing.T) {
	ts, _ := newTestServer(t)
	jobID := createJob(t, ts, "a.wav", 1)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad create body", http.MethodPost, "/api/upload", `{"filename":`, http.StatusBadRequest},
		{"zero segments", http.MethodPost, "/api/upload", `{"filename":"a.wav","segmentCount":0}`, http.StatusBadRequest},
		{"segment count over limit", http.MethodPost, "/api/upload", `{"filename":"a.wav","segmentCount":17}`, http.StatusBadRequest},
		{"huge segment count", http.MethodPost, "/api/upload", `{"filename":"a.wav","segmentCount":1125899906842624}`, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/api/jobs/missing", "", http.StatusNotFound},
		{"non numeric index", http.MethodPost, "/api/upload/" + jobID + "/segment/abc", "x", http.StatusBadRequest},
		{"empty segment", http.MethodPost, "/api/upload/" + jobID + "/segment/0", "", http.StatusBadRequest},
		{"oversized segment", http.MethodPost, "/api/upload/" + jobID + "/segment/0", strings.Repeat("x", 2048), http.StatusRequestEntityTooLarge},
		{"stream unknown job", http.MethodGet, "/api/jobs/missing/stream", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, ts.URL+tc.path, strings.NewReader(tc.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if tc.want != http.StatusRequestEntityTooLarge {
				var out map[string]string
				if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out["error"] == "" {
					t.Fatalf("error body = %v, %v", out, err)
				}
			}
		})
	}
}

func TestOversizedWebhookIsRejected(t *testing.T) {
	ts, _ := newTestServer(t, func(s *Server) { s.maxWebhookBytes = 64 })
	body := []byte(fmt.Sprintf(`{"type":"speech_to_text_transcription","data":{"request_id":"task","text":%q}}`, strings.Repeat("x", 128)))

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/webhooks/elevenlabs", bytes.NewReader(body))
	req.Header.Set(signatureHeader, webhook.Sign(body, testSecret))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out["error"] != "webhook body too large" {
		t.Fatalf("error body = %v, %v", out, err)
	}
}

func TestWebhookResponses(t *testing.T) {
	ts, _ := newTestServer(t)
	body := []byte(`{"type":"speech_to_text_transcription","data":{"request_id":"nobody","text":"x"}}`)

	if resp := postWebhook(t, ts, body, "ElevenLabs-Signature", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing signature status = %d", resp.StatusCode)
	}
	if resp := postWebhook(t, ts, body, "ElevenLabs-Signature", webhook.Sign(body, "wrong")); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong signature status = %d", resp.StatusCode)
	}

	malformed := []byte(`{"type":`)
	if resp := postWebhook(t, ts, malformed, "ElevenLabs-Signature", webhook.Sign(malformed, testSecret)); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed status = %d", resp.StatusCode)
	}

	// Uncorrelated but authentic callbacks are acknowledged.
	if resp := postWebhook(t, ts, body, "ElevenLabs-Signature", webhook.Sign(body, testSecret)); resp.StatusCode != http.StatusOK {
		t.Fatalf("unresolvable status = %d", resp.StatusCode)
	}
}

func TestHealthAndCORS(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "ok" || health["provider"] != config.ProviderElevenLabs || health["providerConfigured"] != true {
		t.Fatalf("health = %v", health)
	}
	if health["publicBaseUrl"] != "http://localhost:5000" {
		t.Fatalf("publicBaseUrl = %v", health["publicBaseUrl"])
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/upload", nil)
	pre, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	pre.Body.Close()
	if pre.StatusCode != http.StatusOK || pre.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("preflight status = %d headers = %v", pre.StatusCode, pre.Header)
	}
}

func TestStreamSendsSnapshotFirst(t *testing.T) {
	ts, _ := newTestServer(t)
	jobID := createJob(t, ts, "a.wav", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/jobs/"+jobID+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	event, _ := reader.ReadString('\n')
	data, _ := reader.ReadString('\n')
	if strings.TrimSpace(event) != "event: snapshot" {
		t.Fatalf("first line = %q", event)
	}
	var job models.Job
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &job); err != nil {
		t.Fatalf("snapshot data %q: %v", data, err)
	}
	if job.ID != jobID || len(job.Segments) != 1 {
		t.Fatalf("snapshot = %+v", job)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	ts, _ := newTestServer(t)
	jobID := createJob(t, ts, "a.wav", 1)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/jobs/" + jobID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first struct {
		Event string `json:"event"`
		JobID string `json:"jobId"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Event != string(models.EventSnapshot) || first.JobID != jobID {
		t.Fatalf("first message = %+v", first)
	}

	resp, err := http.Post(fmt.Sprintf("%s/api/upload/%s/segment/0", ts.URL, jobID), "audio/wav", strings.NewReader("audio"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var next struct {
		Event string `json:"event"`
		Data  struct {
			SegmentIndex int    `json:"segmentIndex"`
			Status       string `json:"status"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	if next.Event != string(models.EventSegmentUploaded) || next.Data.Status != string(models.SegmentUploaded) {
		t.Fatalf("second message = %+v", next)
	}
}
