package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jupark12/segment-transcriber/config"
	"github.com/jupark12/segment-transcriber/events"
	"github.com/jupark12/segment-transcriber/models"
	"github.com/jupark12/segment-transcriber/orchestrator"
)

const (
	maxWebhookBytes = 10 << 20
	sseHeartbeat    = 15 * time.Second
	wsWriteWait     = 10 * time.Second
	wsPongWait      = 60 * time.Second
	wsPingPeriod    = (wsPongWait * 9) / 10
	signatureHeader = "ElevenLabs-Signature"
)

// Server handles HTTP requests for the job lifecycle
type Server struct {
	orch       *orchestrator.Orchestrator
	cfg        config.Config
	upgrader   websocket.Upgrader
	httpServer *http.Server

	maxWebhookBytes int64
}

// NewServer creates a new server instance
func NewServer(orch *orchestrator.Orchestrator, cfg config.Config) *Server {
	s := &Server{
		orch:            orch,
		cfg:             cfg,
		maxWebhookBytes: maxWebhookBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with CORS applied to every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload", s.handleCreateJob)
	mux.HandleFunc("POST /api/upload/{jobId}/segment/{segmentIndex}", s.handleUploadSegment)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{jobId}", s.handleJobDetails)
	mux.HandleFunc("GET /api/jobs/{jobId}/stream", s.handleStream)
	mux.HandleFunc("GET /api/jobs/{jobId}/ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/webhooks/elevenlabs", s.handleWebhook)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, ElevenLabs-Signature, X-ElevenLabs-Signature")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start begins serving in the background.
func (s *Server) Start() error {
	go func() {
		log.Printf("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for active ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createJobRequest struct {
	Filename     string `json:"filename"`
	SegmentCount int    `json:"segmentCount"`
}

// handleCreateJob registers a job for a file that the client has split into segments
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", models.ErrInvalidInput, err))
		return
	}

	job, err := s.orch.CreateJob(req.Filename, req.SegmentCount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":   job.ID,
		"message": fmt.Sprintf("Job created with %d segments", job.TotalSegments),
	})
}

// handleUploadSegment accepts the raw audio of one segment
func (s *Server) handleUploadSegment(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	index, err := strconv.Atoi(r.PathValue("segmentIndex"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: segmentIndex must be an integer", models.ErrInvalidInput))
		return
	}

	body := r.Body
	if s.cfg.MaxSegmentBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSegmentBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "segment too large"})
			return
		}
		writeError(w, fmt.Errorf("%w: reading body: %v", models.ErrInvalidInput, err))
		return
	}

	if err := s.orch.UploadSegment(r.Context(), jobID, index, payload, r.Header.Get("Content-Type")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleListJobs returns summaries of all jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ListJobs())
}

// handleJobDetails returns the full job, or the archived summary of a job
// this instance no longer holds
func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.FindJob(r.Context(), r.PathValue("jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleWebhook authenticates the raw body before anything parses it.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "webhook body too large"})
			return
		}
		writeError(w, fmt.Errorf("%w: reading body: %v", models.ErrBadRequest, err))
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		signature = r.Header.Get("X-ElevenLabs-Signature")
	}

	ack, err := s.orch.HandleCallback(raw, signature)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("Webhook acknowledged: %s", ack)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleHealth reports liveness and provider configuration
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"provider":           s.cfg.Provider,
		"providerConfigured": s.cfg.ProviderConfigured(),
		"publicBaseUrl":      s.cfg.PublicBaseURL,
		"stats":              s.orch.Stats(),
	})
}

// handleStream serves a job's events as server-sent events
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	sub, err := s.orch.Subscribe(r.PathValue("jobId"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-sub.Events():
			if err := writeSSE(w, ev); err != nil {
				log.Printf("SSE write to subscriber %d failed: %v", sub.ID, err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w io.Writer, ev models.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}

// handleWebSocket streams a job's events over a WebSocket connection
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, err := s.orch.Subscribe(r.PathValue("jobId"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		sub.Close()
		return
	}

	go s.writePump(conn, sub)

	// Handle disconnection; client messages are ignored.
	go func() {
		defer sub.Close()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writePump(conn *websocket.Conn, sub *events.Subscription) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		sub.Close()
		conn.Close()
	}()

	for {
		select {
		case ev := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("Error sending message to subscriber %d: %v", sub.ID, err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()

	switch {
	case errors.Is(err, models.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, models.ErrUnauthorized.Error()
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrQueueClosed):
		status = http.StatusServiceUnavailable
	default:
		log.Printf("Internal error: %v", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
