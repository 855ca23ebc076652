package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jupark12/segment-transcriber/archive"
	"github.com/jupark12/segment-transcriber/config"
	"github.com/jupark12/segment-transcriber/orchestrator"
	"github.com/jupark12/segment-transcriber/provider"
	"github.com/jupark12/segment-transcriber/server"
)

func main() {
	// Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.WebhookSecret == "" {
		log.Println("Warning: WEBHOOK_SECRET is empty, every webhook will be rejected")
	}

	// Connect to the transcript archive when configured
	var archiver archive.Archiver = archive.Nop{}
	if cfg.DatabaseURL != "" {
		pg, err := archive.NewPostgres(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		archiver = pg
	}

	// The OpenAI provider hands results back directly instead of by webhook.
	var orch *orchestrator.Orchestrator
	var p provider.Provider
	switch cfg.Provider {
	case config.ProviderOpenAI:
		p = provider.NewOpenAI(cfg.OpenAIAPIKey, "", cfg.OpenAIModel, func(c provider.Completion) {
			orch.Deliver(c)
		})
	default:
		p = provider.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, cfg.ElevenLabsModelID, &http.Client{})
	}

	orch = orchestrator.New(orchestrator.Options{
		Provider:        p,
		WebhookSecret:   cfg.WebhookSecret,
		SubmitWorkers:   cfg.SubmitWorkers,
		SubmitQueueSize: cfg.SubmitQueueSize,
		SubmitTimeout:   cfg.SubmitTimeout,
		MaxSegmentBytes: cfg.MaxSegmentBytes,
		MaxSegments:     cfg.MaxSegments,
		Archiver:        archiver,
	})

	// Create and start the server
	srv := server.NewServer(orch, cfg)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Transcription service started with provider %s and %d submit workers", p.Name(), cfg.SubmitWorkers)
	log.Printf("Webhook endpoint: %s/api/webhooks/elevenlabs", cfg.PublicBaseURL)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for termination signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := orch.Shutdown(ctx); err != nil {
		log.Printf("Orchestrator shutdown: %v", err)
	}
}
