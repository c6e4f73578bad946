package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/halcyonmedical/voxmachina/internal/agent"
	"github.com/halcyonmedical/voxmachina/internal/config"
	"github.com/halcyonmedical/voxmachina/internal/gdrive"
	"github.com/halcyonmedical/voxmachina/internal/llm"
	"github.com/halcyonmedical/voxmachina/internal/realtime"
	"github.com/halcyonmedical/voxmachina/internal/server"
	"github.com/halcyonmedical/voxmachina/internal/session"
	"github.com/halcyonmedical/voxmachina/internal/storage"
	"github.com/halcyonmedical/voxmachina/internal/summary"
	"github.com/halcyonmedical/voxmachina/internal/webhook"
)

// realtimeAdapter narrows *realtime.Client to the manager's Realtime
// interface. OpenStream returns the concrete *realtime.Stream, which
// satisfies session.Stream.
type realtimeAdapter struct {
	client *realtime.Client
}

func (a realtimeAdapter) AcceptCall(ctx context.Context, callID string, payload realtime.AcceptPayload) error {
	return a.client.AcceptCall(ctx, callID, payload)
}

func (a realtimeAdapter) OpenStream(ctx context.Context, callID string) (session.Stream, error) {
	return a.client.OpenStream(ctx, callID)
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "voxmachina.yaml", "path to YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	log.Println("voxmachina: starting")

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, warning := range warnings {
		log.Printf("warning: %s", warning)
	}

	verifier, err := webhook.NewVerifier(cfg.WebhookSecret)
	if err != nil {
		log.Fatalf("webhook verifier init failed: %v", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	registry := agent.BuiltinRegistry()
	if cfg.AgentsPath != "" {
		registry, err = agent.LoadRegistry(cfg.AgentsPath)
		if err != nil {
			log.Fatalf("agent registry load failed (%s): %v", cfg.AgentsPath, err)
		}
		log.Printf("agent registry loaded: %d agents from %s", len(registry.Names()), cfg.AgentsPath)
	}

	var summarizer session.Summarizer
	if key := cfg.SummaryAPIKey(); key != "" {
		factory := func(provider, model string) (llm.Client, error) {
			return llm.NewClient(provider, key, model)
		}
		summarizer = summary.NewGenerator(cfg.SummaryModel, int64(cfg.SummaryConcurrency), factory)
	} else {
		log.Printf("warning: summaries disabled, no API key for summary model %s", cfg.SummaryModel)
	}

	hub := server.NewHub()

	manager := session.NewManager(session.Config{
		Store:      store,
		Summarizer: summarizer,
		Hub:        hub,
		Realtime:   realtimeAdapter{client: realtime.NewClient(cfg.OpenAIAPIKey)},
		Agents:     registry,
		Logger:     logger,

		RealtimeModel:       cfg.RealtimeModel,
		TranscriptionModel:  cfg.TranscriptionModel,
		TranscriptionLang:   cfg.TranscriptionLang,
		EnableTranscription: cfg.EnableTranscription,

		AcceptTimeout:     cfg.ParsedAcceptTimeout(),
		StreamOpenTimeout: cfg.ParsedStreamOpenTimeout(),
		IdleTimeout:       cfg.ParsedStreamIdleTimeout(),
		FinalizeGrace:     cfg.ParsedFinalizeGrace(),
	})

	handler := server.Handler(server.Config{
		Hub:      hub,
		Store:    store,
		Sessions: manager,
		Verifier: verifier,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()
	log.Printf("voxmachina: listening on %s", cfg.HTTPAddr)

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			interval := cfg.ParsedGDriveSyncInterval()
			log.Printf("gdrive sync enabled: folder %s, interval %s", cfg.GDriveFolderID, interval)
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := syncer.Sync(ctx, cfg.DBPath, cfg.ExportDir); err != nil {
							log.Printf("gdrive sync error: %v", err)
						}
					}
				}
			}()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("voxmachina: shutting down")
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}

	// Webhook intake has stopped; give live calls the finalize grace budget
	// to persist their summaries before the process exits.
	finalizeCtx, finalizeCancel := context.WithTimeout(context.Background(), cfg.ParsedFinalizeGrace())
	defer finalizeCancel()
	if err := manager.ForceFinalizeAll(finalizeCtx); err != nil {
		log.Printf("warning: force finalize failed: %v", err)
	}
}
