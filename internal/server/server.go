package server

import (
	"log/slog"
	"net/http"

	"github.com/halcyonmedical/voxmachina/internal/webhook"
)

// Config carries the handler's collaborators. All fields are required
// except Logger, which defaults to slog.Default().
type Config struct {
	Hub      *Hub
	Store    CallStore
	Sessions CallSessions
	Verifier *webhook.Verifier
	Logger   *slog.Logger
}

// Handler wires the webhook intake, the read API and the observer
// websocket onto one mux.
func Handler(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	registerWebhookRoute(mux, cfg.Verifier, cfg.Sessions, logger)
	registerAPIRoutes(mux, cfg.Store)
	registerWSRoute(mux, cfg.Hub)
	return mux
}
