package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/halcyonmedical/voxmachina/internal/session"
	"github.com/halcyonmedical/voxmachina/internal/webhook"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// CallSessions is the slice of the session manager the webhook intake
// drives.
type CallSessions interface {
	CreateSession(ctx context.Context, callID, from, to string) error
	Finalize(ctx context.Context, callID string) error
}

func registerWebhookRoute(mux *http.ServeMux, verifier *webhook.Verifier, sessions CallSessions, logger *slog.Logger) {
	mux.HandleFunc("POST /webhook", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Warn("webhook body rejected", "error", err)
			writeJSONError(w, http.StatusBadRequest, "read body")
			return
		}

		if err := verifier.VerifyRequest(r, body, time.Now()); err != nil {
			logger.Warn("webhook signature rejected",
				"error", err, "webhook_id", r.Header.Get(webhook.HeaderID))
			writeJSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		env, err := webhook.ParseEnvelope(body)
		if err != nil {
			logger.Warn("webhook envelope rejected", "error", err)
			writeJSONError(w, http.StatusBadRequest, "malformed envelope")
			return
		}

		switch env.Type {
		case webhook.EventCallIncoming:
			callID := env.Data.CallID
			if callID == "" {
				writeJSONError(w, http.StatusBadRequest, "missing call_id")
				return
			}
			from := env.Data.Header("From")
			to := env.Data.Header("To")

			// Accept and stream setup take seconds; the provider only needs
			// the ack.
			go func() {
				if err := sessions.CreateSession(context.Background(), callID, from, to); err != nil {
					if errors.Is(err, session.ErrDuplicateSession) {
						logger.Warn("duplicate call.incoming delivery", "call_id", callID)
						return
					}
					logger.Error("create session from webhook failed",
						"call_id", callID, "error", err)
				}
			}()

			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		case webhook.EventCallEnded:
			callID := env.Data.CallID
			if callID == "" {
				writeJSONError(w, http.StatusBadRequest, "missing call_id")
				return
			}

			go func() {
				if err := sessions.Finalize(context.Background(), callID); err != nil {
					logger.Error("finalize from webhook failed",
						"call_id", callID, "error", err)
				}
			}()

			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		default:
			logger.Debug("ignoring webhook event", "event_type", env.Type)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		}
	})
}
