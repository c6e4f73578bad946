package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/halcyonmedical/voxmachina/internal/storage"
	"github.com/halcyonmedical/voxmachina/internal/transcript"
)

const defaultCallListLimit = 20

var callIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// CallStore is the read side of the transcript store the HTTP API serves
// from.
type CallStore interface {
	Ping() error
	ListCalls(limit int) ([]storage.CallInfo, error)
	ListFragments(callID string) ([]transcript.Fragment, error)
	GetSummary(callID string) (storage.CallSummary, error)
	ExportCall(callID string) (storage.ExportDocument, error)
}

func registerAPIRoutes(mux *http.ServeMux, store CallStore) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("store: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/calls", func(w http.ResponseWriter, r *http.Request) {
		limit := defaultCallListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		calls, err := store.ListCalls(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list calls: %v", err))
			return
		}
		if calls == nil {
			calls = []storage.CallInfo{}
		}
		writeJSON(w, http.StatusOK, calls)
	})

	mux.HandleFunc("GET /api/calls/{id}", func(w http.ResponseWriter, r *http.Request) {
		callID := r.PathValue("id")
		if !validCallID(callID) {
			writeJSONError(w, http.StatusForbidden, "invalid call id")
			return
		}

		fragments, err := store.ListFragments(callID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list fragments: %v", err))
			return
		}

		var summaryRow *storage.CallSummary
		sum, err := store.GetSummary(callID)
		switch {
		case err == nil:
			summaryRow = &sum
		case errors.Is(err, sql.ErrNoRows):
		default:
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get summary: %v", err))
			return
		}

		if len(fragments) == 0 && summaryRow == nil {
			writeJSONError(w, http.StatusNotFound, "call not found")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"call_id":   callID,
			"fragments": fragments,
			"summary":   summaryRow,
		})
	})

	mux.HandleFunc("GET /api/calls/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		callID := r.PathValue("id")
		if !validCallID(callID) {
			writeJSONError(w, http.StatusForbidden, "invalid call id")
			return
		}

		doc, err := store.ExportCall(callID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("export call: %v", err))
			return
		}
		if len(doc.Fragments) == 0 && doc.Summary == nil {
			writeJSONError(w, http.StatusNotFound, "call not found")
			return
		}

		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("call_%s.json", callID)))
		writeJSON(w, http.StatusOK, doc)
	})
}

func validCallID(id string) bool {
	return callIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
