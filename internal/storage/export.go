package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/halcyonmedical/voxmachina/internal/transcript"
)

type ExportDocument struct {
	CallID     string                `json:"call_id"`
	ExportedAt time.Time             `json:"exported_at"`
	AgentName  string                `json:"agent_name,omitempty"`
	Fragments  []transcript.Fragment `json:"fragments"`
	Summary    *CallSummary          `json:"summary,omitempty"`
}

func (s *SQLiteStore) ExportCall(callID string) (ExportDocument, error) {
	fragments, err := s.ListFragments(callID)
	if err != nil {
		return ExportDocument{}, err
	}

	doc := ExportDocument{
		CallID:     callID,
		ExportedAt: time.Now().UTC(),
		Fragments:  fragments,
	}
	for _, f := range fragments {
		if f.AgentName != "" {
			doc.AgentName = f.AgentName
		}
	}

	sum, err := s.GetSummary(callID)
	switch {
	case err == nil:
		doc.Summary = &sum
		if doc.AgentName == "" {
			doc.AgentName = sum.AgentName
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return ExportDocument{}, err
	}

	return doc, nil
}

type Exporter struct {
	dir string
	mu  sync.Mutex
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

func (e *Exporter) WriteCall(doc ExportDocument) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", e.dir, err)
	}

	name := fmt.Sprintf("call_%s_%s.json", doc.CallID, doc.ExportedAt.Format("20060102_150405"))
	path := filepath.Join(e.dir, name)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export for call %s: %w", doc.CallID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}
