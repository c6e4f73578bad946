package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halcyonmedical/voxmachina/internal/transcript"
)

type CallSummary struct {
	CallID           string    `json:"call_id"`
	Summary          string    `json:"summary"`
	FullTranscript   string    `json:"full_transcript"`
	AgentName        string    `json:"agent_name,omitempty"`
	OverallSentiment string    `json:"overall_sentiment,omitempty"`
	SentimentJSON    string    `json:"sentiment_json,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type CallInfo struct {
	CallID     string    `json:"call_id"`
	AgentName  string    `json:"agent_name,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	LastSpoke  time.Time `json:"last_spoke"`
	Fragments  int       `json:"fragments"`
	HasSummary bool      `json:"has_summary"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "voxmachina.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			transcript TEXT NOT NULL,
			agent_name TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL,
			UNIQUE(call_id, item_id)
		);
	`); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS call_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id TEXT UNIQUE NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			full_transcript TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL DEFAULT '',
			overall_sentiment TEXT NOT NULL DEFAULT '',
			sentiment_json TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create call_summaries table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcripts_call_id ON transcripts(call_id, timestamp)"); err != nil {
		return fmt.Errorf("create transcripts call index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcripts_timestamp ON transcripts(timestamp)"); err != nil {
		return fmt.Errorf("create transcripts timestamp index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Ping() error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.Ping()
}

// UpsertFragment inserts a transcript fragment keyed by (call_id, item_id).
// Redelivery of the same item overwrites the previous row, so the last write
// wins and no duplicates accumulate.
func (s *SQLiteStore) UpsertFragment(f transcript.Fragment) error {
	if strings.TrimSpace(f.CallID) == "" {
		return errors.New("call id is required")
	}
	if strings.TrimSpace(f.ItemID) == "" {
		return errors.New("item id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO transcripts(call_id, item_id, speaker, transcript, agent_name, timestamp)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id, item_id) DO UPDATE SET
			speaker = excluded.speaker,
			transcript = excluded.transcript,
			agent_name = excluded.agent_name,
			timestamp = excluded.timestamp`,
		f.CallID,
		f.ItemID,
		f.Speaker,
		strings.TrimSpace(f.Text),
		f.AgentName,
		f.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert fragment %s for call %s: %w", f.ItemID, f.CallID, err)
	}
	return nil
}

func (s *SQLiteStore) ListFragments(callID string) ([]transcript.Fragment, error) {
	rows, err := s.db.Query(
		`SELECT item_id, speaker, transcript, agent_name, timestamp
		 FROM transcripts
		 WHERE call_id = ?
		 ORDER BY timestamp ASC, item_id ASC`,
		callID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fragments for call %s: %w", callID, err)
	}
	defer func() { _ = rows.Close() }()

	fragments := make([]transcript.Fragment, 0, 32)
	for rows.Next() {
		f := transcript.Fragment{CallID: callID}
		var ts string
		if err := rows.Scan(&f.ItemID, &f.Speaker, &f.Text, &f.AgentName, &ts); err != nil {
			return nil, fmt.Errorf("scan fragment for call %s: %w", callID, err)
		}

		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse fragment timestamp for call %s: %w", callID, err)
		}
		f.Timestamp = parsedTS

		fragments = append(fragments, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragment rows for call %s: %w", callID, err)
	}

	return fragments, nil
}

// AssembleTranscript renders the stored fragments of a call as one labeled
// line per fragment. The row ordering plus the stable sort in Assemble make
// the output identical for the same fragments regardless of insert order.
func (s *SQLiteStore) AssembleTranscript(callID string) (string, error) {
	fragments, err := s.ListFragments(callID)
	if err != nil {
		return "", err
	}
	return transcript.Assemble(fragments), nil
}

func (s *SQLiteStore) SaveSummary(sum CallSummary) error {
	if strings.TrimSpace(sum.CallID) == "" {
		return errors.New("call id is required")
	}

	createdAt := sum.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO call_summaries(call_id, summary, full_transcript, agent_name, overall_sentiment, sentiment_json, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
			summary = excluded.summary,
			full_transcript = excluded.full_transcript,
			agent_name = excluded.agent_name,
			overall_sentiment = excluded.overall_sentiment,
			sentiment_json = excluded.sentiment_json,
			created_at = excluded.created_at`,
		sum.CallID,
		sum.Summary,
		sum.FullTranscript,
		sum.AgentName,
		sum.OverallSentiment,
		sum.SentimentJSON,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save summary for call %s: %w", sum.CallID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSummary(callID string) (CallSummary, error) {
	row := s.db.QueryRow(
		`SELECT call_id, summary, full_transcript, agent_name, overall_sentiment, sentiment_json, created_at
		 FROM call_summaries WHERE call_id = ?`,
		callID,
	)

	var sum CallSummary
	var createdAt string
	if err := row.Scan(&sum.CallID, &sum.Summary, &sum.FullTranscript, &sum.AgentName, &sum.OverallSentiment, &sum.SentimentJSON, &createdAt); err != nil {
		return CallSummary{}, fmt.Errorf("query summary for call %s: %w", callID, err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return CallSummary{}, fmt.Errorf("parse summary created_at for call %s: %w", callID, err)
	}
	sum.CreatedAt = parsed

	return sum, nil
}

func (s *SQLiteStore) ListCalls(limit int) ([]CallInfo, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT t.call_id,
			COALESCE(MAX(t.agent_name), '') AS agent_name,
			MIN(t.timestamp) AS first_ts,
			MAX(t.timestamp) AS last_ts,
			COUNT(*) AS fragments,
			EXISTS(SELECT 1 FROM call_summaries cs WHERE cs.call_id = t.call_id) AS has_summary
		 FROM transcripts t
		 GROUP BY t.call_id
		 ORDER BY first_ts DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	calls := make([]CallInfo, 0, limit)
	for rows.Next() {
		var info CallInfo
		var firstTS, lastTS string
		var hasSummary int
		if err := rows.Scan(&info.CallID, &info.AgentName, &firstTS, &lastTS, &info.Fragments, &hasSummary); err != nil {
			return nil, fmt.Errorf("scan call info: %w", err)
		}

		started, err := time.Parse(time.RFC3339Nano, firstTS)
		if err != nil {
			return nil, fmt.Errorf("parse call %s first timestamp: %w", info.CallID, err)
		}
		last, err := time.Parse(time.RFC3339Nano, lastTS)
		if err != nil {
			return nil, fmt.Errorf("parse call %s last timestamp: %w", info.CallID, err)
		}
		info.StartedAt = started
		info.LastSpoke = last
		info.HasSummary = hasSummary != 0

		calls = append(calls, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}

	return calls, nil
}
