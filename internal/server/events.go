package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type CallStartedEvent struct {
	Event
	CallID string `json:"call_id"`
	Agent  string `json:"agent"`
	From   string `json:"from,omitempty"`
}

type LiveTranscriptEvent struct {
	Event
	CallID  string `json:"call_id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type TranscriptFinalEvent struct {
	Event
	CallID  string `json:"call_id"`
	ItemID  string `json:"item_id"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Agent   string `json:"agent,omitempty"`
}

type FunctionCallEvent struct {
	Event
	CallID   string `json:"call_id"`
	Function string `json:"function"`
}

type AgentTransferredEvent struct {
	Event
	CallID    string `json:"call_id"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
}

type CallEndedEvent struct {
	Event
	CallID   string  `json:"call_id"`
	Duration float64 `json:"duration"`
}

type SummaryReadyEvent struct {
	Event
	CallID    string `json:"call_id"`
	Summary   string `json:"summary"`
	Sentiment string `json:"sentiment,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
