package server

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventSerialization(t *testing.T) {
	events := []any{
		CallStartedEvent{Event: newEvent("call_started", time.Unix(1, 0)), CallID: "c1", Agent: "receptionist", From: "+15550100"},
		LiveTranscriptEvent{Event: newEvent("live_transcript", time.Unix(1, 0)), CallID: "c1", Speaker: "caller", Text: "hello"},
		TranscriptFinalEvent{Event: newEvent("transcript_final", time.Unix(1, 0)), CallID: "c1", ItemID: "i1", Speaker: "agent", Text: "hi", Agent: "dentist"},
		FunctionCallEvent{Event: newEvent("function_call", time.Unix(1, 0)), CallID: "c1", Function: "transfer_call"},
		AgentTransferredEvent{Event: newEvent("agent_transferred", time.Unix(1, 0)), CallID: "c1", FromAgent: "receptionist", ToAgent: "dentist"},
		CallEndedEvent{Event: newEvent("call_ended", time.Unix(1, 0)), CallID: "c1", Duration: 42.5},
		SummaryReadyEvent{Event: newEvent("summary_ready", time.Unix(1, 0)), CallID: "c1", Summary: "ok", Sentiment: "positive"},
	}

	for _, event := range events {
		b, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var payload map[string]any
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}

		if payload["type"] == nil {
			t.Fatalf("missing type in payload: %s", string(b))
		}
		if payload["version"] == nil {
			t.Fatalf("missing version in payload: %s", string(b))
		}
		if payload["timestamp"] == nil {
			t.Fatalf("missing timestamp in payload: %s", string(b))
		}
	}
}
