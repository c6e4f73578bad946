package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halcyonmedical/voxmachina/internal/transcript"
)

func TestWSBroadcastEventShape(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.BroadcastTranscriptFinal("call_1", transcript.Fragment{
		CallID:    "call_1",
		ItemID:    "item_7",
		Speaker:   transcript.SpeakerAgent,
		Text:      "test line",
		AgentName: "dentist",
		Timestamp: time.Now().UTC(),
	})

	select {
	case msg := <-ch:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if payload["type"] != "transcript_final" {
			t.Fatalf("expected event type transcript_final, got %#v", payload["type"])
		}
		if payload["call_id"] != "call_1" || payload["item_id"] != "item_7" {
			t.Fatalf("unexpected payload: %s", string(msg))
		}
		if payload["version"] == nil || payload["timestamp"] == nil {
			t.Fatalf("missing envelope fields in payload: %s", string(msg))
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for websocket broadcast")
	}
}

func TestHubSlowSubscriberDropped(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	// Fill the subscriber buffer and keep going; extra sends must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.BroadcastCallEnded("call_1", time.Minute)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}

	if len(ch) == 0 {
		t.Fatal("expected at least some events to be delivered")
	}
}

func dialObserver(t *testing.T, hub *Hub, query string) (*websocket.Conn, func()) {
	t.Helper()

	mux := http.NewServeMux()
	registerWSRoute(mux, hub)
	srv := httptest.NewServer(mux)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial observer: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read observer event: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		t.Fatalf("unmarshal observer event: %v", err)
	}
	return payload
}

func TestWSObserverReceivesEvents(t *testing.T) {
	hub := NewHub()
	conn, cleanup := dialObserver(t, hub, "")
	defer cleanup()

	if got := readEvent(t, conn); got["type"] != "connection" {
		t.Fatalf("first event = %v, want connection", got["type"])
	}

	// The subscription is registered after the upgrade; give the handler a
	// moment before broadcasting.
	time.Sleep(50 * time.Millisecond)
	hub.BroadcastCallStarted("call_1", "receptionist", "+15550100")

	got := readEvent(t, conn)
	if got["type"] != "call_started" || got["call_id"] != "call_1" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestWSObserverCallFilter(t *testing.T) {
	hub := NewHub()
	conn, cleanup := dialObserver(t, hub, "?call_id=call_2")
	defer cleanup()

	if got := readEvent(t, conn); got["type"] != "connection" {
		t.Fatalf("first event = %v, want connection", got["type"])
	}

	time.Sleep(50 * time.Millisecond)
	hub.BroadcastLiveDelta("call_1", transcript.SpeakerCaller, "other call")
	hub.BroadcastLiveDelta("call_2", transcript.SpeakerCaller, "watched call")

	got := readEvent(t, conn)
	if got["call_id"] != "call_2" {
		t.Fatalf("filter leaked event: %+v", got)
	}
	if got["text"] != "watched call" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestMatchesCall(t *testing.T) {
	payload := []byte(`{"type":"call_ended","call_id":"call_9"}`)
	if !matchesCall(payload, "call_9") {
		t.Fatal("expected match for same call id")
	}
	if matchesCall(payload, "call_1") {
		t.Fatal("expected mismatch for different call id")
	}
	if !matchesCall([]byte(`{"type":"ping"}`), "call_1") {
		t.Fatal("events without call_id should pass through")
	}
	if matchesCall([]byte(`{not json`), "call_1") {
		t.Fatal("malformed payloads should not match")
	}
}
