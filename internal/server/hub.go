package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/halcyonmedical/voxmachina/internal/transcript"
)

// Hub fans call events out to websocket observers. Sends never block: a
// subscriber that falls behind loses events rather than slowing the call.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastCallStarted(callID, agentName, from string) {
	h.broadcastEvent(CallStartedEvent{
		Event:  newEvent("call_started", time.Now().UTC()),
		CallID: callID,
		Agent:  agentName,
		From:   from,
	})
}

func (h *Hub) BroadcastLiveDelta(callID, speaker, text string) {
	h.broadcastEvent(LiveTranscriptEvent{
		Event:   newEvent("live_transcript", time.Now().UTC()),
		CallID:  callID,
		Speaker: speaker,
		Text:    text,
	})
}

func (h *Hub) BroadcastTranscriptFinal(callID string, f transcript.Fragment) {
	h.broadcastEvent(TranscriptFinalEvent{
		Event:   newEvent("transcript_final", f.Timestamp),
		CallID:  callID,
		ItemID:  f.ItemID,
		Speaker: f.Speaker,
		Text:    f.Text,
		Agent:   f.AgentName,
	})
}

func (h *Hub) BroadcastFunctionCall(callID, name string) {
	h.broadcastEvent(FunctionCallEvent{
		Event:    newEvent("function_call", time.Now().UTC()),
		CallID:   callID,
		Function: name,
	})
}

func (h *Hub) BroadcastAgentTransferred(callID, fromAgent, toAgent string) {
	h.broadcastEvent(AgentTransferredEvent{
		Event:     newEvent("agent_transferred", time.Now().UTC()),
		CallID:    callID,
		FromAgent: fromAgent,
		ToAgent:   toAgent,
	})
}

func (h *Hub) BroadcastCallEnded(callID string, duration time.Duration) {
	h.broadcastEvent(CallEndedEvent{
		Event:    newEvent("call_ended", time.Now().UTC()),
		CallID:   callID,
		Duration: duration.Seconds(),
	})
}

func (h *Hub) BroadcastSummaryReady(callID, summaryText, sentiment string) {
	h.broadcastEvent(SummaryReadyEvent{
		Event:     newEvent("summary_ready", time.Now().UTC()),
		CallID:    callID,
		Summary:   summaryText,
		Sentiment: sentiment,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
