package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/halcyonmedical/voxmachina/internal/realtime"
	"github.com/halcyonmedical/voxmachina/internal/transcript"
)

const functionTimeout = 10 * time.Second

// routeEvent classifies one stream event and dispatches it. It returns true
// when the event makes the stream unusable and the call must finalize.
// Errors local to one event never terminate the session.
func (m *Manager) routeEvent(call *Call, event realtime.Event) bool {
	switch e := event.(type) {
	case realtime.CallerDeltaEvent:
		call.mu.Lock()
		call.deltas.add(e.ItemID, e.Delta)
		call.mu.Unlock()
		if m.hub != nil {
			m.hub.BroadcastLiveDelta(call.ID, transcript.SpeakerCaller, e.Delta)
		}

	case realtime.CallerTranscriptEvent:
		m.persistFragment(call, transcript.SpeakerCaller, e.ItemID, e.Transcript)

	case realtime.AgentDeltaEvent:
		call.mu.Lock()
		call.deltas.add(e.ItemID, e.Delta)
		call.mu.Unlock()
		if m.hub != nil {
			m.hub.BroadcastLiveDelta(call.ID, transcript.SpeakerAgent, e.Delta)
		}

	case realtime.AgentTranscriptEvent:
		m.persistFragment(call, transcript.SpeakerAgent, e.ItemID, e.Transcript)

	case realtime.AudioDeltaEvent:
		// Liveness only. Too frequent to log, never persisted.

	case realtime.ItemCreatedEvent:
		m.logger.Debug("conversation item created",
			"call_id", call.ID, "item_id", e.ItemID, "item_type", e.ItemType)

	case realtime.FunctionCallEvent:
		m.handleFunctionCall(call, e)

	case realtime.ErrorEvent:
		if e.Fatal() {
			m.logger.Error("fatal stream error",
				"call_id", call.ID, "code", e.Code, "error_type", e.Type, "message", e.Message)
			return true
		}
		m.logger.Warn("stream error",
			"call_id", call.ID, "code", e.Code, "error_type", e.Type, "message", e.Message)

	case realtime.MalformedEvent:
		m.logger.Warn("malformed stream event ignored", "call_id", call.ID, "error", e.Err)

	case realtime.UnknownEvent:
		m.logger.Debug("unrecognized stream event", "call_id", call.ID, "event_type", e.Type)

	default:
		m.logger.Debug("unhandled stream event", "call_id", call.ID, "kind", event.Kind())
	}
	return false
}

// persistFragment stores a completed utterance. Deltas accumulated for the
// same item serve as a fallback when the completed event arrives empty.
func (m *Manager) persistFragment(call *Call, speaker, itemID, text string) {
	if itemID == "" {
		m.logger.Warn("completed fragment missing item id", "call_id", call.ID, "speaker", speaker)
		return
	}

	call.mu.Lock()
	accumulated := call.deltas.flush(itemID)
	agentName := call.agentName
	call.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		text = accumulated
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	f := transcript.Fragment{
		CallID:    call.ID,
		ItemID:    itemID,
		Speaker:   speaker,
		Text:      text,
		AgentName: agentName,
		Timestamp: time.Now().UTC(),
	}

	if call.markSeen(itemID) {
		m.logger.Debug("fragment redelivered", "call_id", call.ID, "item_id", itemID)
	} else {
		m.logger.Info("fragment completed",
			"call_id", call.ID, "item_id", itemID, "speaker", speaker)
	}

	if err := m.store.UpsertFragment(f); err != nil {
		// Non-fatal mid-call: the stream carries on, finalization will
		// surface whatever is missing.
		m.logger.Error("store fragment failed",
			"call_id", call.ID, "item_id", itemID, "error", err)
		return
	}

	if m.hub != nil {
		m.hub.BroadcastTranscriptFinal(call.ID, f)
	}
}

// handleFunctionCall validates the payload, runs the registered handler and
// reports the result back to the model. Malformed calls are logged and
// skipped; the stream stays up.
func (m *Manager) handleFunctionCall(call *Call, e realtime.FunctionCallEvent) {
	if e.Name == "" || e.CallID == "" {
		m.logger.Warn("function call rejected",
			"call_id", call.ID,
			"error", fmt.Errorf("%w: missing name or call id", ErrMalformedFunctionCall))
		return
	}

	args := map[string]any{}
	if strings.TrimSpace(e.Arguments) != "" {
		if err := json.Unmarshal([]byte(e.Arguments), &args); err != nil {
			m.logger.Warn("function call rejected",
				"call_id", call.ID, "function", e.Name,
				"error", fmt.Errorf("%w: %v", ErrMalformedFunctionCall, err))
			return
		}
	}

	handler, ok := m.functions.lookup(e.Name)
	if !ok {
		m.logger.Warn("no handler registered for function",
			"call_id", call.ID, "function", e.Name)
		return
	}

	m.logger.Info("function call", "call_id", call.ID, "function", e.Name)
	if m.hub != nil {
		m.hub.BroadcastFunctionCall(call.ID, e.Name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), functionTimeout)
	defer cancel()

	res, err := handler(ctx, Invocation{Call: call, Name: e.Name, Arguments: args})

	call.mu.Lock()
	stream := call.stream
	call.mu.Unlock()
	if stream == nil {
		return
	}

	if err != nil {
		m.logger.Error("function handler failed",
			"call_id", call.ID, "function", e.Name, "error", err)
		output := map[string]any{"status": "error", "message": err.Error()}
		if sendErr := stream.SendFunctionOutput(e.CallID, output); sendErr != nil {
			m.logger.Warn("send function error output failed", "call_id", call.ID, "error", sendErr)
		}
		return
	}

	if err := stream.SendFunctionOutput(e.CallID, res.Output); err != nil {
		m.logger.Warn("send function output failed", "call_id", call.ID, "error", err)
		return
	}
	if err := stream.SendResponsePrompt(res.Prompt); err != nil {
		m.logger.Warn("send function follow-up failed", "call_id", call.ID, "error", err)
	}
}
