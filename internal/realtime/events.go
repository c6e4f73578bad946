package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a decoded call-stream event.
type Event interface {
	Kind() string
}

// CallerDeltaEvent is a partial transcription of caller speech.
type CallerDeltaEvent struct {
	ItemID string
	Delta  string
}

func (CallerDeltaEvent) Kind() string { return "caller_delta" }

// CallerTranscriptEvent is a completed caller utterance.
type CallerTranscriptEvent struct {
	ItemID     string
	Transcript string
}

func (CallerTranscriptEvent) Kind() string { return "caller_transcript" }

// AgentDeltaEvent is a partial transcription of agent speech.
type AgentDeltaEvent struct {
	ItemID string
	Delta  string
}

func (AgentDeltaEvent) Kind() string { return "agent_delta" }

// AgentTranscriptEvent is a completed agent utterance.
type AgentTranscriptEvent struct {
	ItemID     string
	Transcript string
}

func (AgentTranscriptEvent) Kind() string { return "agent_transcript" }

// AudioDeltaEvent carries synthesized audio. The payload is dropped at
// decode time; the event only proves the stream is alive.
type AudioDeltaEvent struct{}

func (AudioDeltaEvent) Kind() string { return "audio_delta" }

type ItemCreatedEvent struct {
	ItemID   string
	ItemType string
}

func (ItemCreatedEvent) Kind() string { return "item_created" }

// FunctionCallEvent is a completed function call from the model. CallID is
// the provider's id for this invocation, not the phone call id.
type FunctionCallEvent struct {
	Name      string
	CallID    string
	Arguments string
}

func (FunctionCallEvent) Kind() string { return "function_call" }

type ErrorEvent struct {
	Type    string
	Code    string
	Message string
}

func (ErrorEvent) Kind() string { return "error" }

// Fatal reports whether the error ends the stream's usefulness. Anything
// else is logged and the stream carries on.
func (e ErrorEvent) Fatal() bool {
	switch e.Code {
	case "session_expired", "session_not_found":
		return true
	}
	return e.Type == "connection_error"
}

// MalformedEvent wraps a frame that did not decode. The stream stays up;
// the consumer decides how loudly to complain.
type MalformedEvent struct {
	Err error
	Raw json.RawMessage
}

func (MalformedEvent) Kind() string { return "malformed" }

type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) Kind() string { return "unknown" }

func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("event missing type")
	}

	switch typ {
	case "conversation.item.input_audio_transcription.delta":
		var raw struct {
			ItemID string `json:"item_id"`
			Delta  string `json:"delta"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode caller delta: %w", err)
		}
		return CallerDeltaEvent{ItemID: raw.ItemID, Delta: raw.Delta}, nil

	case "conversation.item.input_audio_transcription.completed":
		var raw struct {
			ItemID     string `json:"item_id"`
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode caller transcript: %w", err)
		}
		return CallerTranscriptEvent{ItemID: raw.ItemID, Transcript: raw.Transcript}, nil

	case "response.audio_transcript.delta":
		var raw struct {
			ItemID string `json:"item_id"`
			Delta  string `json:"delta"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode agent delta: %w", err)
		}
		return AgentDeltaEvent{ItemID: raw.ItemID, Delta: raw.Delta}, nil

	case "response.audio_transcript.done":
		var raw struct {
			ItemID     string `json:"item_id"`
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode agent transcript: %w", err)
		}
		return AgentTranscriptEvent{ItemID: raw.ItemID, Transcript: raw.Transcript}, nil

	case "response.audio.delta":
		return AudioDeltaEvent{}, nil

	case "conversation.item.created":
		var raw struct {
			Item struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"item"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode item created: %w", err)
		}
		return ItemCreatedEvent{ItemID: raw.Item.ID, ItemType: raw.Item.Type}, nil

	case "response.function_call_arguments.done":
		var raw struct {
			Name      string `json:"name"`
			CallID    string `json:"call_id"`
			Arguments string `json:"arguments"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode function call: %w", err)
		}
		return FunctionCallEvent{Name: raw.Name, CallID: raw.CallID, Arguments: raw.Arguments}, nil

	case "error":
		var raw struct {
			Error struct {
				Type    string `json:"type"`
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return ErrorEvent{Type: raw.Error.Type, Code: raw.Error.Code, Message: raw.Error.Message}, nil

	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
