package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = 2 * time.Second

// Stream is an open event stream for a single call. Events are delivered in
// wire order on Events; the channel closes when the stream ends. Exactly one
// goroutine should consume Events.
type Stream struct {
	conn *websocket.Conn

	events  chan Event
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func newStream(conn *websocket.Conn) *Stream {
	s := &Stream{
		conn:    conn,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Events returns the stream's event channel.
func (s *Stream) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// SessionUpdate mutates the live session. Only set fields are sent.
type SessionUpdate struct {
	Type         string `json:"type"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Tools        []Tool `json:"tools,omitempty"`
	ToolChoice   string `json:"tool_choice,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session SessionUpdate `json:"session"`
}

// SendSessionUpdate pushes new instructions or tools to the live session.
func (s *Stream) SendSessionUpdate(update SessionUpdate) error {
	if update.Type == "" {
		update.Type = "realtime"
	}
	return s.sendJSON(sessionUpdateMessage{Type: "session.update", Session: update})
}

type responseCreateMessage struct {
	Type     string `json:"type"`
	Response struct {
		Instructions string `json:"instructions,omitempty"`
	} `json:"response"`
}

// SendResponsePrompt asks the model to produce a spoken response following
// the given instructions.
func (s *Stream) SendResponsePrompt(instructions string) error {
	msg := responseCreateMessage{Type: "response.create"}
	msg.Response.Instructions = instructions
	return s.sendJSON(msg)
}

type itemCreateMessage struct {
	Type string `json:"type"`
	Item struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Output string `json:"output"`
	} `json:"item"`
}

// SendFunctionOutput reports a function result back to the model.
// functionCallID is the provider's id from the originating
// FunctionCallEvent. The output value is serialized to a JSON string. The
// model stays quiet until a follow-up SendResponsePrompt arrives.
func (s *Stream) SendFunctionOutput(functionCallID string, output any) error {
	payload, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal function output: %w", err)
	}
	msg := itemCreateMessage{Type: "conversation.item.create"}
	msg.Item.Type = "function_call_output"
	msg.Item.CallID = functionCallID
	msg.Item.Output = string(payload)
	return s.sendJSON(msg)
}

func (s *Stream) sendJSON(v any) error {
	if s.closed.Load() {
		return fmt.Errorf("stream is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write stream message: %w", err)
	}
	return nil
}

// Close sends a close frame, tears down the connection and waits for the
// read loop to drain. Safe to call more than once and from any goroutine.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)

		deadline := time.Now().Add(closeGracePeriod)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// Err reports why the stream ended. It blocks until the read loop has
// finished and returns nil for a clean shutdown.
func (s *Stream) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.setErr(fmt.Errorf("read stream message: %w", err))
			return
		}

		event, decErr := DecodeEvent(data)
		if decErr != nil {
			event = MalformedEvent{Err: decErr, Raw: append(json.RawMessage(nil), data...)}
		}

		select {
		case s.events <- event:
		case <-s.closing:
			return
		}
	}
}
