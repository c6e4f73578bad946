package session

import (
	"context"
	"sync"
	"time"

	"github.com/halcyonmedical/voxmachina/internal/realtime"
	"github.com/halcyonmedical/voxmachina/internal/storage"
	"github.com/halcyonmedical/voxmachina/internal/summary"
	"github.com/halcyonmedical/voxmachina/internal/transcript"
)

// State is the lifecycle position of one call session.
type State int

const (
	StatePending State = iota
	StateAccepted
	StateStreaming
	StateFinalizing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAccepted:
		return "accepted"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Store is the slice of the transcript store the manager needs.
type Store interface {
	UpsertFragment(f transcript.Fragment) error
	AssembleTranscript(callID string) (string, error)
	SaveSummary(sum storage.CallSummary) error
}

// Summarizer produces the structured post-call analysis.
type Summarizer interface {
	Generate(ctx context.Context, callID, transcriptText, agentName string) (summary.Analysis, error)
}

// Stream is the open event channel for one accepted call.
type Stream interface {
	Events() <-chan realtime.Event
	SendSessionUpdate(update realtime.SessionUpdate) error
	SendResponsePrompt(instructions string) error
	SendFunctionOutput(functionCallID string, output any) error
	Close() error
	Err() error
}

// Realtime is the slice of the provider client the manager needs.
type Realtime interface {
	AcceptCall(ctx context.Context, callID string, payload realtime.AcceptPayload) error
	OpenStream(ctx context.Context, callID string) (Stream, error)
}

// Broadcaster pushes observer events to connected dashboards. All methods
// must be non-blocking.
type Broadcaster interface {
	BroadcastCallStarted(callID, agentName, from string)
	BroadcastLiveDelta(callID, speaker, text string)
	BroadcastTranscriptFinal(callID string, f transcript.Fragment)
	BroadcastFunctionCall(callID, name string)
	BroadcastAgentTransferred(callID, fromAgent, toAgent string)
	BroadcastCallEnded(callID string, duration time.Duration)
	BroadcastSummaryReady(callID, summaryText, sentiment string)
}

// Call is the live state of one session. All mutable fields are guarded by
// mu; the immutable identity fields are set once at creation.
type Call struct {
	ID        string
	From      string
	To        string
	StartedAt time.Time

	mu        sync.Mutex
	state     State
	agentName string
	stream    Stream
	deltas    *deltaAccumulator
	seen      map[string]struct{}
	watchdog  *watchdog
}

// State returns the call's current lifecycle state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AgentName returns the persona currently attributed to agent speech.
func (c *Call) AgentName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentName
}

// advance moves the call from want to next, reporting whether the
// transition happened. A call that already left want is not touched.
func (c *Call) advance(want, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != want {
		return false
	}
	c.state = next
	return true
}

func (c *Call) setState(next State) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
}

// markSeen records a fragment id and reports whether it was already seen.
// Only log verbosity depends on this; the store handles real dedup.
func (c *Call) markSeen(fragmentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[fragmentID]; dup {
		return true
	}
	c.seen[fragmentID] = struct{}{}
	return false
}
