package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/halcyonmedical/voxmachina/internal/agent"
	"github.com/halcyonmedical/voxmachina/internal/realtime"
	"github.com/halcyonmedical/voxmachina/internal/storage"
	"github.com/halcyonmedical/voxmachina/internal/summary"
)

// streamOpenBackoff spaces retry attempts after a failed stream open. The
// accept already succeeded at that point, so the call itself proceeds
// either way; retrying only restores observability.
var streamOpenBackoff = []time.Duration{time.Second, 4 * time.Second}

// Config carries the manager's collaborators and tunables. Store, Realtime
// and Agents are required. A nil Hub disables observer broadcasts; a nil
// Summarizer closes calls without analysis.
type Config struct {
	Store      Store
	Summarizer Summarizer
	Hub        Broadcaster
	Realtime   Realtime
	Agents     *agent.Registry
	Logger     *slog.Logger

	RealtimeModel       string
	TranscriptionModel  string
	TranscriptionLang   string
	EnableTranscription bool

	AcceptTimeout     time.Duration
	StreamOpenTimeout time.Duration
	IdleTimeout       time.Duration
	FinalizeGrace     time.Duration
}

// Manager owns every live call session: accept, stream supervision, event
// routing and finalization.
type Manager struct {
	store      Store
	summarizer Summarizer
	hub        Broadcaster
	realtime   Realtime
	agents     *agent.Registry
	functions  *FunctionRegistry
	logger     *slog.Logger

	realtimeModel       string
	transcriptionModel  string
	transcriptionLang   string
	enableTranscription bool

	acceptTimeout     time.Duration
	streamOpenTimeout time.Duration
	idleTimeout       time.Duration
	finalizeGrace     time.Duration

	sleep func(time.Duration)

	mu    sync.Mutex
	calls map[string]*Call
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:      cfg.Store,
		summarizer: cfg.Summarizer,
		hub:        cfg.Hub,
		realtime:   cfg.Realtime,
		agents:     cfg.Agents,
		functions:  NewFunctionRegistry(),
		logger:     logger,

		realtimeModel:       cfg.RealtimeModel,
		transcriptionModel:  cfg.TranscriptionModel,
		transcriptionLang:   cfg.TranscriptionLang,
		enableTranscription: cfg.EnableTranscription,

		acceptTimeout:     cfg.AcceptTimeout,
		streamOpenTimeout: cfg.StreamOpenTimeout,
		idleTimeout:       cfg.IdleTimeout,
		finalizeGrace:     cfg.FinalizeGrace,

		sleep: time.Sleep,
		calls: make(map[string]*Call),
	}

	if m.realtimeModel == "" {
		m.realtimeModel = "gpt-realtime"
	}
	if m.transcriptionModel == "" {
		m.transcriptionModel = "gpt-4o-transcribe"
	}
	if m.transcriptionLang == "" {
		m.transcriptionLang = "en"
	}
	if m.acceptTimeout <= 0 {
		m.acceptTimeout = 10 * time.Second
	}
	if m.streamOpenTimeout <= 0 {
		m.streamOpenTimeout = 15 * time.Second
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = 5 * time.Minute
	}
	if m.finalizeGrace <= 0 {
		m.finalizeGrace = 30 * time.Second
	}

	m.registerBuiltinFunctions()
	return m
}

// RegisterFunction binds a deployment-specific handler to a function name
// advertised in the agent registry.
func (m *Manager) RegisterFunction(name string, fn HandlerFunc) {
	m.functions.Register(name, fn)
}

// CreateSession accepts an incoming call with the default agent and starts
// monitoring its event stream. A live session for the same call id is
// rejected, never merged.
func (m *Manager) CreateSession(ctx context.Context, callID, from, to string) error {
	if callID == "" {
		return errors.New("create session: empty call id")
	}

	profile := m.agents.Default()

	call := &Call{
		ID:        callID,
		From:      from,
		To:        to,
		StartedAt: time.Now().UTC(),
		state:     StatePending,
		agentName: profile.Name,
		deltas:    newDeltaAccumulator(),
		seen:      make(map[string]struct{}),
	}

	m.mu.Lock()
	if _, exists := m.calls[callID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("call %s: %w", callID, ErrDuplicateSession)
	}
	m.calls[callID] = call
	m.mu.Unlock()

	m.logger.Info("incoming call", "call_id", callID, "from", from, "agent", profile.Name)

	if err := m.accept(ctx, call, profile); err != nil {
		call.setState(StateFailed)
		m.drop(callID)
		m.logger.Error("accept failed", "call_id", callID, "error", err)
		return fmt.Errorf("call %s: %w: %v", callID, ErrAcceptFailed, err)
	}

	if !call.advance(StatePending, StateAccepted) {
		// Finalized while the accept round trip was in flight.
		return nil
	}

	stream, err := m.openStreamWithRetry(ctx, callID)
	if err != nil {
		call.setState(StateFailed)
		m.drop(callID)
		// The provider answered the call; only local observability is lost.
		m.logger.Error("stream open failed, call proceeds unmonitored",
			"call_id", callID, "error", err)
		return fmt.Errorf("call %s: %w: %v", callID, ErrStreamOpenFailed, err)
	}

	call.mu.Lock()
	if call.state != StateAccepted {
		call.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	call.stream = stream
	call.state = StateStreaming
	call.watchdog = newWatchdog(m.idleTimeout, func() {
		m.logger.Warn("stream idle too long", "call_id", callID)
		_ = m.finalize(context.Background(), callID, "idle timeout")
	})
	call.watchdog.touch()
	call.mu.Unlock()

	if m.hub != nil {
		m.hub.BroadcastCallStarted(callID, profile.Name, from)
	}

	m.configureStream(call, stream, profile)

	go m.consume(call)

	m.logger.Info("call streaming", "call_id", callID, "agent", profile.Name)
	return nil
}

func (m *Manager) accept(ctx context.Context, call *Call, profile agent.Profile) error {
	// The accept endpoint is strict-schema: anything beyond these fields is
	// rejected wholesale. Tools go through session.update afterwards.
	payload := realtime.AcceptPayload{
		Type:         "realtime",
		Model:        m.realtimeModel,
		Instructions: profile.Instructions,
	}
	if m.enableTranscription {
		payload.Audio = &realtime.AudioConfig{
			Input: realtime.AudioInputConfig{
				Transcription: realtime.TranscriptionConfig{
					Model:    m.transcriptionModel,
					Language: m.transcriptionLang,
				},
			},
		}
	}

	acceptCtx, cancel := context.WithTimeout(ctx, m.acceptTimeout)
	defer cancel()
	return m.realtime.AcceptCall(acceptCtx, call.ID, payload)
}

func (m *Manager) openStreamWithRetry(ctx context.Context, callID string) (Stream, error) {
	var lastErr error
	for attempt := 0; attempt <= len(streamOpenBackoff); attempt++ {
		if attempt > 0 {
			m.sleep(streamOpenBackoff[attempt-1])
		}

		openCtx, cancel := context.WithTimeout(ctx, m.streamOpenTimeout)
		stream, err := m.realtime.OpenStream(openCtx, callID)
		cancel()
		if err == nil {
			return stream, nil
		}
		lastErr = err
		m.logger.Warn("stream open attempt failed",
			"call_id", callID, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (m *Manager) configureStream(call *Call, stream Stream, profile agent.Profile) {
	if tools := m.sessionTools(); len(tools) > 0 {
		update := realtime.SessionUpdate{
			Model:      m.realtimeModel,
			Tools:      tools,
			ToolChoice: "auto",
		}
		if err := stream.SendSessionUpdate(update); err != nil {
			m.logger.Warn("configure tools failed", "call_id", call.ID, "error", err)
		} else {
			m.logger.Info("configured tools", "call_id", call.ID, "count", len(tools))
		}
	}

	if err := stream.SendResponsePrompt(fmt.Sprintf("Say: %s", profile.Greeting)); err != nil {
		m.logger.Warn("send greeting failed", "call_id", call.ID, "error", err)
	}
}

func (m *Manager) sessionTools() []realtime.Tool {
	defs := m.agents.Tools()
	tools := make([]realtime.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, realtime.Tool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return tools
}

// consume drains the call's event stream in arrival order until it closes
// or a fatal event arrives, then finalizes.
func (m *Manager) consume(call *Call) {
	reason := "stream closed"
	for event := range call.stream.Events() {
		call.watchdog.touch()
		if m.routeEvent(call, event) {
			reason = "fatal stream error"
			break
		}
	}
	call.watchdog.stop()

	if err := m.finalize(context.Background(), call.ID, reason); err != nil {
		m.logger.Error("finalization failed", "call_id", call.ID, "error", err)
	}
}

// RouteEvent dispatches one event for an active call. Events normally flow
// through the per-call consume loop; RouteEvent serves replays and tests.
func (m *Manager) RouteEvent(ctx context.Context, callID string, event realtime.Event) error {
	call, ok := m.lookup(callID)
	if !ok {
		return fmt.Errorf("route event for call %s: %w", callID, ErrSessionNotFound)
	}
	if m.routeEvent(call, event) {
		return m.finalize(ctx, callID, "fatal stream error")
	}
	return nil
}

// TransferAgent switches the live session to another persona. The call id
// and stream are unchanged; subsequent agent speech is attributed to the
// new persona.
func (m *Manager) TransferAgent(callID, agentName string) error {
	call, ok := m.lookup(callID)
	if !ok {
		return fmt.Errorf("transfer call %s: %w", callID, ErrSessionNotFound)
	}
	_, err := m.transfer(call, agentName)
	return err
}

func (m *Manager) transfer(call *Call, agentName string) (agent.Profile, error) {
	profile, err := m.agents.Get(agentName)
	if err != nil {
		return agent.Profile{}, fmt.Errorf("transfer call %s: %w", call.ID, err)
	}

	call.mu.Lock()
	if call.state != StateStreaming || call.stream == nil {
		state := call.state
		call.mu.Unlock()
		return agent.Profile{}, fmt.Errorf("transfer call %s: no live stream in state %s", call.ID, state)
	}
	previous := call.agentName
	call.agentName = profile.Name
	stream := call.stream
	call.mu.Unlock()

	update := realtime.SessionUpdate{
		Model:        m.realtimeModel,
		Instructions: profile.Instructions,
	}
	if err := stream.SendSessionUpdate(update); err != nil {
		call.mu.Lock()
		call.agentName = previous
		call.mu.Unlock()
		return agent.Profile{}, fmt.Errorf("transfer call %s: %w", call.ID, err)
	}

	if m.hub != nil {
		m.hub.BroadcastAgentTransferred(call.ID, previous, profile.Name)
	}
	return profile, nil
}

// Finalize ends a call's session: the stream is released, the transcript
// assembled, the summary persisted and the session closed. Idempotent; the
// first caller performs the work and concurrent calls observe Finalizing or
// Closed and no-op.
func (m *Manager) Finalize(ctx context.Context, callID string) error {
	return m.finalize(ctx, callID, "finalize requested")
}

func (m *Manager) finalize(ctx context.Context, callID, reason string) error {
	call, ok := m.lookup(callID)
	if !ok {
		// Already closed or never created; late duplicates are expected.
		m.logger.Debug("finalize for unknown call", "call_id", callID)
		return nil
	}

	call.mu.Lock()
	if call.state == StateFinalizing || call.state == StateClosed {
		call.mu.Unlock()
		return nil
	}
	call.state = StateFinalizing
	stream := call.stream
	agentName := call.agentName
	if call.watchdog != nil {
		call.watchdog.stop()
	}
	call.mu.Unlock()

	m.logger.Info("finalizing call", "call_id", callID, "reason", reason)

	if stream != nil {
		_ = stream.Close()
		if err := stream.Err(); err != nil {
			m.logger.Warn("stream ended with error", "call_id", callID, "error", err)
		}
	}

	duration := time.Now().UTC().Sub(call.StartedAt)
	if m.hub != nil {
		m.hub.BroadcastCallEnded(callID, duration)
	}

	if err := m.completeFinalization(ctx, call, agentName); err != nil {
		// Retained for manual recovery; Closed is never faked.
		m.logger.Error("finalization incomplete", "call_id", callID, "error", err)
		return err
	}

	call.setState(StateClosed)
	m.drop(callID)
	m.logger.Info("call closed",
		"call_id", callID, "duration", duration.Round(time.Second).String())
	return nil
}

func (m *Manager) completeFinalization(ctx context.Context, call *Call, agentName string) error {
	graceCtx, cancel := context.WithTimeout(ctx, m.finalizeGrace)
	defer cancel()

	transcriptText, err := m.store.AssembleTranscript(call.ID)
	if err != nil {
		return fmt.Errorf("assemble transcript for call %s: %w: %v", call.ID, ErrIncompleteFinalization, err)
	}

	if strings.TrimSpace(transcriptText) == "" {
		m.logger.Info("no speech captured, closing without summary", "call_id", call.ID)
		return nil
	}

	sum := storage.CallSummary{
		CallID:         call.ID,
		FullTranscript: transcriptText,
		AgentName:      agentName,
	}

	if m.summarizer != nil {
		analysis, genErr := m.summarizer.Generate(graceCtx, call.ID, transcriptText, agentName)
		switch {
		case genErr == nil:
			sum.Summary = analysis.Summary
			sum.OverallSentiment = analysis.OverallSentiment
			if data, err := json.Marshal(analysis); err == nil {
				sum.SentimentJSON = string(data)
			}
		case errors.Is(genErr, summary.ErrEmptyTranscript):
			m.logger.Info("summarizer saw empty transcript", "call_id", call.ID)
			return nil
		case errors.Is(genErr, summary.ErrMalformedResponse):
			// A missing analysis never blocks closure.
			m.logger.Warn("summary response malformed, closing without summary fields",
				"call_id", call.ID, "error", genErr)
		default:
			m.logger.Error("summary generation failed, closing without summary fields",
				"call_id", call.ID, "error", genErr)
		}
	}

	if err := m.store.SaveSummary(sum); err != nil {
		return fmt.Errorf("save summary for call %s: %w: %v", call.ID, ErrIncompleteFinalization, err)
	}

	if m.hub != nil {
		m.hub.BroadcastSummaryReady(call.ID, sum.Summary, sum.OverallSentiment)
	}
	return nil
}

// ForceFinalizeAll finalizes every active session, used during shutdown.
func (m *Manager) ForceFinalizeAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := m.finalize(ctx, id, "shutdown"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ActiveCalls lists the ids of sessions that have not reached Closed.
func (m *Manager) ActiveCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) lookup(callID string) (*Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	return call, ok
}

func (m *Manager) drop(callID string) {
	m.mu.Lock()
	delete(m.calls, callID)
	m.mu.Unlock()
}
