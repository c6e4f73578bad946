package session

import (
	"context"
	"fmt"
	"sync"
)

// Invocation is one function call requested by the model during a call.
type Invocation struct {
	Call      *Call
	Name      string
	Arguments map[string]any
}

// StringArg returns a string argument by name, or "" when absent or not a
// string.
func (inv Invocation) StringArg(name string) string {
	v, _ := inv.Arguments[name].(string)
	return v
}

// Result is what a handler reports back to the model. Output is serialized
// as the function output payload; Prompt, when set, is spoken afterwards.
// An empty Prompt still nudges the model to continue the conversation.
type Result struct {
	Output any
	Prompt string
}

// HandlerFunc executes one named function call.
type HandlerFunc func(ctx context.Context, inv Invocation) (Result, error)

// FunctionRegistry maps function names advertised to the model onto
// handlers. Deployments may register their own handlers alongside the
// builtins.
type FunctionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a function name, replacing any previous one.
func (r *FunctionRegistry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

func (r *FunctionRegistry) lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

func (m *Manager) registerBuiltinFunctions() {
	m.functions.Register("transfer_call", m.handleTransferCall)
	m.functions.Register("schedule_appointment", m.handleScheduleAppointment)
}

func (m *Manager) handleTransferCall(ctx context.Context, inv Invocation) (Result, error) {
	target := inv.StringArg("target_agent")
	if target == "" {
		target = m.agents.Default().Name
	}
	reason := inv.StringArg("reason")

	profile, err := m.transfer(inv.Call, target)
	if err != nil {
		return Result{}, err
	}

	m.logger.Info("call transferred",
		"call_id", inv.Call.ID,
		"target_agent", profile.Name,
		"reason", reason,
	)

	return Result{
		Output: map[string]any{
			"status":       "transferred",
			"target_agent": profile.Name,
			"message":      fmt.Sprintf("Transferring to %s", profile.DisplayName),
		},
		Prompt: fmt.Sprintf("Say: %s", profile.Greeting),
	}, nil
}

func (m *Manager) handleScheduleAppointment(ctx context.Context, inv Invocation) (Result, error) {
	name := inv.StringArg("name")
	phone := inv.StringArg("phone")
	date := inv.StringArg("date")
	timeOfDay := inv.StringArg("time")
	reason := inv.StringArg("reason")

	// No booking backend yet; confirm the request and leave a durable log
	// line for the front desk.
	m.logger.Info("appointment requested",
		"call_id", inv.Call.ID,
		"name", name,
		"date", date,
		"time", timeOfDay,
		"reason", reason,
	)

	return Result{
		Output: map[string]any{
			"status": "scheduled",
			"appointment": map[string]any{
				"name":   name,
				"phone":  phone,
				"date":   date,
				"time":   timeOfDay,
				"reason": reason,
			},
			"confirmation": fmt.Sprintf("Appointment scheduled for %s on %s at %s", name, date, timeOfDay),
		},
	}, nil
}
