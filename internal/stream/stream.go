// Package stream defines the outbound event contract the orchestrator
// publishes to the chat transport (spec §6), grounded on the teacher's
// runtime/agent/stream Event/Sink seam but narrowed to the seven event types
// this kernel actually emits.
package stream

import "context"

// EventType names one of the wire event kinds.
type EventType string

const (
	EventPlanReady        EventType = "plan_ready"
	EventStepStart        EventType = "step_start"
	EventStepComplete     EventType = "step_complete"
	EventReply            EventType = "reply"
	EventStatus           EventType = "status"
	EventError            EventType = "error"
	EventExecutionComplete EventType = "execution_complete"
)

// Base carries the metadata every event stamps (spec §6: "all stamped with
// session_id and interaction_id").
type Base struct {
	EventType     EventType `json:"type"`
	SessionID     string    `json:"session_id"`
	InteractionID string    `json:"interaction_id"`
}

// Event is the generic interface Sinks marshal. Concrete payload types
// embed Base and add their own JSON-serializable Data.
type Event interface {
	Type() EventType
	Session() string
	Interaction() string
	Payload() any
}

func (b Base) Type() EventType      { return b.EventType }
func (b Base) Session() string      { return b.SessionID }
func (b Base) Interaction() string  { return b.InteractionID }

// PlanReady announces the validated plan before execution begins.
type PlanReady struct {
	Base
	Goal  string       `json:"goal"`
	Steps []PlanStepRef `json:"steps"`
}

// PlanStepRef is the minimal per-step projection shown to clients.
type PlanStepRef struct {
	ID     int    `json:"id"`
	Action string `json:"action"`
}

func (e PlanReady) Payload() any { return e }

// StepStart announces a step beginning execution.
type StepStart struct {
	Base
	StepID int    `json:"step_id"`
	Action string `json:"action"`
}

func (e StepStart) Payload() any { return e }

// StepComplete announces a step's terminal outcome.
type StepComplete struct {
	Base
	StepID  int    `json:"step_id"`
	Status  string `json:"status"`
	Summary string `json:"summary"`
}

func (e StepComplete) Payload() any { return e }

// Reply carries the final user-facing message.
type Reply struct {
	Base
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
}

func (e Reply) Payload() any { return e }

// Status announces a coarse orchestrator phase transition.
type Status struct {
	Base
	Phase string `json:"phase"`
}

func (e Status) Payload() any { return e }

// Error announces a terminal or surfaced error.
type Error struct {
	Base
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e Error) Payload() any { return e }

// ExecutionComplete announces aggregate plan execution status (spec §4.6
// step 5: "Emit a plan-level execution_complete with aggregate status").
type ExecutionComplete struct {
	Base
	Status string `json:"status"`
}

func (e ExecutionComplete) Payload() any { return e }

// Sink delivers events to a transport. Implementations must preserve
// per-session ordering (spec §5: "The event stream to the UI is ordered
// per session (single writer per session)").
type Sink interface {
	Send(ctx context.Context, event Event) error
	Close(ctx context.Context) error
}

// NoopSink discards every event; used when no transport is configured (e.g.
// in tests or the purely synchronous /chat path).
type NoopSink struct{}

func (NoopSink) Send(context.Context, Event) error { return nil }
func (NoopSink) Close(context.Context) error        { return nil }
