// Package session defines the durable Session/Interaction data model (spec
// §3, §6) and the Store interface the orchestrator's process boundary
// persists through. It is grounded on the teacher's
// runtime/agent/session.Session/Store contract: stable caller-provided ids,
// explicit create/load, and a store abstraction swappable between a file
// backend and a database backend; narrowed here to the single-reply-per-
// interaction shape this kernel actually produces, in place of the
// teacher's separate run/workflow metadata model.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/trace"
)

// Session is the durable conversational container: a stable id, a creation
// timestamp, and its ordered Interactions (spec §3 "Session").
type Session struct {
	SessionID    string         `json:"session_id"`
	CreatedAt    time.Time      `json:"created_at"`
	Interactions []*Interaction `json:"interactions"`
}

// Reply is the persisted projection of a finalizer.Reply: attachments are
// recorded as plain paths on disk (spec §6: "step_results (with attachments
// as paths)"), not the richer in-memory FileRef/Reply types, so the session
// package has no dependency on the finalizer package.
type Reply struct {
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
}

// Interaction is one finalized user turn: its request, the plan it produced,
// the published step results, the reasoning trace recorded along the way,
// and the final reply (spec §3 "Interaction": "Immutable once finalized").
type Interaction struct {
	InteractionID  string             `json:"interaction_id"`
	Request        string             `json:"request"`
	Plan           *plan.Plan         `json:"plan"`
	StepResults    plan.StepResults   `json:"step_results"`
	ReasoningTrace []*trace.Entry     `json:"reasoning_trace"`
	Reply          Reply              `json:"reply"`
	Status         string             `json:"status"`
	FinalizedAt    time.Time          `json:"finalized_at"`
}

// Store persists Sessions and appends finalized Interactions to them. Both
// provided implementations (filestore, mongostore) must be safe for
// concurrent use by multiple sessions, though a single session's writes are
// expected to come from one orchestrator run at a time (spec §5).
type Store interface {
	// CreateSession returns the existing session for sessionID, creating an
	// empty one (with createdAt) if none exists yet. Idempotent.
	CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (*Session, error)
	// LoadSession returns the session for sessionID, or ErrSessionNotFound.
	LoadSession(ctx context.Context, sessionID string) (*Session, error)
	// AppendInteraction durably records a finalized Interaction onto its
	// session, creating the session first if necessary.
	AppendInteraction(ctx context.Context, sessionID string, interaction *Interaction) error
	// Close flushes any pending write-behind state and releases resources.
	Close(ctx context.Context) error
}

// ErrSessionNotFound is returned by LoadSession when sessionID is unknown.
var ErrSessionNotFound = errors.New("session: not found")
