// Package model defines the text-in/structured-JSON-out RPC contract the
// Planner, Verifier, and Replanner use to talk to the language-model
// backend. The backend itself is an external collaborator (spec §1); this
// package only specifies the interface and a thin request/response shape,
// mirroring the teacher's model.Client seam.
package model

import "context"

// Message is one turn in the conversation sent to the model.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Request is a single model call. Prompt assembly (core rules + catalog +
// exemplars + trace digest) happens in the calling package (planner,
// verifier, replanner); this package only transports the assembled
// messages.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSONMode hints the backend to constrain output to valid JSON, when
	// the backend supports it. Backends that don't support this natively
	// should rely on the prompt's instructions instead.
	JSONMode bool
}

// Response carries the model's textual output plus token usage, for
// telemetry. Callers that expect structured JSON parse Text themselves
// (spec treats the backend as "text-in/structured-JSON-out").
type Response struct {
	Text  string
	Usage TokenUsage
}

// TokenUsage reports input/output token counts for cost and budget
// tracking.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Client is the minimal RPC surface the kernel depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
