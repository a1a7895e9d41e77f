package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fieldnote-ai/homeagent/internal/plan"
	"github.com/fieldnote-ai/homeagent/internal/trace"
)

// ReasoningContextParam is the reserved parameter key the executor injects
// reasoning context under (spec §4.3). It is excluded from schema
// validation since a tool's declared schema describes its own domain
// parameters and may set additionalProperties:false without anticipating
// this kernel-injected key.
const ReasoningContextParam = "_reasoning_context"

// ReasoningContext is injected as the reserved `_reasoning_context`
// parameter for memory-enabled tools (spec §4.3). Tools must treat it as
// advisory; its absence is always valid.
type ReasoningContext struct {
	PastAttempts    int                   `json:"past_attempts"`
	Commitments     []trace.CommitmentTag `json:"commitments"`
	TraceAvailable  bool                  `json:"trace_available"`
}

// CallContext carries per-invocation identity and cancellation (spec §6
// "Tool invocation contract"). SessionID and the cancellation signal flow
// through ctx; ReasoningContext is populated only for memory-enabled tools.
type CallContext struct {
	SessionID        string
	RunID            string
	StepID           int
	ReasoningContext *ReasoningContext
}

// Invocable executes a single tool call and returns a StepResult. It must
// either return status=success with a populated Value, or status=error
// with an error_kind drawn from the closed set (spec §4.2).
type Invocable func(ctx context.Context, params map[string]any, call CallContext) (*plan.StepResult, error)

// Registry maps tool name to descriptor and invocable. Registration is
// static per process; after Freeze, the registry is read-only, satisfying
// spec §5's "Tool Registry: read-only after startup."
type Registry struct {
	mu      sync.RWMutex
	entries map[Ident]*registryEntry
	frozen  bool

	cachedCatalog     string
	cachedCatalogHash string
}

type registryEntry struct {
	descriptor ToolDescriptor
	invoke     Invocable
}

// NewRegistry returns an empty, mutable Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Ident]*registryEntry)}
}

// Register adds a tool. Returns an error if frozen or if name is already
// registered.
func (r *Registry) Register(d ToolDescriptor, invoke Invocable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("tools: registry is frozen, cannot register %q", d.Name)
	}
	if _, ok := r.entries[d.Name]; ok {
		return fmt.Errorf("tools: tool %q already registered", d.Name)
	}
	if invoke == nil {
		return fmt.Errorf("tools: tool %q has a nil invocable", d.Name)
	}
	r.entries[d.Name] = &registryEntry{descriptor: d, invoke: invoke}
	return nil
}

// Freeze closes the registry to further registration. Call once at process
// start after all tools are wired.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Exists implements plan.ActionLookup.
func (r *Registry) Exists(action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[Ident(action)]
	return ok
}

// Tags implements plan.ActionLookup.
func (r *Registry) Tags(action string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Ident(action)]
	if !ok {
		return nil
	}
	return e.descriptor.Tags
}

// Commitments returns the CommitmentTags a successful invocation of action
// fulfills, used by the Finalizer's commitment verification (spec §4.9).
func (r *Registry) Commitments(action string) []trace.CommitmentTag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Ident(action)]
	if !ok {
		return nil
	}
	return e.descriptor.Commitments
}

// ListResultField implements plan.ActionLookup.
func (r *Registry) ListResultField(action string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Ident(action)]
	if !ok || e.descriptor.Result.ListField == "" {
		return "", false
	}
	return e.descriptor.Result.ListField, true
}

// Descriptor returns the descriptor for name.
func (r *Registry) Descriptor(name Ident) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return ToolDescriptor{}, false
	}
	return e.descriptor, true
}

// validatableParams returns params with ReasoningContextParam stripped, so a
// tool schema declaring additionalProperties:false doesn't reject the
// kernel-injected reasoning context alongside its own declared fields.
func validatableParams(params map[string]any) map[string]any {
	if _, ok := params[ReasoningContextParam]; !ok {
		return params
	}
	out := make(map[string]any, len(params)-1)
	for k, v := range params {
		if k == ReasoningContextParam {
			continue
		}
		out[k] = v
	}
	return out
}

// Invoke dispatches to the registered invocable, validating params against
// the declared parameter schema first.
func (r *Registry) Invoke(ctx context.Context, name Ident, params map[string]any, call CallContext) (*plan.StepResult, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return &plan.StepResult{Status: plan.StatusError, ErrorKind: "tool_not_found", ErrorMessage: fmt.Sprintf("unknown tool %q", name)}, nil
	}
	if err := e.descriptor.Payload.Schema.Validate(validatableParams(params)); err != nil {
		return &plan.StepResult{Status: plan.StatusError, ErrorKind: "tool_invocation_error", ErrorMessage: fmt.Sprintf("invalid parameters: %v", err)}, nil
	}
	return e.invoke(ctx, params, call)
}

// CatalogEntry is a one-line description plus declared parameter schema,
// shown to the Planner prompt (spec §4.2).
type CatalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Catalog returns the name -> description -> schema view plus a content
// hash. The caller should cache the rendered prompt text keyed by hash and
// only re-render when the hash changes (spec §4.2).
func (r *Registry) Catalog() ([]CatalogEntry, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, string(name))
	}
	sort.Strings(names)

	entries := make([]CatalogEntry, 0, len(names))
	for _, name := range names {
		e := r.entries[Ident(name)]
		entries = append(entries, CatalogEntry{
			Name:        name,
			Description: e.descriptor.Description,
			Parameters:  e.descriptor.Payload.Schema.Raw(),
		})
	}

	b, _ := json.Marshal(entries)
	sum := sha256.Sum256(b)
	hash := hex.EncodeToString(sum[:])
	if hash == r.cachedCatalogHash {
		return entries, hash
	}
	r.cachedCatalogHash = hash
	r.cachedCatalog = string(b)
	return entries, hash
}

// CatalogText returns the cached serialized catalog and its hash, computing
// it if necessary.
func (r *Registry) CatalogText() (string, string) {
	_, hash := r.Catalog()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cachedCatalog, hash
}
