package registry

import (
	"context"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/zerg-labs/zerg-core/internal/policy"
)

// builtin is the immutable catalogue populated at process start by builtin
// tool packages calling RegisterBuiltin from their own init(), mirroring the
// teacher's "conditionally register N things with a shared registrar"
// pattern generalized from workflows/activities to tools.
var (
	builtinMu    sync.RWMutex
	builtin      = map[string]Tool{}
	builtinOrder []string
)

// RegisterBuiltin adds a tool to the immutable builtin catalogue. Intended to
// be called from builtin tool packages' init() functions; panics on a
// duplicate name since that indicates a programming error, not a runtime
// condition.
func RegisterBuiltin(t Tool) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	if _, exists := builtin[t.Name]; exists {
		panic(fmt.Sprintf("registry: builtin tool %q already registered", t.Name))
	}
	builtin[t.Name] = t
	builtinOrder = append(builtinOrder, t.Name)
}

// Registry is the runtime-mutable tool catalogue: builtin tools plus
// dynamically registered MCP/connector tools, filtered through an allowlist
// and an optional policy gate per agent.
type Registry struct {
	mu           sync.RWMutex
	runtime      map[string]Tool
	runtimeOrder []string
	policy       policy.Engine // optional; nil means no secondary gate
	logger       *zap.Logger
}

// New builds a Registry. policyEngine may be nil to skip the OPA gate.
func New(policyEngine policy.Engine, logger *zap.Logger) *Registry {
	return &Registry{
		runtime: map[string]Tool{},
		policy:  policyEngine,
		logger:  logger,
	}
}

// RegisterRuntime adds or replaces a runtime (MCP/connector) tool. A
// replacement keeps its original registration-order position.
func (r *Registry) RegisterRuntime(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runtime[t.Name]; !exists {
		r.runtimeOrder = append(r.runtimeOrder, t.Name)
	}
	r.runtime[t.Name] = t
}

// ClearRuntimeTools removes every runtime-registered tool, used when an MCP
// connector is disconnected or reconfigured.
func (r *Registry) ClearRuntimeTools() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtime = map[string]Tool{}
	r.runtimeOrder = nil
}

// All returns every tool visible to the registry, in registration order:
// builtins first (in the order RegisterBuiltin was called), then runtime
// tools (in the order RegisterRuntime was called) — a runtime tool of the
// same name shadows a builtin in place rather than moving it (§4.B).
func (r *Registry) All() []Tool {
	builtinMu.RLock()
	r.mu.RLock()
	defer builtinMu.RUnlock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(builtin)+len(r.runtime))
	for _, name := range builtinOrder {
		if _, shadowed := r.runtime[name]; shadowed {
			continue
		}
		out = append(out, builtin[name])
	}
	for _, name := range r.runtimeOrder {
		out = append(out, r.runtime[name])
	}
	return out
}

// Get looks a single tool up by exact name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.runtime[name]
	r.mu.RUnlock()
	if ok {
		return t, true
	}
	builtinMu.RLock()
	defer builtinMu.RUnlock()
	t, ok = builtin[name]
	return t, ok
}

// FilterByAllowlist returns the tools matching at least one pattern, in the
// order: first by pattern position, then by registration order within a
// pattern, deduped. An empty or nil allowlist means every tool is allowed
// (§4.B), so it short-circuits to All(). A pattern is either an exact tool
// name or a name ending in "*" (prefix match) — the grammar is intentionally
// simpler than a full glob, so path.Match's "*" semantics are used for the
// trailing-star case and a plain equality check for the exact case, rather
// than depending on a glob library no pack example actually needs for this
// grammar.
func (r *Registry) FilterByAllowlist(patterns []string) []Tool {
	if len(patterns) == 0 {
		return r.All()
	}

	all := r.All()

	seen := map[string]bool{}
	var out []Tool
	for _, pattern := range patterns {
		for _, t := range all {
			if seen[t.Name] {
				continue
			}
			if matchesPattern(pattern, t.Name) {
				seen[t.Name] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func matchesPattern(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// Filter applies the allowlist and, when a policy engine is configured and
// enabled, a second OPA pass that may only narrow the result further — it
// can never add a tool the allowlist excluded (§4.B).
func (r *Registry) Filter(ctx context.Context, agentID string, environment string, patterns []string) ([]Tool, error) {
	allowed := r.FilterByAllowlist(patterns)
	if r.policy == nil || !r.policy.IsEnabled() {
		return allowed, nil
	}

	var out []Tool
	for _, t := range allowed {
		decision, err := r.policy.Evaluate(ctx, &policy.PolicyInput{
			AgentID:     agentID,
			Environment: environment,
			Context:     map[string]interface{}{"tool": t.Name},
		})
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("policy evaluation failed, excluding tool", zap.String("tool", t.Name), zap.Error(err))
			}
			continue
		}
		if decision.Allow {
			out = append(out, t)
		}
	}
	return out, nil
}
