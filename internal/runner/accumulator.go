package runner

import (
	"sync"

	"github.com/zerg-labs/zerg-core/internal/budget"
)

// Accumulator sums token/cost usage across a single agent run and can
// hard-stop the loop once the run's configured budget is exhausted (§4.D
// expansion). Adapts internal/budget.TokenBudget's task-level fields and
// hard-limit semantics into a lightweight per-run tracker rather than
// pulling in the teacher's full session/user-level BudgetManager, which
// tracks state this runner doesn't own (cross-session/user daily limits
// live with internal/budget's own callers, not the per-run loop).
type Accumulator struct {
	mu     sync.Mutex
	budget budget.TokenBudget
}

// NewAccumulator builds an Accumulator with a task-level token budget and
// whether exceeding it should hard-stop the loop.
func NewAccumulator(taskBudgetTokens int, hardLimit bool) *Accumulator {
	return &Accumulator{
		budget: budget.TokenBudget{
			TaskBudget: taskBudgetTokens,
			HardLimit:  hardLimit,
		},
	}
}

// Add records one LLM call's usage. Returns false when the run should stop
// because the hard limit was just exceeded.
func (a *Accumulator) Add(tokens int, costUSD float64) (withinBudget bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.budget.TaskTokensUsed += tokens
	a.budget.ActualCostUSD += costUSD

	if a.budget.HardLimit && a.budget.TaskBudget > 0 && a.budget.TaskTokensUsed > a.budget.TaskBudget {
		return false
	}
	return true
}

// Totals returns the accumulated token count and cost so far.
func (a *Accumulator) Totals() (tokens int, costUSD float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.budget.TaskTokensUsed, a.budget.ActualCostUSD
}
