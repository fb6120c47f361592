package workflow

import (
	"sync"

	"github.com/zerg-labs/zerg-core/internal/db"
)

// State is the shared, concurrently-mutated execution state for one
// workflow run. Every field update is a commutative reducer so that
// concurrent node completions from parallel fan-out can apply in any order
// and converge to the same result (§4.F step 5): node_outputs merges
// per-key (last writer for a given node id wins, but distinct node ids
// never collide), completed_nodes is a set union, and error keeps the
// first non-nil value ever recorded.
type State struct {
	mu            sync.Mutex
	NodeOutputs   map[string]db.NodeEnvelope
	CompletedSet  map[string]struct{}
	Err           error
}

// NewState builds an empty State.
func NewState() *State {
	return &State{
		NodeOutputs:  make(map[string]db.NodeEnvelope),
		CompletedSet: make(map[string]struct{}),
	}
}

// RecordOutput merges one node's output into node_outputs and marks it
// completed. Safe to call concurrently from multiple fan-out goroutines.
func (s *State) RecordOutput(nodeID string, out db.NodeEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NodeOutputs[nodeID] = out
	s.CompletedSet[nodeID] = struct{}{}
}

// RecordError keeps the first error reported across the whole execution;
// later errors from sibling branches are dropped (first-non-null wins).
func (s *State) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err == nil {
		s.Err = err
	}
}

// Completed reports whether a node has already produced output.
func (s *State) Completed(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.CompletedSet[nodeID]
	return ok
}

// CompletedNodes returns a snapshot of every completed node id.
func (s *State) CompletedNodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.CompletedSet))
	for id := range s.CompletedSet {
		out = append(out, id)
	}
	return out
}

// Outputs returns a snapshot of node_outputs safe for interpolation reads.
func (s *State) Outputs() map[string]db.NodeEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]db.NodeEnvelope, len(s.NodeOutputs))
	for k, v := range s.NodeOutputs {
		out[k] = v
	}
	return out
}

// FirstError returns the first error recorded, if any.
func (s *State) FirstError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}
