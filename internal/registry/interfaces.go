// Package registry implements the two-tier tool catalogue (builtin + runtime)
// and allowlist resolver described in SPEC_FULL §4.B. Generalized from the
// teacher's internal/registry/registry.go, which registered Temporal
// workflows/activities with a worker.Worker; here the same "register into a
// catalogue, conditionally, by config flag" shape registers Tool values
// instead.
package registry

import "context"

// Tool is a capability an agent or workflow node can invoke. Shaped after
// goadesign-goa-ai's runtime/toolregistry Tool-as-capability idiom.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]interface{}
	Run         func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}
