package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFilterByAllowlist_ExactAndPrefixPatterns(t *testing.T) {
	r := New(nil, zap.NewNop())
	r.RegisterRuntime(Tool{Name: "github_create_issue"})
	r.RegisterRuntime(Tool{Name: "github_list_issues"})
	r.RegisterRuntime(Tool{Name: "jira_create_ticket"})

	out := r.FilterByAllowlist([]string{"jira_create_ticket", "github_*"})

	names := make([]string, len(out))
	for i, t := range out {
		names[i] = t.Name
	}
	assert.Equal(t, []string{"jira_create_ticket", "github_create_issue", "github_list_issues"}, names)
}

func TestFilterByAllowlist_DedupesAcrossPatterns(t *testing.T) {
	r := New(nil, zap.NewNop())
	r.RegisterRuntime(Tool{Name: "notion_search"})

	out := r.FilterByAllowlist([]string{"notion_*", "notion_search"})

	assert.Len(t, out, 1)
}

func TestRuntimeToolShadowsBuiltinOfSameName(t *testing.T) {
	RegisterBuiltin(Tool{Name: "shadow_test_tool", Description: "builtin"})
	r := New(nil, zap.NewNop())
	r.RegisterRuntime(Tool{Name: "shadow_test_tool", Description: "runtime"})

	got, ok := r.Get("shadow_test_tool")
	assert.True(t, ok)
	assert.Equal(t, "runtime", got.Description)
}
