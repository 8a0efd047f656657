package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzr/cadenza/pkg/models"
)

func TestRenderCoercion(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     any
		expected any
	}{
		{"plain string", "hello {{.name}}", map[string]any{"name": "iris"}, "hello iris"},
		{"number", "{{.count}}", map[string]any{"count": 3}, float64(3)},
		{"boolean", "{{.ok}}", map[string]any{"ok": true}, true},
		{"json object", `{"total": {{.total}}}`, map[string]any{"total": 7}, map[string]any{"total": float64(7)}},
		{"json array", `[1, 2, 3]`, nil, []any{float64(1), float64(2), float64(3)}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			result, err := Render(testCase.template, testCase.data)
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, result)
		})
	}
}

func TestRenderInvalidTemplate(t *testing.T) {
	_, err := Render("{{.broken", nil)
	require.Error(t, err)
}

func TestRenderWithContext(t *testing.T) {
	flowCtx := models.FlowContext{
		TenantID:     "acme",
		FlowID:       "flow-1",
		NodeID:       "notify",
		Input:        map[string]any{"channel": "#billing"},
		WorkingState: map[string]any{"total": 42},
	}

	result, err := RenderWithContext("post to {{.input.channel}}, total {{.working_state.total}}", flowCtx)
	require.NoError(t, err)
	assert.Equal(t, "post to #billing, total 42", result)

	result, err = RenderWithContext("{{.flow.flow_id}}/{{.flow.node_id}}", flowCtx)
	require.NoError(t, err)
	assert.Equal(t, "flow-1/notify", result)
}
