// Package template renders dynamic node configuration against the flow's
// data before execution.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/cadenzr/cadenza/pkg/models"
)

// RenderWithContext renders a template string against the node's flow
// context. Templates can address the merged input, the shared working state,
// environment variables, and the flow/node identity.
func RenderWithContext(input string, flowCtx models.FlowContext) (any, error) {
	data := map[string]any{
		"input":         flowCtx.Input,
		"working_state": flowCtx.WorkingState,
		"env":           getEnvVars(),
		"flow": map[string]any{
			"tenant_id": flowCtx.TenantID,
			"flow_id":   flowCtx.FlowID,
			"node_id":   flowCtx.NodeID,
		},
	}

	return Render(input, data)
}

// Render executes a template and coerces the output: JSON-looking results
// decode to structured values, numeric and boolean strings parse to their
// native types, everything else stays a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("transform").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)
				if _, err := rand.Read(num); err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// getEnvVars returns environment variables as a map.
func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
