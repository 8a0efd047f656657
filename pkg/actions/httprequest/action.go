// Package httprequest provides the built-in HTTP request action.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cadenzr/cadenza/pkg/models"
	"github.com/cadenzr/cadenza/pkg/protocol"
	"github.com/cadenzr/cadenza/pkg/template"
)

const defaultTimeout = 30 * time.Second

// ActionFactory builds HTTP request actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "http_request"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL. Supports templating.",
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers, string values only.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Supports templating.",
			},
			"retries": map[string]any{
				"type":        "integer",
				"description": "Extra attempts on network failure or 5xx.",
				"default":     0,
			},
		},
		"required": []string{"url"},
	}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_request action requires a 'url'")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for key, value := range headersConfig {
			if strVal, ok := value.(string); ok {
				headers[key] = strVal
			}
		}
	}

	retries := 0
	if raw, ok := config["retries"].(float64); ok {
		retries = int(raw)
	}

	return &Action{
		url:     url,
		method:  strings.ToUpper(method),
		headers: headers,
		body:    body,
		retries: retries,
		client:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Action performs one HTTP request and returns status, headers, and decoded
// body as the node result.
type Action struct {
	url     string
	method  string
	headers map[string]string
	body    string
	retries int
	client  *http.Client
}

func (a *Action) Execute(ctx context.Context, flowCtx models.FlowContext, logger *slog.Logger) (map[string]any, error) {
	url, err := renderString(a.url, flowCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	body, err := renderString(a.body, flowCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	logger = logger.With("action_type", "http_request", "method", a.method, "url", url)

	var result map[string]any

	operation := func() error {
		var opErr error

		result, opErr = a.doRequest(ctx, url, body)

		return opErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(a.retries)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		logger.WarnContext(ctx, "HTTP request failed", "error", err)

		return nil, err
	}

	logger.DebugContext(ctx, "HTTP request completed", "status", result["status"])

	return result, nil
}

func (a *Action) doRequest(ctx context.Context, url, body string) (map[string]any, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, url, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	for key, value := range a.headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("server error: %s", resp.Status)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	return map[string]any{
		"status": resp.StatusCode,
		"body":   decoded,
	}, nil
}

func renderString(input string, flowCtx models.FlowContext) (string, error) {
	if input == "" || !strings.Contains(input, "{{") {
		return input, nil
	}

	rendered, err := template.RenderWithContext(input, flowCtx)
	if err != nil {
		return "", err
	}

	switch value := rendered.(type) {
	case string:
		return value, nil
	default:
		// Render coerced the output to a structured value. Put it back on
		// the wire as JSON.
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("failed to encode rendered value: %w", err)
		}

		return string(encoded), nil
	}
}
