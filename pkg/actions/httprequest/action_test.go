package httprequest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzr/cadenza/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFactoryCreate(t *testing.T) {
	factory := NewActionFactory()
	assert.Equal(t, "http_request", factory.ID())

	_, err := factory.Create(map[string]any{})
	require.Error(t, err)

	action, err := factory.Create(map[string]any{"url": "http://example.com", "method": "post"})
	require.NoError(t, err)

	httpAction, ok := action.(*Action)
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, httpAction.method)
}

func TestExecuteReturnsDecodedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any

		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ord-9", payload["order"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"charged": true}`))
	}))
	defer server.Close()

	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{
		"url":     server.URL,
		"method":  "POST",
		"headers": map[string]any{"Content-Type": "application/json"},
		"body":    `{"order": "{{.input.order_id}}"}`,
	})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.FlowContext{
		Input: map[string]any{"order_id": "ord-9"},
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result["status"])
	assert.Equal(t, map[string]any{"charged": true}, result["body"])
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"url": server.URL, "retries": float64(2)})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.FlowContext{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, map[string]any{"ok": true}, result["body"])
}

func TestExecuteClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "missing"}`))
	}))
	defer server.Close()

	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"url": server.URL, "retries": float64(3)})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.FlowContext{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusNotFound, result["status"])
}
