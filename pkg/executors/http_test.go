package executors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPExecutorSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ping", body["message"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"echo": "pong"}`))
	}))
	defer server.Close()

	e := NewHTTPExecutor(server.Client())
	out, err := e.Execute(context.Background(), map[string]any{
		"url":     server.URL,
		"method":  "post",
		"headers": map[string]any{"Authorization": "Bearer token-1"},
		"body":    map[string]any{"message": "ping"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 200, out["status_code"])
	data, ok := out["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pong", data["echo"])
}

func TestHTTPExecutorNonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	e := NewHTTPExecutor(server.Client())
	out, err := e.Execute(context.Background(), map[string]any{"url": server.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out["data"])
}

func TestHTTPExecutorErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	e := NewHTTPExecutor(server.Client())
	_, err := e.Execute(context.Background(), map[string]any{"url": server.URL}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPExecutorRequiresURL(t *testing.T) {
	e := NewHTTPExecutor(nil)
	_, err := e.Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
}

func TestHTTPExecutorHonorsContext(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewHTTPExecutor(server.Client())
	_, err := e.Execute(ctx, map[string]any{"url": server.URL}, nil)
	require.Error(t, err)
}
