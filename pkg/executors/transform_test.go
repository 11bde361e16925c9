package executors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformJSONExtract(t *testing.T) {
	e := NewTransformExecutor()

	t.Run("nested map source", func(t *testing.T) {
		out, err := e.Execute(context.Background(), map[string]any{
			"operation": "json_extract",
			"source":    map[string]any{"user": map[string]any{"id": "u-1"}},
			"path":      "user.id",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "u-1", out["result"])
	})

	t.Run("string source is parsed as JSON", func(t *testing.T) {
		out, err := e.Execute(context.Background(), map[string]any{
			"operation": "json_extract",
			"source":    `{"status": {"code": 7}}`,
			"path":      "status.code",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, float64(7), out["result"])
	})

	t.Run("missing path errors", func(t *testing.T) {
		_, err := e.Execute(context.Background(), map[string]any{
			"operation": "json_extract",
			"source":    map[string]any{"a": 1},
			"path":      "a.b",
		}, nil)
		require.Error(t, err)
	})

	t.Run("path required", func(t *testing.T) {
		_, err := e.Execute(context.Background(), map[string]any{
			"operation": "json_extract",
			"source":    map[string]any{},
		}, nil)
		require.Error(t, err)
	})
}

func TestTransformFormatString(t *testing.T) {
	e := NewTransformExecutor()

	t.Run("renders references from inputs", func(t *testing.T) {
		out, err := e.Execute(context.Background(), map[string]any{
			"operation": "format_string",
			"template":  "order {{order.id}} for {{customer}}",
		}, map[string]any{
			"order":    map[string]any{"id": "ord-9"},
			"customer": "acme",
		})
		require.NoError(t, err)
		assert.Equal(t, "order ord-9 for acme", out["result"])
	})

	t.Run("undefined reference errors", func(t *testing.T) {
		_, err := e.Execute(context.Background(), map[string]any{
			"operation": "format_string",
			"template":  "hello {{nobody}}",
		}, map[string]any{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nobody")
	})
}

func TestTransformUnknownOperation(t *testing.T) {
	e := NewTransformExecutor()

	_, err := e.Execute(context.Background(), map[string]any{"operation": "reverse"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverse")

	_, err = e.Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
}
