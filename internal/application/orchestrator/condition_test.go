package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolateValue(t *testing.T) {
	vars := map[string]any{
		"name":  "alice",
		"count": 3,
		"resp": map[string]any{
			"status_code": 200,
			"data":        map[string]any{"id": "abc"},
		},
	}

	t.Run("whole-string reference preserves type", func(t *testing.T) {
		out := interpolateValue("{{count}}", vars)
		assert.Equal(t, 3, out)
	})

	t.Run("dotted path", func(t *testing.T) {
		out := interpolateValue("{{resp.data.id}}", vars)
		assert.Equal(t, "abc", out)
	})

	t.Run("embedded reference renders as string", func(t *testing.T) {
		out := interpolateValue("user {{name}} has {{count}} items", vars)
		assert.Equal(t, "user alice has 3 items", out)
	})

	t.Run("unresolved reference left literal", func(t *testing.T) {
		out := interpolateValue("hello {{missing}}", vars)
		assert.Equal(t, "hello {{missing}}", out)
	})

	t.Run("recurses into maps and slices", func(t *testing.T) {
		out := interpolateValue(map[string]any{
			"url":  "https://api.example.com/users/{{resp.data.id}}",
			"tags": []any{"{{name}}", "static"},
		}, vars)
		assert.Equal(t, map[string]any{
			"url":  "https://api.example.com/users/abc",
			"tags": []any{"alice", "static"},
		}, out)
	})
}

func TestEvalCondition(t *testing.T) {
	vars := map[string]any{
		"status":  200,
		"env":     "production",
		"enabled": true,
		"retries": 0,
		"resp":    map[string]any{"code": 404},
	}

	tests := []struct {
		name string
		cond string
		want bool
	}{
		{"empty condition always passes", "", true},
		{"numeric equality", "{{status}} == 200", true},
		{"numeric inequality", "{{status}} != 500", true},
		{"greater or equal", "{{status}} >= 200", true},
		{"strictly less fails", "{{status}} < 200", false},
		{"string equality", "{{env}} == production", true},
		{"string inequality", "{{env}} != staging", true},
		{"dotted path operand", "{{resp.code}} == 404", true},
		{"bare truthy variable", "{{enabled}}", true},
		{"bare falsy variable", "{{retries}}", false},
		{"literal comparison", "1 == 1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalCondition(tt.cond, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("undefined variable is an error", func(t *testing.T) {
		_, err := evalCondition("{{missing}} == 1", vars)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("ordering needs numbers", func(t *testing.T) {
		_, err := evalCondition("{{env}} > staging", vars)
		require.Error(t, err)
	})
}
