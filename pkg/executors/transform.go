package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/flowlinehq/flowline/pkg/domain"
)

// TransformExecutor reshapes data between steps without leaving the process.
// Config selects an "operation":
//
//	json_extract:   pull a value out of "source" at dotted "path"
//	format_string:  render "template", replacing {{name}} references with
//	                values from the run variables
//
// Both operations put their result under the "result" output key.
type TransformExecutor struct{}

func NewTransformExecutor() *TransformExecutor { return &TransformExecutor{} }

func (e *TransformExecutor) Type() string { return domain.StepTypeTransform }

var templateRefPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

func (e *TransformExecutor) Execute(_ context.Context, config map[string]any, inputs map[string]any) (map[string]any, error) {
	operation, _ := config["operation"].(string)
	switch operation {
	case "json_extract":
		return jsonExtract(config)
	case "format_string":
		return formatString(config, inputs)
	case "":
		return nil, fmt.Errorf("transform step requires an \"operation\" in config")
	default:
		return nil, fmt.Errorf("unknown transform operation %q", operation)
	}
}

func jsonExtract(config map[string]any) (map[string]any, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("json_extract requires a \"path\" in config")
	}
	source := config["source"]
	if raw, ok := source.(string); ok {
		// A string source may be a JSON document, e.g. a raw response body.
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			source = decoded
		}
	}

	current := source
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("json_extract: %q is not an object at %q", path, part)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("json_extract: path %q not found at %q", path, part)
		}
	}
	return map[string]any{"result": current}, nil
}

func formatString(config map[string]any, inputs map[string]any) (map[string]any, error) {
	template, _ := config["template"].(string)
	if template == "" {
		return nil, fmt.Errorf("format_string requires a \"template\" in config")
	}

	var missing []string
	rendered := templateRefPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := templateRefPattern.FindStringSubmatch(match)[1]
		value, ok := resolveDotted(inputs, name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return fmt.Sprint(value)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("format_string: undefined variable(s): %s", strings.Join(missing, ", "))
	}
	return map[string]any{"result": rendered}, nil
}

func resolveDotted(vars map[string]any, path string) (any, bool) {
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
