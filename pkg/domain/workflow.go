package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Step types understood by the builtin executor set. The registry accepts
// arbitrary additional types; these constants exist for the builtins only.
const (
	StepTypeHTTPRequest = "http_request"
	StepTypeTransform   = "transform"
	StepTypeDelay       = "delay"
	StepTypeNoop        = "noop"
	StepTypeSubworkflow = "subworkflow"
	StepTypeN8N         = "n8n"
)

// TriggerType tags the external stimulus that starts a run.
type TriggerType string

const (
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeEvent    TriggerType = "event"
)

// BackoffKind selects the retry delay progression.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Duration wraps time.Duration so definition files can say "5s" or "250ms".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string ("5s") or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryPolicy configures per-step retry behavior. A zero MaxAttempts is
// treated as 1 (no retries).
type RetryPolicy struct {
	MaxAttempts int         `json:"max_attempts" yaml:"max_attempts"`
	Backoff     BackoffKind `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	BaseDelay   Duration    `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
}

// Attempts normalizes MaxAttempts.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay computes the wait before re-dispatching a failed attempt.
// attempt is 1-based: the attempt that just failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.BaseDelay.Std()
	if base <= 0 {
		return 0
	}
	if p.Backoff == BackoffExponential {
		if attempt < 1 {
			attempt = 1
		}
		return base * (1 << (attempt - 1))
	}
	return base
}

// StepDefinition is one node of the workflow graph.
type StepDefinition struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type      string         `json:"type" yaml:"type"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Condition guards execution. Empty means always run. A false condition
	// skips the step; its dependents see the skip as satisfied.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Optional marks the step fault-tolerant: a failed dependency does not
	// block it, and its own failure does not fail the run.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`

	// Outputs declares the output keys merged into run variables on success.
	// Empty means merge every key the executor returns.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	Retry   RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout Duration    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// TriggerDefinition declares one way a workflow can be started.
type TriggerDefinition struct {
	Type   TriggerType    `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Mapping seeds input variables from the trigger payload:
	// variable name -> payload key. Empty mapping copies the payload as-is.
	Mapping map[string]string `json:"mapping,omitempty" yaml:"mapping,omitempty"`
}

// WorkflowDefinition is the immutable description of a workflow graph.
type WorkflowDefinition struct {
	ID          string              `json:"id" yaml:"id"`
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition    `json:"steps" yaml:"steps"`
	Triggers    []TriggerDefinition `json:"triggers,omitempty" yaml:"triggers,omitempty"`

	// Variables declares input variable names with default values.
	Variables map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Step returns the step definition with the given id.
func (w *WorkflowDefinition) Step(id string) (*StepDefinition, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// Trigger returns the first trigger of the given type.
func (w *WorkflowDefinition) Trigger(t TriggerType) (*TriggerDefinition, bool) {
	for i := range w.Triggers {
		if w.Triggers[i].Type == t {
			return &w.Triggers[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the definition, used to snapshot it at run
// start. The copy goes through JSON so nested config maps detach too.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	data, err := json.Marshal(w)
	if err != nil {
		// Definitions are built from JSON/YAML; marshal cannot fail on them.
		panic(fmt.Sprintf("clone workflow definition: %v", err))
	}
	var out WorkflowDefinition
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clone workflow definition: %v", err))
	}
	return &out
}

// ParseDefinition decodes a workflow definition from JSON.
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return &def, nil
}

// ParseDefinitionYAML decodes a workflow definition from YAML.
func ParseDefinitionYAML(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return &def, nil
}
