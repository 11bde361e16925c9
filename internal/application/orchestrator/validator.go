package orchestrator

import (
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"

	"github.com/flowlinehq/flowline/pkg/domain"
	"github.com/flowlinehq/flowline/pkg/ports"
)

// Validator checks workflow definitions before any run is created. It is a
// pure function over the definition: no side effects, deterministic output.
type Validator struct {
	registry ports.ExecutorRegistry
}

// NewValidator creates a validator that resolves step types against registry.
func NewValidator(registry ports.ExecutorRegistry) *Validator {
	return &Validator{registry: registry}
}

// Validate returns nil when the definition is well-formed, or a
// *domain.ValidationError listing every problem found.
func (v *Validator) Validate(def *domain.WorkflowDefinition) error {
	if def == nil {
		return &domain.ValidationError{Issues: []string{"definition is nil"}}
	}

	var issues []string
	if def.ID == "" {
		issues = append(issues, "workflow ID is required")
	}
	if len(def.Steps) == 0 {
		issues = append(issues, "workflow must have at least one step")
	}

	seen := make(map[string]bool, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.ID == "" {
			issues = append(issues, fmt.Sprintf("step %d: id is required", i))
			continue
		}
		if seen[step.ID] {
			issues = append(issues, fmt.Sprintf("duplicate step id: %s", step.ID))
		}
		seen[step.ID] = true

		if step.Type == "" {
			issues = append(issues, fmt.Sprintf("step %s: type is required", step.ID))
		} else if _, ok := v.registry.Lookup(step.Type); !ok {
			issues = append(issues, fmt.Sprintf("step %s: unknown step type %q", step.ID, step.Type))
		}
		if step.Retry.MaxAttempts < 0 {
			issues = append(issues, fmt.Sprintf("step %s: max_attempts must not be negative", step.ID))
		}
		if kind := step.Retry.Backoff; kind != "" && kind != domain.BackoffFixed && kind != domain.BackoffExponential {
			issues = append(issues, fmt.Sprintf("step %s: unknown backoff kind %q", step.ID, kind))
		}
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				issues = append(issues, fmt.Sprintf("step %s depends on itself", step.ID))
				continue
			}
			if !seen[dep] {
				issues = append(issues, fmt.Sprintf("step %s depends on unknown step %s", step.ID, dep))
			}
		}
	}

	if cyclic := findCycle(def); len(cyclic) > 0 {
		issues = append(issues, fmt.Sprintf("dependency cycle involving steps: %v", cyclic))
	}

	issues = append(issues, v.checkVariableReferences(def)...)
	issues = append(issues, checkTriggers(def)...)

	if len(issues) > 0 {
		return &domain.ValidationError{WorkflowID: def.ID, Issues: issues}
	}
	return nil
}

// findCycle runs Kahn's algorithm over the dependency relation and returns
// the step ids left with unresolved in-degree, i.e. at least the members of
// one cycle. Self-loops and unknown references are reported separately, so
// edges to unknown steps are ignored here.
func findCycle(def *domain.WorkflowDefinition) []string {
	known := make(map[string]bool, len(def.Steps))
	for i := range def.Steps {
		known[def.Steps[i].ID] = true
	}

	inDegree := make(map[string]int, len(def.Steps))
	dependents := make(map[string][]string)
	for i := range def.Steps {
		step := &def.Steps[i]
		if _, ok := inDegree[step.ID]; !ok {
			inDegree[step.ID] = 0
		}
		for _, dep := range step.DependsOn {
			if !known[dep] {
				continue
			}
			inDegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	queue := make([]string, 0, len(inDegree))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	resolved := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if resolved == len(inDegree) {
		return nil
	}

	var cyclic []string
	for id, deg := range inDegree {
		if deg > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}

// checkVariableReferences statically resolves {{name}} references in step
// configs and conditions against declared variables and the declared outputs
// of transitive dependencies. The check is best-effort: when any transitive
// dependency leaves its outputs undeclared the step's references cannot be
// decided statically and are deferred to runtime.
func (v *Validator) checkVariableReferences(def *domain.WorkflowDefinition) []string {
	declared := make(map[string]bool, len(def.Variables))
	for name := range def.Variables {
		declared[name] = true
	}

	deps := make(map[string][]string, len(def.Steps))
	outputs := make(map[string][]string, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		deps[step.ID] = step.DependsOn
		outputs[step.ID] = step.Outputs
	}

	var issues []string
	for i := range def.Steps {
		step := &def.Steps[i]
		known, decidable := reachableOutputs(step.ID, deps, outputs)
		if !decidable {
			continue
		}
		for name := range declared {
			known[name] = true
		}
		refs := collectRefs(step.Config)
		refs = append(refs, extractRefs(step.Condition)...)
		for _, ref := range refs {
			if !known[rootName(ref)] {
				issues = append(issues, fmt.Sprintf("step %s references undeclared variable %q", step.ID, ref))
			}
		}
	}
	return issues
}

// reachableOutputs collects the declared output names of every transitive
// dependency of stepID. decidable is false when some dependency declares no
// outputs, meaning its runtime output keys are unknown.
func reachableOutputs(stepID string, deps map[string][]string, outputs map[string][]string) (map[string]bool, bool) {
	known := make(map[string]bool)
	visited := make(map[string]bool)
	decidable := true

	var walk func(id string)
	walk = func(id string) {
		for _, dep := range deps[id] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if len(outputs[dep]) == 0 {
				decidable = false
			}
			for _, name := range outputs[dep] {
				known[name] = true
			}
			walk(dep)
		}
	}
	walk(stepID)
	return known, decidable
}

func collectRefs(value any) []string {
	var refs []string
	switch v := value.(type) {
	case string:
		refs = append(refs, extractRefs(v)...)
	case map[string]any:
		for _, item := range v {
			refs = append(refs, collectRefs(item)...)
		}
	case []any:
		for _, item := range v {
			refs = append(refs, collectRefs(item)...)
		}
	}
	return refs
}

func rootName(ref string) string {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i]
		}
	}
	return ref
}

func checkTriggers(def *domain.WorkflowDefinition) []string {
	var issues []string
	for i := range def.Triggers {
		trig := &def.Triggers[i]
		switch trig.Type {
		case domain.TriggerTypeWebhook, domain.TriggerTypeManual, domain.TriggerTypeEvent:
		case domain.TriggerTypeSchedule:
			expr, _ := trig.Config["cron"].(string)
			if expr == "" {
				issues = append(issues, fmt.Sprintf("trigger %d: schedule trigger requires a cron expression", i))
			} else if _, err := cron.ParseStandard(expr); err != nil {
				issues = append(issues, fmt.Sprintf("trigger %d: invalid cron expression %q: %v", i, expr, err))
			}
		default:
			issues = append(issues, fmt.Sprintf("trigger %d: unknown trigger type %q", i, trig.Type))
		}
	}
	return issues
}
