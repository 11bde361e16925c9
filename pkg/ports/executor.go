package ports

import "context"

// Executor performs the actual work of one step type. Config is the step's
// static configuration with variable references already interpolated; inputs
// are the run's variable bindings merged with dependency outputs. The
// returned map becomes the step's output.
//
// Executors must honor ctx cancellation: per-step timeouts and cooperative
// run cancellation arrive through it.
type Executor interface {
	Type() string
	Execute(ctx context.Context, config map[string]any, inputs map[string]any) (map[string]any, error)
}

// ExecutorRegistry resolves a step type string to its executor. Unknown
// types are a definition-validation error, never a runtime surprise.
type ExecutorRegistry interface {
	Lookup(stepType string) (Executor, bool)
	Types() []string
}
