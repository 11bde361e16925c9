// Package orchestrator contains the workflow execution core: definition
// validation, condition evaluation and the per-run state machine.
//
// Each run is driven by a single runner goroutine that owns all mutation of
// that run's state. Step work is handed to the dispatcher and results come
// back over a channel, so the hot path needs no locks. Retries are scheduled
// with per-step wake times instead of sleeping workers, and failure
// propagation, optional steps and cooperative cancellation are all resolved
// inside the runner's advance pass.
package orchestrator
