// Package dispatch provides the in-process work dispatcher: a fixed-size
// worker pool that executes ready steps submitted by run orchestrators.
//
// The pool implements ports.Dispatcher, so a distributed queue can replace
// it without touching the orchestrator.
package dispatch
