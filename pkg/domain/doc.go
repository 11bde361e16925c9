// Package domain defines the core types of the workflow execution engine:
// workflow definitions, runs, step runs, lifecycle events, execution logs
// and the error taxonomy shared by all components.
//
// Definitions are immutable once published. A Run snapshots its definition
// at start, so in-flight runs are unaffected by later edits.
package domain
