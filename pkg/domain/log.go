package domain

import "time"

// LogLevel classifies an execution log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLog is one append-only record of run activity. Entries are never
// mutated after being written.
type ExecutionLog struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
