// Package sqlite provides a durable Repository backed by SQLite. It is the
// default single-node store: transactional, with conditional status updates
// enforced in SQL so concurrent workers cannot clobber each other.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/flowlinehq/flowline/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	definition  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	workflow_id   TEXT NOT NULL,
	definition    TEXT NOT NULL,
	status        TEXT NOT NULL,
	trigger_type  TEXT NOT NULL DEFAULT '',
	input         TEXT NOT NULL DEFAULT '{}',
	variables     TEXT NOT NULL DEFAULT '{}',
	error         TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	started_at    TEXT,
	completed_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id, created_at);
CREATE TABLE IF NOT EXISTS step_runs (
	run_id        TEXT NOT NULL,
	step_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	attempt       INTEGER NOT NULL DEFAULT 0,
	output        TEXT,
	last_error    TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL DEFAULT '',
	started_at    TEXT,
	completed_at  TEXT,
	PRIMARY KEY (run_id, step_id)
);
CREATE TABLE IF NOT EXISTS execution_logs (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	step_id     TEXT NOT NULL DEFAULT '',
	level       TEXT NOT NULL,
	message     TEXT NOT NULL,
	metadata    TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_run ON execution_logs(run_id, created_at);
`

// Repository implements ports.Repository on a SQLite database.
type Repository struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serialized access: runner goroutines of different runs share the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error { return r.db.Close() }

// SaveDefinition upserts a workflow definition.
func (r *Repository) SaveDefinition(ctx context.Context, def *domain.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, definition, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET definition = excluded.definition, updated_at = excluded.updated_at`,
		def.ID, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save definition: %w", err)
	}
	return nil
}

// LoadDefinition loads a workflow definition by id.
func (r *Repository) LoadDefinition(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT definition FROM workflows WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("definition %s: %w", id, domain.ErrWorkflowNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}
	var def domain.WorkflowDefinition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return &def, nil
}

// CreateRun inserts the run and its step rows in one transaction.
func (r *Repository) CreateRun(ctx context.Context, run *domain.Run) error {
	defData, err := json.Marshal(run.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition snapshot: %w", err)
	}
	input, err := json.Marshal(orEmpty(run.Input))
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	vars, err := json.Marshal(orEmpty(run.Variables))
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, definition, status, trigger_type, input, variables, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?)`,
		run.ID, run.WorkflowID, string(defData), string(run.Status), string(run.TriggerType),
		string(input), string(vars), run.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for stepID, sr := range run.Steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_runs (run_id, step_id, status, attempt) VALUES (?, ?, ?, ?)`,
			run.ID, stepID, string(sr.Status), sr.Attempt)
		if err != nil {
			return fmt.Errorf("insert step run %s: %w", stepID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun loads the run with its step rows.
func (r *Repository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, definition, status, trigger_type, input, variables, error, created_at, started_at, completed_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadSteps(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs for a workflow, most recent first, without step rows.
func (r *Repository) ListRuns(ctx context.Context, workflowID string) ([]*domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, definition, status, trigger_type, input, variables, error, created_at, started_at, completed_at
		FROM runs WHERE workflow_id = ? ORDER BY created_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateRunStatus transitions the run iff the stored status matches expected.
func (r *Repository) UpdateRunStatus(ctx context.Context, runID string, expected, next domain.RunStatus, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			error = CASE WHEN ? != '' THEN ? ELSE error END,
			started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN ? ELSE started_at END,
			completed_at = CASE WHEN ? IN ('completed','failed','cancelled') THEN ? ELSE completed_at END
		WHERE id = ? AND status = ?`,
		string(next), errMsg, errMsg, string(next), now, string(next), now, runID, string(expected))
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return checkAffected(res, runID, "", expected)
}

// UpdateStepRun applies a conditional step transition.
func (r *Repository) UpdateStepRun(ctx context.Context, runID, stepID string, expected domain.StepStatus, update domain.StepUpdate) error {
	var output any
	if update.Output != nil {
		data, err := json.Marshal(update.Output)
		if err != nil {
			return fmt.Errorf("marshal step output: %w", err)
		}
		output = string(data)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE step_runs SET
			status = ?,
			attempt = CASE WHEN ? > 0 THEN ? ELSE attempt END,
			output = COALESCE(?, output),
			last_error = CASE WHEN ? != '' THEN ? ELSE last_error END,
			reason = CASE WHEN ? != '' THEN ? ELSE reason END,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at)
		WHERE run_id = ? AND step_id = ? AND status = ?`,
		string(update.Status), update.Attempt, update.Attempt, output,
		update.Error, update.Error, update.Reason, update.Reason,
		fmtTime(update.StartedAt), fmtTime(update.CompletedAt),
		runID, stepID, string(expected))
	if err != nil {
		return fmt.Errorf("update step run: %w", err)
	}
	return checkAffected(res, runID, stepID, expected)
}

// MergeVariables folds vars into the run's variable bindings within a
// transaction. Per-run calls arrive from a single runner goroutine.
func (r *Repository) MergeVariables(ctx context.Context, runID string, vars map[string]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT variables FROM runs WHERE id = ?`, runID).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	if err != nil {
		return fmt.Errorf("read variables: %w", err)
	}
	current := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("decode variables: %w", err)
		}
	}
	for k, v := range vars {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET variables = ? WHERE id = ?`, string(merged), runID); err != nil {
		return fmt.Errorf("write variables: %w", err)
	}
	return tx.Commit()
}

// AppendLog inserts an execution log row.
func (r *Repository) AppendLog(ctx context.Context, entry *domain.ExecutionLog) error {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var meta any
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal log metadata: %w", err)
		}
		meta = string(data)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (id, run_id, step_id, level, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, entry.RunID, entry.StepID, string(entry.Level), entry.Message, meta,
		createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogs returns log entries for a run in append order.
func (r *Repository) ListLogs(ctx context.Context, runID string) ([]*domain.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, level, message, metadata, created_at
		FROM execution_logs WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()
	var out []*domain.ExecutionLog
	for rows.Next() {
		var e domain.ExecutionLog
		var level, created string
		var meta sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.StepID, &level, &e.Message, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Level = domain.LogLevel(level)
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode log metadata: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *Repository) loadSteps(ctx context.Context, run *domain.Run) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT step_id, status, attempt, output, last_error, reason, started_at, completed_at
		FROM step_runs WHERE run_id = ?`, run.ID)
	if err != nil {
		return fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()
	run.Steps = make(map[string]*domain.StepRun)
	for rows.Next() {
		var sr domain.StepRun
		var status string
		var output, started, completed sql.NullString
		if err := rows.Scan(&sr.StepID, &status, &sr.Attempt, &output, &sr.LastError, &sr.Reason, &started, &completed); err != nil {
			return fmt.Errorf("scan step run: %w", err)
		}
		sr.Status = domain.StepStatus(status)
		if output.Valid {
			if err := json.Unmarshal([]byte(output.String), &sr.Output); err != nil {
				return fmt.Errorf("decode step output: %w", err)
			}
		}
		sr.StartedAt = parseTime(started)
		sr.CompletedAt = parseTime(completed)
		run.Steps[sr.StepID] = &sr
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var defData, status, trigger, input, vars, created string
	var started, completed sql.NullString
	err := row.Scan(&run.ID, &run.WorkflowID, &defData, &status, &trigger, &input, &vars, &run.Error, &created, &started, &completed)
	if err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.TriggerType = domain.TriggerType(trigger)
	if err := json.Unmarshal([]byte(defData), &run.Definition); err != nil {
		return nil, fmt.Errorf("decode definition snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(input), &run.Input); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if err := json.Unmarshal([]byte(vars), &run.Variables); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		run.CreatedAt = t
	}
	run.StartedAt = parseTime(started)
	run.CompletedAt = parseTime(completed)
	return &run, nil
}

func checkAffected(res sql.Result, runID, stepID string, expected any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if stepID != "" {
			return fmt.Errorf("run %s step %s: expected status %v: %w", runID, stepID, expected, domain.ErrStoreConflict)
		}
		return fmt.Errorf("run %s: expected status %v: %w", runID, expected, domain.ErrStoreConflict)
	}
	return nil
}

func fmtTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
