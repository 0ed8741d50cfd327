package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/script"
)

// Repository defines the interface for program persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Program CRUD
	GetByID(ctx context.Context, id string) (*Program, error)
	GetByName(ctx context.Context, name string) (*Program, error)
	List(ctx context.Context) ([]Program, error)
	Create(ctx context.Context, p *Program) error
	Update(ctx context.Context, p *Program) error
	Delete(ctx context.Context, id string) error
	SetLastError(ctx context.Context, id string, lastError *string) error

	// Run logging
	CreateRun(ctx context.Context, run *ProgramRun) error
	ListRuns(ctx context.Context, programID string, limit int) ([]ProgramRun, error)
}

// programColumns is the SELECT column list for program queries.
const programColumns = `id, name, description, setup_text, run_text, enabled, run_interval,
			last_error, created_at, updated_at`

// runColumns is the SELECT column list for run queries.
const runColumns = `id, program_id, triggered_by, entry, outcome, failure, error, started_at, duration_ms`

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a program by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Program, error) {
	query := `SELECT ` + programColumns + ` FROM programs WHERE id = ?`

	p, err := scanProgram(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, fmt.Errorf("querying program by id: %w", err)
	}
	return p, nil
}

// GetByName retrieves a program by its unique name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Program, error) {
	query := `SELECT ` + programColumns + ` FROM programs WHERE name = ?`

	p, err := scanProgram(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, fmt.Errorf("querying program by name: %w", err)
	}
	return p, nil
}

// List retrieves all programs ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Program, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+programColumns+` FROM programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying programs: %w", err)
	}
	defer rows.Close()

	var programs []Program
	for rows.Next() {
		p, scanErr := scanProgram(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning program: %w", scanErr)
		}
		programs = append(programs, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating programs: %w", err)
	}
	return programs, nil
}

// Create inserts a new program.
func (r *SQLiteRepository) Create(ctx context.Context, p *Program) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO programs (
			id, name, description, setup_text, run_text, enabled, run_interval,
			last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		nullableString(p.Description),
		p.SetupText,
		p.RunText,
		boolToInt(p.Enabled),
		p.RunInterval,
		nullableString(p.LastError),
		p.CreatedAt.UTC().Format(timeFormat),
		p.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrProgramExists
		}
		return fmt.Errorf("inserting program: %w", err)
	}
	return nil
}

// Update modifies an existing program. LastError is left untouched; use
// SetLastError.
func (r *SQLiteRepository) Update(ctx context.Context, p *Program) error {
	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE programs SET
			name = ?, description = ?, setup_text = ?, run_text = ?,
			enabled = ?, run_interval = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		p.Name,
		nullableString(p.Description),
		p.SetupText,
		p.RunText,
		boolToInt(p.Enabled),
		p.RunInterval,
		p.UpdatedAt.Format(timeFormat),
		p.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrProgramExists
		}
		return fmt.Errorf("updating program: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a program and, by cascade, its run log.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM programs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return expectOneRow(result)
}

// SetLastError records (or clears, with nil) the program's last error.
func (r *SQLiteRepository) SetLastError(ctx context.Context, id string, lastError *string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE programs SET last_error = ? WHERE id = ?",
		nullableString(lastError), id)
	if err != nil {
		return fmt.Errorf("setting last error: %w", err)
	}
	return expectOneRow(result)
}

// CreateRun inserts a run log entry.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *ProgramRun) error {
	query := `INSERT INTO program_runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.ProgramID,
		string(run.Trigger),
		string(run.Entry),
		string(run.Outcome),
		nullableString(ptr(string(run.Failure))),
		nullableString(ptr(run.Error)),
		run.StartedAt.UTC().Format(timeFormat),
		run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// ListRuns retrieves the most recent runs of a program, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, programID string, limit int) ([]ProgramRun, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT ` + runColumns + `
		FROM program_runs
		WHERE program_id = ?
		ORDER BY started_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, programID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []ProgramRun
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(scanner rowScanner) (*Program, error) {
	var p Program
	var description, lastError sql.NullString
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Name,
		&description,
		&p.SetupText,
		&p.RunText,
		&enabled,
		&p.RunInterval,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		p.Description = &description.String
	}
	if lastError.Valid {
		p.LastError = &lastError.String
	}
	p.Enabled = enabled != 0

	if t, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
		p.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, updatedAt); parseErr == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

func scanRun(scanner rowScanner) (*ProgramRun, error) {
	var run ProgramRun
	var trigger, entry, outcome, startedAt string
	var failure, errMsg sql.NullString

	err := scanner.Scan(
		&run.ID,
		&run.ProgramID,
		&trigger,
		&entry,
		&outcome,
		&failure,
		&errMsg,
		&startedAt,
		&run.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	run.Trigger = Trigger(trigger)
	run.Entry = Entry(entry)
	run.Outcome = script.Outcome(outcome)
	run.Failure = script.FailureKind(failure.String)
	run.Error = errMsg.String
	if t, parseErr := time.Parse(time.RFC3339Nano, startedAt); parseErr == nil {
		run.StartedAt = t
	}
	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func expectOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrProgramNotFound
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptr(s string) *string {
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
