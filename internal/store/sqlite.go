package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/seantiz/xxfunc/internal/model"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS modules (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL UNIQUE,
    binary     BLOB NOT NULL,
    created_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS module_states (
    module_id INTEGER PRIMARY KEY,
    state     TEXT NOT NULL,
    FOREIGN KEY(module_id) REFERENCES modules(id)
)`,
	`CREATE TABLE IF NOT EXISTS executions (
    id              TEXT PRIMARY KEY,
    module_id       INTEGER NOT NULL,
    module_name     TEXT NOT NULL,
    notification_id TEXT NOT NULL,
    status          TEXT NOT NULL,
    exit_code       INTEGER,
    error           TEXT,
    duration_ms     INTEGER,
    created_at      DATETIME NOT NULL,
    started_at      DATETIME,
    finished_at     DATETIME
)`,
	`CREATE INDEX IF NOT EXISTS idx_module_states_state ON module_states(state)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
}

var moduleColumns = []string{
	"m.id", "m.name", "s.state", "length(m.binary)", "m.created_at",
}

var executionColumns = []string{
	"id", "module_id", "module_name", "notification_id", "status",
	"exit_code", "error", "duration_ms", "created_at", "started_at", "finished_at",
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// Existing data is kept.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is its own database; a single
	// connection also serializes writers without relying on busy retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertModule stores a new module together with its initial Stopped state
// and returns the generated id.
func (s *SQLiteStore) InsertModule(ctx context.Context, name string, binary []byte) (int64, error) {
	if name == "" {
		return 0, errors.New("module name is required")
	}
	if binary == nil {
		binary = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Insert("modules").
		Columns("name", "binary", "created_at").
		Values(name, binary, time.Now().UTC()).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("module %q: %w", name, ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert module: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("module id: %w", err)
	}

	query, args, err = sq.Insert("module_states").
		Columns("module_id", "state").
		Values(id, model.StateStopped.String()).
		ToSql()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("insert module state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit module: %w", err)
	}
	return id, nil
}

// GetModuleBinary returns the stored binary of the module with the given id.
func (s *SQLiteStore) GetModuleBinary(ctx context.Context, id int64) ([]byte, error) {
	query, args, err := sq.Select("binary").From("modules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	var binary []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&binary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get module binary: %w", err)
	}
	if binary == nil {
		binary = []byte{}
	}
	return binary, nil
}

func selectModules() sq.SelectBuilder {
	return sq.Select(moduleColumns...).
		From("modules m").
		Join("module_states s ON s.module_id = m.id")
}

// GetModule returns the metadata of the module with the given id.
func (s *SQLiteStore) GetModule(ctx context.Context, id int64) (*model.Module, error) {
	return s.getModule(ctx, sq.Eq{"m.id": id})
}

// GetModuleByName returns the metadata of the named module.
func (s *SQLiteStore) GetModuleByName(ctx context.Context, name string) (*model.Module, error) {
	return s.getModule(ctx, sq.Eq{"m.name": name})
}

func (s *SQLiteStore) getModule(ctx context.Context, pred sq.Eq) (*model.Module, error) {
	query, args, err := selectModules().Where(pred).ToSql()
	if err != nil {
		return nil, err
	}

	m, err := scanModule(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get module: %w", err)
	}
	return m, nil
}

// ListModules returns modules ordered by id. An empty state lists all of them.
func (s *SQLiteStore) ListModules(ctx context.Context, state model.ModuleState) ([]*model.Module, error) {
	builder := selectModules().OrderBy("m.id")
	if state != "" {
		builder = builder.Where(sq.Eq{"s.state": state.String()})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()

	modules := []*model.Module{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modules: %w", err)
	}
	return modules, nil
}

// DeleteModule removes the named module and its state row in one transaction.
func (s *SQLiteStore) DeleteModule(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Select("id").From("modules").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return err
	}
	var id int64
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup module: %w", err)
	}

	query, args, err = sq.Delete("module_states").Where(sq.Eq{"module_id": id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete module state: %w", err)
	}

	query, args, err = sq.Delete("modules").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete module: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// SetModuleState updates the state of the named module.
func (s *SQLiteStore) SetModuleState(ctx context.Context, name string, state model.ModuleState) error {
	if _, err := model.ParseModuleState(state.String()); err != nil {
		return err
	}

	query, args, err := sq.Update("module_states").
		Set("state", state.String()).
		Where(sq.Expr("module_id = (SELECT id FROM modules WHERE name = ?)", name)).
		ToSql()
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update module state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListModuleIDsByState returns the ids of all modules currently in state,
// in ascending order.
func (s *SQLiteStore) ListModuleIDsByState(ctx context.Context, state model.ModuleState) ([]int64, error) {
	query, args, err := sq.Select("module_id").
		From("module_states").
		Where(sq.Eq{"state": state.String()}).
		OrderBy("module_id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list module ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan module id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module ids: %w", err)
	}
	return ids, nil
}

// CreateExecution inserts a new execution record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	query, args, err := sq.Insert("executions").
		Columns(executionColumns...).
		Values(
			e.ID, e.ModuleID, e.ModuleName, e.NotificationID, e.Status,
			e.ExitCode, nullString(e.Error), e.DurationMS, e.CreatedAt, e.StartedAt, e.FinishedAt,
		).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	return getExecution(ctx, s.db, id)
}

// ListExecutions returns a paginated list of executions ordered by
// created_at DESC, along with the total count of all executions.
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	query, args, err := sq.Select(executionColumns...).
		From("executions").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(max(limit, 0))).
		Offset(uint64(max(offset, 0))).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	executions := []*model.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return executions, total, nil
}

// UpdateExecutionStatus moves an execution to status. Moving to running sets
// started_at; terminal statuses set finished_at.
func (s *SQLiteStore) UpdateExecutionStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTransition(ctx, tx, id, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	builder := sq.Update("executions").Set("status", status).Where(sq.Eq{"id": id})
	switch {
	case status == model.StatusRunning:
		builder = builder.Set("started_at", now)
	case model.IsTerminal(status):
		builder = builder.Set("finished_at", now)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}

	return tx.Commit()
}

// FinishExecution writes the terminal status, exit code, error and duration
// of e. FinishedAt defaults to now.
func (s *SQLiteStore) FinishExecution(ctx context.Context, e *model.Execution) error {
	if !model.IsTerminal(e.Status) {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, e.Status)
	}
	if e.FinishedAt == nil {
		now := time.Now().UTC()
		e.FinishedAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTransition(ctx, tx, e.ID, e.Status); err != nil {
		return err
	}

	query, args, err := sq.Update("executions").
		SetMap(map[string]any{
			"status":      e.Status,
			"exit_code":   e.ExitCode,
			"error":       nullString(e.Error),
			"duration_ms": e.DurationMS,
			"finished_at": e.FinishedAt,
		}).
		Where(sq.Eq{"id": e.ID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}

	return tx.Commit()
}

// GetExecutionStats returns aggregate statistics across all executions.
func (s *SQLiteStore) GetExecutionStats(ctx context.Context) (*ExecutionStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &ExecutionStats{CountByStatus: map[string]int{}}

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM executions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	rows.Close()

	var avg sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM executions WHERE duration_ms IS NOT NULL",
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanModule(row rowScanner) (*model.Module, error) {
	m := &model.Module{}
	var state string
	if err := row.Scan(&m.ID, &m.Name, &state, &m.Size, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.State = model.ModuleState(state)
	return m, nil
}

func scanExecution(row rowScanner) (*model.Execution, error) {
	e := &model.Execution{}
	var errMsg sql.NullString
	if err := row.Scan(
		&e.ID, &e.ModuleID, &e.ModuleName, &e.NotificationID, &e.Status,
		&e.ExitCode, &errMsg, &e.DurationMS, &e.CreatedAt, &e.StartedAt, &e.FinishedAt,
	); err != nil {
		return nil, err
	}
	e.Error = errMsg.String
	return e, nil
}

func getExecution(ctx context.Context, q queryRower, id string) (*model.Execution, error) {
	query, args, err := sq.Select(executionColumns...).
		From("executions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	e, err := scanExecution(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// checkTransition loads the current status of execution id inside tx and
// rejects moves the state machine does not allow.
func checkTransition(ctx context.Context, tx *sql.Tx, id, to string) error {
	var from string
	err := tx.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = ?", id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load execution status: %w", err)
	}
	if !model.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
