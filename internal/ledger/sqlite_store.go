package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/webpilot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps one row per run in a local SQLite database. Actions are
// stored as a JSON column so each row stays self-contained.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations. ":memory:" is supported for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// execWithRetry retries stmt with exponential backoff while the database is locked.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save inserts or replaces the run row keyed by id.
func (s *SQLiteStore) Save(ctx context.Context, run *models.TaskRun) error {
	if run == nil || run.ID == "" {
		return errors.New("save run: missing id")
	}

	actions, err := json.Marshal(run.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	var sealedAt sql.NullTime
	if run.SealedAt != nil {
		sealedAt = sql.NullTime{Time: run.SealedAt.UTC(), Valid: true}
	}

	query := `INSERT INTO runs
		(id, created_at, command, instructions, mode, outcome, duration_ms, error, error_kind, sealed_at, actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			instructions = excluded.instructions,
			outcome = excluded.outcome,
			duration_ms = excluded.duration_ms,
			error = excluded.error,
			error_kind = excluded.error_kind,
			sealed_at = excluded.sealed_at,
			actions = excluded.actions`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.CreatedAt.UTC(),
		run.Command,
		run.Instructions,
		string(run.Mode),
		string(run.Outcome),
		run.Duration.Milliseconds(),
		run.Error,
		string(run.ErrorKind),
		sealedAt,
		string(actions),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, created_at, command, instructions, mode, outcome, duration_ms, error, error_kind, sealed_at, actions`

// Get loads one run by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.TaskRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// List returns runs newest first, filtered by opts.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*models.TaskRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var where []string
	var args []interface{}
	if opts.Command != "" {
		where = append(where, "command = ?")
		args = append(args, opts.Command)
	}
	if opts.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(opts.Outcome))
	}
	if opts.SealedOnly {
		where = append(where, "sealed_at IS NOT NULL")
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.TaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Clear deletes every run and returns how many were removed.
func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.TaskRun, error) {
	var (
		run          models.TaskRun
		mode         string
		outcome      string
		durationMs   int64
		instructions sql.NullString
		errText      sql.NullString
		errKind      sql.NullString
		sealedAt     sql.NullTime
		actionsJSON  string
	)

	if err := row.Scan(&run.ID, &run.CreatedAt, &run.Command, &instructions, &mode, &outcome,
		&durationMs, &errText, &errKind, &sealedAt, &actionsJSON); err != nil {
		return nil, err
	}

	run.Instructions = instructions.String
	run.Mode = models.ExecutionMode(mode)
	run.Outcome = models.Outcome(outcome)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	run.Error = errText.String
	run.ErrorKind = models.ErrorKind(errKind.String)
	if sealedAt.Valid {
		t := sealedAt.Time
		run.SealedAt = &t
	}
	if err := json.Unmarshal([]byte(actionsJSON), &run.Actions); err != nil {
		return nil, fmt.Errorf("decode actions for %s: %w", run.ID, err)
	}
	if run.Actions == nil {
		run.Actions = []models.ActionRecord{}
	}
	return &run, nil
}
