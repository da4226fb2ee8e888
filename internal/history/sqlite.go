package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bakkerme/ghsearch-feed/internal/core"
)

const (
	defaultSQLiteTable = "runs"
)

type SQLiteStore struct {
	db         *sql.DB
	table      string
	tableIdent string
}

func NewSQLiteStore(dsn string, table string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if table == "" {
		table = defaultSQLiteTable
	}
	tableIdent, err := quoteSQLiteIdentifier(table)
	if err != nil {
		return nil, err
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{
		db:         db,
		table:      table,
		tableIdent: tableIdent,
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// RecordRun upserts the run by id, so a run recorded twice keeps its latest state.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *core.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	rec := RecordFromRun(run)
	var completed interface{}
	if !rec.CompletedAt.IsZero() {
		completed = formatTime(rec.CompletedAt)
	}
	_, err := s.db.ExecContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s
			(id, query, status, trigger_type, started_at, completed_at, results, pages, total_count, stop_reason, truncated, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				completed_at = excluded.completed_at,
				results = excluded.results,
				pages = excluded.pages,
				total_count = excluded.total_count,
				stop_reason = excluded.stop_reason,
				truncated = excluded.truncated,
				error = excluded.error`, s.tableIdent),
		rec.ID,
		rec.Query,
		string(rec.Status),
		rec.TriggerType,
		formatTime(rec.StartedAt),
		completed,
		rec.Results,
		rec.Pages,
		rec.TotalCount,
		string(rec.StopReason),
		rec.Truncated,
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs for query, newest first. An empty query matches all runs.
func (s *SQLiteStore) RecentRuns(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	stmt := fmt.Sprintf(`SELECT id, query, status, trigger_type, started_at, completed_at,
		results, pages, total_count, stop_reason, truncated, error
		FROM %s WHERE (? = '' OR query = ?) ORDER BY started_at DESC, id DESC LIMIT ?`, s.tableIdent)
	rows, err := s.db.QueryContext(ctx, stmt, query, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			status     string
			stopReason string
			started    string
			completed  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Query, &status, &rec.TriggerType, &started, &completed,
			&rec.Results, &rec.Pages, &rec.TotalCount, &stopReason, &rec.Truncated, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Status = core.RunStatus(status)
		rec.StopReason = core.StopReason(stopReason)
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			if rec.CompletedAt, err = parseTime(completed.String); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	if s.table == "" {
		return fmt.Errorf("sqlite table name is required")
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_type TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		results INTEGER NOT NULL DEFAULT 0,
		pages INTEGER NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		stop_reason TEXT NOT NULL DEFAULT '',
		truncated BOOLEAN NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`, s.tableIdent)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sqlite table: %w", err)
	}
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_query_started_idx ON %s (query, started_at)", s.table, s.tableIdent)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create sqlite index: %w", err)
	}
	return nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func ensureSQLiteDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") {
		dsn = strings.TrimPrefix(dsn, "file:")
		if idx := strings.IndexRune(dsn, '?'); idx >= 0 {
			dsn = dsn[:idx]
		}
	}
	if dsn == "" || dsn == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var sqliteIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteSQLiteIdentifier(identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("sqlite table name is required")
	}
	if !sqliteIdentifierPattern.MatchString(identifier) {
		return "", fmt.Errorf("sqlite table name %q must match %s", identifier, sqliteIdentifierPattern.String())
	}
	return `"` + identifier + `"`, nil
}
