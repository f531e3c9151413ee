package automation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"
)

// HistoryStore mirrors execution records into a durable store so operators
// can query past runs after a restart. The in-memory ring stays the source
// the admin API serves; the store is written best-effort after each run.
type HistoryStore interface {
	Save(ctx context.Context, automation string, rec ExecutionRecord) error
	Recent(ctx context.Context, automation string, limit int) ([]ExecutionRecord, error)
	Close() error
}

const historySchema = `
CREATE TABLE IF NOT EXISTS automation_runs (
    id          %s,
    automation  TEXT NOT NULL,
    at          TEXT NOT NULL,
    ok          INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_automation_runs_name ON automation_runs(automation, at);
`

// dbHistory is a HistoryStore over database/sql, shared by the sqlite and
// postgres backends; the DSN, id column DDL, and placeholder style differ.
type dbHistory struct {
	db        *sql.DB
	insertSQL string
	selectSQL string
}

const (
	insertSQLite   = "INSERT INTO automation_runs (automation, at, ok, duration_ms, error) VALUES (?, ?, ?, ?, ?)"
	selectSQLite   = "SELECT at, ok, duration_ms, error FROM automation_runs WHERE automation = ? ORDER BY at DESC LIMIT ?"
	insertPostgres = "INSERT INTO automation_runs (automation, at, ok, duration_ms, error) VALUES ($1, $2, $3, $4, $5)"
	selectPostgres = "SELECT at, ok, duration_ms, error FROM automation_runs WHERE automation = $1 ORDER BY at DESC LIMIT $2"
)

// OpenSQLiteHistory opens (creating if necessary) the SQLite-backed history
// database at path.
func OpenSQLiteHistory(path string) (HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf(historySchema, "INTEGER PRIMARY KEY AUTOINCREMENT")); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &dbHistory{db: db, insertSQL: insertSQLite, selectSQL: selectSQLite}, nil
}

// PostgresConfig holds the connection settings for a Postgres-backed
// history store. Zero fields fall back to the conventional defaults.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// OpenPostgresHistory connects to Postgres and ensures the history schema.
func OpenPostgresHistory(cfg PostgresConfig) (HistoryStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.Database == "" {
		cfg.Database = "openpalm"
	}
	if cfg.User == "" {
		cfg.User = "postgres"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(historySchema, "BIGSERIAL PRIMARY KEY")); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &dbHistory{db: db, insertSQL: insertPostgres, selectSQL: selectPostgres}, nil
}

func (h *dbHistory) Save(ctx context.Context, automation string, rec ExecutionRecord) error {
	okInt := 0
	if rec.OK {
		okInt = 1
	}
	_, err := h.db.ExecContext(ctx, h.insertSQL,
		automation, rec.At.UTC().Format(time.RFC3339Nano), okInt, rec.DurationMs, rec.Error)
	if err != nil {
		return fmt.Errorf("insert automation run: %w", err)
	}
	return nil
}

func (h *dbHistory) Recent(ctx context.Context, automation string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = executionLogCap
	}
	rows, err := h.db.QueryContext(ctx, h.selectSQL, automation, limit)
	if err != nil {
		return nil, fmt.Errorf("query automation runs: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var at string
		var okInt int
		var rec ExecutionRecord
		if err := rows.Scan(&at, &okInt, &rec.DurationMs, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan automation run: %w", err)
		}
		rec.OK = okInt == 1
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	// Newest-first from the query; callers expect newest-last like the ring.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (h *dbHistory) Close() error {
	return h.db.Close()
}
