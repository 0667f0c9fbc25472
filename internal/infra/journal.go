package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/MagicbornStudios/forge-agent-sub001/internal/config"
	"github.com/MagicbornStudios/forge-agent-sub001/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const journalDBName = "reclaim-journal.db"

const (
	outcomeStopped = "stopped"
	outcomeFailed  = "failed"
)

// SQLCipherJournal implements domain.ReclaimJournal with an encrypted SQLite database.
type SQLCipherJournal struct {
	db     *sql.DB
	dbPath string
	retain int
	now    func() time.Time
}

// NewSQLCipherJournal opens (or creates) the journal in dataDir keyed by key.
// Only the newest retain runs are kept.
func NewSQLCipherJournal(dataDir string, key []byte, retain int) (*SQLCipherJournal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, journalDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	// A wrong key only surfaces on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	if retain < 1 {
		retain = 1
	}
	j := &SQLCipherJournal{db: db, dbPath: dbPath, retain: retain, now: time.Now}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal tables: %w", err)
	}
	return j, nil
}

func (j *SQLCipherJournal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reclaim_runs (
		run_id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		executed_at INTEGER NOT NULL,
		ok INTEGER NOT NULL,
		message TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS reclaim_targets (
		run_id TEXT NOT NULL,
		pid INTEGER NOT NULL,
		name TEXT NOT NULL,
		reason TEXT NOT NULL,
		outcome TEXT NOT NULL,
		PRIMARY KEY (run_id, pid)
	);

	CREATE INDEX IF NOT EXISTS idx_reclaim_runs_executed ON reclaim_runs(executed_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (j *SQLCipherJournal) Path() string {
	return j.dbPath
}

// Record stores one executed run and prunes runs beyond the retention limit.
func (j *SQLCipherJournal) Record(ctx context.Context, plan *domain.ReclaimPlan, result *domain.ReclaimResult) (string, error) {
	if plan == nil || result == nil {
		return "", domain.ErrInvalidPlan
	}

	runID := uuid.NewString()
	executedAt := result.ExecutedAt
	if executedAt.IsZero() {
		executedAt = j.now()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reclaim_runs (run_id, scope, executed_at, ok, message) VALUES (?, ?, ?, ?, ?)`,
		runID, string(plan.Scope), executedAt.UnixNano(), boolToInt(result.OK), result.Message,
	); err != nil {
		return "", fmt.Errorf("failed to insert reclaim run: %w", err)
	}

	insert := `INSERT OR REPLACE INTO reclaim_targets (run_id, pid, name, reason, outcome) VALUES (?, ?, ?, ?, ?)`
	for _, s := range result.Stopped {
		if _, err := tx.ExecContext(ctx, insert, runID, s.PID, s.Name, s.Reason, outcomeStopped); err != nil {
			return "", fmt.Errorf("failed to insert reclaim target: %w", err)
		}
	}
	for _, f := range result.Failed {
		if _, err := tx.ExecContext(ctx, insert, runID, f.PID, f.Name, f.Reason, outcomeFailed); err != nil {
			return "", fmt.Errorf("failed to insert reclaim target: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM reclaim_runs WHERE run_id NOT IN (
			SELECT run_id FROM reclaim_runs ORDER BY executed_at DESC, rowid DESC LIMIT ?
		)`, j.retain); err != nil {
		return "", fmt.Errorf("failed to prune journal: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reclaim_targets WHERE run_id NOT IN (SELECT run_id FROM reclaim_runs)`,
	); err != nil {
		return "", fmt.Errorf("failed to prune journal targets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit journal entry: %w", err)
	}
	return runID, nil
}

// Recent returns up to limit runs, newest first, with their targets in pid order.
func (j *SQLCipherJournal) Recent(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit < 1 {
		limit = 1
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, scope, executed_at, ok, message FROM reclaim_runs
		ORDER BY executed_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e     domain.JournalEntry
			scope string
			at    int64
			ok    int
		)
		if err := rows.Scan(&e.RunID, &scope, &at, &ok, &e.Message); err != nil {
			rows.Close()
			return nil, err
		}
		e.Scope = domain.Scope(scope)
		e.ExecutedAt = time.Unix(0, at)
		e.OK = ok != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range entries {
		targets, err := j.targets(ctx, entries[i].RunID)
		if err != nil {
			return nil, err
		}
		entries[i].Targets = targets
	}
	return entries, nil
}

func (j *SQLCipherJournal) targets(ctx context.Context, runID string) ([]domain.JournalTarget, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT pid, name, reason, outcome FROM reclaim_targets WHERE run_id = ? ORDER BY pid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []domain.JournalTarget
	for rows.Next() {
		var t domain.JournalTarget
		if err := rows.Scan(&t.PID, &t.Name, &t.Reason, &t.Outcome); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// Close releases the database connection.
func (j *SQLCipherJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NopJournal discards everything. Used when the journal is disabled.
type NopJournal struct{}

func (NopJournal) Record(context.Context, *domain.ReclaimPlan, *domain.ReclaimResult) (string, error) {
	return "", nil
}

func (NopJournal) Recent(context.Context, int) ([]domain.JournalEntry, error) {
	return nil, nil
}

func (NopJournal) Close() error { return nil }

// OpenJournal opens the workspace journal, creating its key on first use.
// A disabled journal yields NopJournal.
func OpenJournal(layout *Layout, cfg config.Config, logger *zap.Logger) (domain.ReclaimJournal, error) {
	if !cfg.Journal.Enabled {
		return NopJournal{}, nil
	}
	key, err := EnsureKey(NewFileKeyProvider(layout.JournalDir))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare journal key: %w", err)
	}
	j, err := NewSQLCipherJournal(layout.JournalDir, key, cfg.Journal.Retain)
	if err != nil {
		return nil, err
	}
	logger.Debug("journal opened", zap.String("path", j.Path()), zap.Int("retain", cfg.Journal.Retain))
	return j, nil
}

// Ensure both journals implement domain.ReclaimJournal.
var (
	_ domain.ReclaimJournal = (*SQLCipherJournal)(nil)
	_ domain.ReclaimJournal = NopJournal{}
)
