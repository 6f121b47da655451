package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard-sub001/internal/ports"
)

// Journal implements the ports.ExecutionJournal interface using SQLite. The
// ledger stays authoritative for position state; the journal is the local
// audit trail of what the engine dispatched and alerted.
type Journal struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite journal.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewJournal creates a new SQLite journal instance.
func NewJournal(cfg Config) (*Journal, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite journal")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/guard.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{db: db, logger: cfg.Logger}
	if err := j.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize journal schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Journal database ready", map[string]interface{}{"path": dbPath})
	return j, nil
}

func (j *Journal) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS dispatches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		target_id INTEGER NOT NULL,
		reason TEXT NOT NULL,
		submission_id TEXT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		detail TEXT NULL,
		resolved_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		raised_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dispatches_target ON dispatches (target, target_id);
	CREATE INDEX IF NOT EXISTS idx_dispatches_resolved_at ON dispatches (resolved_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_kind_raised_at ON alerts (kind, raised_at);
	`
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: schema initialization: %v", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		j.logger.Info(context.Background(), "Closing journal database connection")
		return j.db.Close()
	}
	return nil
}

// RecordDispatch saves a resolved dispatch outcome and returns its ID.
func (j *Journal) RecordDispatch(ctx context.Context, rec *domain.DispatchRecord) (int64, error) {
	const query = `
	INSERT INTO dispatches (target, target_id, reason, submission_id, outcome, attempts, detail, resolved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := j.db.ExecContext(ctx, query,
		string(rec.Target), rec.TargetID, string(rec.Reason), rec.SubmissionID,
		string(rec.Outcome), rec.Attempts, rec.Detail, rec.ResolvedAt)
	if err != nil {
		return 0, fmt.Errorf("%w: insert dispatch for %s %d: %v", ports.ErrQueryFailed, rec.Target, rec.TargetID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert ID for dispatch: %v", ports.ErrQueryFailed, err)
	}
	rec.ID = id
	j.logger.Debug(ctx, "Dispatch recorded", map[string]interface{}{
		"dispatchID": id, "target": rec.Target, "targetID": rec.TargetID, "outcome": rec.Outcome,
	})
	return id, nil
}

// RecordAlert saves a raised alert.
func (j *Journal) RecordAlert(ctx context.Context, kind ports.AlertKind, payload string, at time.Time) error {
	const query = `INSERT INTO alerts (kind, payload, raised_at) VALUES (?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, query, string(kind), payload, at); err != nil {
		return fmt.Errorf("%w: insert alert %s: %v", ports.ErrQueryFailed, kind, err)
	}
	return nil
}

// RecentDispatches returns the most recent dispatch records, newest first.
func (j *Journal) RecentDispatches(ctx context.Context, limit int) ([]*domain.DispatchRecord, error) {
	const query = `
	SELECT id, target, target_id, reason, COALESCE(submission_id, ''), outcome, attempts, COALESCE(detail, ''), resolved_at
	FROM dispatches
	ORDER BY resolved_at DESC, id DESC
	LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent dispatches: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []*domain.DispatchRecord
	for rows.Next() {
		var rec domain.DispatchRecord
		var target, reason, outcome string
		if err := rows.Scan(&rec.ID, &target, &rec.TargetID, &reason, &rec.SubmissionID,
			&outcome, &rec.Attempts, &rec.Detail, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("%w: scan dispatch row: %v", ports.ErrQueryFailed, err)
		}
		rec.Target = domain.DispatchTarget(target)
		rec.Reason = domain.TriggerReason(reason)
		rec.Outcome = domain.DispatchOutcome(outcome)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate dispatch rows: %v", ports.ErrQueryFailed, err)
	}
	return out, nil
}
