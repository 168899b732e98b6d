package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStore is the canonical Store backing, connected with sqlx and
// lib/pq.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// PostgresConfig controls connection pool sizing.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns sane production pool sizing defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// NewPostgresStore opens a connection to dsn and creates the steps/workflows
// tables if they do not already exist.
func NewPostgresStore(dsn string, cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &PostgresStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS steps (
	workflow_id   TEXT NOT NULL,
	step_key      TEXT NOT NULL,
	step_name     TEXT NOT NULL,
	sequence_id   BIGINT NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('RUNNING','COMPLETED','FAILED')),
	output        TEXT,
	error         TEXT,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	next_retry_at BIGINT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workflow_id, step_key)
);
CREATE TABLE IF NOT EXISTS workflows (
	workflow_id TEXT PRIMARY KEY,
	status      TEXT NOT NULL CHECK (status IN ('RUNNING','CANCELLED','COMPLETED')),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Find(ctx context.Context, workflowID, stepKey string) (*StepRecord, error) {
	var rec StepRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT workflow_id, step_key, step_name, sequence_id, status, output, error, retry_count, next_retry_at, created_at, updated_at
		 FROM steps WHERE workflow_id = $1 AND step_key = $2`, workflowID, stepKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find step: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) MarkRunning(ctx context.Context, workflowID, stepKey, stepName string, sequenceID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark running: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
INSERT INTO steps (workflow_id, step_key, step_name, sequence_id, status, output, error, retry_count, next_retry_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'RUNNING', NULL, NULL, 0, NULL, $5, $5)
ON CONFLICT (workflow_id, step_key) DO UPDATE SET
	step_name = EXCLUDED.step_name,
	sequence_id = EXCLUDED.sequence_id,
	status = 'RUNNING',
	output = NULL,
	error = NULL,
	retry_count = 0,
	next_retry_at = NULL,
	updated_at = EXCLUDED.updated_at
`, workflowID, stepKey, stepName, sequenceID, now)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, workflowID, stepKey, output string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE steps SET status = 'COMPLETED', output = $3, updated_at = $4 WHERE workflow_id = $1 AND step_key = $2`,
		workflowID, stepKey, output, time.Now())
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, workflowID, stepKey, errMsg string, retryCount *int, nextRetryAtMs *int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE steps SET status = 'FAILED', error = $3, retry_count = COALESCE($4, retry_count), next_retry_at = $5, updated_at = $6
		 WHERE workflow_id = $1 AND step_key = $2`,
		workflowID, stepKey, errMsg, retryCount, nextRetryAtMs, time.Now())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertWorkflow(ctx context.Context, workflowID string, status WorkflowStatus) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO workflows (workflow_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (workflow_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
`, workflowID, status, now)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflowStatus(ctx context.Context, workflowID string) (WorkflowStatus, bool, error) {
	var status WorkflowStatus
	err := s.db.GetContext(ctx, &status, `SELECT status FROM workflows WHERE workflow_id = $1`, workflowID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get workflow status: %w", err)
	}
	return status, true, nil
}

func (s *PostgresStore) IsCancelled(ctx context.Context, workflowID string) (bool, error) {
	status, found, err := s.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		return false, err
	}
	return found && status == WorkflowCancelled, nil
}

func (s *PostgresStore) CancelWorkflow(ctx context.Context, workflowID string) error {
	return s.UpsertWorkflow(ctx, workflowID, WorkflowCancelled)
}

func (s *PostgresStore) GetCompletedSteps(ctx context.Context, workflowID string) ([]StepRecord, error) {
	var recs []StepRecord
	err := s.db.SelectContext(ctx, &recs, `
SELECT workflow_id, step_key, step_name, sequence_id, status, output, error, retry_count, next_retry_at, created_at, updated_at
FROM steps WHERE workflow_id = $1 AND status = 'COMPLETED' ORDER BY sequence_id ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get completed steps: %w", err)
	}
	return recs, nil
}
