package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
)

// JobRun is a historical record of one job execution.
type JobRun struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	Status      model.JobStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Duration    time.Duration   `json:"duration,omitempty"`
}

// RunHistory persists job execution records.
type RunHistory interface {
	// Record stores the start of a job run
	Record(ctx context.Context, run *JobRun) error

	// Update records the outcome of a previously started run
	Update(ctx context.Context, run *JobRun) error

	// List retrieves the most recent runs for a job id ("" for all jobs)
	List(ctx context.Context, jobID string, limit int) ([]*JobRun, error)

	// DeleteBefore deletes records older than the specified time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteRunHistory implements RunHistory using SQLite.
type SQLiteRunHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteRunHistory creates the job_history table if needed.
func NewSQLiteRunHistory(db *sql.DB, logger *zap.Logger) (*SQLiteRunHistory, error) {
	history := &SQLiteRunHistory{
		logger: logger.Named("run-history"),
		db:     db,
	}
	if err := history.initialize(); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *SQLiteRunHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_history (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_job_history_job_id ON job_history(job_id);
		CREATE INDEX IF NOT EXISTS idx_job_history_started_at ON job_history(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize job history table: %w", err)
	}
	return nil
}

// Record implements RunHistory.Record
func (s *SQLiteRunHistory) Record(ctx context.Context, run *JobRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_history (id, job_id, status, started_at)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.JobID, run.Status, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job run: %w", err)
	}
	return nil
}

// Update implements RunHistory.Update
func (s *SQLiteRunHistory) Update(ctx context.Context, run *JobRun) error {
	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE job_history SET status = ?, error = ?, completed_at = ?, duration = ?
		WHERE id = ?`,
		run.Status,
		sql.NullString{String: run.Error, Valid: run.Error != ""},
		completedAt,
		sql.NullInt64{Int64: int64(run.Duration), Valid: run.Duration != 0},
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job run: %w", err)
	}
	return nil
}

// List implements RunHistory.List
func (s *SQLiteRunHistory) List(ctx context.Context, jobID string, limit int) ([]*JobRun, error) {
	query := `SELECT id, job_id, status, error, started_at, completed_at, duration FROM job_history`
	args := make([]interface{}, 0, 2)
	if jobID != "" {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*JobRun
	for rows.Next() {
		run := &JobRun{}
		var errStr sql.NullString
		var completedAt sql.NullTime
		var durationNanos sql.NullInt64

		err := rows.Scan(&run.ID, &run.JobID, &run.Status, &errStr,
			&run.StartedAt, &completedAt, &durationNanos)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}

		if errStr.Valid {
			run.Error = errStr.String
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		if durationNanos.Valid {
			run.Duration = time.Duration(durationNanos.Int64)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// DeleteBefore implements RunHistory.DeleteBefore
func (s *SQLiteRunHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM job_history WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete job history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old job history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}
