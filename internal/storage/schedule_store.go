package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
)

// ScheduleStore persists the computed market-schedule table. The calculator
// is its only writer; values must round-trip exactly.
type ScheduleStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewScheduleStore creates the market_schedule table if needed.
func NewScheduleStore(db *sql.DB, logger *zap.Logger) (*ScheduleStore, error) {
	store := &ScheduleStore{
		logger: logger.Named("schedule-store"),
		db:     db,
	}
	if err := store.initialize(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ScheduleStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS market_schedule (
			date TEXT PRIMARY KEY,
			open_time TEXT,
			close_time TEXT,
			holiday TEXT,
			is_weekend INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize market schedule table: %w", err)
	}
	return nil
}

// Replace swaps the whole cached table for a freshly computed one.
func (s *ScheduleStore) Replace(ctx context.Context, days []model.MarketDay) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM market_schedule"); err != nil {
		return fmt.Errorf("failed to clear market schedule: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_schedule (date, open_time, close_time, holiday, is_weekend)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, day := range days {
		_, err := stmt.ExecContext(ctx,
			day.Date,
			nullableString(day.OpenTime),
			nullableString(day.CloseTime),
			sql.NullString{String: day.Holiday, Valid: day.Holiday != ""},
			day.IsWeekend,
		)
		if err != nil {
			return fmt.Errorf("failed to insert market day %s: %w", day.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit market schedule: %w", err)
	}

	s.logger.Info("Market schedule cached", zap.Int("days", len(days)))
	return nil
}

// Load returns all cached market days sorted by date.
func (s *ScheduleStore) Load(ctx context.Context) ([]model.MarketDay, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open_time, close_time, holiday, is_weekend
		FROM market_schedule ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to load market schedule: %w", err)
	}
	defer rows.Close()

	var days []model.MarketDay
	for rows.Next() {
		var day model.MarketDay
		var open, close, holiday sql.NullString
		if err := rows.Scan(&day.Date, &open, &close, &holiday, &day.IsWeekend); err != nil {
			return nil, fmt.Errorf("failed to scan market day: %w", err)
		}
		if open.Valid {
			day.OpenTime = &open.String
		}
		if close.Valid {
			day.CloseTime = &close.String
		}
		if holiday.Valid {
			day.Holiday = holiday.String
		}
		days = append(days, day)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return days, nil
}

// LastDate returns the latest cached date, or "" when the cache is empty.
func (s *ScheduleStore) LastDate(ctx context.Context) (string, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT MAX(date) FROM market_schedule").Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query last cached date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
