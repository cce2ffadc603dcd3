package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/research-crew/pkg/database"
)

// PostgresStore keeps runs in the crew_runs and crew_run_logs tables.
type PostgresStore struct {
	DB *database.PostgresDB
}

func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{DB: db}
}

const runColumns = `id, topic, status, current_step, progress,
	COALESCE(article, ''), COALESCE(error, ''), COALESCE(category, ''), COALESCE(hint, ''),
	COALESCE(output_file, ''), COALESCE(file_error, ''), COALESCE(elapsed_seconds, 0),
	options, created_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	var status string
	err := row.Scan(
		&run.ID, &run.Topic, &status, &run.CurrentStep, &run.Progress,
		&run.Article, &run.Error, &run.Category, &run.Hint,
		&run.OutputFile, &run.FileError, &run.ElapsedSeconds,
		&run.Options, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	run.Status = Status(status)
	return run, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, topic string, options json.RawMessage) (*Run, error) {
	if len(options) == 0 {
		options = json.RawMessage("{}")
	}
	query := `
		INSERT INTO crew_runs (id, topic, status, options)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + runColumns

	run, err := scanRun(s.DB.Pool.QueryRow(ctx, query, uuid.New(), topic, string(StatusRunning), options))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) exec(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	tag, err := s.DB.Pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id uuid.UUID, step string, progress int) error {
	err := s.exec(ctx, id,
		"UPDATE crew_runs SET current_step = $2, progress = $3, updated_at = NOW() WHERE id = $1",
		step, progress)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id uuid.UUID, c Completion) error {
	err := s.exec(ctx, id, `
		UPDATE crew_runs
		SET status = 'completed', current_step = 'Completed', progress = 100,
			article = $2, output_file = $3, file_error = $4, elapsed_seconds = $5, updated_at = NOW()
		WHERE id = $1`,
		c.Article, c.OutputFile, c.FileError, c.ElapsedSeconds)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, id uuid.UUID, f Failure) error {
	err := s.exec(ctx, id, `
		UPDATE crew_runs
		SET status = 'error', current_step = 'Error occurred',
			error = $2, category = $3, hint = $4, elapsed_seconds = $5, updated_at = NOW()
		WHERE id = $1`,
		f.Error, f.Category, f.Hint, f.ElapsedSeconds)
	if err != nil {
		return fmt.Errorf("failed to mark run as failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM crew_runs WHERE id = $1`
	run, err := scanRun(s.DB.Pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM crew_runs ORDER BY created_at DESC LIMIT $1`
	rows, err := s.DB.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) LatestCompleted(ctx context.Context) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM crew_runs WHERE status = 'completed' ORDER BY updated_at DESC LIMIT 1`
	run, err := scanRun(s.DB.Pool.QueryRow(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry LogEntry) error {
	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	query := `
		INSERT INTO crew_run_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.DB.Pool.Exec(ctx, query, entry.RunID, entry.Timestamp, entry.Level, entry.Message, metadata); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *PostgresStore) RunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, run_id, timestamp, level, message, COALESCE(metadata, '{}'::jsonb)
		FROM crew_run_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
