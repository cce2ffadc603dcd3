package database

import (
	"context"
	"fmt"
)

// InitSchema creates the run and run log tables used by the server.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	runsQuery := `
		CREATE TABLE IF NOT EXISTS crew_runs (
			id UUID PRIMARY KEY,
			topic TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ready',
			current_step TEXT NOT NULL DEFAULT '',
			progress INT NOT NULL DEFAULT 0,
			article TEXT,
			error TEXT,
			category TEXT,
			hint TEXT,
			output_file TEXT,
			file_error TEXT,
			elapsed_seconds DOUBLE PRECISION,
			options JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, runsQuery); err != nil {
		return fmt.Errorf("failed to create crew_runs table: %w", err)
	}

	logsQuery := `
		CREATE TABLE IF NOT EXISTS crew_run_logs (
			id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES crew_runs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create crew_run_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_crew_run_logs_run_id ON crew_run_logs(run_id)"); err != nil {
		return fmt.Errorf("failed to create index on crew_run_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_crew_runs_created_at ON crew_runs(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on crew_runs: %w", err)
	}

	return nil
}
