package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Veraticus/beanschedule/internal/common"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Ledger transactions and postings",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS transactions (
					seq INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT NOT NULL,
					hash TEXT UNIQUE NOT NULL,
					date TEXT NOT NULL,
					flag TEXT NOT NULL,
					payee TEXT NOT NULL DEFAULT '',
					narration TEXT NOT NULL DEFAULT '',
					tags TEXT,
					links TEXT,
					meta TEXT,
					schedule_id TEXT,
					source_hash TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_source ON transactions(source_hash)`,
				`CREATE INDEX idx_transactions_id ON transactions(id)`,
				`CREATE INDEX idx_transactions_schedule ON transactions(schedule_id)`,

				`CREATE TABLE IF NOT EXISTS postings (
					transaction_seq INTEGER NOT NULL,
					position INTEGER NOT NULL,
					account TEXT NOT NULL,
					amount TEXT,
					currency TEXT NOT NULL DEFAULT '',
					meta TEXT,
					PRIMARY KEY (transaction_seq, position),
					FOREIGN KEY (transaction_seq) REFERENCES transactions(seq) ON DELETE CASCADE
				)`,
				`CREATE INDEX idx_postings_account ON postings(account)`,
			)
		},
	},
	{
		Version:     2,
		Description: "Detection run history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS detection_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					ran_at DATETIME NOT NULL,
					source TEXT NOT NULL DEFAULT '',
					transaction_count INTEGER NOT NULL DEFAULT 0,
					candidate_count INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE TABLE IF NOT EXISTS detected_candidates (
					run_id INTEGER NOT NULL,
					position INTEGER NOT NULL,
					schedule_id TEXT NOT NULL,
					payee TEXT NOT NULL,
					account TEXT NOT NULL,
					frequency TEXT NOT NULL,
					amount TEXT NOT NULL,
					amount_tolerance TEXT NOT NULL,
					confidence REAL NOT NULL,
					transaction_count INTEGER NOT NULL,
					expected_occurrences INTEGER NOT NULL,
					first_date TEXT NOT NULL,
					last_date TEXT NOT NULL,
					PRIMARY KEY (run_id, position),
					FOREIGN KEY (run_id) REFERENCES detection_runs(id) ON DELETE CASCADE
				)`,
			)
		},
	},
	{
		Version:     3,
		Description: "Reconciliation run history",
		Up: func(tx *sql.Tx) error {
			return execAll(tx,
				`CREATE TABLE IF NOT EXISTS reconciliation_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					ran_at DATETIME NOT NULL,
					start_date TEXT NOT NULL,
					end_date TEXT NOT NULL,
					source TEXT NOT NULL DEFAULT '',
					imported_count INTEGER NOT NULL DEFAULT 0,
					matched INTEGER NOT NULL DEFAULT 0,
					missing INTEGER NOT NULL DEFAULT 0,
					skipped INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE TABLE IF NOT EXISTS reconciliation_outcomes (
					run_id INTEGER NOT NULL,
					position INTEGER NOT NULL,
					schedule_id TEXT NOT NULL,
					expected_date TEXT NOT NULL,
					status TEXT NOT NULL,
					transaction_id TEXT NOT NULL DEFAULT '',
					score REAL NOT NULL DEFAULT 0,
					PRIMARY KEY (run_id, position),
					FOREIGN KEY (run_id) REFERENCES reconciliation_runs(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX idx_reconciliation_outcomes_schedule ON reconciliation_outcomes(schedule_id)`,
			)
		},
	},
}

func execAll(tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// SchemaVersion returns the database's current schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("%w: database schema version mismatch: expected %d, got %d",
			common.ErrDatabaseCorrupted, ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
