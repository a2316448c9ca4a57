package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/model"
)

// SaveDetectionRun records a detection run and its candidates. run.ID is set
// on success.
func (s *SQLiteStorage) SaveDetectionRun(ctx context.Context, run *model.DetectionRun, candidates []model.DetectedCandidate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDetectionRun(run, candidates); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return saveDetectionRunTx(ctx, tx, run, candidates)
	})
}

func saveDetectionRunTx(ctx context.Context, tx *sql.Tx, run *model.DetectionRun, candidates []model.DetectedCandidate) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO detection_runs (ran_at, source, transaction_count, candidate_count)
		VALUES (?, ?, ?, ?)
	`, run.RanAt.UTC(), run.Source, run.TransactionCount, len(candidates))
	if err != nil {
		return fmt.Errorf("failed to insert detection run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to insert detection run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detected_candidates (
			run_id, position, schedule_id, payee, account, frequency, amount,
			amount_tolerance, confidence, transaction_count, expected_occurrences,
			first_date, last_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range candidates {
		if _, err := stmt.ExecContext(ctx, id, i, c.ScheduleID, c.Payee, c.Account, c.Frequency,
			c.Amount, c.AmountTolerance, c.Confidence, c.TransactionCount, c.ExpectedOccurrences,
			c.FirstDate.String(), c.LastDate.String()); err != nil {
			return fmt.Errorf("failed to insert candidate %s: %w", c.ScheduleID, err)
		}
	}

	run.ID = id
	run.CandidateCount = len(candidates)
	return nil
}

// ListDetectionRuns returns the most recent detection runs, newest first.
// A limit of zero returns every run.
func (s *SQLiteStorage) ListDetectionRuns(ctx context.Context, limit int) ([]model.DetectionRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ran_at, source, transaction_count, candidate_count
		FROM detection_runs
		ORDER BY id DESC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query detection runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.DetectionRun
	for rows.Next() {
		var run model.DetectionRun
		if err := rows.Scan(&run.ID, &run.RanAt, &run.Source, &run.TransactionCount, &run.CandidateCount); err != nil {
			return nil, fmt.Errorf("failed to scan detection run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detection runs: %w", err)
	}
	return runs, nil
}

// GetDetectedCandidates returns the candidates of one detection run in the
// order they were saved.
func (s *SQLiteStorage) GetDetectedCandidates(ctx context.Context, runID int64) ([]model.DetectedCandidate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := s.runExists(ctx, "detection_runs", runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, schedule_id, payee, account, frequency, amount, amount_tolerance,
		       confidence, transaction_count, expected_occurrences, first_date, last_date
		FROM detected_candidates
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []model.DetectedCandidate
	for rows.Next() {
		var c model.DetectedCandidate
		var amount, tolerance decimal.Decimal
		var first, last string
		if err := rows.Scan(&c.RunID, &c.ScheduleID, &c.Payee, &c.Account, &c.Frequency,
			&amount, &tolerance, &c.Confidence, &c.TransactionCount, &c.ExpectedOccurrences,
			&first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.Amount, c.AmountTolerance = amount, tolerance
		if c.FirstDate, c.LastDate, err = parseDates(first, last); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return candidates, nil
}

// SaveReconciliationRun records a reconciliation run and its outcomes. run.ID
// is set on success.
func (s *SQLiteStorage) SaveReconciliationRun(ctx context.Context, run *model.ReconciliationRun, outcomes []model.ReconciliationOutcome) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateReconciliationRun(run, outcomes); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return saveReconciliationRunTx(ctx, tx, run, outcomes)
	})
}

func saveReconciliationRunTx(ctx context.Context, tx *sql.Tx, run *model.ReconciliationRun, outcomes []model.ReconciliationOutcome) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (
			ran_at, start_date, end_date, source, imported_count, matched, missing, skipped
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RanAt.UTC(), run.Start.String(), run.End.String(), run.Source,
		run.ImportedCount, run.Matched, run.Missing, run.Skipped)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reconciliation_outcomes (
			run_id, position, schedule_id, expected_date, status, transaction_id, score
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, id, i, o.ScheduleID, o.ExpectedDate.String(),
			o.Status, o.TransactionID, o.Score); err != nil {
			return fmt.Errorf("failed to insert outcome %s@%s: %w", o.ScheduleID, o.ExpectedDate, err)
		}
	}

	run.ID = id
	return nil
}

// ListReconciliationRuns returns the most recent reconciliation runs, newest
// first. A limit of zero returns every run.
func (s *SQLiteStorage) ListReconciliationRuns(ctx context.Context, limit int) ([]model.ReconciliationRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ran_at, start_date, end_date, source, imported_count, matched, missing, skipped
		FROM reconciliation_runs
		ORDER BY id DESC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.ReconciliationRun
	for rows.Next() {
		var run model.ReconciliationRun
		var start, end string
		if err := rows.Scan(&run.ID, &run.RanAt, &start, &end, &run.Source,
			&run.ImportedCount, &run.Matched, &run.Missing, &run.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		if run.Start, run.End, err = parseDates(start, end); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reconciliation runs: %w", err)
	}
	return runs, nil
}

// GetReconciliationOutcomes returns the outcomes of one reconciliation run in
// the order they were saved.
func (s *SQLiteStorage) GetReconciliationOutcomes(ctx context.Context, runID int64) ([]model.ReconciliationOutcome, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := s.runExists(ctx, "reconciliation_runs", runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, schedule_id, expected_date, status, transaction_id, score
		FROM reconciliation_outcomes
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var outcomes []model.ReconciliationOutcome
	for rows.Next() {
		var o model.ReconciliationOutcome
		var expected string
		if err := rows.Scan(&o.RunID, &o.ScheduleID, &expected, &o.Status, &o.TransactionID, &o.Score); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if o.ExpectedDate, err = civil.ParseDate(expected); err != nil {
			return nil, fmt.Errorf("%w: outcome date %q", common.ErrDatabaseCorrupted, expected)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// runExists checks a run ID against one of the two fixed run tables.
func (s *SQLiteStorage) runExists(ctx context.Context, table string, id int64) error {
	var found int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM "+table+" WHERE id = ?", id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up run %d: %w", id, err)
	}
	return nil
}

func parseDates(first, last string) (civil.Date, civil.Date, error) {
	a, err := civil.ParseDate(first)
	if err != nil {
		return civil.Date{}, civil.Date{}, fmt.Errorf("%w: date %q", common.ErrDatabaseCorrupted, first)
	}
	b, err := civil.ParseDate(last)
	if err != nil {
		return civil.Date{}, civil.Date{}, fmt.Errorf("%w: date %q", common.ErrDatabaseCorrupted, last)
	}
	return a, b, nil
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
