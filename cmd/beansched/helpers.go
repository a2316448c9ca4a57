package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/config"
	"github.com/Veraticus/beanschedule/internal/detector"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/ofx"
	"github.com/Veraticus/beanschedule/internal/reconcile"
	"github.com/Veraticus/beanschedule/internal/schedules"
	"github.com/Veraticus/beanschedule/internal/service"
	"github.com/Veraticus/beanschedule/internal/storage"
)

// openStorage opens the ledger store without migrating it.
func openStorage(settings *config.Settings) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(settings.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// initStorage opens the ledger store and brings its schema up to date.
func initStorage(ctx context.Context, settings *config.Settings) (service.Storage, error) {
	store, err := openStorage(settings)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// loadSchedules loads the schedule document at path, falling back to the
// configured location and then discovery.
func loadSchedules(path string, settings *config.Settings) (*model.ScheduleFile, error) {
	if path == "" {
		path = settings.SchedulesPath
	}
	file, err := schedules.Load(path)
	if err != nil {
		if errors.Is(err, common.ErrNoSchedules) {
			return nil, common.NewUserError("No schedules found. Set schedules.path or BEANSCHEDULE_DIR, or create ./schedules/", err)
		}
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}
	return file, nil
}

// loadLedger returns every stored transaction in date order.
func loadLedger(ctx context.Context, store service.Storage) ([]model.Transaction, error) {
	txns, err := store.GetTransactions(ctx, service.TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return txns, nil
}

func today() civil.Date {
	return civil.DateOf(time.Now())
}

// dateFlag parses a YYYY-MM-DD flag, returning def when it is unset.
func dateFlag(cmd *cobra.Command, name string, def civil.Date) (civil.Date, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return def, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, common.NewUserError(fmt.Sprintf("--%s must be a date like 2024-01-31", name), err)
	}
	return d, nil
}

// expandFiles resolves glob patterns into file paths.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(config.ExpandPath(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}

	if len(files) == 0 {
		return nil, common.NewUserError("No OFX files found", common.ErrNotFound)
	}
	return files, nil
}

// readOFX parses every file matched by patterns, dropping transactions
// already seen in an earlier file. A file that fails to parse is logged and
// skipped unless no file could be read. progress, when set, is called after
// each file.
func readOFX(ctx context.Context, patterns []string, accounts map[string]string, progress func(done, total int)) ([]model.Transaction, error) {
	files, err := expandFiles(patterns)
	if err != nil {
		return nil, err
	}

	parser := ofx.NewParser()
	seen := make(map[string]struct{})
	var (
		out  []model.Transaction
		errs []error
		read int
	)

	for i, path := range files {
		if progress != nil {
			progress(i, len(files))
		}
		txns, err := parseOFXFile(ctx, parser, path, ofx.AccountMap(accounts))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Error("Failed to parse OFX file", "file", path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
			continue
		}
		read++

		added := 0
		for _, txn := range txns {
			if _, ok := seen[txn.Hash]; ok {
				continue
			}
			seen[txn.Hash] = struct{}{}
			out = append(out, txn)
			added++
		}
		slog.Info("Read OFX file",
			"file", filepath.Base(path),
			"transactions", len(txns),
			"new", added)
	}

	if progress != nil {
		progress(len(files), len(files))
	}
	if read == 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func parseOFXFile(ctx context.Context, parser *ofx.Parser, path string, accounts ofx.AccountMap) ([]model.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return parser.ParseFile(ctx, f, accounts)
}

func sourceName(patterns []string) string {
	if len(patterns) == 1 {
		return filepath.Base(patterns[0])
	}
	return fmt.Sprintf("%d files", len(patterns))
}

func outcomeRecords(outcomes []reconcile.Outcome) []model.ReconciliationOutcome {
	out := make([]model.ReconciliationOutcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = model.ReconciliationOutcome{
			ExpectedDate:  o.ExpectedDate,
			ScheduleID:    o.ScheduleID,
			Status:        string(o.Status),
			TransactionID: o.TransactionID,
			Score:         o.Score,
		}
	}
	return out
}

func candidateRecords(candidates []detector.Candidate) []model.DetectedCandidate {
	out := make([]model.DetectedCandidate, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		out[i] = model.DetectedCandidate{
			FirstDate:           c.FirstDate,
			LastDate:            c.LastDate,
			Amount:              c.Amount,
			AmountTolerance:     c.AmountTolerance,
			ScheduleID:          c.ScheduleID,
			Payee:               c.Payee,
			Account:             c.Account,
			Frequency:           c.Frequency.Name(),
			Confidence:          c.Confidence,
			TransactionCount:    c.TransactionCount,
			ExpectedOccurrences: c.ExpectedOccurrences,
		}
	}
	return out
}

func loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, common.NewUserError("Invalid configuration", err)
	}
	return settings, nil
}
