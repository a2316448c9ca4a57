// Package storage persists ledger transactions and run history in SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/beanschedule/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrEmptySlice         = errors.New("slice cannot be empty")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidStatus      = errors.New("invalid reconciliation status")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidCandidate   = errors.New("invalid detected candidate")
	ErrInvalidRun         = errors.New("invalid run")
)

// Outcome statuses accepted by SaveReconciliationRun.
const (
	StatusMatched = "matched"
	StatusMissing = "missing"
	StatusSkipped = "skipped"
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if !txn.Date.IsValid() {
		return fmt.Errorf("%w: invalid date", ErrInvalidTransaction)
	}
	if len(txn.Postings) == 0 {
		return fmt.Errorf("%w: no postings", ErrInvalidTransaction)
	}
	for i, p := range txn.Postings {
		if strings.TrimSpace(p.Account) == "" {
			return fmt.Errorf("%w: posting %d has no account", ErrInvalidTransaction, i)
		}
	}
	return nil
}

func validateDetectionRun(run *model.DetectionRun, candidates []model.DetectedCandidate) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if run.RanAt.IsZero() {
		return fmt.Errorf("%w: missing run time", ErrInvalidRun)
	}
	for i, c := range candidates {
		if c.ScheduleID == "" {
			return fmt.Errorf("%w: candidate %d has no schedule ID", ErrInvalidCandidate, i)
		}
		if !c.FirstDate.IsValid() || !c.LastDate.IsValid() {
			return fmt.Errorf("%w: candidate %s has invalid dates", ErrInvalidCandidate, c.ScheduleID)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidCandidate)
		}
	}
	return nil
}

func validateReconciliationRun(run *model.ReconciliationRun, outcomes []model.ReconciliationOutcome) error {
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if run.RanAt.IsZero() {
		return fmt.Errorf("%w: missing run time", ErrInvalidRun)
	}
	if !run.Start.IsValid() || !run.End.IsValid() {
		return fmt.Errorf("%w: invalid date range", ErrInvalidRun)
	}
	if run.End.Before(run.Start) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidDateRange, run.End, run.Start)
	}
	for i, o := range outcomes {
		if o.ScheduleID == "" {
			return fmt.Errorf("%w: outcome %d has no schedule ID", ErrInvalidRun, i)
		}
		switch o.Status {
		case StatusMatched, StatusMissing, StatusSkipped:
		default:
			return fmt.Errorf("%w: %s", ErrInvalidStatus, o.Status)
		}
	}
	return nil
}
