// Package service defines the interfaces shared between the engines and the
// persistence layer.
package service

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/Veraticus/beanschedule/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
// Zero values disable a criterion.
type TransactionFilter struct {
	StartDate  *civil.Date
	EndDate    *civil.Date
	Account    string
	Flag       string
	ScheduleID string
	Limit      int
	Offset     int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Ledger operations
	SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error)
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	GetTransactionsBySchedule(ctx context.Context, scheduleID string) ([]model.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionCount(ctx context.Context) (int, error)

	// Detection history
	SaveDetectionRun(ctx context.Context, run *model.DetectionRun, candidates []model.DetectedCandidate) error
	ListDetectionRuns(ctx context.Context, limit int) ([]model.DetectionRun, error)
	GetDetectedCandidates(ctx context.Context, runID int64) ([]model.DetectedCandidate, error)

	// Reconciliation history
	SaveReconciliationRun(ctx context.Context, run *model.ReconciliationRun, outcomes []model.ReconciliationOutcome) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]model.ReconciliationRun, error)
	GetReconciliationOutcomes(ctx context.Context, runID int64) ([]model.ReconciliationOutcome, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction. Writes made through it
// become visible on Commit.
type Transaction interface {
	Commit() error
	Rollback() error
	SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error)
	SaveDetectionRun(ctx context.Context, run *model.DetectionRun, candidates []model.DetectedCandidate) error
	SaveReconciliationRun(ctx context.Context, run *model.ReconciliationRun, outcomes []model.ReconciliationOutcome) error
}
