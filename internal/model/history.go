package model

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// DetectionRun records one pass of recurring-pattern detection.
type DetectionRun struct {
	RanAt            time.Time
	Source           string
	ID               int64
	TransactionCount int
	CandidateCount   int
}

// DetectedCandidate is a stored snapshot of a candidate from a detection run.
type DetectedCandidate struct {
	FirstDate           civil.Date
	LastDate            civil.Date
	Amount              decimal.Decimal
	AmountTolerance     decimal.Decimal
	ScheduleID          string
	Payee               string
	Account             string
	Frequency           string
	RunID               int64
	Confidence          float64
	TransactionCount    int
	ExpectedOccurrences int
}

// ReconciliationRun records one reconciliation of imported transactions.
type ReconciliationRun struct {
	RanAt         time.Time
	Start         civil.Date
	End           civil.Date
	Source        string
	ID            int64
	ImportedCount int
	Matched       int
	Missing       int
	Skipped       int
}

// ReconciliationOutcome is the stored status of one expected occurrence.
type ReconciliationOutcome struct {
	ExpectedDate  civil.Date
	ScheduleID    string
	Status        string
	TransactionID string
	RunID         int64
	Score         float64
}
