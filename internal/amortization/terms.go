package amortization

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/model"
)

// Terms are the loan parameters in force on a given date.
type Terms struct {
	StartDate      civil.Date
	Principal      decimal.Decimal
	AnnualRate     decimal.Decimal
	ExtraPrincipal decimal.Decimal
	TermMonths     int
	// Override is the applied override, if any.
	Override *model.AmortizationOverride
}

// Schedule builds the static schedule for these terms.
func (t Terms) Schedule() *Schedule {
	return NewSchedule(t.Principal, t.AnnualRate, t.TermMonths, t.StartDate, t.ExtraPrincipal)
}

// EffectiveTerms applies the latest override effective on or before date.
// The override's effective date becomes the new start so payment numbers
// restart from it. Principal and term not set by the override continue from
// the original schedule at that point.
func EffectiveTerms(cfg *model.AmortizationConfig, date civil.Date) Terms {
	base := Terms{
		AnnualRate:     cfg.AnnualRate,
		ExtraPrincipal: cfg.Extra(),
	}
	if cfg.Principal != nil {
		base.Principal = *cfg.Principal
	}
	if cfg.TermMonths != nil {
		base.TermMonths = *cfg.TermMonths
	}
	if cfg.StartDate != nil {
		base.StartDate = *cfg.StartDate
	}

	var active *model.AmortizationOverride
	for i := range cfg.Overrides {
		o := &cfg.Overrides[i]
		if o.EffectiveDate.After(date) {
			continue
		}
		if active == nil || !o.EffectiveDate.Before(active.EffectiveDate) {
			active = o
		}
	}
	if active == nil {
		return base
	}

	terms := base
	terms.Override = active
	terms.StartDate = active.EffectiveDate
	if active.AnnualRate != nil {
		terms.AnnualRate = *active.AnnualRate
	}
	if active.ExtraPrincipal != nil {
		terms.ExtraPrincipal = *active.ExtraPrincipal
	}

	if cfg.BalanceFromLedger {
		return terms
	}

	original := base.Schedule()
	n, ok := original.PaymentNumberForDate(active.EffectiveDate)
	switch {
	case ok:
	case active.EffectiveDate.Before(original.StartDate):
		n = 1
	default:
		n = original.TermMonths + 1
	}
	if active.Principal != nil {
		terms.Principal = *active.Principal
	} else {
		terms.Principal = original.balanceAfter(n - 1)
	}
	if active.TermMonths != nil {
		terms.TermMonths = *active.TermMonths
	} else {
		terms.TermMonths = original.TermMonths - (n - 1)
	}
	return terms
}
