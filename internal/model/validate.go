package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/beanschedule/internal/common"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func checkDay(field string, v *int) error {
	if v != nil && (*v < 1 || *v > 31) {
		return invalid("%s must be between 1 and 31, got %d", field, *v)
	}
	return nil
}

// Validate checks field ranges and frequency-specific requirements.
func (r *RecurrenceRule) Validate() error {
	if !r.Frequency.Valid() {
		return invalid("unknown frequency %q", r.Frequency)
	}
	if r.StartDate.IsZero() || !r.StartDate.IsValid() {
		return invalid("start_date is required")
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return invalid("end_date %s is before start_date %s", r.EndDate, r.StartDate)
	}
	if err := checkDay("day_of_month", r.DayOfMonth); err != nil {
		return err
	}
	if r.Month != nil && (*r.Month < 1 || *r.Month > 12) {
		return invalid("month must be between 1 and 12, got %d", *r.Month)
	}
	if r.DayOfWeek != nil {
		if _, ok := r.DayOfWeek.Weekday(); !ok {
			return invalid("unknown day_of_week %q", *r.DayOfWeek)
		}
	}
	if r.Interval != nil && *r.Interval < 1 {
		return invalid("interval must be at least 1")
	}
	if r.IntervalMonths != nil && *r.IntervalMonths < 1 {
		return invalid("interval_months must be at least 1")
	}
	for _, d := range r.DaysOfMonth {
		if d < 1 || d > 31 {
			return invalid("days_of_month must be between 1 and 31, got %d", d)
		}
	}
	if r.NthOccurrence != nil {
		n := *r.NthOccurrence
		if n < -1 || n == 0 || n > 5 {
			return invalid("nth_occurrence must be 1-5 or -1, got %d", n)
		}
	}

	switch r.Frequency {
	case FrequencyMonthly:
		if r.DayOfMonth == nil {
			return invalid("MONTHLY requires day_of_month")
		}
	case FrequencyYearly:
		if r.DayOfMonth == nil || r.Month == nil {
			return invalid("YEARLY requires month and day_of_month")
		}
	case FrequencyInterval:
		if r.DayOfMonth == nil || r.IntervalMonths == nil {
			return invalid("INTERVAL requires day_of_month and interval_months")
		}
	case FrequencyWeekly:
		if r.DayOfWeek == nil {
			return invalid("WEEKLY requires day_of_week")
		}
	case FrequencyBimonthly, FrequencyMonthlyOnDays:
		if len(r.DaysOfMonth) == 0 {
			return invalid("%s requires days_of_month", r.Frequency)
		}
	case FrequencyNthWeekday:
		if r.DayOfWeek == nil || r.NthOccurrence == nil {
			return invalid("NTH_WEEKDAY requires day_of_week and nth_occurrence")
		}
	case FrequencyLastDayOfMonth:
	}
	return nil
}

// Validate checks match criteria.
func (m *MatchCriteria) Validate() error {
	if strings.TrimSpace(m.Account) == "" {
		return invalid("match.account is required")
	}
	if strings.TrimSpace(m.PayeePattern) == "" {
		return invalid("match.payee_pattern is required")
	}
	if m.AmountTolerance != nil && m.AmountTolerance.IsNegative() {
		return invalid("amount_tolerance must be positive")
	}
	if m.DateWindowDays != nil && *m.DateWindowDays < 0 {
		return invalid("date_window_days must be positive")
	}
	if m.AmountMin != nil && m.AmountMax != nil && m.AmountMin.GreaterThan(*m.AmountMax) {
		return invalid("amount_min %s exceeds amount_max %s", m.AmountMin, m.AmountMax)
	}
	return nil
}

// Validate checks the posting template.
func (p *PostingTemplate) Validate() error {
	if strings.TrimSpace(p.Account) == "" {
		return invalid("posting account is required")
	}
	if !p.Role.Valid() {
		return invalid("posting role must be principal, interest, payment or escrow, got %q", p.Role)
	}
	return nil
}

// Validate checks the amortization settings for the selected mode.
func (a *AmortizationConfig) Validate() error {
	if a.AnnualRate.IsNegative() {
		return invalid("annual_rate must be non-negative")
	}
	if a.ExtraPrincipal != nil && a.ExtraPrincipal.IsNegative() {
		return invalid("extra_principal must be non-negative")
	}
	if a.Principal != nil && !a.Principal.IsPositive() {
		return invalid("principal must be positive")
	}
	if a.TermMonths != nil && *a.TermMonths <= 0 {
		return invalid("term_months must be positive")
	}
	if a.MonthlyPayment != nil && !a.MonthlyPayment.IsPositive() {
		return invalid("monthly_payment must be positive")
	}
	if err := checkDay("payment_day_of_month", a.PaymentDayOfMonth); err != nil {
		return err
	}
	switch a.Compounding {
	case "", CompoundingMonthly, CompoundingDaily:
	default:
		return invalid("compounding must be MONTHLY or DAILY, got %q", a.Compounding)
	}

	if a.BalanceFromLedger {
		if a.MonthlyPayment == nil {
			return invalid("monthly_payment is required when balance_from_ledger is true")
		}
	} else {
		if a.Principal == nil {
			return invalid("principal is required in static mode")
		}
		if a.TermMonths == nil {
			return invalid("term_months is required in static mode")
		}
		if a.StartDate == nil {
			return invalid("start_date is required in static mode")
		}
	}

	for i := range a.Overrides {
		o := &a.Overrides[i]
		if o.EffectiveDate.IsZero() {
			return invalid("override %d: effective_date is required", i)
		}
		if o.Principal != nil && !o.Principal.IsPositive() {
			return invalid("override %d: principal must be positive", i)
		}
		if o.AnnualRate != nil && o.AnnualRate.IsNegative() {
			return invalid("override %d: annual_rate must be non-negative", i)
		}
		if o.TermMonths != nil && *o.TermMonths <= 0 {
			return invalid("override %d: term_months must be positive", i)
		}
		if o.ExtraPrincipal != nil && o.ExtraPrincipal.IsNegative() {
			return invalid("override %d: extra_principal must be non-negative", i)
		}
	}
	return nil
}

// Validate checks the whole schedule and reports every problem found.
func (s *Schedule) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return invalid("id cannot be empty")
	}

	var errs []error
	if err := s.Match.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := s.Recurrence.Validate(); err != nil {
		errs = append(errs, err)
	}
	if got := s.Transaction.Metadata[MetaScheduleID]; got != s.ID {
		errs = append(errs, invalid("transaction.metadata.schedule_id (%q) must match schedule id (%q)", got, s.ID))
	}
	for i := range s.Transaction.Postings {
		if err := s.Transaction.Postings[i].Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Amortization != nil {
		if err := s.Amortization.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("schedule %s: %w", s.ID, err)
	}
	return nil
}

// Validate checks the global settings.
func (g *GlobalConfig) Validate() error {
	if g.FuzzyMatchThreshold < 0 || g.FuzzyMatchThreshold > 1 {
		return invalid("fuzzy_match_threshold must be between 0.0 and 1.0")
	}
	if g.DefaultDateWindowDays < 0 {
		return invalid("default_date_window_days must be positive")
	}
	if g.DefaultAmountTolerancePercent < 0 {
		return invalid("default_amount_tolerance_percent must be positive")
	}
	if g.DefaultCurrency == "" {
		return invalid("default_currency is required")
	}
	return nil
}

// Validate checks the global config and every schedule.
func (f *ScheduleFile) Validate() error {
	errs := []error{f.Config.Validate()}
	for i := range f.Schedules {
		errs = append(errs, f.Schedules[i].Validate())
	}
	return errors.Join(errs...)
}
