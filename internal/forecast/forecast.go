// Package forecast projects future transactions from schedules, filling loan
// postings with amortization splits.
package forecast

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/amortization"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/recurrence"
)

// Builder generates forecast transactions.
type Builder struct {
	engine *recurrence.Engine
	config model.GlobalConfig
}

// New creates a forecast builder.
func New(cfg model.GlobalConfig) *Builder {
	return &Builder{
		engine: recurrence.NewEngine(),
		config: cfg,
	}
}

// Build returns forecast transactions for every enabled schedule between
// start and end, sorted by date then schedule ID. Occurrences already present
// in the ledger are left out. A schedule whose postings cannot be balanced is
// skipped and its error joined into the returned error; the other schedules
// are still forecast.
func (b *Builder) Build(schedules []model.Schedule, ledger []model.Transaction, start, end civil.Date) ([]model.Transaction, error) {
	var (
		out  []model.Transaction
		errs []error
	)

	for i := range schedules {
		s := &schedules[i]
		if !s.Enabled {
			continue
		}

		txns, err := b.forSchedule(s, ledger, start, end)
		if err != nil {
			slog.Error("Failed to forecast schedule", "schedule_id", s.ID, "error", err)
			errs = append(errs, fmt.Errorf("schedule %s: %w", s.ID, err))
			continue
		}
		out = append(out, txns...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Meta[model.MetaScheduleID] < out[j].Meta[model.MetaScheduleID]
	})

	slog.Info("Forecast built",
		"start", start.String(),
		"end", end.String(),
		"transactions", len(out),
		"failed_schedules", len(errs))

	return out, errors.Join(errs...)
}

// Advance moves a forecast transaction of s to the next occurrence after
// after. It returns false when the schedule has no further occurrence.
func (b *Builder) Advance(txn model.Transaction, s *model.Schedule, after civil.Date) (model.Transaction, bool) {
	next, ok := b.engine.NextOccurrence(b.rule(s), after)
	if !ok {
		return model.Transaction{}, false
	}

	if s.Amortization != nil && !s.Amortization.Stateful() {
		split, ok := staticSplit(s.Amortization, next)
		if !ok {
			return model.Transaction{}, false
		}
		moved, err := b.transaction(s, next, &split)
		if err != nil {
			slog.Warn("Failed to advance forecast", "schedule_id", s.ID, "error", err)
			return model.Transaction{}, false
		}
		return moved, true
	}

	moved := txn.Clone()
	moved.Date = next
	moved.ID = forecastID(s.ID, next)
	moved.Hash = moved.GenerateHash()
	return moved, true
}

// rule returns the recurrence used for forecasting. Stateful loans with a
// payment day are forecast monthly on that day.
func (b *Builder) rule(s *model.Schedule) model.RecurrenceRule {
	rule := s.Recurrence
	if a := s.Amortization; a != nil && a.Stateful() && a.PaymentDayOfMonth != nil {
		rule.Frequency = model.FrequencyMonthly
		rule.DayOfMonth = model.IntPtr(*a.PaymentDayOfMonth)
	}
	return rule
}

func (b *Builder) forSchedule(s *model.Schedule, ledger []model.Transaction, start, end civil.Date) ([]model.Transaction, error) {
	existing := recordedDates(ledger, s.ID)

	var dates []civil.Date
	for _, d := range b.engine.Generate(b.rule(s), start, end) {
		if _, ok := existing[d]; ok {
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return nil, nil
	}

	splits, err := b.splits(s, ledger, dates)
	if err != nil {
		return nil, err
	}

	txns := make([]model.Transaction, 0, len(dates))
	for _, d := range dates {
		var split *amortization.PaymentSplit
		if splits != nil {
			sp, ok := splits[d]
			if !ok {
				continue
			}
			split = &sp
		}
		txn, err := b.transaction(s, d, split)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	slog.Debug("Forecast schedule", "schedule_id", s.ID, "transactions", len(txns))
	return txns, nil
}

// recordedDates returns the expected dates of id already covered by
// non-forecast ledger transactions.
func recordedDates(ledger []model.Transaction, id string) map[civil.Date]struct{} {
	dates := make(map[civil.Date]struct{})
	for i := range ledger {
		txn := &ledger[i]
		if txn.Flag == model.FlagForecast {
			continue
		}
		if v, ok := txn.MetaValue(model.MetaScheduleID); !ok || v != id {
			continue
		}
		d := txn.Date
		for _, key := range []string{model.MetaScheduleMatchedDate, model.MetaScheduleExpectedDate} {
			if v, ok := txn.MetaValue(key); ok {
				if parsed, err := civil.ParseDate(v); err == nil {
					d = parsed
					break
				}
			}
		}
		dates[d] = struct{}{}
	}
	return dates
}

// splits returns the amortization split per date, or nil when the schedule
// is not a loan. Dates missing from a non-nil result produce no forecast.
func (b *Builder) splits(s *model.Schedule, ledger []model.Transaction, dates []civil.Date) (map[civil.Date]amortization.PaymentSplit, error) {
	cfg := s.Amortization
	if cfg == nil {
		return nil, nil
	}

	if !cfg.Stateful() {
		out := make(map[civil.Date]amortization.PaymentSplit, len(dates))
		for _, d := range dates {
			if split, ok := staticSplit(cfg, d); ok {
				out[d] = split
			}
		}
		return out, nil
	}

	account, ok := roleAccount(s, model.RolePrincipal)
	if !ok {
		return nil, fmt.Errorf("%w: stateful amortization needs a principal posting", common.ErrInvalidConfig)
	}
	balances := amortization.BuildLiabilityBalanceIndex(ledger, []string{account})
	balance, ok := balances[account]
	if !ok {
		slog.Warn("No ledger balance for loan, skipping forecast",
			"schedule_id", s.ID,
			"account", account)
		return map[civil.Date]amortization.PaymentSplit{}, nil
	}

	var pending []civil.Date
	for _, d := range dates {
		if d.After(balance.AsOf) {
			pending = append(pending, d)
		}
	}
	return statefulSplits(cfg, balance, pending), nil
}

// staticSplit computes the split for date under the terms in effect then.
func staticSplit(cfg *model.AmortizationConfig, date civil.Date) (amortization.PaymentSplit, bool) {
	schedule := amortization.EffectiveTerms(cfg, date).Schedule()
	n, ok := schedule.PaymentNumberForDate(date)
	if !ok {
		return amortization.PaymentSplit{}, false
	}
	split, err := schedule.PaymentSplit(n)
	if err != nil {
		return amortization.PaymentSplit{}, false
	}
	return split, true
}

// statefulSplits walks the dates from the observed balance. Each run of
// dates governed by the same override is walked with that override's rate
// and extra principal, seeded by the balance the previous run left.
func statefulSplits(cfg *model.AmortizationConfig, start amortization.LiabilityBalance, dates []civil.Date) map[civil.Date]amortization.PaymentSplit {
	out := make(map[civil.Date]amortization.PaymentSplit, len(dates))
	if len(dates) == 0 || cfg.MonthlyPayment == nil {
		return out
	}

	balance, asOf := start.Balance, start.AsOf
	for i := 0; i < len(dates); {
		terms := amortization.EffectiveTerms(cfg, dates[i])
		j := i + 1
		for j < len(dates) && amortization.EffectiveTerms(cfg, dates[j]).Override == terms.Override {
			j++
		}

		segment := amortization.ComputeStatefulSplits(amortization.StatefulParams{
			StartingDate:    asOf,
			StartingBalance: balance,
			MonthlyPayment:  *cfg.MonthlyPayment,
			AnnualRate:      terms.AnnualRate,
			ExtraPrincipal:  terms.ExtraPrincipal,
			Compounding:     cfg.Compounding,
			Dates:           dates[i:j],
		})
		for _, d := range dates[i:j] {
			split, ok := segment[d]
			if !ok {
				return out
			}
			out[d] = split
			balance, asOf = split.RemainingBalance, d
		}
		i = j
	}
	return out
}

func roleAccount(s *model.Schedule, role model.PostingRole) (string, bool) {
	for _, p := range s.Transaction.Postings {
		if p.Role == role {
			return p.Account, true
		}
	}
	return "", false
}

// transaction builds the forecast transaction of s on date.
func (b *Builder) transaction(s *model.Schedule, date civil.Date, split *amortization.PaymentSplit) (model.Transaction, error) {
	meta := make(map[string]string, len(s.Transaction.Metadata)+5)
	for k, v := range s.Transaction.Metadata {
		meta[k] = v
	}
	meta[model.MetaScheduleID] = s.ID
	if split != nil {
		meta[model.MetaAmortizationPrincipal] = split.Principal.StringFixed(2)
		meta[model.MetaAmortizationInterest] = split.Interest.StringFixed(2)
		meta[model.MetaAmortizationBalanceAfter] = split.RemainingBalance.StringFixed(2)
		if split.PaymentNumber > 0 {
			meta[model.MetaAmortizationPaymentNumber] = strconv.Itoa(split.PaymentNumber)
		}
	}

	postings, err := b.postings(s, split)
	if err != nil {
		return model.Transaction{}, err
	}

	txn := model.Transaction{
		ID:        forecastID(s.ID, date),
		Date:      date,
		Flag:      model.FlagForecast,
		Payee:     s.Transaction.Payee,
		Narration: s.Transaction.Narration,
		Tags:      append([]string(nil), s.Transaction.Tags...),
		Links:     append([]string(nil), s.Transaction.Links...),
		Meta:      meta,
		Postings:  postings,
	}
	txn.Hash = txn.GenerateHash()
	return txn, nil
}

func (b *Builder) postings(s *model.Schedule, split *amortization.PaymentSplit) ([]model.Posting, error) {
	currency := b.config.DefaultCurrency
	if currency == "" {
		currency = model.DefaultCurrency
	}

	templates := s.Transaction.Postings
	if len(templates) == 0 {
		amount := s.Match.Amount
		if amount == nil {
			return nil, fmt.Errorf("%w: no postings and no match amount", common.ErrUnbalancedPosting)
		}
		return []model.Posting{{Account: s.Match.Account, Amount: model.DecimalPtr(*amount), Currency: currency}}, nil
	}

	escrow := decimal.Zero
	for _, pt := range templates {
		if pt.Role == model.RoleEscrow && pt.Amount != nil {
			escrow = escrow.Add(*pt.Amount)
		}
	}

	postings := make([]model.Posting, len(templates))
	elided := -1
	sum := decimal.Zero
	for i, pt := range templates {
		p := model.Posting{Account: pt.Account}
		if pt.Narration != "" {
			p.Meta = map[string]string{model.MetaNarration: pt.Narration}
		}

		amount := pt.Amount
		if amount == nil && split != nil {
			amount = roleAmount(pt.Role, split, escrow)
		}

		if amount == nil {
			if elided >= 0 {
				return nil, fmt.Errorf("%w: more than one posting without an amount", common.ErrUnbalancedPosting)
			}
			elided = i
		} else {
			p.Amount = model.DecimalPtr(*amount)
			p.Currency = currency
			sum = sum.Add(*amount)
		}
		postings[i] = p
	}

	if elided >= 0 {
		if len(templates) == 1 {
			return nil, fmt.Errorf("%w: every posting is missing an amount", common.ErrUnbalancedPosting)
		}
		postings[elided].Amount = model.DecimalPtr(sum.Neg())
		postings[elided].Currency = currency
	}
	return postings, nil
}

func roleAmount(role model.PostingRole, split *amortization.PaymentSplit, escrow decimal.Decimal) *decimal.Decimal {
	switch role {
	case model.RolePrincipal:
		return model.DecimalPtr(split.Principal)
	case model.RoleInterest:
		return model.DecimalPtr(split.Interest)
	case model.RolePayment:
		return model.DecimalPtr(split.TotalPayment.Add(escrow).Neg())
	default:
		return nil
	}
}

func forecastID(scheduleID string, date civil.Date) string {
	return fmt.Sprintf("forecast:%s:%s", scheduleID, date.String())
}
