// Package amortization splits loan payments into principal and interest,
// either from original loan terms or forward from an observed balance.
package amortization

import (
	"fmt"
	"log/slog"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/common"
)

// PaymentSplit is the principal and interest composition of one payment.
type PaymentSplit struct {
	Principal        decimal.Decimal
	Interest         decimal.Decimal
	TotalPayment     decimal.Decimal
	RemainingBalance decimal.Decimal
	PaymentNumber    int
}

// Schedule is a fixed-payment loan computed from its original terms.
type Schedule struct {
	StartDate      civil.Date
	Principal      decimal.Decimal
	AnnualRate     decimal.Decimal
	MonthlyRate    decimal.Decimal
	ExtraPrincipal decimal.Decimal
	Payment        decimal.Decimal
	TermMonths     int
}

// NewSchedule computes the fixed monthly payment with the annuity formula,
// rounded half-even to cents.
func NewSchedule(principal, annualRate decimal.Decimal, termMonths int, start civil.Date, extra decimal.Decimal) *Schedule {
	s := &Schedule{
		StartDate:      start,
		Principal:      principal,
		AnnualRate:     annualRate,
		MonthlyRate:    div(annualRate, twelve),
		ExtraPrincipal: extra,
		TermMonths:     termMonths,
	}
	s.Payment = s.payment()

	slog.Debug("Amortization schedule created",
		"principal", principal.String(),
		"rate", annualRate.String(),
		"term_months", termMonths,
		"payment", s.Payment.String())

	return s
}

func (s *Schedule) payment() decimal.Decimal {
	if s.TermMonths <= 0 {
		return decimal.Zero
	}
	if s.MonthlyRate.IsZero() {
		return cents(div(s.Principal, decimal.NewFromInt(int64(s.TermMonths))))
	}
	factor := pow(one.Add(s.MonthlyRate), s.TermMonths)
	numerator := mul(s.Principal, mul(s.MonthlyRate, factor))
	return cents(div(numerator, factor.Sub(one)))
}

// PaymentSplit returns the split for payment n, numbered from 1.
func (s *Schedule) PaymentSplit(n int) (PaymentSplit, error) {
	if n < 1 || n > s.TermMonths {
		return PaymentSplit{}, fmt.Errorf("%w: payment %d of %d", common.ErrPaymentOutOfRange, n, s.TermMonths)
	}
	return s.split(n, s.balanceAfter(n-1)), nil
}

// split computes payment n from the balance outstanding before it. The final
// payment retires whatever balance is left, so principal over the term sums
// to the loan amount.
func (s *Schedule) split(n int, before decimal.Decimal) PaymentSplit {
	interest := cents(mul(before, s.MonthlyRate))

	if n == s.TermMonths {
		return PaymentSplit{
			Principal:        before,
			Interest:         interest,
			TotalPayment:     before.Add(interest),
			RemainingBalance: decimal.Zero,
			PaymentNumber:    n,
		}
	}

	total := s.Payment
	principal := total.Sub(interest)
	if s.ExtraPrincipal.IsPositive() {
		principal = principal.Add(s.ExtraPrincipal)
		total = total.Add(s.ExtraPrincipal)
	}
	if principal.GreaterThan(before) {
		principal = before
		total = before.Add(interest)
	}

	return PaymentSplit{
		Principal:        principal,
		Interest:         interest,
		TotalPayment:     total,
		RemainingBalance: before.Sub(principal),
		PaymentNumber:    n,
	}
}

// balanceAfter returns the outstanding balance once paid payments are made,
// walking the rounded payments so each one starts where the last ended.
func (s *Schedule) balanceAfter(paid int) decimal.Decimal {
	if paid >= s.TermMonths {
		return decimal.Zero
	}
	balance := s.Principal
	for n := 1; n <= paid; n++ {
		balance = s.split(n, balance).RemainingBalance
	}
	return balance
}

// FullSchedule returns every payment from 1 to the term.
func (s *Schedule) FullSchedule() []PaymentSplit {
	if s.TermMonths <= 0 {
		return []PaymentSplit{}
	}
	splits := make([]PaymentSplit, 0, s.TermMonths)
	balance := s.Principal
	for n := 1; n <= s.TermMonths; n++ {
		split := s.split(n, balance)
		splits = append(splits, split)
		balance = split.RemainingBalance
	}
	return splits
}

// TotalInterest sums interest over the whole term.
func (s *Schedule) TotalInterest() decimal.Decimal {
	total := decimal.Zero
	for _, split := range s.FullSchedule() {
		total = total.Add(split.Interest)
	}
	return total
}

// PaymentNumberForDate maps a payment date onto its payment number, counting
// calendar months from the start date. Dates before the start or beyond the
// term have no payment number.
func (s *Schedule) PaymentNumberForDate(d civil.Date) (int, bool) {
	if d.Before(s.StartDate) {
		return 0, false
	}
	elapsed := (d.Year-s.StartDate.Year)*12 + int(d.Month) - int(s.StartDate.Month)
	n := elapsed + 1
	if n > s.TermMonths {
		return 0, false
	}
	return n, true
}
