package amortization

import (
	"log/slog"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/model"
)

// StatefulParams seeds a forward walk from an observed ledger balance.
type StatefulParams struct {
	StartingDate    civil.Date
	MonthlyPayment  decimal.Decimal
	AnnualRate      decimal.Decimal
	StartingBalance decimal.Decimal
	ExtraPrincipal  decimal.Decimal
	Compounding     model.Compounding
	Dates           []civil.Date
}

// ComputeStatefulSplits walks the payment dates in ascending order starting
// from the observed balance. Daily compounding accrues interest for the days
// since the previous payment; monthly compounding charges a twelfth of the
// annual rate. Once the loan is paid off, later dates are absent from the
// result. Split payment numbers are always 0.
func ComputeStatefulSplits(p StatefulParams) map[civil.Date]PaymentSplit {
	dates := append([]civil.Date(nil), p.Dates...)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	monthlyRate := div(p.AnnualRate, twelve)
	dailyRate := div(p.AnnualRate, daysPerYear)
	available := p.MonthlyPayment.Add(p.ExtraPrincipal)

	balance := p.StartingBalance
	previous := p.StartingDate
	splits := make(map[civil.Date]PaymentSplit, len(dates))

	for _, date := range dates {
		if !balance.IsPositive() {
			break
		}

		var interest decimal.Decimal
		if p.Compounding == model.CompoundingDaily {
			elapsed := date.DaysSince(previous)
			if elapsed < 0 {
				elapsed = 0
			}
			interest = cents(mul(mul(balance, dailyRate), decimal.NewFromInt(int64(elapsed))))
		} else {
			interest = cents(mul(balance, monthlyRate))
		}

		var principal, total decimal.Decimal
		switch {
		case interest.GreaterThanOrEqual(available):
			principal = available.Sub(interest)
			balance = cents(balance.Sub(principal))
			total = available
			slog.Warn("Negative amortization",
				"date", date.String(),
				"interest", interest.String(),
				"payment", available.String())
		case available.Sub(interest).GreaterThanOrEqual(balance):
			principal = balance
			total = balance.Add(interest)
			balance = decimal.Zero
		default:
			principal = available.Sub(interest)
			total = available
			balance = cents(balance.Sub(principal))
		}

		splits[date] = PaymentSplit{
			Principal:        principal,
			Interest:         interest,
			TotalPayment:     total,
			RemainingBalance: balance,
		}
		previous = date
	}

	return splits
}
