package amortization

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/model"
)

// LiabilityBalance is the amount still owed on an account and the date of the
// latest cleared posting to it.
type LiabilityBalance struct {
	AsOf    civil.Date
	Balance decimal.Decimal
}

// BuildLiabilityBalanceIndex computes the outstanding balance of each tracked
// account from cleared and pending postings. Forecast and placeholder
// transactions are ignored. Liabilities are credit-normal, so the sum is
// negated. Accounts with a zero balance or without a cleared posting are
// omitted.
func BuildLiabilityBalanceIndex(txns []model.Transaction, accounts []string) map[string]LiabilityBalance {
	result := make(map[string]LiabilityBalance)
	if len(accounts) == 0 {
		return result
	}

	tracked := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		tracked[a] = struct{}{}
	}

	sums := make(map[string]decimal.Decimal)
	latest := make(map[string]civil.Date)
	for i := range txns {
		txn := &txns[i]
		if txn.Flag != model.FlagCleared && txn.Flag != model.FlagPending {
			continue
		}
		for _, p := range txn.Postings {
			if _, ok := tracked[p.Account]; !ok {
				continue
			}
			if p.Amount != nil {
				sums[p.Account] = sums[p.Account].Add(*p.Amount)
			}
			if txn.Flag == model.FlagCleared {
				if prev, ok := latest[p.Account]; !ok || txn.Date.After(prev) {
					latest[p.Account] = txn.Date
				}
			}
		}
	}

	for account, sum := range sums {
		asOf, ok := latest[account]
		if sum.IsZero() || !ok {
			continue
		}
		result[account] = LiabilityBalance{Balance: sum.Neg(), AsOf: asOf}
	}
	return result
}
