package forecast

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/Veraticus/beanschedule/internal/amortization"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/model"
)

// LoanPayment is the projected split of one loan payment.
type LoanPayment struct {
	Date civil.Date
	amortization.PaymentSplit
}

// LoanPayments projects the payment splits of a loan schedule between start
// and end. Stateful loans are walked forward from the ledger balance and
// return common.ErrNoBalance when the ledger holds none.
func (b *Builder) LoanPayments(s *model.Schedule, ledger []model.Transaction, start, end civil.Date) ([]LoanPayment, error) {
	cfg := s.Amortization
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrNoAmortization, s.ID)
	}

	if cfg.Stateful() {
		account, ok := roleAccount(s, model.RolePrincipal)
		if !ok {
			return nil, fmt.Errorf("%w: stateful amortization needs a principal posting", common.ErrInvalidConfig)
		}
		balance, ok := amortization.BuildLiabilityBalanceIndex(ledger, []string{account})[account]
		if !ok {
			return nil, fmt.Errorf("%w: %s", common.ErrNoBalance, account)
		}
		if balance.AsOf.After(start) {
			start = balance.AsOf.AddDays(1)
		}
	}

	dates := b.engine.Generate(b.rule(s), start, end)
	splits, err := b.splits(s, ledger, dates)
	if err != nil {
		return nil, err
	}

	out := make([]LoanPayment, 0, len(splits))
	for d, split := range splits {
		out = append(out, LoanPayment{Date: d, PaymentSplit: split})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
