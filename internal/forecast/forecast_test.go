package forecast

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/model"
)

func day(m time.Month, d int) civil.Date {
	return civil.Date{Year: 2024, Month: m, Day: d}
}

func dec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func assertAmount(t *testing.T, want string, p model.Posting) {
	t.Helper()
	require.NotNil(t, p.Amount, "posting %s has no amount", p.Account)
	assert.True(t, dec(want).Equal(*p.Amount), "%s: want %s, got %s", p.Account, want, p.Amount.String())
}

func monthly(dayOfMonth int) model.RecurrenceRule {
	return model.RecurrenceRule{
		Frequency:  model.FrequencyMonthly,
		StartDate:  day(time.January, 1),
		DayOfMonth: model.IntPtr(dayOfMonth),
	}
}

func subscription(id string) model.Schedule {
	return model.Schedule{
		ID:         id,
		Enabled:    true,
		Match:      model.MatchCriteria{Account: "Assets:Checking", PayeePattern: "Streaming"},
		Recurrence: monthly(10),
		Transaction: model.TransactionTemplate{
			Payee:     "Streaming",
			Narration: "Subscription",
			Metadata:  map[string]string{model.MetaScheduleID: id, "category": "media"},
			Postings: []model.PostingTemplate{
				{Account: "Assets:Checking"},
				{Account: "Expenses:Subscriptions", Amount: dec("15")},
			},
		},
	}
}

func mortgage(term int) model.Schedule {
	start := day(time.January, 1)
	return model.Schedule{
		ID:         "mortgage",
		Enabled:    true,
		Match:      model.MatchCriteria{Account: "Assets:Checking", PayeePattern: "Bank"},
		Recurrence: monthly(1),
		Transaction: model.TransactionTemplate{
			Payee:    "Bank",
			Metadata: map[string]string{model.MetaScheduleID: "mortgage"},
			Postings: []model.PostingTemplate{
				{Account: "Liabilities:Mortgage", Role: model.RolePrincipal},
				{Account: "Expenses:Interest", Role: model.RoleInterest},
				{Account: "Expenses:Escrow", Role: model.RoleEscrow, Amount: dec("300")},
				{Account: "Assets:Checking", Role: model.RolePayment},
			},
		},
		Amortization: &model.AmortizationConfig{
			AnnualRate: decimal.RequireFromString("0.0675"),
			Principal:  dec("300000"),
			TermMonths: model.IntPtr(term),
			StartDate:  &start,
		},
	}
}

func carLoan() model.Schedule {
	return model.Schedule{
		ID:         "car",
		Enabled:    true,
		Match:      model.MatchCriteria{Account: "Assets:Checking", PayeePattern: "Auto Finance"},
		Recurrence: monthly(5),
		Transaction: model.TransactionTemplate{
			Metadata: map[string]string{model.MetaScheduleID: "car"},
			Postings: []model.PostingTemplate{
				{Account: "Liabilities:Car", Role: model.RolePrincipal},
				{Account: "Expenses:Interest", Role: model.RoleInterest},
				{Account: "Assets:Checking", Role: model.RolePayment},
			},
		},
		Amortization: &model.AmortizationConfig{
			AnnualRate:        decimal.RequireFromString("0.06"),
			BalanceFromLedger: true,
			MonthlyPayment:    dec("200"),
			PaymentDayOfMonth: model.IntPtr(1),
			Compounding:       model.CompoundingMonthly,
		},
	}
}

func TestBuild_Subscription(t *testing.T) {
	b := New(model.DefaultGlobalConfig())
	ledger := []model.Transaction{
		{
			Date: day(time.February, 11),
			Flag: model.FlagCleared,
			Meta: map[string]string{
				model.MetaScheduleID:          "streaming",
				model.MetaScheduleMatchedDate: "2024-02-10",
			},
		},
		{
			Date: day(time.March, 10),
			Flag: model.FlagForecast,
			Meta: map[string]string{model.MetaScheduleID: "streaming"},
		},
	}

	txns, err := b.Build([]model.Schedule{subscription("streaming")}, ledger, day(time.January, 1), day(time.March, 31))
	require.NoError(t, err)

	require.Len(t, txns, 2)
	assert.Equal(t, day(time.January, 10), txns[0].Date)
	assert.Equal(t, day(time.March, 10), txns[1].Date)

	txn := txns[0]
	assert.Equal(t, model.FlagForecast, txn.Flag)
	assert.Equal(t, "streaming", txn.Meta[model.MetaScheduleID])
	assert.Equal(t, "media", txn.Meta["category"])
	assert.Equal(t, "Streaming", txn.Payee)
	require.Len(t, txn.Postings, 2)
	assertAmount(t, "-15", txn.Postings[0])
	assertAmount(t, "15", txn.Postings[1])
	assert.Equal(t, model.DefaultCurrency, txn.Postings[0].Currency)
	assert.NotEmpty(t, txn.Hash)
}

func TestBuild_StaticAmortization(t *testing.T) {
	b := New(model.DefaultGlobalConfig())

	txns, err := b.Build([]model.Schedule{mortgage(360)}, nil, day(time.January, 1), day(time.January, 31))
	require.NoError(t, err)
	require.Len(t, txns, 1)

	txn := txns[0]
	assertAmount(t, "258.29", txn.Postings[0])
	assertAmount(t, "1687.50", txn.Postings[1])
	assertAmount(t, "300", txn.Postings[2])
	assertAmount(t, "-2245.79", txn.Postings[3])
	assert.Equal(t, "258.29", txn.Meta[model.MetaAmortizationPrincipal])
	assert.Equal(t, "1687.50", txn.Meta[model.MetaAmortizationInterest])
	assert.Equal(t, "299741.71", txn.Meta[model.MetaAmortizationBalanceAfter])
	assert.Equal(t, "1", txn.Meta[model.MetaAmortizationPaymentNumber])

	total := decimal.Zero
	for _, p := range txn.Postings {
		total = total.Add(*p.Amount)
	}
	assert.True(t, total.IsZero())
}

func TestBuild_StaticAmortizationStopsAtTerm(t *testing.T) {
	b := New(model.DefaultGlobalConfig())

	txns, err := b.Build([]model.Schedule{mortgage(2)}, nil, day(time.January, 1), day(time.April, 30))
	require.NoError(t, err)

	require.Len(t, txns, 2)
	assert.Equal(t, "2", txns[1].Meta[model.MetaAmortizationPaymentNumber])
	assert.Equal(t, "0.00", txns[1].Meta[model.MetaAmortizationBalanceAfter])
}

func TestBuild_StatefulAmortization(t *testing.T) {
	b := New(model.DefaultGlobalConfig())
	ledger := []model.Transaction{{
		Date: day(time.January, 1),
		Flag: model.FlagCleared,
		Postings: []model.Posting{
			{Account: "Liabilities:Car", Amount: dec("-9547.75")},
			{Account: "Assets:Checking", Amount: dec("9547.75")},
		},
	}}

	txns, err := b.Build([]model.Schedule{carLoan()}, ledger, day(time.January, 1), day(time.March, 31))
	require.NoError(t, err)

	require.Len(t, txns, 2)
	feb := txns[0]
	assert.Equal(t, day(time.February, 1), feb.Date)
	assertAmount(t, "152.26", feb.Postings[0])
	assertAmount(t, "47.74", feb.Postings[1])
	assertAmount(t, "-200", feb.Postings[2])
	assert.Equal(t, "9395.49", feb.Meta[model.MetaAmortizationBalanceAfter])
	assert.NotContains(t, feb.Meta, model.MetaAmortizationPaymentNumber)

	mar := txns[1]
	assertAmount(t, "46.98", mar.Postings[1])
	assert.Equal(t, "9242.47", mar.Meta[model.MetaAmortizationBalanceAfter])
}

func TestBuild_StatefulOverrideChangesRate(t *testing.T) {
	b := New(model.DefaultGlobalConfig())
	car := carLoan()
	car.Amortization.Overrides = []model.AmortizationOverride{
		{EffectiveDate: day(time.March, 1), AnnualRate: dec("0")},
	}
	ledger := []model.Transaction{{
		Date:     day(time.January, 1),
		Flag:     model.FlagCleared,
		Postings: []model.Posting{{Account: "Liabilities:Car", Amount: dec("-9547.75")}},
	}}

	txns, err := b.Build([]model.Schedule{car}, ledger, day(time.January, 1), day(time.March, 31))
	require.NoError(t, err)

	require.Len(t, txns, 2)
	assertAmount(t, "47.74", txns[0].Postings[1])
	assertAmount(t, "0", txns[1].Postings[1])
	assert.Equal(t, "9195.49", txns[1].Meta[model.MetaAmortizationBalanceAfter])
}

func TestBuild_StatefulWithoutBalance(t *testing.T) {
	b := New(model.DefaultGlobalConfig())

	txns, err := b.Build([]model.Schedule{carLoan()}, nil, day(time.January, 1), day(time.March, 31))
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestBuild_CollectsPostingErrors(t *testing.T) {
	twoNull := subscription("two-null")
	twoNull.Transaction.Postings = []model.PostingTemplate{
		{Account: "Assets:Checking"},
		{Account: "Expenses:Misc"},
	}
	allNull := subscription("all-null")
	allNull.Transaction.Postings = []model.PostingTemplate{{Account: "Assets:Checking"}}
	disabled := subscription("disabled")
	disabled.Enabled = false

	b := New(model.DefaultGlobalConfig())
	txns, err := b.Build(
		[]model.Schedule{twoNull, subscription("ok"), allNull, disabled},
		nil, day(time.January, 1), day(time.January, 31))

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnbalancedPosting)
	assert.Contains(t, err.Error(), "schedule two-null")
	assert.Contains(t, err.Error(), "schedule all-null")

	require.Len(t, txns, 1)
	assert.Equal(t, "ok", txns[0].Meta[model.MetaScheduleID])
}

func TestBuild_SortsByDateThenSchedule(t *testing.T) {
	b := New(model.DefaultGlobalConfig())

	txns, err := b.Build([]model.Schedule{subscription("zeta"), subscription("alpha")}, nil, day(time.January, 1), day(time.February, 28))
	require.NoError(t, err)

	var order []string
	for _, txn := range txns {
		order = append(order, txn.Date.String()+" "+txn.Meta[model.MetaScheduleID])
	}
	assert.Equal(t, []string{
		"2024-01-10 alpha",
		"2024-01-10 zeta",
		"2024-02-10 alpha",
		"2024-02-10 zeta",
	}, order)
}

func TestAdvance(t *testing.T) {
	b := New(model.DefaultGlobalConfig())
	s := subscription("streaming")

	txns, err := b.Build([]model.Schedule{s}, nil, day(time.January, 1), day(time.January, 31))
	require.NoError(t, err)
	require.Len(t, txns, 1)

	next, ok := b.Advance(txns[0], &s, txns[0].Date)
	require.True(t, ok)
	assert.Equal(t, day(time.February, 10), next.Date)
	assert.Equal(t, "forecast:streaming:2024-02-10", next.ID)
	assert.NotEqual(t, txns[0].Hash, next.Hash)
	assert.Equal(t, day(time.January, 10), txns[0].Date)

	end := day(time.January, 31)
	s.Recurrence.EndDate = &end
	_, ok = b.Advance(txns[0], &s, txns[0].Date)
	assert.False(t, ok)
}

func TestAdvance_RecomputesStaticSplit(t *testing.T) {
	b := New(model.DefaultGlobalConfig())
	s := mortgage(360)

	txns, err := b.Build([]model.Schedule{s}, nil, day(time.January, 1), day(time.January, 31))
	require.NoError(t, err)

	next, ok := b.Advance(txns[0], &s, day(time.January, 1))
	require.True(t, ok)
	assert.Equal(t, day(time.February, 1), next.Date)
	assert.Equal(t, "2", next.Meta[model.MetaAmortizationPaymentNumber])
	assert.Equal(t, "1686.05", next.Meta[model.MetaAmortizationInterest])
}
