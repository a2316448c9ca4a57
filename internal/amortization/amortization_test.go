package amortization

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

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func mortgage() *Schedule {
	return NewSchedule(d("300000"), d("0.0675"), 360, date(2024, time.January, 1), decimal.Zero)
}

func TestSchedule_Payment(t *testing.T) {
	s := mortgage()

	assert.True(t, s.Payment.GreaterThan(d("1944")))
	assert.True(t, s.Payment.LessThan(d("1946")))
	assertDecimal(t, "1945.79", s.Payment)
}

func TestSchedule_PaymentSplit(t *testing.T) {
	s := mortgage()

	first, err := s.PaymentSplit(1)
	require.NoError(t, err)
	assertDecimal(t, "1687.50", first.Interest)
	assertDecimal(t, "258.29", first.Principal)
	assertDecimal(t, "1945.79", first.TotalPayment)
	assertDecimal(t, "299741.71", first.RemainingBalance)
	assert.Equal(t, 1, first.PaymentNumber)

	second, err := s.PaymentSplit(2)
	require.NoError(t, err)
	assertDecimal(t, "299741.71", second.RemainingBalance.Add(second.Principal))

	last, err := s.PaymentSplit(360)
	require.NoError(t, err)
	assertDecimal(t, "0", last.RemainingBalance)
	assertDecimal(t, last.Principal.Add(last.Interest).String(), last.TotalPayment)
	assert.True(t, last.TotalPayment.Sub(s.Payment).Abs().LessThan(d("10.00")), "final payment only absorbs rounding drift")
}

func TestSchedule_ClosesExactly(t *testing.T) {
	s := mortgage()

	penultimate, err := s.PaymentSplit(359)
	require.NoError(t, err)
	last, err := s.PaymentSplit(360)
	require.NoError(t, err)
	assertDecimal(t, "1940.17", penultimate.RemainingBalance)
	assertDecimal(t, penultimate.RemainingBalance.String(), last.Principal)
	assertDecimal(t, "10.91", last.Interest)
	assertDecimal(t, "1951.08", last.TotalPayment)

	full := s.FullSchedule()
	require.Len(t, full, 360)
	principal := decimal.Zero
	balance := s.Principal
	for _, split := range full {
		assertDecimal(t, balance.Sub(split.Principal).String(), split.RemainingBalance, "payment %d", split.PaymentNumber)
		balance = split.RemainingBalance
		principal = principal.Add(split.Principal)
	}
	assertDecimal(t, "300000.00", principal)
	assertDecimal(t, "400489.69", s.TotalInterest())

	for _, n := range []int{1, 120, 359} {
		split, err := s.PaymentSplit(n)
		require.NoError(t, err)
		assertDecimal(t, full[n-1].Principal.String(), split.Principal, "payment %d", n)
		assertDecimal(t, full[n-1].RemainingBalance.String(), split.RemainingBalance, "payment %d", n)
	}
}

func TestSchedule_ZeroRateRetiresPrincipal(t *testing.T) {
	s := NewSchedule(d("1000"), decimal.Zero, 3, date(2024, time.January, 1), decimal.Zero)
	assertDecimal(t, "333.33", s.Payment)

	full := s.FullSchedule()
	require.Len(t, full, 3)
	assertDecimal(t, "333.33", full[0].Principal)
	assertDecimal(t, "666.67", full[0].RemainingBalance)
	assertDecimal(t, "333.33", full[1].Principal)
	assertDecimal(t, "333.34", full[2].Principal)
	assertDecimal(t, "0", full[2].RemainingBalance)

	principal := decimal.Zero
	for _, split := range full {
		principal = principal.Add(split.Principal)
	}
	assertDecimal(t, "1000.00", principal)
}

func TestSchedule_PaymentSplitOutOfRange(t *testing.T) {
	s := mortgage()

	for _, n := range []int{0, -1, 361} {
		_, err := s.PaymentSplit(n)
		assert.ErrorIs(t, err, common.ErrPaymentOutOfRange, "payment %d", n)
	}
}

func TestSchedule_ZeroRate(t *testing.T) {
	s := NewSchedule(d("1200"), decimal.Zero, 12, date(2024, time.January, 1), decimal.Zero)
	assertDecimal(t, "100", s.Payment)

	split, err := s.PaymentSplit(3)
	require.NoError(t, err)
	assertDecimal(t, "0", split.Interest)
	assertDecimal(t, "100", split.Principal)
	assertDecimal(t, "900", split.RemainingBalance)
	assertDecimal(t, "0", s.TotalInterest())
}

func TestSchedule_ExtraPrincipal(t *testing.T) {
	s := NewSchedule(d("1200"), decimal.Zero, 12, date(2024, time.January, 1), d("100"))

	second, err := s.PaymentSplit(2)
	require.NoError(t, err)
	assertDecimal(t, "200", second.Principal)
	assertDecimal(t, "200", second.TotalPayment)
	assertDecimal(t, "800", second.RemainingBalance)

	sixth, err := s.PaymentSplit(6)
	require.NoError(t, err)
	assertDecimal(t, "0", sixth.RemainingBalance)

	seventh, err := s.PaymentSplit(7)
	require.NoError(t, err)
	assertDecimal(t, "0", seventh.Principal)
	assertDecimal(t, "0", seventh.RemainingBalance)
}

func TestSchedule_FullScheduleAndTotalInterest(t *testing.T) {
	s := NewSchedule(d("10000"), d("0.06"), 12, date(2024, time.January, 1), decimal.Zero)

	full := s.FullSchedule()
	require.Len(t, full, 12)
	assertDecimal(t, "0", full[11].RemainingBalance)

	principal := decimal.Zero
	for _, split := range full {
		principal = principal.Add(split.Principal)
	}
	assertDecimal(t, "10000", principal)
	assert.True(t, s.TotalInterest().GreaterThan(d("320")))
	assert.True(t, s.TotalInterest().LessThan(d("330")))
}

func TestSchedule_PaymentNumberForDate(t *testing.T) {
	s := mortgage()

	tests := []struct {
		date civil.Date
		want int
		ok   bool
	}{
		{date: date(2024, time.January, 1), want: 1, ok: true},
		{date: date(2024, time.March, 15), want: 3, ok: true},
		{date: date(2053, time.December, 1), want: 360, ok: true},
		{date: date(2054, time.January, 1)},
		{date: date(2023, time.December, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.date.String(), func(t *testing.T) {
			n, ok := s.PaymentNumberForDate(tt.date)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestComputeStatefulSplits_Monthly(t *testing.T) {
	splits := ComputeStatefulSplits(StatefulParams{
		MonthlyPayment:  d("200"),
		AnnualRate:      d("0.06"),
		Compounding:     model.CompoundingMonthly,
		StartingBalance: d("9547.75"),
		StartingDate:    date(2024, time.January, 1),
		Dates:           []civil.Date{date(2024, time.March, 1), date(2024, time.February, 1)},
	})

	require.Len(t, splits, 2)
	first := splits[date(2024, time.February, 1)]
	assertDecimal(t, "47.74", first.Interest)
	assertDecimal(t, "152.26", first.Principal)
	assertDecimal(t, "9395.49", first.RemainingBalance)
	assertDecimal(t, "200", first.TotalPayment)
	assert.Zero(t, first.PaymentNumber)

	second := splits[date(2024, time.March, 1)]
	assertDecimal(t, "46.98", second.Interest)
	assertDecimal(t, "9242.47", second.RemainingBalance)
}

func TestComputeStatefulSplits_Daily(t *testing.T) {
	splits := ComputeStatefulSplits(StatefulParams{
		MonthlyPayment:  d("500"),
		AnnualRate:      d("0.0365"),
		Compounding:     model.CompoundingDaily,
		StartingBalance: d("10000"),
		StartingDate:    date(2024, time.January, 1),
		Dates:           []civil.Date{date(2024, time.February, 1)},
	})

	split := splits[date(2024, time.February, 1)]
	assertDecimal(t, "31.00", split.Interest)
	assertDecimal(t, "469.00", split.Principal)
	assertDecimal(t, "9531.00", split.RemainingBalance)
}

func TestComputeStatefulSplits_NegativeAmortization(t *testing.T) {
	splits := ComputeStatefulSplits(StatefulParams{
		MonthlyPayment:  d("50"),
		AnnualRate:      d("0.12"),
		StartingBalance: d("10000"),
		StartingDate:    date(2024, time.January, 1),
		Dates:           []civil.Date{date(2024, time.February, 1)},
	})

	split := splits[date(2024, time.February, 1)]
	assertDecimal(t, "100", split.Interest)
	assertDecimal(t, "-50", split.Principal)
	assertDecimal(t, "50", split.TotalPayment)
	assertDecimal(t, "10050", split.RemainingBalance)
}

func TestComputeStatefulSplits_StopsAtPayoff(t *testing.T) {
	splits := ComputeStatefulSplits(StatefulParams{
		MonthlyPayment:  d("200"),
		AnnualRate:      decimal.Zero,
		StartingBalance: d("350"),
		StartingDate:    date(2024, time.January, 1),
		ExtraPrincipal:  decimal.Zero,
		Dates: []civil.Date{
			date(2024, time.February, 1), date(2024, time.March, 1), date(2024, time.April, 1),
		},
	})

	require.Len(t, splits, 2)
	final := splits[date(2024, time.March, 1)]
	assertDecimal(t, "150", final.Principal)
	assertDecimal(t, "150", final.TotalPayment)
	assertDecimal(t, "0", final.RemainingBalance)
	_, ok := splits[date(2024, time.April, 1)]
	assert.False(t, ok)
}

func TestBuildLiabilityBalanceIndex(t *testing.T) {
	loan := "Liabilities:Mortgage"
	posting := func(account, amount string) model.Posting {
		amt := d(amount)
		return model.Posting{Account: account, Amount: &amt}
	}
	txns := []model.Transaction{
		{Date: date(2024, time.January, 1), Flag: model.FlagPending, Postings: []model.Posting{posting(loan, "-10000"), posting("Assets:Checking", "10000")}},
		{Date: date(2024, time.February, 1), Flag: model.FlagCleared, Postings: []model.Posting{posting(loan, "500"), posting("Assets:Checking", "-500")}},
		{Date: date(2024, time.March, 1), Flag: model.FlagCleared, Postings: []model.Posting{posting(loan, "500"), posting("Assets:Checking", "-500")}},
		{Date: date(2024, time.April, 1), Flag: model.FlagForecast, Postings: []model.Posting{posting(loan, "500")}},
		{Date: date(2024, time.April, 1), Flag: model.FlagPlaceholder, Postings: []model.Posting{posting(loan, "500")}},
		{Date: date(2024, time.January, 1), Flag: model.FlagPending, Postings: []model.Posting{posting("Liabilities:Car", "-5000")}},
		{Date: date(2024, time.January, 1), Flag: model.FlagCleared, Postings: []model.Posting{posting("Liabilities:Paid", "-100")}},
		{Date: date(2024, time.February, 1), Flag: model.FlagCleared, Postings: []model.Posting{posting("Liabilities:Paid", "100")}},
	}

	index := BuildLiabilityBalanceIndex(txns, []string{loan, "Liabilities:Car", "Liabilities:Paid", "Liabilities:Unknown"})

	require.Len(t, index, 1)
	assertDecimal(t, "9000", index[loan].Balance)
	assert.Equal(t, date(2024, time.March, 1), index[loan].AsOf)

	assert.Empty(t, BuildLiabilityBalanceIndex(txns, nil))
}

func TestEffectiveTerms(t *testing.T) {
	start := date(2024, time.January, 1)
	principal := d("300000")
	newPrincipal := d("250000")
	extra := d("500")
	cfg := &model.AmortizationConfig{
		AnnualRate: d("0.0675"),
		Principal:  &principal,
		TermMonths: model.IntPtr(360),
		StartDate:  &start,
		Overrides: []model.AmortizationOverride{
			{EffectiveDate: date(2025, time.January, 1), ExtraPrincipal: &extra},
			{EffectiveDate: date(2026, time.January, 1), Principal: &newPrincipal, TermMonths: model.IntPtr(240)},
		},
	}

	before := EffectiveTerms(cfg, date(2024, time.June, 1))
	assert.Nil(t, before.Override)
	assert.Equal(t, start, before.StartDate)
	assertDecimal(t, "300000", before.Principal)

	mid := EffectiveTerms(cfg, date(2025, time.March, 1))
	require.NotNil(t, mid.Override)
	assert.Equal(t, date(2025, time.January, 1), mid.StartDate)
	assertDecimal(t, "500", mid.ExtraPrincipal)
	assert.Equal(t, 348, mid.TermMonths)
	assertDecimal(t, mortgage().balanceAfter(12).String(), mid.Principal)

	n, ok := mid.Schedule().PaymentNumberForDate(date(2025, time.March, 1))
	require.True(t, ok)
	assert.Equal(t, 3, n, "payment numbers restart at the override")

	late := EffectiveTerms(cfg, date(2026, time.February, 1))
	assertDecimal(t, "250000", late.Principal)
	assert.Equal(t, 240, late.TermMonths)
	assertDecimal(t, "0", late.ExtraPrincipal)
}
