package matcher

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/beanschedule/internal/model"
)

var expectedDate = civil.Date{Year: 2024, Month: time.January, Day: 15}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func schedule(id, pattern string) *model.Schedule {
	return &model.Schedule{
		ID:      id,
		Enabled: true,
		Match: model.MatchCriteria{
			Account:         "Assets:Checking",
			PayeePattern:    pattern,
			Amount:          dec("1500.00"),
			AmountTolerance: dec("5.00"),
		},
		Transaction: model.TransactionTemplate{
			Metadata: map[string]string{model.MetaScheduleID: id},
		},
	}
}

func txn(payee, amount string, date civil.Date) *model.Transaction {
	t := &model.Transaction{
		Date:  date,
		Flag:  model.FlagCleared,
		Payee: payee,
		Postings: []model.Posting{
			{Account: "Assets:Checking", Currency: "USD"},
		},
	}
	if amount != "" {
		t.Postings[0].Amount = dec(amount)
	}
	return t
}

func TestScore_AccountMismatchIsZero(t *testing.T) {
	m := New(model.DefaultGlobalConfig())
	s := schedule("rent", "LANDLORD")
	tx := txn("LANDLORD", "1500.00", expectedDate)
	tx.Postings[0].Account = "Assets:Savings"

	assert.Zero(t, m.Score(tx, s, expectedDate))
}

func TestScore_ExactMatch(t *testing.T) {
	m := New(model.DefaultGlobalConfig())
	s := schedule("rent", "landlord")

	assert.InDelta(t, 1.0, m.Score(txn("LANDLORD", "1500.00", expectedDate), s, expectedDate), 1e-9)
}

func TestScore_AmountTolerance(t *testing.T) {
	m := New(model.DefaultGlobalConfig())
	s := schedule("rent", "LANDLORD")

	tests := []struct {
		name   string
		amount string
		want   float64
	}{
		{name: "exact", amount: "1500.00", want: 1.0},
		{name: "half tolerance", amount: "1502.50", want: 0.5},
		{name: "at boundary", amount: "1505.00", want: 0.0},
		{name: "outside", amount: "1510.00", want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.amountScore(txn("LANDLORD", tt.amount, expectedDate), s)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	partial := m.amountScore(txn("LANDLORD", "1502.50", expectedDate), s)
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)
}

func TestAmountScore_Variants(t *testing.T) {
	m := New(model.DefaultGlobalConfig())

	t.Run("range is binary", func(t *testing.T) {
		s := schedule("utility", "POWER")
		s.Match.AmountMin = dec("50")
		s.Match.AmountMax = dec("150")
		assert.InDelta(t, 1.0, m.amountScore(txn("POWER", "149.99", expectedDate), s), 1e-9)
		assert.Zero(t, m.amountScore(txn("POWER", "150.01", expectedDate), s))
	})

	t.Run("default percent tolerance", func(t *testing.T) {
		s := schedule("rent", "LANDLORD")
		s.Match.AmountTolerance = nil
		// 2% of 1500 is 30.
		assert.InDelta(t, 0.5, m.amountScore(txn("LANDLORD", "1485.00", expectedDate), s), 1e-9)
	})

	t.Run("template posting amount", func(t *testing.T) {
		s := schedule("gym", "GYM")
		s.Match.Amount = nil
		s.Match.AmountTolerance = dec("0")
		s.Transaction.Postings = []model.PostingTemplate{
			{Account: "Assets:Checking", Amount: dec("-40.00")},
			{Account: "Expenses:Gym"},
		}
		assert.InDelta(t, 1.0, m.amountScore(txn("GYM", "-40.00", expectedDate), s), 1e-9)
		assert.Zero(t, m.amountScore(txn("GYM", "-40.01", expectedDate), s))
	})

	t.Run("no amount criteria", func(t *testing.T) {
		s := schedule("any", "ANY")
		s.Match.Amount = nil
		assert.InDelta(t, 1.0, m.amountScore(txn("ANY", "12345", expectedDate), s), 1e-9)
	})

	t.Run("missing transaction amount", func(t *testing.T) {
		s := schedule("rent", "LANDLORD")
		assert.Zero(t, m.amountScore(txn("LANDLORD", "", expectedDate), s))
	})
}

func TestDateScore(t *testing.T) {
	m := New(model.DefaultGlobalConfig())
	s := schedule("rent", "LANDLORD")

	tests := []struct {
		name   string
		window *int
		offset int
		want   float64
	}{
		{name: "same day", offset: 0, want: 1.0},
		{name: "one day early default window", offset: -1, want: 2.0 / 3.0},
		{name: "outside default window", offset: 4, want: 0.0},
		{name: "explicit window", window: model.IntPtr(10), offset: 5, want: 0.5},
		{name: "exact window same day", window: model.IntPtr(0), offset: 0, want: 1.0},
		{name: "exact window off by one", window: model.IntPtr(0), offset: 1, want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.Match.DateWindowDays = tt.window
			got := m.dateScore(expectedDate.AddDays(tt.offset), s, expectedDate)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPayeeScore(t *testing.T) {
	m := New(model.DefaultGlobalConfig())

	assert.InDelta(t, 1.0, m.payeeScore("Property Mgmt LLC", "LANDLORD|PROPERTY MGMT"), 1e-9)
	assert.Zero(t, m.payeeScore("Grocery", "LANDLORD|PROPERTY MGMT"))
	assert.Zero(t, m.payeeScore("", "LANDLORD"))
	assert.Zero(t, m.payeeScore("anything", "[unclosed"))
	assert.Len(t, m.patterns, 2)

	fuzzy := m.payeeScore("NETFLIX.COM", "Netflix")
	assert.Greater(t, fuzzy, 0.7)
	assert.Less(t, fuzzy, 1.0)
}

func TestIsRegexPattern(t *testing.T) {
	assert.True(t, IsRegexPattern("A|B"))
	assert.True(t, IsRegexPattern("^NETFLIX"))
	assert.True(t, IsRegexPattern("AMZN.*"))
	assert.True(t, IsRegexPattern("AMAZON.COM"))
	assert.True(t, IsRegexPattern("PAY+"))
	assert.True(t, IsRegexPattern(`PAY\d+`))
	assert.False(t, IsRegexPattern("Landlord"))
	assert.False(t, IsRegexPattern("Property Mgmt LLC"))
}

func TestPayeeScore_SingleMetacharacters(t *testing.T) {
	m := New(model.DefaultGlobalConfig())

	assert.InDelta(t, 1.0, m.payeeScore("AMAZONXCOM", "AMAZON.COM"), 1e-9)
	assert.InDelta(t, 1.0, m.payeeScore("amazon.com marketplace", "AMAZON.COM"), 1e-9)
	assert.Zero(t, m.payeeScore("AMAZN COM", "AMAZON.COM"))
}

func TestPayeeScore_RegexEscapes(t *testing.T) {
	m := New(model.DefaultGlobalConfig())

	assert.InDelta(t, 1.0, m.payeeScore("PAY123", `PAY\d+`), 1e-9)
	assert.InDelta(t, 1.0, m.payeeScore("pay 42", `^PAY\s\d+$`), 1e-9)
	assert.Zero(t, m.payeeScore("PAYROLL", `PAY\d+`))

	// Lower- and upper-case spellings of an escape are different classes.
	assert.Zero(t, m.payeeScore("PAY123", `PAY\D+`))
	assert.Len(t, m.patterns, 3)
}

func TestFindBestMatch(t *testing.T) {
	m := New(model.DefaultGlobalConfig())
	rent := schedule("rent", "LANDLORD")
	other := schedule("other", "LANDLORD")

	candidates := []model.Occurrence{
		{Schedule: rent, Date: expectedDate.AddDays(-30)},
		{Schedule: rent, Date: expectedDate},
		{Schedule: other, Date: expectedDate},
	}

	match, ok := m.FindBestMatch(txn("LANDLORD", "1500.00", expectedDate.AddDays(1)), candidates)
	require.True(t, ok)
	assert.Equal(t, "rent", match.Schedule.ID, "first candidate wins ties")
	assert.Equal(t, expectedDate, match.Date)

	_, ok = m.FindBestMatch(txn("SOMEONE ELSE", "99.00", expectedDate), candidates)
	assert.False(t, ok)
}
