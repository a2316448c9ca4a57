package reconcile

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/beanschedule/internal/model"
)

const checking = "Assets:Checking"

func day(m time.Month, d int) civil.Date {
	return civil.Date{Year: 2024, Month: m, Day: d}
}

func dec(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func rentSchedule() model.Schedule {
	return model.Schedule{
		ID:      "rent",
		Enabled: true,
		Match: model.MatchCriteria{
			Account:         checking,
			PayeePattern:    "Landlord Properties",
			Amount:          dec("-1500"),
			AmountTolerance: dec("5"),
			DateWindowDays:  model.IntPtr(3),
		},
		Recurrence: model.RecurrenceRule{
			Frequency:  model.FrequencyMonthly,
			StartDate:  day(time.January, 1),
			DayOfMonth: model.IntPtr(1),
		},
		Transaction: model.TransactionTemplate{
			Payee:     "Landlord",
			Narration: "Rent",
			Tags:      []string{"rent"},
			Metadata:  map[string]string{model.MetaScheduleID: "rent", "category": "housing"},
			Postings: []model.PostingTemplate{
				{Account: checking},
				{Account: "Expenses:Housing:Rent", Amount: dec("1500"), Narration: "monthly rent"},
			},
		},
		MissingTransaction: model.DefaultMissingTransactionConfig(),
	}
}

func gymSchedule() model.Schedule {
	return model.Schedule{
		ID:      "gym",
		Enabled: true,
		Match: model.MatchCriteria{
			Account:      checking,
			PayeePattern: "Gym",
			Amount:       dec("-50"),
		},
		Recurrence: model.RecurrenceRule{
			Frequency:  model.FrequencyMonthly,
			StartDate:  day(time.January, 1),
			DayOfMonth: model.IntPtr(15),
		},
		Transaction: model.TransactionTemplate{
			Payee:     "Gym",
			Narration: "Gym membership",
			Metadata:  map[string]string{model.MetaScheduleID: "gym"},
		},
		MissingTransaction: model.DefaultMissingTransactionConfig(),
	}
}

func disabledSchedule() model.Schedule {
	s := gymSchedule()
	s.ID = "old-gym"
	s.Transaction.Metadata = map[string]string{model.MetaScheduleID: "old-gym"}
	s.Enabled = false
	return s
}

func newReconciler(schedules ...model.Schedule) *Reconciler {
	return NewWithConfig(schedules, model.DefaultGlobalConfig())
}

func imported(id, payee, amount string, date civil.Date) model.Transaction {
	return model.Transaction{
		ID:        id,
		Date:      date,
		Flag:      model.FlagCleared,
		Payee:     payee,
		Narration: "imported",
		Postings:  []model.Posting{{Account: checking, Amount: dec(amount), Currency: "USD"}},
	}
}

func outcomeFor(t *testing.T, result *Result, id string, date civil.Date) Outcome {
	t.Helper()
	for _, o := range result.Outcomes {
		if o.ScheduleID == id && o.ExpectedDate == date {
			return o
		}
	}
	require.Failf(t, "outcome not found", "%s on %s", id, date)
	return Outcome{}
}

func TestRun_MatchesEnrichesAndCreatesPlaceholders(t *testing.T) {
	r := newReconciler(rentSchedule(), gymSchedule(), disabledSchedule())
	input := []model.Transaction{
		imported("t1", "LANDLORD PROPERTIES", "-1500", day(time.January, 2)),
		imported("t2", "LANDLORD PROPERTIES", "-1500", day(time.February, 1)),
		imported("t3", "COFFEE SHOP", "-4.50", day(time.January, 10)),
	}

	result, err := r.Run(context.Background(), input, nil)
	require.NoError(t, err)

	assert.Equal(t, civil.Date{Year: 2023, Month: time.December, Day: 26}, result.Start)
	assert.Equal(t, day(time.February, 8), result.End)

	require.Len(t, result.Transactions, 3)
	rent := result.Transactions[0]
	assert.Equal(t, "rent", rent.Meta[model.MetaScheduleID])
	assert.Equal(t, "2024-01-01", rent.Meta[model.MetaScheduleMatchedDate])
	assert.Equal(t, "0.93", rent.Meta[model.MetaScheduleConfidence])
	assert.Equal(t, "housing", rent.Meta["category"])
	assert.Equal(t, "Landlord", rent.Payee)
	assert.Equal(t, "Rent", rent.Narration)
	assert.Equal(t, []string{"rent"}, rent.Tags)
	require.Len(t, rent.Postings, 2)
	assert.Equal(t, checking, rent.Postings[0].Account)
	require.NotNil(t, rent.Postings[0].Amount)
	assert.True(t, dec("-1500").Equal(*rent.Postings[0].Amount))
	assert.Equal(t, "Expenses:Housing:Rent", rent.Postings[1].Account)
	assert.True(t, dec("1500").Equal(*rent.Postings[1].Amount))
	assert.Equal(t, "USD", rent.Postings[1].Currency)
	assert.Equal(t, "monthly rent", rent.Postings[1].Meta[model.MetaNarration])

	assert.Equal(t, "2024-02-01", result.Transactions[1].Meta[model.MetaScheduleMatchedDate])
	assert.Equal(t, "1.00", result.Transactions[1].Meta[model.MetaScheduleConfidence])

	coffee := result.Transactions[2]
	assert.Empty(t, coffee.Meta)
	assert.Equal(t, "COFFEE SHOP", coffee.Payee)

	require.Len(t, result.Placeholders, 1)
	ph := result.Placeholders[0]
	assert.Equal(t, day(time.January, 15), ph.Date)
	assert.Equal(t, model.FlagPlaceholder, ph.Flag)
	assert.Equal(t, "Gym", ph.Payee)
	assert.Equal(t, "[MISSING] Gym membership", ph.Narration)
	assert.Equal(t, "true", ph.Meta[model.MetaSchedulePlaceholder])
	assert.Equal(t, "2024-01-15", ph.Meta[model.MetaScheduleExpectedDate])
	assert.Equal(t, "gym", ph.Meta[model.MetaScheduleID])
	require.Len(t, ph.Postings, 1)
	assert.Equal(t, checking, ph.Postings[0].Account)
	assert.Nil(t, ph.Postings[0].Amount)
	assert.NotEmpty(t, ph.Hash)

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, StatusMatched, outcomeFor(t, result, "rent", day(time.January, 1)).Status)
	assert.Equal(t, "t2", outcomeFor(t, result, "rent", day(time.February, 1)).TransactionID)
	assert.Equal(t, StatusMissing, outcomeFor(t, result, "gym", day(time.January, 15)).Status)

	matched, missing, skipped := result.Counts()
	assert.Equal(t, 2, matched)
	assert.Equal(t, 1, missing)
	assert.Zero(t, skipped)
}

func TestRun_DoesNotModifyInput(t *testing.T) {
	r := newReconciler(rentSchedule())
	input := []model.Transaction{imported("t1", "LANDLORD PROPERTIES", "-1500", day(time.January, 1))}

	_, err := r.Run(context.Background(), input, nil)
	require.NoError(t, err)

	assert.Equal(t, "LANDLORD PROPERTIES", input[0].Payee)
	assert.Nil(t, input[0].Meta)
	assert.Len(t, input[0].Postings, 1)
}

func TestRun_EnrichedTransactionReplacesImport(t *testing.T) {
	r := newReconciler(rentSchedule())
	input := []model.Transaction{
		imported("t1", "LANDLORD PROPERTIES", "-1500", day(time.January, 1)),
		imported("t2", "COFFEE SHOP", "-4.50", day(time.January, 10)),
	}
	input[0].Hash = input[0].GenerateHash()
	original := input[0].Hash

	result, err := r.Run(context.Background(), input, nil)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 2)

	rent := result.Transactions[0]
	assert.Equal(t, original, rent.Supersedes)
	assert.NotEqual(t, original, rent.Hash)
	assert.Equal(t, rent.GenerateHash(), rent.Hash)

	coffee := result.Transactions[1]
	assert.Empty(t, coffee.Supersedes)

	again, err := r.Run(context.Background(), input, nil)
	require.NoError(t, err)
	assert.Equal(t, rent.Hash, again.Transactions[0].Hash)
}

func TestRun_LedgerCoversOccurrences(t *testing.T) {
	tagged := func(id, schedule, account string, date civil.Date, flag string) model.Transaction {
		return model.Transaction{
			ID:       id,
			Date:     date,
			Flag:     flag,
			Meta:     map[string]string{model.MetaScheduleID: schedule},
			Postings: []model.Posting{{Account: account, Amount: dec("-50")}},
		}
	}

	tests := []struct {
		name        string
		ledger      model.Transaction
		want        Status
		placeholder bool
	}{
		{
			name:   "tagged within window",
			ledger: tagged("l1", "gym", checking, day(time.January, 16), model.FlagCleared),
			want:   StatusMatched,
		},
		{
			name:   "skip marker",
			ledger: tagged("l1", "gym", checking, day(time.January, 15), model.FlagSkipped),
			want:   StatusSkipped,
		},
		{
			name:        "wrong account",
			ledger:      tagged("l1", "gym", "Assets:Savings", day(time.January, 15), model.FlagCleared),
			want:        StatusMissing,
			placeholder: true,
		},
		{
			name:        "outside window",
			ledger:      tagged("l1", "gym", checking, day(time.January, 25), model.FlagCleared),
			want:        StatusMissing,
			placeholder: true,
		},
		{
			name:        "unknown schedule",
			ledger:      tagged("l1", "nope", checking, day(time.January, 15), model.FlagCleared),
			want:        StatusMissing,
			placeholder: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReconciler(gymSchedule())
			input := []model.Transaction{imported("t1", "COFFEE", "-3", day(time.January, 10))}

			result, err := r.Run(context.Background(), input, []model.Transaction{tt.ledger})
			require.NoError(t, err)

			outcome := outcomeFor(t, result, "gym", day(time.January, 15))
			assert.Equal(t, tt.want, outcome.Status)
			if tt.want != StatusMissing {
				assert.Equal(t, "l1", outcome.TransactionID)
			}
			assert.Equal(t, tt.placeholder, len(result.Placeholders) == 1)
		})
	}
}

func TestRun_PretaggedTransactionUsesClosestOccurrence(t *testing.T) {
	r := newReconciler(rentSchedule())
	tagged := imported("t2", "SOMETHING ELSE", "-999", day(time.January, 25))
	tagged.Meta = map[string]string{model.MetaScheduleID: "rent"}
	input := []model.Transaction{
		imported("t1", "LANDLORD PROPERTIES", "-1500", day(time.January, 2)),
		tagged,
	}

	result, err := r.Run(context.Background(), input, nil)
	require.NoError(t, err)

	got := result.Transactions[1]
	assert.Equal(t, "2024-02-01", got.Meta[model.MetaScheduleMatchedDate])
	assert.Equal(t, "1.00", got.Meta[model.MetaScheduleConfidence])
	assert.Equal(t, StatusMatched, outcomeFor(t, result, "rent", day(time.February, 1)).Status)
	assert.Empty(t, result.Placeholders)
}

func TestRun_ImportedSkipMarker(t *testing.T) {
	r := newReconciler(gymSchedule())
	marker := r.SkipMarker(&model.Schedule{ID: "gym", Match: model.MatchCriteria{Account: checking}}, day(time.January, 15), "travelling")

	result, err := r.Run(context.Background(), []model.Transaction{marker}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, outcomeFor(t, result, "gym", day(time.January, 15)).Status)
	assert.Empty(t, result.Placeholders)
	_, enriched := result.Transactions[0].Meta[model.MetaScheduleMatchedDate]
	assert.False(t, enriched)
}

func TestRun_PlaceholderDisabled(t *testing.T) {
	gym := gymSchedule()
	gym.MissingTransaction.CreatePlaceholder = false
	r := newReconciler(gym)

	result, err := r.Run(context.Background(), []model.Transaction{imported("t1", "COFFEE", "-3", day(time.January, 10))}, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Placeholders)
	assert.Equal(t, StatusMissing, outcomeFor(t, result, "gym", day(time.January, 15)).Status)
}

func TestRun_PlaceholderUsesTemplatePostings(t *testing.T) {
	r := NewWithConfig([]model.Schedule{rentSchedule()}, model.GlobalConfig{
		DefaultCurrency:               "EUR",
		PlaceholderFlag:               "?",
		FuzzyMatchThreshold:           model.DefaultFuzzyMatchThreshold,
		DefaultDateWindowDays:         model.DefaultDateWindowDays,
		DefaultAmountTolerancePercent: model.DefaultAmountTolerancePercent,
	})

	result, err := r.Run(context.Background(), []model.Transaction{imported("t1", "COFFEE", "-3", day(time.January, 28))}, nil)
	require.NoError(t, err)

	require.Len(t, result.Placeholders, 1)
	ph := result.Placeholders[0]
	assert.Equal(t, day(time.February, 1), ph.Date)
	assert.Equal(t, "?", ph.Flag)
	assert.Equal(t, "[MISSING] Rent", ph.Narration)
	assert.Equal(t, "housing", ph.Meta["category"])
	require.Len(t, ph.Postings, 2)
	assert.Nil(t, ph.Postings[0].Amount)
	assert.Equal(t, "EUR", ph.Postings[1].Currency)
}

func TestRun_EmptyInputs(t *testing.T) {
	input := []model.Transaction{imported("t1", "LANDLORD PROPERTIES", "-1500", day(time.January, 1))}

	result, err := newReconciler().Run(context.Background(), input, nil)
	require.NoError(t, err)
	assert.Equal(t, input, result.Transactions)
	assert.Empty(t, result.Outcomes)

	result, err = newReconciler(rentSchedule()).Run(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Transactions)
	assert.Empty(t, result.Placeholders)
}

func TestRun_ProgressAndCancellation(t *testing.T) {
	input := []model.Transaction{
		imported("t1", "A", "-1", day(time.January, 1)),
		imported("t2", "B", "-1", day(time.January, 2)),
	}

	r := newReconciler(rentSchedule())
	var calls []int
	r.OnProgress(func(done, total int) {
		assert.Equal(t, 2, total)
		calls = append(calls, done)
	})
	_, err := r.Run(context.Background(), input, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, input, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSkipMarker(t *testing.T) {
	s := rentSchedule()
	marker := newReconciler().SkipMarker(&s, day(time.March, 1), "paid in cash")

	assert.Equal(t, model.FlagCleared, marker.Flag)
	assert.Equal(t, "[SKIPPED] paid in cash", marker.Narration)
	assert.Equal(t, []string{model.SkippedTag}, marker.Tags)
	assert.Equal(t, "rent", marker.Meta[model.MetaScheduleID])
	assert.Equal(t, "true", marker.Meta[model.MetaScheduleSkipped])
	require.Len(t, marker.Postings, 1)
	assert.Equal(t, checking, marker.Postings[0].Account)
	assert.True(t, marker.Postings[0].Amount.IsZero())
	assert.True(t, marker.IsSkipMarker())

	assert.Equal(t, "[SKIPPED]", newReconciler().SkipMarker(&s, day(time.March, 1), "").Narration)
}
