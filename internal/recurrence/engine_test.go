package recurrence

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/beanschedule/internal/model"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func dayOfWeek(d model.DayOfWeek) *model.DayOfWeek {
	return &d
}

func TestEngine_Generate(t *testing.T) {
	engine := NewEngine()
	jan1 := date(2024, time.January, 1)

	tests := []struct {
		name  string
		rule  model.RecurrenceRule
		start civil.Date
		end   civil.Date
		want  []civil.Date
	}{
		{
			name:  "monthly on the 15th",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyMonthly, StartDate: jan1, DayOfMonth: model.IntPtr(15)},
			start: jan1,
			end:   date(2024, time.March, 31),
			want:  []civil.Date{date(2024, time.January, 15), date(2024, time.February, 15), date(2024, time.March, 15)},
		},
		{
			name:  "monthly on the 31st skips short months",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyMonthly, StartDate: jan1, DayOfMonth: model.IntPtr(31)},
			start: jan1,
			end:   date(2024, time.May, 31),
			want:  []civil.Date{date(2024, time.January, 31), date(2024, time.March, 31), date(2024, time.May, 31)},
		},
		{
			name:  "monthly honours rule end date",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyMonthly, StartDate: jan1, EndDate: ptr(date(2024, time.February, 20)), DayOfMonth: model.IntPtr(1)},
			start: jan1,
			end:   date(2024, time.June, 30),
			want:  []civil.Date{date(2024, time.January, 1), date(2024, time.February, 1)},
		},
		{
			name:  "yearly",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyYearly, StartDate: jan1, Month: model.IntPtr(3), DayOfMonth: model.IntPtr(10)},
			start: jan1,
			end:   date(2026, time.December, 31),
			want:  []civil.Date{date(2024, time.March, 10), date(2025, time.March, 10), date(2026, time.March, 10)},
		},
		{
			name:  "yearly leap day",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyYearly, StartDate: jan1, Month: model.IntPtr(2), DayOfMonth: model.IntPtr(29)},
			start: jan1,
			end:   date(2028, time.December, 31),
			want:  []civil.Date{date(2024, time.February, 29), date(2028, time.February, 29)},
		},
		{
			name:  "quarterly interval anchored on start month",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyInterval, StartDate: date(2024, time.February, 1), IntervalMonths: model.IntPtr(3), DayOfMonth: model.IntPtr(5)},
			start: date(2024, time.April, 1),
			end:   date(2024, time.December, 31),
			want:  []civil.Date{date(2024, time.May, 5), date(2024, time.August, 5), date(2024, time.November, 5)},
		},
		{
			name:  "weekly on fridays",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyWeekly, StartDate: jan1, DayOfWeek: dayOfWeek(model.Friday)},
			start: jan1,
			end:   date(2024, time.January, 31),
			want: []civil.Date{
				date(2024, time.January, 5), date(2024, time.January, 12), date(2024, time.January, 19), date(2024, time.January, 26),
			},
		},
		{
			name:  "biweekly keeps phase from rule start",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyWeekly, StartDate: jan1, DayOfWeek: dayOfWeek(model.Friday), Interval: model.IntPtr(2)},
			start: date(2024, time.January, 10),
			end:   date(2024, time.February, 29),
			want:  []civil.Date{date(2024, time.January, 19), date(2024, time.February, 2), date(2024, time.February, 16)},
		},
		{
			name:  "days of month are sorted and distinct",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyMonthlyOnDays, StartDate: jan1, DaysOfMonth: []int{20, 5, 15, 5}},
			start: jan1,
			end:   date(2024, time.March, 31),
			want: []civil.Date{
				date(2024, time.January, 5), date(2024, time.January, 15), date(2024, time.January, 20),
				date(2024, time.February, 5), date(2024, time.February, 15), date(2024, time.February, 20),
				date(2024, time.March, 5), date(2024, time.March, 15), date(2024, time.March, 20),
			},
		},
		{
			name:  "bimonthly with the 30th skips february",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyBimonthly, StartDate: jan1, DaysOfMonth: []int{15, 30}},
			start: date(2024, time.February, 1),
			end:   date(2024, time.March, 31),
			want:  []civil.Date{date(2024, time.February, 15), date(2024, time.March, 15), date(2024, time.March, 30)},
		},
		{
			name:  "last friday",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyNthWeekday, StartDate: jan1, DayOfWeek: dayOfWeek(model.Friday), NthOccurrence: model.IntPtr(-1)},
			start: jan1,
			end:   date(2024, time.January, 31),
			want:  []civil.Date{date(2024, time.January, 26)},
		},
		{
			name:  "second tuesday",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyNthWeekday, StartDate: jan1, DayOfWeek: dayOfWeek(model.Tuesday), NthOccurrence: model.IntPtr(2)},
			start: jan1,
			end:   date(2024, time.March, 31),
			want:  []civil.Date{date(2024, time.January, 9), date(2024, time.February, 13), date(2024, time.March, 12)},
		},
		{
			name:  "fifth friday skips months without one",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyNthWeekday, StartDate: jan1, DayOfWeek: dayOfWeek(model.Friday), NthOccurrence: model.IntPtr(5)},
			start: jan1,
			end:   date(2024, time.April, 30),
			want:  []civil.Date{date(2024, time.March, 29)},
		},
		{
			name:  "last day of month is leap aware",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyLastDayOfMonth, StartDate: jan1},
			start: jan1,
			end:   date(2024, time.April, 30),
			want: []civil.Date{
				date(2024, time.January, 31), date(2024, time.February, 29), date(2024, time.March, 31), date(2024, time.April, 30),
			},
		},
		{
			name:  "window before rule start",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyMonthly, StartDate: date(2025, time.January, 1), DayOfMonth: model.IntPtr(1)},
			start: jan1,
			end:   date(2024, time.December, 31),
			want:  []civil.Date{},
		},
		{
			name:  "inverted window",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyMonthly, StartDate: jan1, DayOfMonth: model.IntPtr(1)},
			start: date(2024, time.June, 1),
			end:   date(2024, time.May, 1),
			want:  []civil.Date{},
		},
		{
			name:  "missing day of month",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyMonthly, StartDate: jan1},
			start: jan1,
			end:   date(2024, time.December, 31),
			want:  []civil.Date{},
		},
		{
			name:  "missing weekday",
			rule:  model.RecurrenceRule{Frequency: model.FrequencyNthWeekday, StartDate: jan1, NthOccurrence: model.IntPtr(1)},
			start: jan1,
			end:   date(2024, time.December, 31),
			want:  []civil.Date{},
		},
		{
			name:  "unknown frequency",
			rule:  model.RecurrenceRule{Frequency: "HOURLY", StartDate: jan1},
			start: jan1,
			end:   date(2024, time.December, 31),
			want:  []civil.Date{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Generate(tt.rule, tt.start, tt.end)
			assert.Equal(t, tt.want, got)
		})
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func TestEngine_InvalidParametersAreReported(t *testing.T) {
	engine := NewEngine()
	jan1 := date(2024, time.January, 1)
	end := date(2024, time.December, 31)

	tests := []struct {
		name     string
		rule     model.RecurrenceRule
		requires string
	}{
		{
			name:     "zeroth weekday",
			rule:     model.RecurrenceRule{Frequency: model.FrequencyNthWeekday, StartDate: jan1, DayOfWeek: dayOfWeek(model.Friday), NthOccurrence: model.IntPtr(0)},
			requires: "nth_occurrence",
		},
		{
			name:     "sixth weekday",
			rule:     model.RecurrenceRule{Frequency: model.FrequencyNthWeekday, StartDate: jan1, DayOfWeek: dayOfWeek(model.Friday), NthOccurrence: model.IntPtr(6)},
			requires: "nth_occurrence",
		},
		{
			name:     "second to last weekday",
			rule:     model.RecurrenceRule{Frequency: model.FrequencyNthWeekday, StartDate: jan1, DayOfWeek: dayOfWeek(model.Friday), NthOccurrence: model.IntPtr(-2)},
			requires: "nth_occurrence",
		},
		{
			name:     "month zero",
			rule:     model.RecurrenceRule{Frequency: model.FrequencyYearly, StartDate: jan1, Month: model.IntPtr(0), DayOfMonth: model.IntPtr(10)},
			requires: "month between 1 and 12",
		},
		{
			name:     "month thirteen",
			rule:     model.RecurrenceRule{Frequency: model.FrequencyYearly, StartDate: jan1, Month: model.IntPtr(13), DayOfMonth: model.IntPtr(10)},
			requires: "month between 1 and 12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLogs(t)
			got := engine.Generate(tt.rule, jan1, end)
			assert.Empty(t, got)
			assert.Contains(t, logs.String(), "Recurrence rule is missing a required parameter")
			assert.Contains(t, logs.String(), tt.requires)
		})
	}

	t.Run("last weekday is valid", func(t *testing.T) {
		logs := captureLogs(t)
		rule := model.RecurrenceRule{Frequency: model.FrequencyNthWeekday, StartDate: jan1, DayOfWeek: dayOfWeek(model.Friday), NthOccurrence: model.IntPtr(-1)}
		got := engine.Generate(rule, jan1, date(2024, time.March, 31))
		assert.Equal(t, []civil.Date{date(2024, time.January, 26), date(2024, time.February, 23), date(2024, time.March, 29)}, got)
		assert.Empty(t, logs.String())
	})
}

func TestEngine_MonthlyDay31NeverProducesFebruary(t *testing.T) {
	engine := NewEngine()
	for year := 2020; year <= 2030; year++ {
		rule := model.RecurrenceRule{
			Frequency:  model.FrequencyMonthly,
			StartDate:  date(year, time.January, 1),
			DayOfMonth: model.IntPtr(31),
		}
		for _, d := range engine.Generate(rule, date(year, time.January, 1), date(year, time.December, 31)) {
			assert.NotEqual(t, time.February, d.Month, "year %d", year)
			assert.Equal(t, 31, d.Day)
		}
	}
}

func TestEngine_DaysOfMonthStrictlyAscending(t *testing.T) {
	engine := NewEngine()
	orders := [][]int{{1, 15, 28}, {28, 1, 15}, {15, 28, 1, 1}}

	for _, days := range orders {
		rule := model.RecurrenceRule{
			Frequency:   model.FrequencyBimonthly,
			StartDate:   date(2024, time.January, 1),
			DaysOfMonth: days,
		}
		got := engine.Generate(rule, date(2024, time.January, 1), date(2024, time.December, 31))
		require.Len(t, got, 36)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i-1].Before(got[i]), "%v not before %v", got[i-1], got[i])
		}
	}
}

func TestEngine_Idempotent(t *testing.T) {
	engine := NewEngine()
	rule := model.RecurrenceRule{
		Frequency:   model.FrequencyMonthlyOnDays,
		StartDate:   date(2024, time.January, 1),
		DaysOfMonth: []int{31, 1, 15},
	}
	start, end := date(2024, time.January, 1), date(2025, time.December, 31)

	first := engine.Generate(rule, start, end)
	second := engine.Generate(rule, start, end)
	assert.Equal(t, first, second)
}

func TestEngine_NextOccurrence(t *testing.T) {
	engine := NewEngine()
	rule := model.RecurrenceRule{
		Frequency:  model.FrequencyMonthly,
		StartDate:  date(2020, time.January, 1),
		DayOfMonth: model.IntPtr(1),
	}

	next, ok := engine.NextOccurrence(rule, date(2024, time.January, 3))
	require.True(t, ok)
	assert.Equal(t, date(2024, time.February, 1), next)

	next, ok = engine.NextOccurrence(rule, date(2024, time.February, 1))
	require.True(t, ok)
	assert.Equal(t, date(2024, time.March, 1), next, "the after date itself is excluded")

	rule.EndDate = ptr(date(2024, time.February, 15))
	_, ok = engine.NextOccurrence(rule, date(2024, time.February, 1))
	assert.False(t, ok)
}

func ptr(d civil.Date) *civil.Date {
	return &d
}
