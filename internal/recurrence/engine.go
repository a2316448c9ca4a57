// Package recurrence expands recurrence rules into concrete calendar dates.
package recurrence

import (
	"log/slog"
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/Veraticus/beanschedule/internal/model"
)

// lookaheadDays bounds the NextOccurrence search.
const lookaheadDays = 365

// Engine generates expected dates for recurrence rules.
// It holds no state and is safe for concurrent use.
type Engine struct{}

// NewEngine creates a recurrence engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Generate returns the sorted, distinct dates produced by rule within
// [windowStart, windowEnd], further limited by the rule's own start and end.
// Rules missing a parameter required by their frequency yield no dates.
func (e *Engine) Generate(rule model.RecurrenceRule, windowStart, windowEnd civil.Date) []civil.Date {
	start := windowStart
	if rule.StartDate.After(start) {
		start = rule.StartDate
	}
	end := windowEnd
	if rule.EndDate != nil && rule.EndDate.Before(end) {
		end = *rule.EndDate
	}
	if start.After(end) {
		return []civil.Date{}
	}

	switch rule.Frequency {
	case model.FrequencyMonthly:
		if rule.DayOfMonth == nil {
			return missing(rule, "day_of_month")
		}
		return monthly(*rule.DayOfMonth, start, end, nil)
	case model.FrequencyYearly:
		if rule.DayOfMonth == nil || rule.Month == nil {
			return missing(rule, "month and day_of_month")
		}
		if *rule.Month < 1 || *rule.Month > 12 {
			return missing(rule, "a month between 1 and 12")
		}
		month := time.Month(*rule.Month)
		return monthly(*rule.DayOfMonth, start, end, func(_ int, m time.Month) bool { return m == month })
	case model.FrequencyInterval:
		if rule.DayOfMonth == nil || rule.IntervalMonths == nil || *rule.IntervalMonths < 1 {
			return missing(rule, "day_of_month and interval_months")
		}
		anchor := monthIndex(rule.StartDate.Year, rule.StartDate.Month)
		step := *rule.IntervalMonths
		return monthly(*rule.DayOfMonth, start, end, func(y int, m time.Month) bool {
			offset := monthIndex(y, m) - anchor
			return offset >= 0 && offset%step == 0
		})
	case model.FrequencyWeekly:
		if rule.DayOfWeek == nil {
			return missing(rule, "day_of_week")
		}
		wd, ok := rule.DayOfWeek.Weekday()
		if !ok {
			return missing(rule, "a valid day_of_week")
		}
		return weekly(wd, rule.WeekInterval(), rule.StartDate, start, end)
	case model.FrequencyBimonthly, model.FrequencyMonthlyOnDays:
		if len(rule.DaysOfMonth) == 0 {
			return missing(rule, "days_of_month")
		}
		return onDays(rule.DaysOfMonth, start, end)
	case model.FrequencyNthWeekday:
		if rule.DayOfWeek == nil || rule.NthOccurrence == nil {
			return missing(rule, "day_of_week and nth_occurrence")
		}
		wd, ok := rule.DayOfWeek.Weekday()
		if !ok {
			return missing(rule, "a valid day_of_week")
		}
		if nth := *rule.NthOccurrence; nth != -1 && (nth < 1 || nth > 5) {
			return missing(rule, "an nth_occurrence of 1 to 5 or -1")
		}
		return nthWeekday(wd, *rule.NthOccurrence, start, end)
	case model.FrequencyLastDayOfMonth:
		return lastDays(start, end)
	default:
		slog.Error("Unknown recurrence frequency", "frequency", rule.Frequency)
		return []civil.Date{}
	}
}

// NextOccurrence returns the first date strictly after after that rule
// produces, searching up to a year ahead. The rule's start date is ignored
// so that advancing never jumps back to the beginning of the series.
func (e *Engine) NextOccurrence(rule model.RecurrenceRule, after civil.Date) (civil.Date, bool) {
	shifted := rule
	shifted.StartDate = after
	end := after.AddDays(lookaheadDays)
	if rule.EndDate != nil && rule.EndDate.Before(end) {
		end = *rule.EndDate
	}
	for _, d := range e.Generate(shifted, after, end) {
		if d.After(after) {
			return d, true
		}
	}
	slog.Debug("No future occurrence", "frequency", rule.Frequency, "after", after.String())
	return civil.Date{}, false
}

func missing(rule model.RecurrenceRule, what string) []civil.Date {
	slog.Error("Recurrence rule is missing a required parameter",
		"frequency", rule.Frequency,
		"requires", what)
	return []civil.Date{}
}

func monthIndex(year int, month time.Month) int {
	return year*12 + int(month) - 1
}

// daysIn returns the number of days in the month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// eachMonth calls fn for every month touched by [start, end].
func eachMonth(start, end civil.Date, fn func(year int, month time.Month)) {
	for idx := monthIndex(start.Year, start.Month); idx <= monthIndex(end.Year, end.Month); idx++ {
		fn(idx/12, time.Month(idx%12+1))
	}
}

func inWindow(d, start, end civil.Date) bool {
	return !d.Before(start) && !d.After(end)
}

// monthly yields day in each month accepted by keep. Months too short for
// day are skipped.
func monthly(day int, start, end civil.Date, keep func(int, time.Month) bool) []civil.Date {
	dates := []civil.Date{}
	eachMonth(start, end, func(y int, m time.Month) {
		if keep != nil && !keep(y, m) {
			return
		}
		if day < 1 || day > daysIn(y, m) {
			return
		}
		d := civil.Date{Year: y, Month: m, Day: day}
		if inWindow(d, start, end) {
			dates = append(dates, d)
		}
	})
	return dates
}

func onDays(days []int, start, end civil.Date) []civil.Date {
	seen := make(map[civil.Date]struct{})
	dates := []civil.Date{}
	for _, day := range days {
		for _, d := range monthly(day, start, end, nil) {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// weekly steps from the first matching weekday on or after anchor, so the
// phase of multi-week intervals is fixed by the rule rather than the window.
func weekly(wd time.Weekday, interval int, anchor, start, end civil.Date) []civil.Date {
	first := anchor.AddDays((int(wd) - int(weekday(anchor)) + 7) % 7)
	step := 7 * interval

	d := first
	if d.Before(start) {
		gap := start.DaysSince(d)
		d = d.AddDays(((gap + step - 1) / step) * step)
	}

	dates := []civil.Date{}
	for ; !d.After(end); d = d.AddDays(step) {
		dates = append(dates, d)
	}
	return dates
}

func nthWeekday(wd time.Weekday, nth int, start, end civil.Date) []civil.Date {
	dates := []civil.Date{}
	eachMonth(start, end, func(y int, m time.Month) {
		last := daysIn(y, m)
		var day int
		if nth == -1 {
			lastDate := civil.Date{Year: y, Month: m, Day: last}
			day = last - (int(weekday(lastDate))-int(wd)+7)%7
		} else {
			firstDate := civil.Date{Year: y, Month: m, Day: 1}
			day = 1 + (int(wd)-int(weekday(firstDate))+7)%7 + 7*(nth-1)
		}
		if day < 1 || day > last {
			return
		}
		d := civil.Date{Year: y, Month: m, Day: day}
		if inWindow(d, start, end) {
			dates = append(dates, d)
		}
	})
	return dates
}

func lastDays(start, end civil.Date) []civil.Date {
	dates := []civil.Date{}
	eachMonth(start, end, func(y int, m time.Month) {
		d := civil.Date{Year: y, Month: m, Day: daysIn(y, m)}
		if inWindow(d, start, end) {
			dates = append(dates, d)
		}
	})
	return dates
}

func weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}
