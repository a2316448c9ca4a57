package detector

import (
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/montanaflynn/stats"

	"github.com/Veraticus/beanschedule/internal/model"
)

// monthEndDay is reported for groups that mostly land on days 28-31.
const monthEndDay = 28

// GapAnalysis summarizes the day gaps between consecutive dates.
type GapAnalysis struct {
	Gaps      []int
	MedianGap int
	MeanGap   float64
	StdDev    float64
	MinGap    int
	MaxGap    int
}

// Regularity is 1 minus the coefficient of variation, floored at 0.
func (g GapAnalysis) Regularity() float64 {
	if g.MeanGap == 0 {
		return 0
	}
	return math.Max(0, 1-g.StdDev/g.MeanGap)
}

// AnalyzeGaps computes gap statistics for sorted dates. Same-day duplicates
// do not produce a gap.
func AnalyzeGaps(dates []civil.Date) GapAnalysis {
	var gaps []int
	data := stats.Float64Data{}
	for i := 1; i < len(dates); i++ {
		gap := dates[i].DaysSince(dates[i-1])
		if gap > 0 {
			gaps = append(gaps, gap)
			data = append(data, float64(gap))
		}
	}
	if len(gaps) == 0 {
		return GapAnalysis{}
	}

	median, _ := stats.Median(data)
	mean, _ := stats.Mean(data)
	minGap, _ := stats.Min(data)
	maxGap, _ := stats.Max(data)
	var stdDev float64
	if len(gaps) > 1 {
		stdDev, _ = stats.StandardDeviationSample(data)
	}

	return GapAnalysis{
		Gaps:      gaps,
		MedianGap: int(median),
		MeanGap:   mean,
		StdDev:    stdDev,
		MinGap:    int(minGap),
		MaxGap:    int(maxGap),
	}
}

// Frequency is a detected recurrence with its parameters. Zero values mean
// the parameter does not apply.
type Frequency struct {
	Frequency      model.Frequency
	DayOfWeek      model.DayOfWeek
	DayOfMonth     int
	Month          int
	Interval       int
	IntervalMonths int
	Penalty        float64
}

// Name returns the human readable frequency name.
func (f Frequency) Name() string {
	switch f.Frequency {
	case model.FrequencyWeekly:
		switch f.Interval {
		case 1:
			return "Weekly"
		case 2:
			return "Bi-weekly"
		case 4:
			return "Monthly (weekly pattern)"
		}
		return fmt.Sprintf("Every %d weeks", f.Interval)
	case model.FrequencyMonthly:
		return "Monthly"
	case model.FrequencyBimonthly:
		return "Bi-monthly"
	case model.FrequencyInterval:
		switch f.IntervalMonths {
		case 3:
			return "Quarterly"
		case 6:
			return "Semi-annually"
		}
		return fmt.Sprintf("Every %d months", f.IntervalMonths)
	case model.FrequencyYearly:
		return "Yearly"
	}
	return string(f.Frequency)
}

// Rule converts the detection into a recurrence rule starting at start.
func (f Frequency) Rule(start civil.Date) model.RecurrenceRule {
	rule := model.RecurrenceRule{Frequency: f.Frequency, StartDate: start}
	if f.DayOfWeek != "" {
		dow := f.DayOfWeek
		rule.DayOfWeek = &dow
	}
	if f.DayOfMonth > 0 {
		rule.DayOfMonth = model.IntPtr(f.DayOfMonth)
	}
	if f.Month > 0 {
		rule.Month = model.IntPtr(f.Month)
	}
	if f.Interval > 0 {
		rule.Interval = model.IntPtr(f.Interval)
	}
	if f.IntervalMonths > 0 {
		rule.IntervalMonths = model.IntPtr(f.IntervalMonths)
	}
	return rule
}

// DetectFrequency maps the median gap onto a known frequency band.
func DetectFrequency(gaps GapAnalysis, dates []civil.Date) (Frequency, bool) {
	median := gaps.MedianGap
	switch {
	case median == 0:
		return Frequency{}, false
	case median >= 6 && median <= 8:
		return Frequency{Frequency: model.FrequencyWeekly, DayOfWeek: mostCommonWeekday(dates), Interval: 1}, true
	case median >= 12 && median <= 16:
		return Frequency{Frequency: model.FrequencyWeekly, DayOfWeek: mostCommonWeekday(dates), Interval: 2}, true
	case median >= 25 && median <= 35:
		return Frequency{Frequency: model.FrequencyMonthly, DayOfMonth: mostCommonDayOfMonth(dates)}, true
	case median >= 85 && median <= 95:
		return Frequency{Frequency: model.FrequencyInterval, DayOfMonth: mostCommonDayOfMonth(dates), IntervalMonths: 3}, true
	case median >= 355 && median <= 375:
		month, day := mostCommonMonthDay(dates)
		return Frequency{Frequency: model.FrequencyYearly, Month: month, DayOfMonth: day}, true
	}
	return Frequency{}, false
}

// ExpectedOccurrences estimates how many times freq fires between first and
// last inclusive.
func ExpectedOccurrences(freq Frequency, first, last civil.Date) int {
	days := last.DaysSince(first)
	if days <= 0 {
		return 1
	}
	months := (last.Year-first.Year)*12 + int(last.Month) - int(first.Month)

	switch freq.Frequency {
	case model.FrequencyWeekly:
		interval := freq.Interval
		if interval < 1 {
			interval = 1
		}
		return (days/7)/interval + 1
	case model.FrequencyMonthly:
		return months + 1
	case model.FrequencyInterval:
		if freq.IntervalMonths > 0 {
			return months/freq.IntervalMonths + 1
		}
	case model.FrequencyYearly:
		return last.Year - first.Year + 1
	}
	return 1
}

// Confidence weighs coverage 0.5, regularity 0.3 and sample size 0.2, then
// applies the frequency penalty.
func Confidence(g *Group, gaps GapAnalysis, freq Frequency) float64 {
	if len(g.Dates) == 0 {
		return 0
	}
	expected := ExpectedOccurrences(freq, g.Dates[0], g.Dates[len(g.Dates)-1])
	if expected == 0 {
		expected = 1
	}

	count := float64(g.Count())
	coverage := math.Min(1, count/float64(expected))
	sample := math.Min(1, 0.7+count/15.0)

	confidence := coverage*0.5 + gaps.Regularity()*0.3 + sample*0.2
	confidence *= 1 - freq.Penalty
	return math.Max(0, math.Min(1, confidence))
}

// mostCommon returns the most frequent key, preferring the first seen on ties.
func mostCommon[K comparable](keys []K) K {
	var best K
	counts := make(map[K]int)
	bestCount := 0
	for _, k := range keys {
		counts[k]++
	}
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

func mostCommonWeekday(dates []civil.Date) model.DayOfWeek {
	if len(dates) == 0 {
		return model.Monday
	}
	days := make([]model.DayOfWeek, len(dates))
	for i, d := range dates {
		days[i] = model.DayOfWeekFrom(d.In(time.UTC).Weekday())
	}
	return mostCommon(days)
}

func mostCommonDayOfMonth(dates []civil.Date) int {
	if len(dates) == 0 {
		return 1
	}
	days := make([]int, len(dates))
	monthEnd := 0
	for i, d := range dates {
		days[i] = d.Day
		if d.Day >= 28 {
			monthEnd++
		}
	}
	if monthEnd > len(dates)/2 {
		return monthEndDay
	}
	return mostCommon(days)
}

func mostCommonMonthDay(dates []civil.Date) (int, int) {
	if len(dates) == 0 {
		return 1, 1
	}
	months := make([]int, len(dates))
	days := make([]int, len(dates))
	for i, d := range dates {
		months[i] = int(d.Month)
		days[i] = d.Day
	}
	return mostCommon(months), mostCommon(days)
}
