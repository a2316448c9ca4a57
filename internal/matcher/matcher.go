// Package matcher scores imported transactions against expected schedule
// occurrences.
package matcher

import (
	"log/slog"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/similarity"
)

// Component weights of the overall score.
const (
	PayeeWeight  = 0.4
	AmountWeight = 0.4
	DateWeight   = 0.2
)

// A payee pattern containing any of these is compiled as a regex.
var regexIndicators = []string{"|", ".", "*", "+", `\`, "[", "]", "(", ")", "^", "$"}

// Match is the best scoring occurrence for a transaction.
type Match struct {
	Schedule *model.Schedule
	Date     civil.Date
	Score    float64
}

// Matcher scores transactions against schedules. It caches compiled payee
// patterns and fuzzy ratios, so an instance must not be shared between
// goroutines.
type Matcher struct {
	patterns map[string]*regexp.Regexp
	fuzzy    *similarity.Cache
	config   model.GlobalConfig
}

// New creates a matcher using the global thresholds in cfg.
func New(cfg model.GlobalConfig) *Matcher {
	return &Matcher{
		config:   cfg,
		patterns: make(map[string]*regexp.Regexp),
		fuzzy:    similarity.NewCache(),
	}
}

// Score returns a confidence in [0, 1] that txn is the expected occurrence of
// schedule on expected. A transaction on a different account always scores 0.
func (m *Matcher) Score(txn *model.Transaction, schedule *model.Schedule, expected civil.Date) float64 {
	account, ok := txn.MainAccount()
	if !ok || account != schedule.Match.Account {
		return 0
	}

	payee := m.payeeScore(txn.Payee, schedule.Match.PayeePattern)
	amount := m.amountScore(txn, schedule)
	date := m.dateScore(txn.Date, schedule, expected)
	total := payee*PayeeWeight + amount*AmountWeight + date*DateWeight

	slog.Debug("Match score",
		"payee", txn.Payee,
		"schedule_id", schedule.ID,
		"score", total,
		"payee_score", payee,
		"amount_score", amount,
		"date_score", date)

	return total
}

// FindBestMatch returns the highest scoring candidate. Earlier candidates win
// ties. No match is returned when the best score is below the fuzzy threshold.
func (m *Matcher) FindBestMatch(txn *model.Transaction, candidates []model.Occurrence) (Match, bool) {
	var best Match
	found := false
	for _, c := range candidates {
		score := m.Score(txn, c.Schedule, c.Date)
		if score > best.Score && score >= m.config.FuzzyMatchThreshold {
			best = Match{Schedule: c.Schedule, Date: c.Date, Score: score}
			found = true
		}
	}
	return best, found
}

// IsRegexPattern reports whether pattern should be treated as a regular
// expression rather than fuzzy text.
func IsRegexPattern(pattern string) bool {
	for _, indicator := range regexIndicators {
		if strings.Contains(pattern, indicator) {
			return true
		}
	}
	return false
}

func (m *Matcher) payeeScore(payee, pattern string) float64 {
	if payee == "" {
		return 0
	}
	if IsRegexPattern(pattern) {
		return m.regexScore(payee, pattern)
	}
	return m.fuzzy.Ratio(payee, pattern)
}

// regexScore keeps the pattern's case so escapes such as \d and \s survive;
// the (?i) flag handles case-insensitivity.
func (m *Matcher) regexScore(payee, pattern string) float64 {
	key := strings.TrimSpace(pattern)
	re, cached := m.patterns[key]
	if !cached {
		var err error
		re, err = regexp.Compile("(?i)" + key)
		if err != nil {
			slog.Warn("Invalid payee pattern", "pattern", pattern, "error", err)
			re = nil
		}
		m.patterns[key] = re
	}
	if re == nil {
		return 0
	}
	if re.MatchString(strings.TrimSpace(payee)) {
		return 1
	}
	return 0
}

func (m *Matcher) amountScore(txn *model.Transaction, schedule *model.Schedule) float64 {
	actual, ok := txn.MainAmount()
	if !ok {
		return 0
	}

	criteria := schedule.Match
	if criteria.AmountMin != nil && criteria.AmountMax != nil {
		if actual.GreaterThanOrEqual(*criteria.AmountMin) && actual.LessThanOrEqual(*criteria.AmountMax) {
			return 1
		}
		return 0
	}

	var expected decimal.Decimal
	switch {
	case criteria.Amount != nil:
		expected = *criteria.Amount
	default:
		amt, found := schedule.TemplateAmount(criteria.Account)
		if !found {
			return 1
		}
		expected = amt
	}

	var tolerance decimal.Decimal
	if criteria.AmountTolerance != nil {
		tolerance = *criteria.AmountTolerance
	} else {
		tolerance = expected.Abs().Mul(decimal.NewFromFloat(m.config.DefaultAmountTolerancePercent))
	}

	diff := actual.Sub(expected).Abs()
	if diff.GreaterThan(tolerance) {
		return 0
	}
	if tolerance.IsZero() {
		return 1
	}
	return clamp(1 - diff.Div(tolerance).InexactFloat64())
}

func (m *Matcher) dateScore(actual civil.Date, schedule *model.Schedule, expected civil.Date) float64 {
	window := m.config.DefaultDateWindowDays
	if schedule.Match.DateWindowDays != nil {
		window = *schedule.Match.DateWindowDays
	}

	diff := actual.DaysSince(expected)
	if diff < 0 {
		diff = -diff
	}
	if diff > window {
		return 0
	}
	if window == 0 {
		return 1
	}
	return clamp(1 - float64(diff)/float64(window))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
