package detector

import (
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/model"
)

const (
	maxIDLength = 50

	// UncategorizedAccount receives the balancing posting of proposed schedules.
	UncategorizedAccount = "Expenses:Uncategorized"
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Candidate is a detected recurring pattern ready to become a schedule.
type Candidate struct {
	FirstDate           civil.Date
	LastDate            civil.Date
	Amount              decimal.Decimal
	AmountTolerance     decimal.Decimal
	SignedAmount        decimal.Decimal
	ScheduleID          string
	Payee               string
	PayeePattern        string
	Account             string
	Frequency           Frequency
	Confidence          float64
	TransactionCount    int
	ExpectedOccurrences int
}

// Slugify lowercases text, turns spaces into hyphens and drops everything
// but letters, digits and single hyphens.
func Slugify(text string) string {
	slug := strings.ReplaceAll(strings.ToLower(text), " ", "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = strings.Trim(slug, "-")
	return slugDashes.ReplaceAllString(slug, "-")
}

// ScheduleID derives a stable identifier from payee and frequency name.
func ScheduleID(payee string, freq Frequency) string {
	payeeSlug := Slugify(payee)
	id := payeeSlug + "-" + Slugify(freq.Name())
	if len(id) > maxIDLength {
		if len(payeeSlug) > maxIDLength {
			return strings.TrimRight(payeeSlug[:maxIDLength], "-")
		}
		return payeeSlug
	}
	return id
}

func (d *Detector) newCandidate(g *Group, freq Frequency, confidence float64) Candidate {
	first, last := g.Dates[0], g.Dates[len(g.Dates)-1]
	signed := g.AmountAvg
	if g.FirstAmount.IsNegative() {
		signed = signed.Neg()
	}

	return Candidate{
		ScheduleID:          ScheduleID(g.PayeeCanonical, freq),
		Payee:               g.PayeeCanonical,
		PayeePattern:        g.PayeeCanonical,
		Account:             g.Account,
		Amount:              g.AmountAvg,
		SignedAmount:        signed,
		AmountTolerance:     g.AmountAvg.Mul(decimal.NewFromFloat(d.opts.AmountTolerancePct)),
		Frequency:           freq,
		Confidence:          confidence,
		TransactionCount:    g.Count(),
		FirstDate:           first,
		LastDate:            last,
		ExpectedOccurrences: ExpectedOccurrences(freq, first, last),
	}
}

// ToSchedule proposes a schedule for the candidate. The match account posting
// carries the observed signed average and a null posting balances it.
func (c *Candidate) ToSchedule() model.Schedule {
	amount := c.SignedAmount.RoundBank(2)
	tolerance := c.AmountTolerance.RoundBank(2)

	return model.Schedule{
		ID:      c.ScheduleID,
		Enabled: true,
		Match: model.MatchCriteria{
			Account:         c.Account,
			PayeePattern:    c.PayeePattern,
			Amount:          model.DecimalPtr(amount),
			AmountTolerance: model.DecimalPtr(tolerance),
			DateWindowDays:  model.IntPtr(model.DefaultDateWindowDays),
		},
		Recurrence: c.Frequency.Rule(c.FirstDate),
		Transaction: model.TransactionTemplate{
			Payee:     c.Payee,
			Narration: c.Frequency.Name() + " transaction",
			Metadata:  map[string]string{model.MetaScheduleID: c.ScheduleID},
			Postings: []model.PostingTemplate{
				{Account: c.Account, Amount: model.DecimalPtr(amount)},
				{Account: UncategorizedAccount},
			},
		},
		MissingTransaction: model.DefaultMissingTransactionConfig(),
	}
}
