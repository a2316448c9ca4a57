// Package detector mines ledger history for recurring transactions and
// proposes schedules for them.
package detector

import (
	"log/slog"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/similarity"
)

// Default detection thresholds.
const (
	DefaultFuzzyThreshold     = 0.85
	DefaultAmountTolerancePct = 0.05
	DefaultMinOccurrences     = 3
	DefaultMinConfidence      = 0.60
)

// Options tunes grouping and filtering.
type Options struct {
	FuzzyThreshold     float64
	AmountTolerancePct float64
	MinConfidence      float64
	MinOccurrences     int
}

// DefaultOptions returns the standard detection thresholds.
func DefaultOptions() Options {
	return Options{
		FuzzyThreshold:     DefaultFuzzyThreshold,
		AmountTolerancePct: DefaultAmountTolerancePct,
		MinOccurrences:     DefaultMinOccurrences,
		MinConfidence:      DefaultMinConfidence,
	}
}

// Group is a set of transactions sharing an account, a similar payee and a
// similar absolute amount.
type Group struct {
	FirstAmount    decimal.Decimal
	AmountMin      decimal.Decimal
	AmountMax      decimal.Decimal
	AmountAvg      decimal.Decimal
	Account        string
	PayeeCanonical string
	PayeeVariants  []string
	Transactions   []model.Transaction
	Dates          []civil.Date
}

// Count returns the number of transactions in the group.
func (g *Group) Count() int {
	return len(g.Transactions)
}

// Detector finds recurring patterns. It caches payee similarity scores, so
// an instance must not be shared between goroutines.
type Detector struct {
	fuzzy *similarity.Cache
	opts  Options
}

// New creates a detector.
func New(opts Options) *Detector {
	return &Detector{opts: opts, fuzzy: similarity.NewCache()}
}

// Detect returns recurring candidates sorted by confidence, highest first.
func (d *Detector) Detect(txns []model.Transaction) []Candidate {
	valid := make([]model.Transaction, 0, len(txns))
	for i := range txns {
		if len(txns[i].Postings) == 0 || txns[i].Payee == "" {
			continue
		}
		if _, ok := txns[i].MainAmount(); !ok {
			continue
		}
		valid = append(valid, txns[i])
	}
	if len(valid) == 0 {
		return []Candidate{}
	}

	groups := d.GroupTransactions(valid)
	slog.Info("Grouped transactions", "transactions", len(valid), "groups", len(groups))

	candidates := []Candidate{}
	for i := range groups {
		g := &groups[i]
		if g.Count() < d.opts.MinOccurrences {
			slog.Debug("Skipping group below minimum occurrences",
				"payee", g.PayeeCanonical,
				"account", g.Account,
				"count", g.Count(),
				"min", d.opts.MinOccurrences)
			continue
		}

		gaps := AnalyzeGaps(g.Dates)
		freq, ok := DetectFrequency(gaps, g.Dates)
		if !ok {
			slog.Debug("No frequency detected", "payee", g.PayeeCanonical, "account", g.Account)
			continue
		}

		confidence := Confidence(g, gaps, freq)
		if confidence < d.opts.MinConfidence {
			slog.Debug("Skipping low confidence pattern",
				"payee", g.PayeeCanonical,
				"account", g.Account,
				"confidence", confidence,
				"min", d.opts.MinConfidence)
			continue
		}

		candidates = append(candidates, d.newCandidate(g, freq, confidence))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	slog.Info("Detected recurring patterns", "count", len(candidates))

	return candidates
}

// GroupTransactions clusters by exact account, then greedily by payee
// similarity to each cluster's first member, then greedily by absolute amount
// relative to each band's first member. Input order decides the clusters.
func (d *Detector) GroupTransactions(txns []model.Transaction) []Group {
	var accounts []string
	byAccount := make(map[string][]model.Transaction)
	for i := range txns {
		account, ok := txns[i].MainAccount()
		if !ok {
			continue
		}
		if _, seen := byAccount[account]; !seen {
			accounts = append(accounts, account)
		}
		byAccount[account] = append(byAccount[account], txns[i])
	}

	pct := decimal.NewFromFloat(d.opts.AmountTolerancePct)
	groups := []Group{}
	for _, account := range accounts {
		var payeeClusters [][]model.Transaction
		for _, txn := range byAccount[account] {
			placed := false
			for i := range payeeClusters {
				if d.fuzzy.Ratio(txn.Payee, payeeClusters[i][0].Payee) >= d.opts.FuzzyThreshold {
					payeeClusters[i] = append(payeeClusters[i], txn)
					placed = true
					break
				}
			}
			if !placed {
				payeeClusters = append(payeeClusters, []model.Transaction{txn})
			}
		}

		for _, cluster := range payeeClusters {
			var bands [][]model.Transaction
			for _, txn := range cluster {
				amount, ok := txn.MainAmount()
				if !ok {
					continue
				}
				amount = amount.Abs()
				placed := false
				for i := range bands {
					ref, _ := bands[i][0].MainAmount()
					ref = ref.Abs()
					tol := ref.Mul(pct)
					if amount.GreaterThanOrEqual(ref.Sub(tol)) && amount.LessThanOrEqual(ref.Add(tol)) {
						bands[i] = append(bands[i], txn)
						placed = true
						break
					}
				}
				if !placed {
					bands = append(bands, []model.Transaction{txn})
				}
			}

			for _, band := range bands {
				groups = append(groups, newGroup(account, band))
			}
		}
	}
	return groups
}

func newGroup(account string, txns []model.Transaction) Group {
	sorted := append([]model.Transaction(nil), txns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	g := Group{
		Account:      account,
		Transactions: sorted,
		Dates:        make([]civil.Date, len(sorted)),
	}

	counts := make(map[string]int)
	var order []string
	sum := decimal.Zero
	for i := range sorted {
		g.Dates[i] = sorted[i].Date

		payee := sorted[i].Payee
		if _, ok := counts[payee]; !ok {
			order = append(order, payee)
		}
		counts[payee]++

		signed, _ := sorted[i].MainAmount()
		amount := signed.Abs()
		if i == 0 {
			g.FirstAmount = signed
			g.AmountMin = amount
			g.AmountMax = amount
		}
		g.AmountMin = decimal.Min(g.AmountMin, amount)
		g.AmountMax = decimal.Max(g.AmountMax, amount)
		sum = sum.Add(amount)
	}

	for _, payee := range order {
		if counts[payee] > counts[g.PayeeCanonical] {
			g.PayeeCanonical = payee
		}
	}
	g.PayeeVariants = append([]string(nil), order...)
	sort.Strings(g.PayeeVariants)

	if len(sorted) > 0 {
		g.AmountAvg = sum.Div(decimal.NewFromInt(int64(len(sorted))))
	}
	return g
}
