// Package reconcile matches imported transactions to expected schedule
// occurrences, enriches the matches and creates placeholders for the rest.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/matcher"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/recurrence"
)

// rangeBuffer widens the transaction date range on both sides.
const rangeBuffer = 7

// SkippedNarrationPrefix starts the narration of a skip marker.
const SkippedNarrationPrefix = "[SKIPPED]"

// Status is the reconciliation state of one expected occurrence.
type Status string

// Occurrence states.
const (
	StatusMatched Status = "matched"
	StatusMissing Status = "missing"
	StatusSkipped Status = "skipped"
)

// Outcome records what happened to one expected occurrence.
type Outcome struct {
	ExpectedDate  civil.Date
	ScheduleID    string
	Status        Status
	TransactionID string
	Score         float64
}

// Result is the output of a reconciliation run.
type Result struct {
	Start        civil.Date
	End          civil.Date
	Transactions []model.Transaction
	Placeholders []model.Transaction
	Outcomes     []Outcome
}

// Counts returns the number of outcomes in each state.
func (r *Result) Counts() (matched, missing, skipped int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusMatched:
			matched++
		case StatusMissing:
			missing++
		case StatusSkipped:
			skipped++
		}
	}
	return matched, missing, skipped
}

// ProgressFunc is called after each imported transaction is processed.
type ProgressFunc func(done, total int)

// Reconciler runs the matching loop for a set of schedules.
type Reconciler struct {
	engine    *recurrence.Engine
	matcher   *matcher.Matcher
	progress  ProgressFunc
	config    model.GlobalConfig
	schedules []model.Schedule
}

// New creates a reconciler for the schedules and global config of file.
func New(file *model.ScheduleFile) *Reconciler {
	return NewWithConfig(file.Schedules, file.Config)
}

// NewWithConfig creates a reconciler from explicit schedules and config.
func NewWithConfig(schedules []model.Schedule, cfg model.GlobalConfig) *Reconciler {
	return &Reconciler{
		schedules: schedules,
		config:    cfg,
		engine:    recurrence.NewEngine(),
		matcher:   matcher.New(cfg),
	}
}

// OnProgress registers a progress callback.
func (r *Reconciler) OnProgress(fn ProgressFunc) {
	r.progress = fn
}

type occurrenceKey struct {
	date civil.Date
	id   string
}

type coverage struct {
	status        Status
	transactionID string
	score         float64
}

// Run reconciles imported transactions against the schedules. Ledger
// transactions tagged with a schedule_id cover their occurrences so they are
// neither re-matched nor reported missing. The imported slice is not
// modified.
func (r *Reconciler) Run(ctx context.Context, imported, ledger []model.Transaction) (*Result, error) {
	result := &Result{Transactions: cloneAll(imported)}

	enabled := r.enabled()
	if len(enabled) == 0 {
		slog.Info("No enabled schedules, skipping reconciliation")
		return result, nil
	}

	start, end, ok := dateRange(imported, ledger)
	if !ok {
		slog.Info("No transactions to reconcile")
		return result, nil
	}
	result.Start, result.End = start, end

	slog.Info("Starting reconciliation",
		"schedules", len(enabled),
		"imported", len(imported),
		"ledger", len(ledger),
		"start", start.String(),
		"end", end.String())

	ordered, byAccount := r.expectedOccurrences(enabled, start, end)
	covered := make(map[occurrenceKey]coverage)

	r.coverFromLedger(ledger, enabled, byAccount, covered)

	total := len(result.Transactions)
	for i := range result.Transactions {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		txn := &result.Transactions[i]
		r.reconcileOne(txn, byAccount, covered)

		if r.progress != nil {
			r.progress(i+1, total)
		}
	}

	for _, occ := range ordered {
		key := occurrenceKey{id: occ.Schedule.ID, date: occ.Date}
		c, ok := covered[key]
		if !ok {
			c = coverage{status: StatusMissing}
			if occ.Schedule.MissingTransaction.CreatePlaceholder {
				result.Placeholders = append(result.Placeholders, r.placeholder(occ.Schedule, occ.Date))
			}
		}
		result.Outcomes = append(result.Outcomes, Outcome{
			ScheduleID:    occ.Schedule.ID,
			ExpectedDate:  occ.Date,
			Status:        c.status,
			Score:         c.score,
			TransactionID: c.transactionID,
		})
	}

	logSummary(enabled, result)
	return result, nil
}

func (r *Reconciler) enabled() []*model.Schedule {
	var out []*model.Schedule
	for i := range r.schedules {
		if r.schedules[i].Enabled {
			out = append(out, &r.schedules[i])
		}
	}
	return out
}

func dateRange(imported, ledger []model.Transaction) (civil.Date, civil.Date, bool) {
	var lo, hi civil.Date
	found := false
	for _, set := range [][]model.Transaction{imported, ledger} {
		for i := range set {
			d := set[i].Date
			if !found || d.Before(lo) {
				lo = d
			}
			if !found || d.After(hi) {
				hi = d
			}
			found = true
		}
	}
	if !found {
		return lo, hi, false
	}
	return lo.AddDays(-rangeBuffer), hi.AddDays(rangeBuffer), true
}

// expectedOccurrences returns every occurrence in schedule order and the same
// occurrences grouped by match account.
func (r *Reconciler) expectedOccurrences(schedules []*model.Schedule, start, end civil.Date) ([]model.Occurrence, map[string][]model.Occurrence) {
	var ordered []model.Occurrence
	byAccount := make(map[string][]model.Occurrence)
	for _, s := range schedules {
		dates := r.engine.Generate(s.Recurrence, start, end)
		for _, d := range dates {
			occ := model.Occurrence{Schedule: s, Date: d}
			ordered = append(ordered, occ)
			byAccount[s.Match.Account] = append(byAccount[s.Match.Account], occ)
		}
		slog.Debug("Expected occurrences", "schedule_id", s.ID, "count", len(dates))
	}
	return ordered, byAccount
}

func (r *Reconciler) window(s *model.Schedule) int {
	if s.Match.DateWindowDays != nil {
		return *s.Match.DateWindowDays
	}
	return r.config.DefaultDateWindowDays
}

// withinWindow returns the first occurrence of id no more than window days
// from date.
func withinWindow(candidates []model.Occurrence, id string, date civil.Date, window int) (model.Occurrence, bool) {
	for _, c := range candidates {
		if c.Schedule.ID == id && absDays(date, c.Date) <= window {
			return c, true
		}
	}
	return model.Occurrence{}, false
}

// closest returns the occurrence of id nearest to date. Earlier candidates
// win ties.
func closest(candidates []model.Occurrence, id string, date civil.Date) (model.Occurrence, bool) {
	var best model.Occurrence
	bestDiff := -1
	for _, c := range candidates {
		if c.Schedule.ID != id {
			continue
		}
		diff := absDays(date, c.Date)
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = c, diff
		}
	}
	return best, bestDiff >= 0
}

func absDays(a, b civil.Date) int {
	diff := a.DaysSince(b)
	if diff < 0 {
		return -diff
	}
	return diff
}

func (r *Reconciler) coverFromLedger(ledger []model.Transaction, schedules []*model.Schedule, byAccount map[string][]model.Occurrence, covered map[occurrenceKey]coverage) {
	known := make(map[string]*model.Schedule, len(schedules))
	for _, s := range schedules {
		known[s.ID] = s
	}

	for i := range ledger {
		txn := &ledger[i]
		id, ok := txn.MetaValue(model.MetaScheduleID)
		if !ok || id == "" {
			continue
		}
		schedule, ok := known[id]
		if !ok {
			slog.Debug("Ledger transaction has unknown schedule_id", "schedule_id", id)
			continue
		}
		account, ok := txn.MainAccount()
		if !ok {
			continue
		}
		if account != schedule.Match.Account {
			slog.Debug("Ledger transaction account does not match schedule",
				"schedule_id", id,
				"account", account,
				"expected_account", schedule.Match.Account)
			continue
		}

		occ, ok := withinWindow(byAccount[account], id, txn.Date, r.window(schedule))
		if !ok {
			slog.Debug("Ledger transaction matches no expected occurrence",
				"schedule_id", id,
				"date", txn.Date.String())
			continue
		}

		c := coverage{status: StatusMatched, score: 1, transactionID: txn.ID}
		if txn.IsSkipMarker() {
			c = coverage{status: StatusSkipped, transactionID: txn.ID}
		}
		covered[occurrenceKey{id: id, date: occ.Date}] = c
		slog.Debug("Ledger transaction covers occurrence",
			"schedule_id", id,
			"date", txn.Date.String(),
			"expected", occ.Date.String(),
			"status", c.status)
	}
}

func (r *Reconciler) reconcileOne(txn *model.Transaction, byAccount map[string][]model.Occurrence, covered map[occurrenceKey]coverage) {
	account, ok := txn.MainAccount()
	if !ok {
		return
	}
	candidates := byAccount[account]
	if len(candidates) == 0 {
		return
	}

	if txn.IsSkipMarker() {
		id, ok := txn.MetaValue(model.MetaScheduleID)
		if !ok {
			return
		}
		for _, c := range candidates {
			if c.Schedule.ID != id {
				continue
			}
			if occ, found := withinWindow(candidates, id, txn.Date, r.window(c.Schedule)); found {
				covered[occurrenceKey{id: id, date: occ.Date}] = coverage{status: StatusSkipped, transactionID: txn.ID}
				slog.Info("Occurrence skipped", "schedule_id", id, "expected", occ.Date.String())
			}
			break
		}
		return
	}

	match, ok := r.match(txn, candidates)
	if !ok {
		slog.Debug("No schedule match", "payee", txn.Payee, "date", txn.Date.String())
		return
	}

	key := occurrenceKey{id: match.Schedule.ID, date: match.Date}
	if _, done := covered[key]; !done {
		covered[key] = coverage{status: StatusMatched, score: match.Score, transactionID: txn.ID}
	}
	r.enrich(txn, match)

	slog.Info("Matched scheduled transaction",
		"schedule_id", match.Schedule.ID,
		"payee", txn.Payee,
		"date", txn.Date.String(),
		"expected", match.Date.String(),
		"score", fmt.Sprintf("%.2f", match.Score))
}

func (r *Reconciler) match(txn *model.Transaction, candidates []model.Occurrence) (matcher.Match, bool) {
	if id, ok := txn.MetaValue(model.MetaScheduleID); ok && id != "" {
		if occ, found := closest(candidates, id, txn.Date); found {
			slog.Debug("Using existing schedule_id", "schedule_id", id)
			return matcher.Match{Schedule: occ.Schedule, Date: occ.Date, Score: 1}, true
		}
		slog.Debug("Existing schedule_id not expected on account", "schedule_id", id)
	}
	return r.matcher.FindBestMatch(txn, candidates)
}

// enrich applies the matched schedule's template to txn in place.
func (r *Reconciler) enrich(txn *model.Transaction, match matcher.Match) {
	s := match.Schedule
	tmpl := s.Transaction
	previous := txn.Hash
	if previous == "" {
		previous = txn.GenerateHash()
	}

	meta := make(map[string]string, len(txn.Meta)+len(tmpl.Metadata)+3)
	for k, v := range txn.Meta {
		meta[k] = v
	}
	for k, v := range tmpl.Metadata {
		meta[k] = v
	}
	meta[model.MetaScheduleID] = s.ID
	meta[model.MetaScheduleMatchedDate] = match.Date.String()
	meta[model.MetaScheduleConfidence] = fmt.Sprintf("%.2f", match.Score)
	txn.Meta = meta

	txn.Tags = mergeUnique(txn.Tags, tmpl.Tags)
	txn.Links = mergeUnique(txn.Links, tmpl.Links)
	if tmpl.Payee != "" {
		txn.Payee = tmpl.Payee
	}
	if tmpl.Narration != "" {
		txn.Narration = tmpl.Narration
	}
	if len(tmpl.Postings) > 0 {
		txn.Postings = r.applyPostings(txn, tmpl.Postings)
	}

	txn.Hash = txn.GenerateHash()
	if txn.Hash != previous && txn.Supersedes == "" {
		txn.Supersedes = previous
	}
}

func (r *Reconciler) applyPostings(txn *model.Transaction, templates []model.PostingTemplate) []model.Posting {
	original := txn.Postings[0]
	currency := original.Currency
	if currency == "" {
		currency = r.config.DefaultCurrency
	}

	postings := make([]model.Posting, 0, len(templates))
	for _, pt := range templates {
		p := model.Posting{Account: pt.Account}
		switch {
		case pt.Amount != nil:
			p.Amount = model.DecimalPtr(*pt.Amount)
			p.Currency = currency
		case pt.Account == original.Account && original.Amount != nil:
			p.Amount = model.DecimalPtr(*original.Amount)
			p.Currency = currency
		}
		if pt.Narration != "" {
			p.Meta = map[string]string{model.MetaNarration: pt.Narration}
		}
		postings = append(postings, p)
	}
	return postings
}

func (r *Reconciler) placeholder(s *model.Schedule, date civil.Date) model.Transaction {
	meta := make(map[string]string, len(s.Transaction.Metadata)+3)
	for k, v := range s.Transaction.Metadata {
		meta[k] = v
	}
	meta[model.MetaScheduleID] = s.ID
	meta[model.MetaSchedulePlaceholder] = "true"
	meta[model.MetaScheduleExpectedDate] = date.String()

	txn := model.Transaction{
		ID:        fmt.Sprintf("placeholder:%s:%s", s.ID, date.String()),
		Date:      date,
		Flag:      r.config.PlaceholderFlag,
		Payee:     s.Transaction.Payee,
		Narration: strings.TrimSpace(s.MissingTransaction.NarrationPrefix + " " + s.Transaction.Narration),
		Meta:      meta,
		Tags:      append([]string(nil), s.Transaction.Tags...),
		Links:     append([]string(nil), s.Transaction.Links...),
	}
	if txn.Flag == "" {
		txn.Flag = model.FlagPlaceholder
	}

	if len(s.Transaction.Postings) == 0 {
		txn.Postings = []model.Posting{{Account: s.Match.Account}}
	} else {
		for _, pt := range s.Transaction.Postings {
			p := model.Posting{Account: pt.Account}
			if pt.Amount != nil {
				p.Amount = model.DecimalPtr(*pt.Amount)
				p.Currency = r.config.DefaultCurrency
			}
			if pt.Narration != "" {
				p.Meta = map[string]string{model.MetaNarration: pt.Narration}
			}
			txn.Postings = append(txn.Postings, p)
		}
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

// SkipMarker builds the transaction that records an intentionally skipped
// occurrence of s on date.
func (r *Reconciler) SkipMarker(s *model.Schedule, date civil.Date, reason string) model.Transaction {
	currency := r.config.DefaultCurrency
	if currency == "" {
		currency = model.DefaultCurrency
	}
	txn := model.Transaction{
		ID:        fmt.Sprintf("skip:%s:%s", s.ID, date.String()),
		Date:      date,
		Flag:      model.FlagCleared,
		Payee:     s.Transaction.Payee,
		Narration: strings.TrimSpace(SkippedNarrationPrefix + " " + reason),
		Tags:      []string{model.SkippedTag},
		Meta: map[string]string{
			model.MetaScheduleID:      s.ID,
			model.MetaScheduleSkipped: "true",
		},
		Postings: []model.Posting{{
			Account:  s.Match.Account,
			Amount:   model.DecimalPtr(decimal.Zero),
			Currency: currency,
		}},
	}
	txn.Hash = txn.GenerateHash()
	return txn
}

func mergeUnique(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string(nil), base...)
	for _, v := range extra {
		dup := false
		for _, existing := range out {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

func cloneAll(txns []model.Transaction) []model.Transaction {
	if txns == nil {
		return nil
	}
	out := make([]model.Transaction, len(txns))
	for i := range txns {
		out[i] = txns[i].Clone()
	}
	return out
}

func logSummary(schedules []*model.Schedule, result *Result) {
	type tally struct{ matched, skipped, missing int }
	counts := make(map[string]*tally, len(schedules))
	for _, s := range schedules {
		counts[s.ID] = &tally{}
	}
	for _, o := range result.Outcomes {
		t := counts[o.ScheduleID]
		switch o.Status {
		case StatusMatched:
			t.matched++
		case StatusSkipped:
			t.skipped++
		case StatusMissing:
			t.missing++
		}
	}

	totalMatched, totalExpected, missingSchedules := 0, 0, 0
	for _, s := range schedules {
		t := counts[s.ID]
		expected := t.matched + t.skipped + t.missing
		totalMatched += t.matched
		totalExpected += expected
		slog.Info("Schedule summary",
			"schedule_id", s.ID,
			"matched", t.matched,
			"skipped", t.skipped,
			"expected", expected)
		if t.missing > 0 {
			missingSchedules++
			slog.Warn("Scheduled transactions missing",
				"schedule_id", s.ID,
				"missing", t.missing)
		}
	}

	slog.Info("Reconciliation complete",
		"start", result.Start.String(),
		"end", result.End.String(),
		"matched", totalMatched,
		"expected", totalExpected,
		"schedules_with_missing", missingSchedules,
		"placeholders", len(result.Placeholders))
}
