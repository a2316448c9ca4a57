// Package model defines the core data structures for beanschedule.
package model

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction flags.
const (
	FlagCleared     = "*"
	FlagPlaceholder = "!"
	FlagForecast    = "#"
	FlagSkipped     = "S"
	FlagPending     = "P"
)

// Metadata keys written to enriched, placeholder and forecast transactions.
const (
	MetaScheduleID           = "schedule_id"
	MetaScheduleMatchedDate  = "schedule_matched_date"
	MetaScheduleConfidence   = "schedule_confidence"
	MetaSchedulePlaceholder  = "schedule_placeholder"
	MetaScheduleExpectedDate = "schedule_expected_date"
	MetaScheduleSkipped      = "schedule_skipped"

	MetaAmortizationPrincipal     = "amortization_principal"
	MetaAmortizationInterest      = "amortization_interest"
	MetaAmortizationBalanceAfter  = "amortization_balance_after"
	MetaAmortizationPaymentNumber = "amortization_payment_number"

	MetaOFXFitID    = "ofx_fitid"
	MetaNarration   = "narration"
	SkippedTag      = "skipped"
	DefaultCurrency = "USD"
)

// Posting is one account/amount line within a transaction.
// A nil Amount means the amount is elided and balances the transaction.
type Posting struct {
	Amount   *decimal.Decimal
	Meta     map[string]string
	Account  string
	Currency string
}

// Transaction represents a single ledger transaction.
type Transaction struct {
	Date      civil.Date
	Meta      map[string]string
	ID        string
	Hash      string
	Flag      string
	Payee     string
	Narration string
	Tags      []string
	Links     []string
	Postings  []Posting

	// Supersedes is the hash of the stored transaction this one replaces.
	// Reconciliation sets it when enrichment changes an imported
	// transaction's content.
	Supersedes string
}

// MainAccount returns the account of the first posting.
func (t *Transaction) MainAccount() (string, bool) {
	if len(t.Postings) == 0 {
		return "", false
	}
	return t.Postings[0].Account, true
}

// MainAmount returns the amount of the first posting.
func (t *Transaction) MainAmount() (decimal.Decimal, bool) {
	if len(t.Postings) == 0 || t.Postings[0].Amount == nil {
		return decimal.Zero, false
	}
	return *t.Postings[0].Amount, true
}

// MetaValue returns a metadata value and whether it was present.
func (t *Transaction) MetaValue(key string) (string, bool) {
	if t.Meta == nil {
		return "", false
	}
	v, ok := t.Meta[key]
	return v, ok
}

// HasTag reports whether the transaction carries the tag.
func (t *Transaction) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() Transaction {
	out := *t
	out.Meta = cloneMeta(t.Meta)
	out.Tags = append([]string(nil), t.Tags...)
	out.Links = append([]string(nil), t.Links...)
	out.Postings = make([]Posting, len(t.Postings))
	for i, p := range t.Postings {
		out.Postings[i] = p.Clone()
	}
	return out
}

// Clone returns a deep copy of the posting.
func (p Posting) Clone() Posting {
	out := p
	if p.Amount != nil {
		amt := *p.Amount
		out.Amount = &amt
	}
	out.Meta = cloneMeta(p.Meta)
	return out
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s:%s:%s", t.Date.String(), t.Flag, t.Payee, t.Narration)
	for _, p := range t.Postings {
		amount := "-"
		if p.Amount != nil {
			amount = p.Amount.StringFixed(2)
		}
		fmt.Fprintf(&b, "|%s:%s:%s", p.Account, amount, p.Currency)
	}
	keys := make([]string, 0, len(t.Meta))
	for k := range t.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, t.Meta[k])
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}

// IsSkipMarker reports whether the transaction marks a scheduled occurrence
// as intentionally skipped.
func (t *Transaction) IsSkipMarker() bool {
	if t.Flag == FlagSkipped {
		return true
	}
	if t.HasTag(SkippedTag) {
		return true
	}
	_, ok := t.MetaValue(MetaScheduleSkipped)
	return ok
}

// DecimalPtr returns a pointer to d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
