// Package ledger renders transactions as beancount text.
package ledger

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/beanschedule/internal/model"
)

// amountColumn is where posting amounts start when accounts are short enough.
const amountColumn = 50

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Format writes txns in beancount syntax, separated by blank lines.
func Format(w io.Writer, txns []model.Transaction) error {
	for i := range txns {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return fmt.Errorf("failed to write ledger: %w", err)
			}
		}
		if _, err := io.WriteString(w, FormatTransaction(&txns[i])); err != nil {
			return fmt.Errorf("failed to write ledger: %w", err)
		}
	}
	return nil
}

// FormatTransaction renders one transaction.
func FormatTransaction(txn *model.Transaction) string {
	var sb strings.Builder

	flag := txn.Flag
	if flag == "" {
		flag = model.FlagCleared
	}
	sb.WriteString(txn.Date.String())
	sb.WriteString(" ")
	sb.WriteString(flag)
	if txn.Payee != "" {
		fmt.Fprintf(&sb, " %s", quote(txn.Payee))
	}
	fmt.Fprintf(&sb, " %s", quote(txn.Narration))
	for _, tag := range txn.Tags {
		sb.WriteString(" #")
		sb.WriteString(tag)
	}
	for _, link := range txn.Links {
		sb.WriteString(" ^")
		sb.WriteString(link)
	}
	sb.WriteString("\n")

	writeMeta(&sb, "  ", txn.Meta)

	width := amountColumn
	for _, p := range txn.Postings {
		if len(p.Account)+2 > width {
			width = len(p.Account) + 2
		}
	}

	for _, p := range txn.Postings {
		sb.WriteString("  ")
		if p.Amount == nil {
			sb.WriteString(p.Account)
		} else {
			fmt.Fprintf(&sb, "%-*s%s", width, p.Account, formatAmount(*p.Amount))
			if p.Currency != "" {
				sb.WriteString(" ")
				sb.WriteString(p.Currency)
			}
		}
		sb.WriteString("\n")
		writeMeta(&sb, "    ", p.Meta)
	}

	return sb.String()
}

func writeMeta(sb *strings.Builder, indent string, meta map[string]string) {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "%s%s: %s\n", indent, k, quote(meta[k]))
	}
}

// formatAmount keeps at least two decimal places.
func formatAmount(d decimal.Decimal) string {
	if d.Exponent() >= -2 {
		return d.StringFixed(2)
	}
	return d.String()
}

func quote(s string) string {
	return `"` + quoter.Replace(s) + `"`
}
