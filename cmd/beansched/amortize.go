package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/forecast"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/schedules"
)

func amortizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amortize <schedule-id>",
		Short: "Show the amortization table of a loan schedule",
		Long: `Split each loan payment into principal and interest.

Static loans are computed from their original terms and overrides. Loans that
read their balance from the ledger are walked forward from the latest cleared
balance in the ledger store, up to the forecast horizon.`,
		Args: cobra.ExactArgs(1),
		RunE: runAmortize,
	}
	cmd.Flags().Int("limit", 0, "Maximum number of payments to show (0 for all)")
	cmd.Flags().Bool("summary-only", false, "Only print the loan summary")
	cmd.Flags().String("format", "table", "Output format (table, csv, json)")
	cmd.Flags().Int("horizon", 0, "Days ahead to project ledger-balance loans (default: forecast.horizon_days)")
	cmd.Flags().String("schedules", "", "Schedules file or directory")
	return cmd
}

type loanSummary struct {
	FirstPayment   string `json:"first_payment,omitempty"`
	LastPayment    string `json:"last_payment,omitempty"`
	Payment        string `json:"payment"`
	TotalInterest  string `json:"total_interest"`
	TotalPrincipal string `json:"total_principal"`
	EndBalance     string `json:"ending_balance"`
	Mode           string `json:"mode"`
	Payments       int    `json:"payments"`
}

type loanRow struct {
	Date      string `json:"date"`
	Payment   string `json:"payment"`
	Principal string `json:"principal"`
	Interest  string `json:"interest"`
	Balance   string `json:"balance"`
	Number    int    `json:"number,omitempty"`
}

func runAmortize(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	summaryOnly, _ := cmd.Flags().GetBool("summary-only")
	format, _ := cmd.Flags().GetString("format")
	horizon, _ := cmd.Flags().GetInt("horizon")
	path, _ := cmd.Flags().GetString("schedules")

	switch format {
	case "table", "csv", "json":
	default:
		return common.NewUserError(fmt.Sprintf("Unknown format %q (table, csv, json)", format), common.ErrInvalidConfig)
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	file, err := loadSchedules(path, settings)
	if err != nil {
		return err
	}
	s, err := schedules.Find(file, args[0])
	if err != nil {
		return common.NewUserError(fmt.Sprintf("Schedule %q not found", args[0]), err)
	}
	if s.Amortization == nil {
		return common.NewUserError(fmt.Sprintf("Schedule %q is not a loan", s.ID), common.ErrNoAmortization)
	}

	builder := forecast.New(file.Config)
	var (
		payments []forecast.LoanPayment
		mode     string
	)
	if s.Amortization.Stateful() {
		mode = "ledger balance"
		if horizon <= 0 {
			horizon = settings.ForecastHorizonDays
		}
		ctx := cmd.Context()
		store, err := initStorage(ctx, settings)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ledger, err := loadLedger(ctx, store)
		if err != nil {
			return err
		}
		from := today()
		payments, err = builder.LoanPayments(s, ledger, from, from.AddDays(horizon))
		if err != nil {
			return common.NewUserError("Cannot project loan from the ledger. Import a statement with the loan balance first", err)
		}
	} else {
		mode = "static"
		start, end := staticSpan(s.Amortization)
		payments, err = builder.LoanPayments(s, nil, start, end)
		if err != nil {
			return err
		}
	}

	summary := summarizeLoan(payments, mode)
	rows := loanRows(payments, limit)
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		doc := struct {
			Payments []loanRow    `json:"payments,omitempty"`
			Summary  loanSummary `json:"summary"`
			ID       string      `json:"schedule_id"`
		}{Summary: summary, ID: s.ID}
		if !summaryOnly {
			doc.Payments = rows
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "csv":
		if summaryOnly {
			return writeLoanSummary(out, s.ID, summary)
		}
		return writeLoanCSV(out, rows)
	default:
		if err := writeLoanSummary(out, s.ID, summary); err != nil {
			return err
		}
		if summaryOnly || len(rows) == 0 {
			return nil
		}
		fmt.Fprintln(out)
		table := cli.NewTable(out, "#", "date", "payment", "principal", "interest", "balance")
		for _, r := range rows {
			n := "-"
			if r.Number > 0 {
				n = strconv.Itoa(r.Number)
			}
			table.Row(n, r.Date, r.Payment, r.Principal, r.Interest, r.Balance)
		}
		if err := table.Flush(); err != nil {
			return err
		}
		if limit > 0 && len(payments) > limit {
			fmt.Fprintln(out, cli.StyleInfo(fmt.Sprintf("... %d more payments", len(payments)-limit)))
		}
		return nil
	}
}

// staticSpan covers the original term and the terms of every override.
func staticSpan(cfg *model.AmortizationConfig) (civil.Date, civil.Date) {
	start := *cfg.StartDate
	end := start.AddMonths(*cfg.TermMonths)
	for _, o := range cfg.Overrides {
		if o.TermMonths == nil {
			continue
		}
		if e := o.EffectiveDate.AddMonths(*o.TermMonths); e.After(end) {
			end = e
		}
	}
	return start, end
}

func summarizeLoan(payments []forecast.LoanPayment, mode string) loanSummary {
	interest, principal := decimal.Zero, decimal.Zero
	for _, p := range payments {
		interest = interest.Add(p.Interest)
		principal = principal.Add(p.Principal)
	}

	summary := loanSummary{
		Mode:           mode,
		Payments:       len(payments),
		TotalInterest:  interest.StringFixed(2),
		TotalPrincipal: principal.StringFixed(2),
		Payment:        "0.00",
		EndBalance:     "0.00",
	}
	if len(payments) > 0 {
		first, last := payments[0], payments[len(payments)-1]
		summary.FirstPayment = first.Date.String()
		summary.LastPayment = last.Date.String()
		summary.Payment = first.TotalPayment.StringFixed(2)
		summary.EndBalance = last.RemainingBalance.StringFixed(2)
	}
	return summary
}

func loanRows(payments []forecast.LoanPayment, limit int) []loanRow {
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	rows := make([]loanRow, len(payments))
	for i, p := range payments {
		rows[i] = loanRow{
			Number:    p.PaymentNumber,
			Date:      p.Date.String(),
			Payment:   p.TotalPayment.StringFixed(2),
			Principal: p.Principal.StringFixed(2),
			Interest:  p.Interest.StringFixed(2),
			Balance:   p.RemainingBalance.StringFixed(2),
		}
	}
	return rows
}

func writeLoanSummary(w io.Writer, id string, s loanSummary) error {
	lines := []string{
		fmt.Sprintf("Mode:            %s", s.Mode),
		fmt.Sprintf("Payments:        %d", s.Payments),
		fmt.Sprintf("Monthly payment: %s", s.Payment),
		fmt.Sprintf("Total principal: %s", s.TotalPrincipal),
		fmt.Sprintf("Total interest:  %s", s.TotalInterest),
		fmt.Sprintf("Ending balance:  %s", s.EndBalance),
	}
	if s.FirstPayment != "" {
		lines = append(lines, fmt.Sprintf("Period:          %s to %s", s.FirstPayment, s.LastPayment))
	}
	_, err := fmt.Fprintln(w, cli.RenderBox(cli.ChartIcon+" "+id, strings.Join(lines, "\n")))
	return err
}

func writeLoanCSV(w io.Writer, rows []loanRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"number", "date", "payment", "principal", "interest", "balance"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{strconv.Itoa(r.Number), r.Date, r.Payment, r.Principal, r.Interest, r.Balance}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
