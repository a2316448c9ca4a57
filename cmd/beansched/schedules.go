package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/recurrence"
	"github.com/Veraticus/beanschedule/internal/schedules"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate schedule definitions",
		Long: `Load every schedule and report problems without stopping at the first one.

The path may be a schedules directory or a single schedules.yaml file. Without a
path the configured location is used, then BEANSCHEDULE_DIR, BEANSCHEDULE_FILE,
./schedules/ and ./schedules.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	path := settings.SchedulesPath
	if len(args) == 1 {
		path = args[0]
	}

	out := cmd.OutOrStdout()
	file, problems := schedules.Verify(path)
	for _, p := range problems {
		fmt.Fprintln(out, cli.FormatError(p.Error()))
	}
	if file == nil {
		return common.NewUserError("Schedules could not be loaded", common.ErrInvalidConfig)
	}

	fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%d schedules, %d enabled",
		len(file.Schedules), len(schedules.Enabled(file)))))
	if len(problems) > 0 {
		return common.NewUserError(fmt.Sprintf("%d problems found", len(problems)), common.ErrInvalidConfig)
	}
	fmt.Fprintln(out, cli.FormatSuccess("All schedules are valid"))
	return nil
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cmd.Flags().Bool("enabled-only", false, "Only show enabled schedules")
	cmd.Flags().String("format", "table", "Output format (table, json)")
	cmd.Flags().String("schedules", "", "Schedules file or directory")
	return cmd
}

type scheduleSummary struct {
	Amount     string `json:"amount,omitempty"`
	ID         string `json:"id"`
	Account    string `json:"account"`
	Payee      string `json:"payee_pattern"`
	Frequency  string `json:"frequency"`
	NextDate   string `json:"next_date,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
	Enabled    bool   `json:"enabled"`
	Loan       bool   `json:"loan"`
}

func runList(cmd *cobra.Command, _ []string) error {
	enabledOnly, _ := cmd.Flags().GetBool("enabled-only")
	format, _ := cmd.Flags().GetString("format")
	path, _ := cmd.Flags().GetString("schedules")

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	file, err := loadSchedules(path, settings)
	if err != nil {
		return err
	}

	engine := recurrence.NewEngine()
	from := today()
	var rows []scheduleSummary
	for i := range file.Schedules {
		s := &file.Schedules[i]
		if enabledOnly && !s.Enabled {
			continue
		}
		rows = append(rows, summarize(engine, s, from))
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []scheduleSummary{}
		}
		return enc.Encode(rows)
	case "table":
		return writeScheduleTable(out, rows)
	default:
		return common.NewUserError(fmt.Sprintf("Unknown format %q (table, json)", format), common.ErrInvalidConfig)
	}
}

func summarize(engine *recurrence.Engine, s *model.Schedule, from civil.Date) scheduleSummary {
	row := scheduleSummary{
		ID:         s.ID,
		Account:    s.Match.Account,
		Payee:      s.Match.PayeePattern,
		Frequency:  string(s.Recurrence.Frequency),
		Enabled:    s.Enabled,
		Loan:       s.Amortization != nil,
		SourceFile: s.SourceFile,
	}
	if s.Match.Amount != nil {
		row.Amount = s.Match.Amount.StringFixed(2)
	}
	if next := nextOccurrences(engine, s.Recurrence, from, 1); len(next) == 1 {
		row.NextDate = next[0].String()
	}
	return row
}

func writeScheduleTable(w io.Writer, rows []scheduleSummary) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, cli.FormatInfo("No schedules"))
		return nil
	}
	table := cli.NewTable(w, "id", "frequency", "account", "amount", "next", "enabled")
	for _, r := range rows {
		amount := r.Amount
		if r.Loan {
			amount = "loan"
		}
		table.Row(r.ID, r.Frequency, r.Account, dash(amount), dash(r.NextDate), r.Enabled)
	}
	return table.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <schedule-id>",
		Short: "Show a schedule and its upcoming occurrences",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	cmd.Flags().Int("count", 5, "Number of occurrences to list")
	cmd.Flags().String("from", "", "List occurrences from this date (default: today)")
	cmd.Flags().String("to", "", "List occurrences up to this date instead of a count")
	cmd.Flags().String("schedules", "", "Schedules file or directory")
	return cmd
}

func runShow(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	path, _ := cmd.Flags().GetString("schedules")

	from, err := dateFlag(cmd, "from", today())
	if err != nil {
		return err
	}
	to, err := dateFlag(cmd, "to", civil.Date{})
	if err != nil {
		return err
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

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatTitle(s.ID))
	writeScheduleDetails(out, s)

	var dates []civil.Date
	engine := recurrence.NewEngine()
	if to.IsValid() {
		dates = engine.Generate(s.Recurrence, from, to)
	} else {
		dates = nextOccurrences(engine, s.Recurrence, from, count)
	}

	fmt.Fprintln(out)
	if len(dates) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("No upcoming occurrences"))
		return nil
	}
	fmt.Fprintln(out, cli.StyleTitle("Occurrences"))
	for _, d := range dates {
		fmt.Fprintf(out, "  %s  %s\n", d, d.In(time.UTC).Weekday().String()[:3])
	}
	return nil
}

func writeScheduleDetails(w io.Writer, s *model.Schedule) {
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %-14s %s\n", name+":", value)
		}
	}

	field("enabled", fmt.Sprint(s.Enabled))
	field("source", s.SourceFile)
	field("account", s.Match.Account)
	field("payee", s.Match.PayeePattern)
	if s.Match.Amount != nil {
		field("amount", s.Match.Amount.StringFixed(2))
	}
	if s.Match.AmountMin != nil && s.Match.AmountMax != nil {
		field("range", s.Match.AmountMin.String()+" .. "+s.Match.AmountMax.String())
	}
	if s.Match.DateWindowDays != nil {
		field("date window", fmt.Sprintf("±%d days", *s.Match.DateWindowDays))
	}
	field("frequency", describeRule(s.Recurrence))
	field("starts", s.Recurrence.StartDate.String())
	if s.Recurrence.EndDate != nil {
		field("ends", s.Recurrence.EndDate.String())
	}
	if a := s.Amortization; a != nil {
		mode := "static"
		if a.Stateful() {
			mode = "from ledger balance"
		}
		field("amortization", fmt.Sprintf("%s%% APR, %s", a.AnnualRate.Shift(2).String(), mode))
	}
	if len(s.Transaction.Postings) > 0 {
		accounts := make([]string, len(s.Transaction.Postings))
		for i, p := range s.Transaction.Postings {
			accounts[i] = p.Account
		}
		field("postings", strings.Join(accounts, ", "))
	}
}

func describeRule(r model.RecurrenceRule) string {
	switch r.Frequency {
	case model.FrequencyMonthly, model.FrequencyBimonthly:
		if r.DayOfMonth != nil {
			return fmt.Sprintf("%s on day %d", r.Frequency, *r.DayOfMonth)
		}
	case model.FrequencyWeekly:
		if r.DayOfWeek != nil {
			return fmt.Sprintf("every %d week(s) on %s", r.WeekInterval(), *r.DayOfWeek)
		}
	case model.FrequencyMonthlyOnDays:
		return fmt.Sprintf("monthly on days %v", r.DaysOfMonth)
	case model.FrequencyNthWeekday:
		if r.NthOccurrence != nil && r.DayOfWeek != nil {
			return fmt.Sprintf("monthly on %s #%d", *r.DayOfWeek, *r.NthOccurrence)
		}
	case model.FrequencyInterval:
		if r.IntervalMonths != nil {
			return fmt.Sprintf("every %d months", *r.IntervalMonths)
		}
	}
	return string(r.Frequency)
}

// nextOccurrences lists up to count occurrences on or after from. The first
// year comes from the full rule so the start date is honored.
func nextOccurrences(engine *recurrence.Engine, rule model.RecurrenceRule, from civil.Date, count int) []civil.Date {
	dates := engine.Generate(rule, from, from.AddDays(365))
	if len(dates) >= count {
		return dates[:count]
	}
	after := from.AddDays(365)
	for len(dates) < count {
		next, ok := engine.NextOccurrence(rule, after)
		if !ok {
			break
		}
		dates = append(dates, next)
		after = next
	}
	return dates
}
