package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/config"
	"github.com/Veraticus/beanschedule/internal/detector"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/schedules"
	"github.com/Veraticus/beanschedule/internal/service"
)

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule from a stored transaction",
		Long: `Turn a transaction in the ledger store into a schedule file.

The transaction is picked by date. When several share the date they are
listed and one is chosen with --select or at the prompt. Its payee, account,
amount and postings become the schedule's match criteria and template, and
the recurrence defaults to the transaction's own day.

Examples:
  beansched create --date 2024-01-15
  beansched create --date 2024-01-01 --select 2 --id rent --tolerance 5
  beansched create --date 2024-01-05 --frequency WEEKLY --interval 2 --print`,
		Args: cobra.NoArgs,
		RunE: runCreate,
	}
	cmd.Flags().String("date", "", "Date of the transaction to start from (YYYY-MM-DD)")
	cmd.Flags().Int("select", 0, "Which transaction to use when several share the date")
	cmd.Flags().String("id", "", "Schedule id (default: derived from the payee)")
	cmd.Flags().String("frequency", string(model.FrequencyMonthly), "MONTHLY, WEEKLY, YEARLY, INTERVAL, BIMONTHLY, NTH_WEEKDAY or LAST_DAY_OF_MONTH")
	cmd.Flags().Int("interval", 1, "Weeks between WEEKLY occurrences")
	cmd.Flags().Int("interval-months", 1, "Months between INTERVAL occurrences")
	cmd.Flags().IntSlice("days", nil, "Days of month for BIMONTHLY (default: the transaction's day)")
	cmd.Flags().String("tolerance", "0.00", "Amount tolerance, 0 for an exact match")
	cmd.Flags().Int("window", model.DefaultDateWindowDays, "Date window in days either side")
	cmd.Flags().String("payee-pattern", "", "Payee pattern, regex or literal text (default: the payee)")
	cmd.Flags().String("dir", "", "Schedules directory to write to (default: schedules.path or ./schedules)")
	cmd.Flags().Bool("print", false, "Print the schedule instead of writing it")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

// createOptions shape the schedule built from a transaction.
type createOptions struct {
	Tolerance      decimal.Decimal
	ID             string
	PayeePattern   string
	Frequency      model.Frequency
	Days           []int
	Interval       int
	IntervalMonths int
	Window         int
}

func readCreateOptions(cmd *cobra.Command) (createOptions, error) {
	flags := cmd.Flags()
	opts := createOptions{}
	opts.ID, _ = flags.GetString("id")
	opts.PayeePattern, _ = flags.GetString("payee-pattern")
	opts.Interval, _ = flags.GetInt("interval")
	opts.IntervalMonths, _ = flags.GetInt("interval-months")
	opts.Days, _ = flags.GetIntSlice("days")
	opts.Window, _ = flags.GetInt("window")

	freq, _ := flags.GetString("frequency")
	opts.Frequency = model.Frequency(strings.ToUpper(freq))
	if !opts.Frequency.Valid() {
		return opts, common.NewUserError(fmt.Sprintf("Unknown frequency %q", freq), common.ErrInvalidConfig)
	}

	raw, _ := flags.GetString("tolerance")
	tolerance, err := decimal.NewFromString(raw)
	if err != nil || tolerance.IsNegative() {
		return opts, common.NewUserError(fmt.Sprintf("Invalid tolerance %q", raw), common.ErrInvalidConfig)
	}
	opts.Tolerance = tolerance
	return opts, nil
}

func runCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	selected, _ := cmd.Flags().GetInt("select")
	printOnly, _ := cmd.Flags().GetBool("print")

	on, err := dateFlag(cmd, "date", civil.Date{})
	if err != nil {
		return err
	}
	opts, err := readCreateOptions(cmd)
	if err != nil {
		return err
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	store, err := initStorage(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	txn, err := pickTransaction(cmd, store, on, selected)
	if err != nil {
		return err
	}

	schedule, err := scheduleFromTransaction(txn, opts)
	if err != nil {
		return common.NewUserError("The transaction cannot become a schedule", err)
	}

	out := cmd.OutOrStdout()
	header := fmt.Sprintf("Created from the %s transaction on %s", txn.Payee, txn.Date)
	if printOnly {
		data, err := schedules.Marshal(schedule, header)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	dir := config.SchedulesDir(settings.SchedulesPath, schedules.DefaultDir)
	if flagDir, _ := cmd.Flags().GetString("dir"); flagDir != "" {
		dir = config.ExpandPath(flagDir)
	}
	path, err := schedules.WriteSchedule(dir, schedule, header)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return common.NewUserError(fmt.Sprintf("Schedule %s already exists. Choose another --id", schedule.ID), err)
		}
		return err
	}
	fmt.Fprintln(out, cli.FormatSuccess("Created "+path))
	return nil
}

// pickTransaction returns the stored transaction on the date, asking which
// one when there are several and selected is 0.
func pickTransaction(cmd *cobra.Command, store service.Storage, on civil.Date, selected int) (*model.Transaction, error) {
	ctx := cmd.Context()
	txns, err := store.GetTransactions(ctx, service.TransactionFilter{StartDate: &on, EndDate: &on})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(txns) == 0 {
		return nil, common.NewUserError(fmt.Sprintf("No transactions found on %s. Import statements first or try another date", on), common.ErrNotFound)
	}

	stderr := cmd.ErrOrStderr()
	if len(txns) == 1 && selected <= 1 {
		return &txns[0], nil
	}

	if err := writeTransactionChoices(stderr, txns); err != nil {
		return nil, err
	}
	if selected == 0 {
		selected, err = promptSelection(ctx, cmd.InOrStdin(), stderr, len(txns))
		if err != nil {
			return nil, err
		}
	}
	if selected < 1 || selected > len(txns) {
		return nil, common.NewUserError(fmt.Sprintf("Select a transaction between 1 and %d", len(txns)), common.ErrInvalidConfig)
	}
	return &txns[selected-1], nil
}

func writeTransactionChoices(w io.Writer, txns []model.Transaction) error {
	fmt.Fprintln(w, cli.FormatTitle(fmt.Sprintf("%d transactions on %s", len(txns), txns[0].Date)))
	table := cli.NewTable(w, "#", "payee", "narration", "account", "amount")
	for i := range txns {
		account, _ := txns[i].MainAccount()
		amount := "?"
		if amt, ok := txns[i].MainAmount(); ok {
			amount = amt.StringFixed(2)
		}
		table.Row(i+1, dash(txns[i].Payee), dash(txns[i].Narration), dash(account), amount)
	}
	return table.Flush()
}

func promptSelection(ctx context.Context, in io.Reader, w io.Writer, count int) (int, error) {
	reader := cli.NewNonBlockingReader(in)
	defer reader.Close()
	if _, err := io.WriteString(w, cli.FormatPrompt(fmt.Sprintf("Select transaction number [1-%d]", count))); err != nil {
		return 0, err
	}
	answer, err := reader.ReadLine(ctx)
	if err != nil {
		return 0, common.NewUserError("No transaction selected", err)
	}
	n, err := strconv.Atoi(answer)
	if err != nil {
		return 0, common.NewUserError(fmt.Sprintf("%q is not a transaction number", answer), common.ErrInvalidConfig)
	}
	return n, nil
}

// scheduleFromTransaction builds a schedule matching future occurrences of
// txn. The first posting supplies the match account and amount.
func scheduleFromTransaction(txn *model.Transaction, opts createOptions) (*model.Schedule, error) {
	account, ok := txn.MainAccount()
	if !ok {
		return nil, fmt.Errorf("%w: transaction has no postings", common.ErrInvalidConfig)
	}

	id := opts.ID
	if id == "" {
		id = txn.Payee
	}
	id = detector.Slugify(id)
	if id == "" {
		id = "transaction"
	}

	pattern := opts.PayeePattern
	if pattern == "" {
		pattern = txn.Payee
	}

	rule, err := ruleFromDate(txn.Date, opts)
	if err != nil {
		return nil, err
	}

	postings := make([]model.PostingTemplate, 0, len(txn.Postings))
	for _, p := range txn.Postings {
		tmpl := model.PostingTemplate{Account: p.Account, Narration: p.Meta[model.MetaNarration]}
		if p.Amount != nil {
			tmpl.Amount = model.DecimalPtr(*p.Amount)
		}
		postings = append(postings, tmpl)
	}

	s := &model.Schedule{
		ID:      id,
		Enabled: true,
		Match: model.MatchCriteria{
			Account:         account,
			PayeePattern:    pattern,
			AmountTolerance: model.DecimalPtr(opts.Tolerance),
			DateWindowDays:  model.IntPtr(opts.Window),
		},
		Recurrence: rule,
		Transaction: model.TransactionTemplate{
			Payee:     txn.Payee,
			Narration: txn.Narration,
			Tags:      append([]string(nil), txn.Tags...),
			Metadata:  map[string]string{model.MetaScheduleID: id},
			Postings:  postings,
		},
		MissingTransaction: model.DefaultMissingTransactionConfig(),
	}
	if amount, ok := txn.MainAmount(); ok {
		s.Match.Amount = model.DecimalPtr(amount)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ruleFromDate anchors a recurrence of the requested frequency on d.
func ruleFromDate(d civil.Date, opts createOptions) (model.RecurrenceRule, error) {
	rule := model.RecurrenceRule{Frequency: opts.Frequency, StartDate: d}
	switch opts.Frequency {
	case model.FrequencyMonthly:
		rule.DayOfMonth = model.IntPtr(d.Day)
	case model.FrequencyWeekly:
		dow := model.DayOfWeekFrom(weekday(d))
		rule.DayOfWeek = &dow
		if opts.Interval > 1 {
			rule.Interval = model.IntPtr(opts.Interval)
		}
	case model.FrequencyYearly:
		rule.Month = model.IntPtr(int(d.Month))
		rule.DayOfMonth = model.IntPtr(d.Day)
	case model.FrequencyInterval:
		rule.DayOfMonth = model.IntPtr(d.Day)
		rule.IntervalMonths = model.IntPtr(opts.IntervalMonths)
	case model.FrequencyBimonthly, model.FrequencyMonthlyOnDays:
		rule.DaysOfMonth = opts.Days
		if len(rule.DaysOfMonth) == 0 {
			rule.DaysOfMonth = []int{d.Day}
		}
	case model.FrequencyNthWeekday:
		dow := model.DayOfWeekFrom(weekday(d))
		rule.DayOfWeek = &dow
		rule.NthOccurrence = model.IntPtr((d.Day-1)/7 + 1)
	case model.FrequencyLastDayOfMonth:
	}
	if err := rule.Validate(); err != nil {
		return rule, err
	}
	return rule, nil
}

func weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}
