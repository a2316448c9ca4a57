package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/ledger"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/reconcile"
	"github.com/Veraticus/beanschedule/internal/service"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <ofx files...>",
		Short: "Match imported transactions against schedules",
		Long: `Match each imported transaction to the schedule occurrence it pays, enrich
it with the schedule's metadata and postings, and create placeholders for
expected occurrences that never arrived.

The result is printed as ledger text. Occurrences already recorded in the
ledger store are neither matched again nor reported missing.

Examples:
  beansched reconcile ~/Downloads/checking_jan.qfx
  beansched reconcile ~/Downloads/*.qfx --diff
  beansched reconcile ~/Downloads/*.qfx --save`,
		Args: cobra.MinimumNArgs(1),
		RunE: runReconcile,
	}
	cmd.Flags().Bool("save", false, "Store the results in the ledger store and record the run")
	cmd.Flags().Bool("diff", false, "Show what reconciliation changed instead of the full ledger text")
	cmd.Flags().String("schedules", "", "Schedules file or directory")
	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	save, _ := cmd.Flags().GetBool("save")
	showDiff, _ := cmd.Flags().GetBool("diff")
	path, _ := cmd.Flags().GetString("schedules")

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	file, err := loadSchedules(path, settings)
	if err != nil {
		return err
	}

	handler := cli.NewInterruptHandler(cmd.ErrOrStderr(), "Reconciliation")
	hint := "Nothing was printed or saved."
	if save {
		hint = "Nothing was saved. Run the same command again to start over."
	}
	ctx := handler.HandleInterrupts(cmd.Context(), hint)

	store, err := initStorage(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	history, err := loadLedger(ctx, store)
	if err != nil {
		return err
	}
	imported, err := readOFX(ctx, args, settings.Accounts, nil)
	if err != nil {
		return interrupted(handler, err)
	}

	reconciler := reconcile.New(file)
	bar := cli.NewProgress(cmd.ErrOrStderr(), "Reconciling", len(imported))
	reconciler.OnProgress(bar.Update)
	result, err := reconciler.Run(ctx, imported, history)
	bar.Finish()
	if err != nil {
		return interrupted(handler, err)
	}

	out := cmd.OutOrStdout()
	combined := reconciledTransactions(result)
	if showDiff {
		if err := writeReconcileDiff(out, imported, combined); err != nil {
			return err
		}
	} else if err := ledger.Format(out, combined); err != nil {
		return err
	}

	writeReconcileSummary(cmd.ErrOrStderr(), result)

	if !save {
		return nil
	}
	run, err := saveReconciliation(ctx, store, result, combined, len(imported), sourceName(args))
	if err != nil {
		return interrupted(handler, err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess(fmt.Sprintf("Saved reconciliation run #%d", run.ID)))
	return nil
}

// interrupted turns a cancellation caused by the interrupt handler into a
// quiet user error.
func interrupted(handler *cli.InterruptHandler, err error) error {
	if handler.WasInterrupted() && errors.Is(err, context.Canceled) {
		return common.NewUserError("Reconciliation canceled", err)
	}
	return err
}

// reconciledTransactions merges enriched transactions and placeholders in
// date order.
func reconciledTransactions(result *reconcile.Result) []model.Transaction {
	out := make([]model.Transaction, 0, len(result.Transactions)+len(result.Placeholders))
	out = append(out, result.Transactions...)
	out = append(out, result.Placeholders...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func writeReconcileDiff(w io.Writer, before, after []model.Transaction) error {
	sorted := append([]model.Transaction(nil), before...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var a, b strings.Builder
	if err := ledger.Format(&a, sorted); err != nil {
		return err
	}
	if err := ledger.Format(&b, after); err != nil {
		return err
	}
	diff, err := cli.UnifiedDiff(a.String(), b.String(), "imported", "reconciled")
	if err != nil {
		return fmt.Errorf("failed to diff ledger text: %w", err)
	}
	if diff == "" {
		fmt.Fprintln(w, cli.FormatInfo("Reconciliation changed nothing"))
		return nil
	}
	_, err = io.WriteString(w, cli.ColorizeDiff(diff))
	return err
}

func writeReconcileSummary(w io.Writer, result *reconcile.Result) {
	matched, missing, skipped := result.Counts()
	if len(result.Outcomes) == 0 {
		fmt.Fprintln(w, cli.FormatInfo("No scheduled occurrences in range"))
		return
	}
	fmt.Fprintln(w, cli.FormatInfo(fmt.Sprintf("%s to %s: %d matched, %d missing, %d skipped",
		result.Start, result.End, matched, missing, skipped)))
	for _, o := range result.Outcomes {
		if o.Status == reconcile.StatusMissing {
			fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("Missing %s on %s", o.ScheduleID, o.ExpectedDate)))
		}
	}
}

// saveReconciliation stores the reconciled transactions and the run record
// atomically.
func saveReconciliation(ctx context.Context, store service.Storage, result *reconcile.Result, txns []model.Transaction, importedCount int, source string) (*model.ReconciliationRun, error) {
	matched, missing, skipped := result.Counts()
	run := &model.ReconciliationRun{
		RanAt:         time.Now().UTC(),
		Start:         result.Start,
		End:           result.End,
		Source:        source,
		ImportedCount: importedCount,
		Matched:       matched,
		Missing:       missing,
		Skipped:       skipped,
	}
	if !run.Start.IsValid() {
		run.Start, run.End = today(), today()
	}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(txns) > 0 {
		inserted, err := tx.SaveTransactions(ctx, txns)
		if err != nil {
			return nil, fmt.Errorf("failed to save transactions: %w", err)
		}
		slog.Info("Saved reconciled transactions", "inserted", inserted, "total", len(txns))
	}
	if err := tx.SaveReconciliationRun(ctx, run, outcomeRecords(result.Outcomes)); err != nil {
		return nil, fmt.Errorf("failed to record reconciliation run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return run, nil
}
