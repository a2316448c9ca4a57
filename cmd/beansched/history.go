package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/service"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [detections|reconciliations]",
		Short: "List past detection and reconciliation runs",
		Long: `List recorded runs, newest first. Pass --run to show the candidates or
outcomes of a single run.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"detections", "reconciliations"},
		RunE:      runHistory,
	}
	cmd.Flags().Int("limit", 10, "Number of runs to show (0 for all)")
	cmd.Flags().Int64("run", 0, "Show the details of this run")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	runID, _ := cmd.Flags().GetInt64("run")
	ctx := cmd.Context()

	kind := "reconciliations"
	if len(args) == 1 {
		kind = args[0]
	}
	if kind != "detections" && kind != "reconciliations" {
		return common.NewUserError(fmt.Sprintf("Unknown history %q (detections, reconciliations)", kind), common.ErrInvalidConfig)
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

	out := cmd.OutOrStdout()
	switch {
	case kind == "detections" && runID > 0:
		return showDetectionRun(cmd, store, runID)
	case kind == "detections":
		runs, err := store.ListDetectionRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, cli.FormatInfo("No detection runs recorded"))
			return nil
		}
		table := cli.NewTable(out, "run", "when", "source", "transactions", "candidates")
		for _, r := range runs {
			table.Row(r.ID, formatTime(r.RanAt), r.Source, r.TransactionCount, r.CandidateCount)
		}
		return table.Flush()
	case runID > 0:
		return showReconciliationRun(cmd, store, runID)
	default:
		runs, err := store.ListReconciliationRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, cli.FormatInfo("No reconciliation runs recorded"))
			return nil
		}
		table := cli.NewTable(out, "run", "when", "source", "period", "imported", "matched", "missing", "skipped")
		for _, r := range runs {
			table.Row(r.ID, formatTime(r.RanAt), r.Source, r.Start.String()+" .. "+r.End.String(),
				r.ImportedCount, r.Matched, r.Missing, r.Skipped)
		}
		return table.Flush()
	}
}

func showDetectionRun(cmd *cobra.Command, store service.Storage, id int64) error {
	candidates, err := store.GetDetectedCandidates(cmd.Context(), id)
	if err != nil {
		return notFound("detection", id, err)
	}
	out := cmd.OutOrStdout()
	if len(candidates) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("Run found no recurring patterns"))
		return nil
	}
	table := cli.NewTable(out, "id", "frequency", "payee", "account", "amount", "seen", "confidence")
	for _, c := range candidates {
		table.Row(c.ScheduleID, c.Frequency, c.Payee, c.Account, c.Amount.StringFixed(2),
			fmt.Sprintf("%d/%d", c.TransactionCount, c.ExpectedOccurrences),
			fmt.Sprintf("%.0f%%", c.Confidence*100))
	}
	return table.Flush()
}

func showReconciliationRun(cmd *cobra.Command, store service.Storage, id int64) error {
	outcomes, err := store.GetReconciliationOutcomes(cmd.Context(), id)
	if err != nil {
		return notFound("reconciliation", id, err)
	}
	out := cmd.OutOrStdout()
	if len(outcomes) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("Run had no scheduled occurrences"))
		return nil
	}
	table := cli.NewTable(out, "schedule", "expected", "status", "transaction", "score")
	for _, o := range outcomes {
		score := "-"
		if o.Score > 0 {
			score = strconv.FormatFloat(o.Score, 'f', 2, 64)
		}
		table.Row(o.ScheduleID, o.ExpectedDate, o.Status, dash(o.TransactionID), score)
	}
	return table.Flush()
}

func notFound(kind string, id int64, err error) error {
	if errors.Is(err, common.ErrNotFound) {
		return common.NewUserError(fmt.Sprintf("No %s run #%d", kind, id), err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
