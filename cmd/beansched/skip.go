package main

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/ledger"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/reconcile"
	"github.com/Veraticus/beanschedule/internal/recurrence"
	"github.com/Veraticus/beanschedule/internal/schedules"
)

func skipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skip <schedule-id> <dates...>",
		Short: "Mark scheduled occurrences as intentionally skipped",
		Long: `Create skip markers for occurrences that will not happen, such as a paused
subscription or a bill paid another way. Skipped occurrences are not reported
missing during reconciliation.

Without --save the markers are printed as ledger text.

Examples:
  beansched skip gym-monthly 2024-07-01 2024-08-01 --reason "membership frozen"
  beansched skip rent 2024-12-01 --save`,
		Args: cobra.MinimumNArgs(2),
		RunE: runSkip,
	}
	cmd.Flags().String("reason", "", "Reason recorded in the marker narration")
	cmd.Flags().Bool("save", false, "Store the markers in the ledger store")
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation before saving")
	cmd.Flags().String("schedules", "", "Schedules file or directory")
	return cmd
}

func runSkip(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	save, _ := cmd.Flags().GetBool("save")
	yes, _ := cmd.Flags().GetBool("yes")
	path, _ := cmd.Flags().GetString("schedules")
	ctx := cmd.Context()

	dates := make([]civil.Date, 0, len(args)-1)
	for _, raw := range args[1:] {
		d, err := civil.ParseDate(raw)
		if err != nil {
			return common.NewUserError(fmt.Sprintf("%q is not a date like 2024-01-31", raw), err)
		}
		dates = append(dates, d)
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

	stderr := cmd.ErrOrStderr()
	engine := recurrence.NewEngine()
	reconciler := reconcile.New(file)
	markers := make([]model.Transaction, 0, len(dates))
	for _, d := range dates {
		if len(engine.Generate(s.Recurrence, d, d)) == 0 {
			fmt.Fprintln(stderr, cli.FormatWarning(fmt.Sprintf("%s is not a scheduled date of %s", d, s.ID)))
		}
		markers = append(markers, reconciler.SkipMarker(s, d, reason))
	}

	out := cmd.OutOrStdout()
	if err := ledger.Format(out, markers); err != nil {
		return err
	}
	if !save {
		return nil
	}

	if !yes {
		reader := cli.NewNonBlockingReader(cmd.InOrStdin())
		defer reader.Close()
		ok, err := cli.Confirm(ctx, reader, stderr, fmt.Sprintf("Save %d skip markers?", len(markers)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(stderr, cli.FormatInfo("Nothing saved"))
			return nil
		}
	}

	store, err := initStorage(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	inserted, err := store.SaveTransactions(ctx, markers)
	if err != nil {
		return fmt.Errorf("failed to save skip markers: %w", err)
	}
	fmt.Fprintln(stderr, cli.FormatSuccess(fmt.Sprintf("Saved %d skip markers", inserted)))
	return nil
}
