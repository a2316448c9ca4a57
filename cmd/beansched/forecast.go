package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/forecast"
	"github.com/Veraticus/beanschedule/internal/ledger"
)

func forecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project future transactions from schedules",
		Long: `Print forecast transactions for every enabled schedule as ledger text.

Loan payments are split into principal and interest. Loans that read their
balance from the ledger store are projected from the latest cleared balance.
Occurrences already recorded in the ledger store are left out.`,
		Args: cobra.NoArgs,
		RunE: runForecast,
	}
	cmd.Flags().String("from", "", "First forecast date (default: today)")
	cmd.Flags().String("to", "", "Last forecast date (default: from + forecast.horizon_days)")
	cmd.Flags().String("schedules", "", "Schedules file or directory")
	return cmd
}

func runForecast(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("schedules")
	ctx := cmd.Context()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	from, err := dateFlag(cmd, "from", today())
	if err != nil {
		return err
	}
	to, err := dateFlag(cmd, "to", from.AddDays(settings.ForecastHorizonDays))
	if err != nil {
		return err
	}
	if to.Before(from) {
		return common.NewUserError("--to must not be before --from", common.ErrInvalidConfig)
	}

	file, err := loadSchedules(path, settings)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	history, err := loadLedger(ctx, store)
	if err != nil {
		return err
	}

	txns, buildErr := forecast.New(file.Config).Build(file.Schedules, history, from, to)
	out := cmd.OutOrStdout()
	if err := ledger.Format(out, txns); err != nil {
		return err
	}
	if len(txns) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatInfo(fmt.Sprintf("Nothing scheduled between %s and %s", from, to)))
	}
	if buildErr != nil {
		return common.NewUserError("Some schedules could not be forecast", buildErr)
	}
	return nil
}
