package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/ledger"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <files...>",
		Short: "Import OFX/QFX statements into the ledger store",
		Long: `Import bank and credit card statements into the local ledger store.

Transactions are identified by content, so importing overlapping statements
only stores each transaction once. OFX account numbers are mapped to ledger
accounts with the accounts section of the config file.

Examples:
  beansched import ~/Downloads/checking_jan.qfx
  beansched import ~/Downloads/*.ofx --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}
	cmd.Flags().BoolP("dry-run", "d", false, "Print the parsed transactions without saving")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	ctx := cmd.Context()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	bar := cli.NewProgress(cmd.ErrOrStderr(), "Reading statements", len(args))
	txns, err := readOFX(ctx, args, settings.Accounts, bar.Update)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to read statements: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(txns) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("No transactions found"))
		return nil
	}

	if dryRun {
		return ledger.Format(out, txns)
	}

	store, err := initStorage(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	inserted, err := store.SaveTransactions(ctx, txns)
	if err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	slog.Info("Import complete", "parsed", len(txns), "inserted", inserted)
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d new transactions (%d already stored)",
		inserted, len(txns)-inserted)))
	return nil
}
