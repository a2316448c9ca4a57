package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the ledger store schema to the latest version.

Other commands migrate automatically. Running this explicitly takes a backup
first when migrations are pending.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")
	cmd.Flags().Bool("no-backup", false, "Skip the backup taken before migrating")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	noBackup, _ := cmd.Flags().GetBool("no-backup")
	ctx := cmd.Context()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	slog.Info("Starting database migration",
		"database", settings.DatabasePath,
		"status_only", status)

	store, err := openStorage(settings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	pending, err := store.PendingMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}

	out := cmd.OutOrStdout()
	if status {
		fmt.Fprintln(out, cli.FormatTitle("Database Migration Status"))
		fmt.Fprintf(out, "  Database:        %s\n", store.Path())
		fmt.Fprintf(out, "  Current version: %d\n", current)
		fmt.Fprintf(out, "  Latest version:  %d\n", storage.ExpectedSchemaVersion)
		fmt.Fprintf(out, "  Pending:         %d\n", pending)
		return nil
	}

	if pending == 0 {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Database is up to date (version %d)", current)))
		return nil
	}

	if !noBackup && current > 0 {
		path, err := store.AutoBackup(ctx, "migrate")
		switch {
		case errors.Is(err, storage.ErrBackupUnavailable):
			slog.Debug("Skipping backup", "reason", err)
		case err != nil:
			return fmt.Errorf("failed to back up database before migrating: %w", err)
		default:
			fmt.Fprintln(out, cli.FormatInfo("Backup written to "+path))
		}
	}

	fmt.Fprintln(out, cli.FolderIcon+"  Running database migrations...")
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Applied %d migrations, now at version %d", pending, storage.ExpectedSchemaVersion)))
	return nil
}
