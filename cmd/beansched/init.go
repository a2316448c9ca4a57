package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/schedules"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a schedules directory",
		Long: `Create a schedules directory holding _config.yaml with the global
defaults and an example monthly rent schedule to edit.

The directory defaults to ./schedules. An existing _config.yaml is left
alone unless --force is given, and an existing example is never replaced.

Examples:
  beansched init
  beansched init ~/ledger/schedules`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInit,
	}
	cmd.Flags().Bool("force", false, "Replace an existing _config.yaml")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	dir := schedules.DefaultDir
	if len(args) == 1 {
		dir = args[0]
	}

	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return common.NewUserError(fmt.Sprintf("%s exists and is not a directory", dir), common.ErrInvalidConfig)
	}

	out := cmd.OutOrStdout()
	configPath, err := schedules.WriteConfig(dir, model.DefaultGlobalConfig(), force)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return common.NewUserError(fmt.Sprintf("%s is already initialized. Use --force to reset _config.yaml", dir), err)
		}
		return err
	}
	fmt.Fprintln(out, cli.FormatSuccess("Created "+configPath))

	example := schedules.ExampleSchedule(today())
	examplePath, err := schedules.WriteSchedule(dir, &example, "Example monthly rent payment. Edit or delete it.")
	switch {
	case errors.Is(err, common.ErrDuplicateEntry):
		fmt.Fprintln(out, cli.FormatWarning(example.ID+" already exists, skipped"))
	case err != nil:
		return err
	default:
		fmt.Fprintln(out, cli.FormatSuccess("Created "+examplePath))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, cli.StyleTitle("Next steps"))
	fmt.Fprintln(out, "  1. Edit the example schedule or add your own with: beansched create --date YYYY-MM-DD")
	fmt.Fprintf(out, "  2. Check them with: beansched validate %s\n", dir)
	fmt.Fprintf(out, "  3. Point beansched at them with schedules.path or BEANSCHEDULE_DIR=%s\n", dir)
	return nil
}
