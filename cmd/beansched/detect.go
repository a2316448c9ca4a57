package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/beanschedule/internal/cli"
	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/config"
	"github.com/Veraticus/beanschedule/internal/detector"
	"github.com/Veraticus/beanschedule/internal/model"
	"github.com/Veraticus/beanschedule/internal/schedules"
)

func detectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Discover recurring transactions",
		Long: `Find recurring patterns in the ledger store or in OFX statements and
propose schedules for them.

Candidates are grouped by account, similar payee and similar amount, then
scored on how regular their dates are. Each run is recorded and can be listed
with "beansched history detections".

Examples:
  beansched detect
  beansched detect --ofx ~/Downloads/*.qfx --min-confidence 0.8
  beansched detect --write ./schedules`,
		Args: cobra.NoArgs,
		RunE: runDetect,
	}
	cmd.Flags().StringSlice("ofx", nil, "Detect from these OFX files instead of the ledger store")
	cmd.Flags().String("write", "", "Write each candidate as <id>.yaml into this directory")
	cmd.Flags().Bool("yaml", false, "Print the proposed schedules as YAML")
	cmd.Flags().Float64("min-confidence", 0, "Minimum confidence (default: detect.min_confidence)")
	cmd.Flags().Int("min-occurrences", 0, "Minimum occurrences (default: detect.min_occurrences)")
	cmd.Flags().Bool("no-record", false, "Do not record this run in the history")
	return cmd
}

func detectOptions(cmd *cobra.Command, s config.DetectSettings) detector.Options {
	opts := detector.Options{
		FuzzyThreshold:     s.FuzzyThreshold,
		AmountTolerancePct: s.AmountTolerancePct,
		MinOccurrences:     s.MinOccurrences,
		MinConfidence:      s.MinConfidence,
	}
	if cmd.Flags().Changed("min-confidence") {
		opts.MinConfidence, _ = cmd.Flags().GetFloat64("min-confidence")
	}
	if cmd.Flags().Changed("min-occurrences") {
		opts.MinOccurrences, _ = cmd.Flags().GetInt("min-occurrences")
	}
	return opts
}

func runDetect(cmd *cobra.Command, _ []string) error {
	ofxFiles, _ := cmd.Flags().GetStringSlice("ofx")
	writeDir, _ := cmd.Flags().GetString("write")
	printYAML, _ := cmd.Flags().GetBool("yaml")
	noRecord, _ := cmd.Flags().GetBool("no-record")
	ctx := cmd.Context()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	opts := detectOptions(cmd, settings.Detect)
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return common.NewUserError("--min-confidence must be between 0 and 1", common.ErrInvalidConfig)
	}

	store, err := initStorage(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var (
		txns   []model.Transaction
		source = "ledger"
	)
	if len(ofxFiles) > 0 {
		source = sourceName(ofxFiles)
		txns, err = readOFX(ctx, ofxFiles, settings.Accounts, nil)
	} else {
		txns, err = loadLedger(ctx, store)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(txns) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("No transactions to analyze. Import statements first or pass --ofx"))
		return nil
	}

	candidates := detector.New(opts).Detect(txns)
	if err := ctx.Err(); err != nil {
		return err
	}

	if printYAML {
		if err := writeCandidateYAML(out, candidates); err != nil {
			return err
		}
	} else {
		if err := writeCandidateTable(out, candidates); err != nil {
			return err
		}
	}

	if writeDir != "" {
		writeCandidateFiles(out, config.ExpandPath(writeDir), candidates)
	}

	if noRecord {
		return nil
	}
	run := &model.DetectionRun{
		RanAt:            time.Now().UTC(),
		Source:           source,
		TransactionCount: len(txns),
	}
	if err := store.SaveDetectionRun(ctx, run, candidateRecords(candidates)); err != nil {
		return fmt.Errorf("failed to record detection run: %w", err)
	}
	slog.Debug("Recorded detection run", "run_id", run.ID, "candidates", run.CandidateCount)
	return nil
}

func writeCandidateTable(w io.Writer, candidates []detector.Candidate) error {
	if len(candidates) == 0 {
		fmt.Fprintln(w, cli.FormatInfo("No recurring patterns found"))
		return nil
	}

	fmt.Fprintln(w, cli.FormatTitle(fmt.Sprintf("%d recurring patterns", len(candidates))))
	table := cli.NewTable(w, "id", "frequency", "payee", "account", "amount", "seen", "confidence")
	for i := range candidates {
		c := &candidates[i]
		table.Row(
			c.ScheduleID,
			c.Frequency.Name(),
			c.Payee,
			c.Account,
			c.SignedAmount.StringFixed(2),
			fmt.Sprintf("%d/%d", c.TransactionCount, c.ExpectedOccurrences),
			fmt.Sprintf("%.0f%%", c.Confidence*100),
		)
	}
	return table.Flush()
}

func candidateHeader(c *detector.Candidate) []string {
	return []string{
		fmt.Sprintf("Detected %s to %s from %d transactions, confidence %.0f%%",
			c.FirstDate, c.LastDate, c.TransactionCount, c.Confidence*100),
	}
}

func writeCandidateYAML(w io.Writer, candidates []detector.Candidate) error {
	for i := range candidates {
		c := &candidates[i]
		s := c.ToSchedule()
		data, err := schedules.Marshal(&s, candidateHeader(c)...)
		if err != nil {
			return err
		}
		if i > 0 {
			if _, err := io.WriteString(w, "---\n"); err != nil {
				return err
			}
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// writeCandidateFiles writes one file per candidate. Existing files are left
// alone.
func writeCandidateFiles(w io.Writer, dir string, candidates []detector.Candidate) {
	written := 0
	for i := range candidates {
		c := &candidates[i]
		s := c.ToSchedule()
		path, err := schedules.WriteSchedule(dir, &s, candidateHeader(c)...)
		if err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				fmt.Fprintln(w, cli.FormatWarning(fmt.Sprintf("%s already exists, skipped", s.ID)))
				continue
			}
			fmt.Fprintln(w, cli.FormatError(fmt.Sprintf("%s: %v", s.ID, err)))
			continue
		}
		written++
		slog.Debug("Wrote schedule", "path", path)
	}
	fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("Wrote %d schedules to %s", written, dir)))
}
