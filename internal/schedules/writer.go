package schedules

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/Veraticus/beanschedule/internal/model"
)

// Marshal renders a schedule as YAML, preceded by the header lines as
// comments.
func Marshal(schedule *model.Schedule, header ...string) ([]byte, error) {
	var buf bytes.Buffer
	for _, line := range header {
		fmt.Fprintf(&buf, "# %s\n", line)
	}

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(schedule); err != nil {
		return nil, fmt.Errorf("failed to encode schedule %s: %w", schedule.ID, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode schedule %s: %w", schedule.ID, err)
	}
	return buf.Bytes(), nil
}

// WriteSchedule writes schedule to <dir>/<id>.yaml and returns the path. An
// existing file is never overwritten.
func WriteSchedule(dir string, schedule *model.Schedule, header ...string) (string, error) {
	if err := schedule.Validate(); err != nil {
		return "", err
	}

	data, err := Marshal(schedule, header...)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create schedules directory: %w", err)
	}

	path := filepath.Join(dir, schedule.ID+scheduleFileExt)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", common.ErrDuplicateEntry, path)
		}
		return "", fmt.Errorf("failed to create schedule file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write schedule file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close schedule file: %w", err)
	}
	schedule.SourceFile = path
	return path, nil
}

// WriteConfig writes cfg to <dir>/_config.yaml and returns the path. An
// existing file is replaced only when overwrite is set.
func WriteConfig(dir string, cfg model.GlobalConfig, overwrite bool) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString("# Settings shared by every schedule in this directory\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode global config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode global config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create schedules directory: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", common.ErrDuplicateEntry, path)
		}
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close config file: %w", err)
	}
	return path, nil
}

// ExampleSchedule is the monthly rent schedule written by init as a
// starting point.
func ExampleSchedule(start civil.Date) model.Schedule {
	const id = "example-rent"
	amount := decimal.NewFromInt(-1500)
	return model.Schedule{
		ID:      id,
		Enabled: true,
		Match: model.MatchCriteria{
			Account:         "Assets:Bank:Checking",
			PayeePattern:    "Property Manager|Landlord",
			Amount:          &amount,
			AmountTolerance: model.DecimalPtr(decimal.Zero),
			DateWindowDays:  model.IntPtr(2),
		},
		Recurrence: model.RecurrenceRule{
			Frequency:  model.FrequencyMonthly,
			StartDate:  start,
			DayOfMonth: model.IntPtr(1),
		},
		Transaction: model.TransactionTemplate{
			Payee:     "Property Manager",
			Narration: "Monthly Rent",
			Metadata:  map[string]string{model.MetaScheduleID: id},
			Postings: []model.PostingTemplate{
				{Account: "Assets:Bank:Checking"},
				{Account: "Expenses:Housing:Rent"},
			},
		},
		MissingTransaction: model.DefaultMissingTransactionConfig(),
	}
}
