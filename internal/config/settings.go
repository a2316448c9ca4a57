package config

import (
	"fmt"
	"os"

	"github.com/Veraticus/beanschedule/internal/common"
	"github.com/spf13/viper"
)

// Default settings values.
const (
	DefaultDatabasePath        = "$HOME/.local/share/beansched/ledger.db"
	DefaultForecastHorizonDays = 365
	DefaultDetectFuzzy         = 0.85
	DefaultDetectAmountPct     = 0.05
	DefaultDetectMinCount      = 3
	DefaultDetectMinConfidence = 0.60
)

// DetectSettings holds thresholds for recurrence detection.
type DetectSettings struct {
	FuzzyThreshold     float64
	AmountTolerancePct float64
	MinOccurrences     int
	MinConfidence      float64
}

// Settings is the application configuration resolved from viper.
type Settings struct {
	Accounts            map[string]string
	DatabasePath        string
	SchedulesPath       string
	Detect              DetectSettings
	ForecastHorizonDays int
}

// LoadSettings resolves settings from viper with defaults applied.
// It follows this precedence:
// 1. Viper configuration (config file, flags, BEANSCHED_ env vars)
// 2. Direct environment variables (BEANSCHEDULE_DIR, BEANSCHEDULE_FILE)
// 3. Default values
func LoadSettings() (*Settings, error) {
	s := &Settings{
		DatabasePath:        DefaultDatabasePath,
		ForecastHorizonDays: DefaultForecastHorizonDays,
		Accounts:            map[string]string{},
		Detect: DetectSettings{
			FuzzyThreshold:     DefaultDetectFuzzy,
			AmountTolerancePct: DefaultDetectAmountPct,
			MinOccurrences:     DefaultDetectMinCount,
			MinConfidence:      DefaultDetectMinConfidence,
		},
	}

	if v := viper.GetString("database.path"); v != "" {
		s.DatabasePath = v
	}
	s.DatabasePath = ExpandPath(s.DatabasePath)

	if v := viper.GetString("schedules.path"); v != "" {
		s.SchedulesPath = ExpandPath(v)
	}
	if s.SchedulesPath == "" {
		if v := os.Getenv("BEANSCHEDULE_DIR"); v != "" {
			s.SchedulesPath = ExpandPath(v)
		} else if v := os.Getenv("BEANSCHEDULE_FILE"); v != "" {
			s.SchedulesPath = ExpandPath(v)
		}
	}

	for acct, ledgerAccount := range viper.GetStringMapString("accounts") {
		s.Accounts[acct] = ledgerAccount
	}

	if viper.IsSet("forecast.horizon_days") {
		s.ForecastHorizonDays = viper.GetInt("forecast.horizon_days")
	}
	if viper.IsSet("detect.fuzzy_threshold") {
		s.Detect.FuzzyThreshold = viper.GetFloat64("detect.fuzzy_threshold")
	}
	if viper.IsSet("detect.amount_tolerance_pct") {
		s.Detect.AmountTolerancePct = viper.GetFloat64("detect.amount_tolerance_pct")
	}
	if viper.IsSet("detect.min_occurrences") {
		s.Detect.MinOccurrences = viper.GetInt("detect.min_occurrences")
	}
	if viper.IsSet("detect.min_confidence") {
		s.Detect.MinConfidence = viper.GetFloat64("detect.min_confidence")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate checks that settings are within range.
func (s *Settings) Validate() error {
	if s.ForecastHorizonDays <= 0 {
		return fmt.Errorf("%w: forecast.horizon_days must be positive", common.ErrInvalidConfig)
	}
	if s.Detect.FuzzyThreshold < 0 || s.Detect.FuzzyThreshold > 1 {
		return fmt.Errorf("%w: detect.fuzzy_threshold must be between 0 and 1", common.ErrInvalidConfig)
	}
	if s.Detect.AmountTolerancePct < 0 {
		return fmt.Errorf("%w: detect.amount_tolerance_pct must not be negative", common.ErrInvalidConfig)
	}
	if s.Detect.MinOccurrences < 2 {
		return fmt.Errorf("%w: detect.min_occurrences must be at least 2", common.ErrInvalidConfig)
	}
	if s.Detect.MinConfidence < 0 || s.Detect.MinConfidence > 1 {
		return fmt.Errorf("%w: detect.min_confidence must be between 0 and 1", common.ErrInvalidConfig)
	}
	return nil
}
