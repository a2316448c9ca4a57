package model

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Defaults applied to schedule documents.
const (
	DefaultFuzzyMatchThreshold    = 0.80
	DefaultDateWindowDays         = 3
	DefaultAmountTolerancePercent = 0.02
	DefaultNarrationPrefix        = "[MISSING]"
	DefaultScheduleFileVersion    = "1.0"
)

// RecurrenceRule describes how a schedule repeats.
type RecurrenceRule struct {
	EndDate        *civil.Date `yaml:"end_date,omitempty"`
	DayOfMonth     *int        `yaml:"day_of_month,omitempty"`
	Month          *int        `yaml:"month,omitempty"`
	DayOfWeek      *DayOfWeek  `yaml:"day_of_week,omitempty"`
	Interval       *int        `yaml:"interval,omitempty"`
	IntervalMonths *int        `yaml:"interval_months,omitempty"`
	NthOccurrence  *int        `yaml:"nth_occurrence,omitempty"`
	StartDate      civil.Date  `yaml:"start_date"`
	Frequency      Frequency   `yaml:"frequency"`
	DaysOfMonth    []int       `yaml:"days_of_month,omitempty"`
}

// WeekInterval returns the week step, defaulting to 1.
func (r RecurrenceRule) WeekInterval() int {
	if r.Interval == nil || *r.Interval < 1 {
		return 1
	}
	return *r.Interval
}

// MatchCriteria identifies the imported transactions a schedule covers.
type MatchCriteria struct {
	Amount          *decimal.Decimal `yaml:"amount,omitempty"`
	AmountTolerance *decimal.Decimal `yaml:"amount_tolerance,omitempty"`
	AmountMin       *decimal.Decimal `yaml:"amount_min,omitempty"`
	AmountMax       *decimal.Decimal `yaml:"amount_max,omitempty"`
	DateWindowDays  *int             `yaml:"date_window_days,omitempty"`
	Account         string           `yaml:"account"`
	PayeePattern    string           `yaml:"payee_pattern"`
}

// PostingTemplate is one posting of a schedule's transaction template.
type PostingTemplate struct {
	Amount    *decimal.Decimal `yaml:"amount,omitempty"`
	Account   string           `yaml:"account"`
	Narration string           `yaml:"narration,omitempty"`
	Role      PostingRole      `yaml:"role,omitempty"`
}

// TransactionTemplate is applied to matched, placeholder and forecast transactions.
type TransactionTemplate struct {
	Metadata  map[string]string `yaml:"metadata"`
	Payee     string            `yaml:"payee,omitempty"`
	Narration string            `yaml:"narration,omitempty"`
	Tags      []string          `yaml:"tags,omitempty"`
	Links     []string          `yaml:"links,omitempty"`
	Postings  []PostingTemplate `yaml:"postings,omitempty"`
}

// MissingTransactionConfig controls placeholder creation.
type MissingTransactionConfig struct {
	Flag              string `yaml:"flag"`
	NarrationPrefix   string `yaml:"narration_prefix"`
	CreatePlaceholder bool   `yaml:"create_placeholder"`
}

// DefaultMissingTransactionConfig returns the placeholder defaults.
func DefaultMissingTransactionConfig() MissingTransactionConfig {
	return MissingTransactionConfig{
		CreatePlaceholder: true,
		Flag:              FlagPlaceholder,
		NarrationPrefix:   DefaultNarrationPrefix,
	}
}

// UnmarshalYAML fills unset fields with defaults.
func (m *MissingTransactionConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain MissingTransactionConfig
	out := plain(DefaultMissingTransactionConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*m = MissingTransactionConfig(out)
	return nil
}

// AmortizationOverride replaces loan terms from EffectiveDate onward.
type AmortizationOverride struct {
	Principal      *decimal.Decimal `yaml:"principal,omitempty"`
	AnnualRate     *decimal.Decimal `yaml:"annual_rate,omitempty"`
	TermMonths     *int             `yaml:"term_months,omitempty"`
	ExtraPrincipal *decimal.Decimal `yaml:"extra_principal,omitempty"`
	EffectiveDate  civil.Date       `yaml:"effective_date"`
}

// AmortizationConfig configures principal/interest splitting.
// BalanceFromLedger selects stateful mode; otherwise the static
// Principal, TermMonths and StartDate are required.
type AmortizationConfig struct {
	AnnualRate        decimal.Decimal        `yaml:"annual_rate"`
	ExtraPrincipal    *decimal.Decimal       `yaml:"extra_principal,omitempty"`
	Principal         *decimal.Decimal       `yaml:"principal,omitempty"`
	TermMonths        *int                   `yaml:"term_months,omitempty"`
	StartDate         *civil.Date            `yaml:"start_date,omitempty"`
	MonthlyPayment    *decimal.Decimal       `yaml:"monthly_payment,omitempty"`
	PaymentDayOfMonth *int                   `yaml:"payment_day_of_month,omitempty"`
	Compounding       Compounding            `yaml:"compounding,omitempty"`
	Overrides         []AmortizationOverride `yaml:"overrides,omitempty"`
	BalanceFromLedger bool                   `yaml:"balance_from_ledger,omitempty"`
}

// Extra returns the extra principal, or zero.
func (a *AmortizationConfig) Extra() decimal.Decimal {
	if a.ExtraPrincipal == nil {
		return decimal.Zero
	}
	return *a.ExtraPrincipal
}

// Stateful reports whether the balance is read from the ledger.
func (a *AmortizationConfig) Stateful() bool {
	return a.BalanceFromLedger
}

// Schedule is a single recurring transaction definition.
type Schedule struct {
	Amortization       *AmortizationConfig      `yaml:"amortization,omitempty"`
	ID                 string                   `yaml:"id"`
	SourceFile         string                   `yaml:"-"`
	Match              MatchCriteria            `yaml:"match"`
	Recurrence         RecurrenceRule           `yaml:"recurrence"`
	Transaction        TransactionTemplate      `yaml:"transaction"`
	MissingTransaction MissingTransactionConfig `yaml:"missing_transaction"`
	Enabled            bool                     `yaml:"enabled"`
}

// UnmarshalYAML fills unset fields with defaults.
func (s *Schedule) UnmarshalYAML(value *yaml.Node) error {
	type plain Schedule
	out := plain{
		Enabled:            true,
		MissingTransaction: DefaultMissingTransactionConfig(),
	}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*s = Schedule(out)
	return nil
}

// TemplateAmount returns the template posting amount for account, if any.
func (s *Schedule) TemplateAmount(account string) (decimal.Decimal, bool) {
	for _, p := range s.Transaction.Postings {
		if p.Account == account && p.Amount != nil {
			return *p.Amount, true
		}
	}
	return decimal.Zero, false
}

// GlobalConfig holds settings shared by every schedule.
type GlobalConfig struct {
	DefaultCurrency               string  `yaml:"default_currency"`
	PlaceholderFlag               string  `yaml:"placeholder_flag"`
	FuzzyMatchThreshold           float64 `yaml:"fuzzy_match_threshold"`
	DefaultAmountTolerancePercent float64 `yaml:"default_amount_tolerance_percent"`
	DefaultDateWindowDays         int     `yaml:"default_date_window_days"`
}

// DefaultGlobalConfig returns the global defaults.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		DefaultCurrency:               DefaultCurrency,
		FuzzyMatchThreshold:           DefaultFuzzyMatchThreshold,
		DefaultDateWindowDays:         DefaultDateWindowDays,
		DefaultAmountTolerancePercent: DefaultAmountTolerancePercent,
		PlaceholderFlag:               FlagPlaceholder,
	}
}

// UnmarshalYAML fills unset fields with defaults.
func (g *GlobalConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain GlobalConfig
	out := plain(DefaultGlobalConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*g = GlobalConfig(out)
	return nil
}

// ScheduleFile is the root of a single-file schedule document.
type ScheduleFile struct {
	Version   string       `yaml:"version"`
	Schedules []Schedule   `yaml:"schedules"`
	Config    GlobalConfig `yaml:"config"`
}

// NewScheduleFile returns an empty document with defaults.
func NewScheduleFile() *ScheduleFile {
	return &ScheduleFile{
		Version: DefaultScheduleFileVersion,
		Config:  DefaultGlobalConfig(),
	}
}

// UnmarshalYAML fills unset fields with defaults.
func (f *ScheduleFile) UnmarshalYAML(value *yaml.Node) error {
	type plain ScheduleFile
	out := plain(*NewScheduleFile())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*f = ScheduleFile(out)
	return nil
}

// Occurrence is one expected date of a schedule.
type Occurrence struct {
	Schedule *Schedule
	Date     civil.Date
}
