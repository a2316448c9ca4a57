package model

import "time"

// Frequency identifies the kind of recurrence rule.
type Frequency string

// Supported recurrence frequencies.
const (
	FrequencyMonthly        Frequency = "MONTHLY"
	FrequencyWeekly         Frequency = "WEEKLY"
	FrequencyYearly         Frequency = "YEARLY"
	FrequencyInterval       Frequency = "INTERVAL"
	FrequencyBimonthly      Frequency = "BIMONTHLY"
	FrequencyMonthlyOnDays  Frequency = "MONTHLY_ON_DAYS"
	FrequencyNthWeekday     Frequency = "NTH_WEEKDAY"
	FrequencyLastDayOfMonth Frequency = "LAST_DAY_OF_MONTH"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyWeekly, FrequencyYearly, FrequencyInterval,
		FrequencyBimonthly, FrequencyMonthlyOnDays, FrequencyNthWeekday, FrequencyLastDayOfMonth:
		return true
	}
	return false
}

// DayOfWeek is a three letter weekday name.
type DayOfWeek string

// Weekday names.
const (
	Monday    DayOfWeek = "MON"
	Tuesday   DayOfWeek = "TUE"
	Wednesday DayOfWeek = "WED"
	Thursday  DayOfWeek = "THU"
	Friday    DayOfWeek = "FRI"
	Saturday  DayOfWeek = "SAT"
	Sunday    DayOfWeek = "SUN"
)

var weekdays = map[DayOfWeek]time.Weekday{
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
	Sunday:    time.Sunday,
}

// Weekday converts d to a time.Weekday.
func (d DayOfWeek) Weekday() (time.Weekday, bool) {
	wd, ok := weekdays[d]
	return wd, ok
}

// DayOfWeekFrom converts a time.Weekday to its DayOfWeek name.
func DayOfWeekFrom(wd time.Weekday) DayOfWeek {
	for name, w := range weekdays {
		if w == wd {
			return name
		}
	}
	return Monday
}

// PostingRole tags a posting template with the amortization value it receives.
type PostingRole string

// Posting roles.
const (
	RoleNone      PostingRole = ""
	RolePrincipal PostingRole = "principal"
	RoleInterest  PostingRole = "interest"
	RolePayment   PostingRole = "payment"
	RoleEscrow    PostingRole = "escrow"
)

// Valid reports whether r is a known role.
func (r PostingRole) Valid() bool {
	switch r {
	case RoleNone, RolePrincipal, RoleInterest, RolePayment, RoleEscrow:
		return true
	}
	return false
}

// Compounding selects how stateful amortization accrues interest.
type Compounding string

// Compounding modes.
const (
	CompoundingMonthly Compounding = "MONTHLY"
	CompoundingDaily   Compounding = "DAILY"
)
