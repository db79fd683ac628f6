package models

import "time"

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// ParseFrequency returns the Frequency for a stored string value.
func ParseFrequency(s string) (Frequency, bool) {
	switch Frequency(s) {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return Frequency(s), true
	}
	return "", false
}

// RecurrenceRule describes how a recurring task repeats. Interval is the
// number of frequency units between occurrences and is always at least 1.
type RecurrenceRule struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// NewRecurrenceRule builds a rule with the interval floored at 1.
func NewRecurrenceRule(freq Frequency, interval int) *RecurrenceRule {
	if interval < 1 {
		interval = 1
	}
	return &RecurrenceRule{Frequency: freq, Interval: interval}
}
