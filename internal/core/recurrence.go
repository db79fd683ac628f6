// Package core implements task lifecycle operations on top of the storage
// repository: add/start/complete/cancel/delete, dependency and hierarchy
// validation, and recurrence successor generation.
package core

import (
	"time"

	"github.com/ldi/butler/pkg/models"
)

// Advance moves a date forward by interval units of the frequency. Monthly
// and yearly steps clamp the day of month to the target month's last day, so
// Jan 31 + 1 month is Feb 28 (or 29) rather than an overflow into March.
func Advance(from time.Time, freq models.Frequency, interval int) time.Time {
	if interval < 1 {
		interval = 1
	}
	switch freq {
	case models.FrequencyDaily:
		return from.AddDate(0, 0, interval)
	case models.FrequencyWeekly:
		return from.AddDate(0, 0, 7*interval)
	case models.FrequencyMonthly:
		return addMonthsClamped(from, interval)
	case models.FrequencyYearly:
		return addMonthsClamped(from, 12*interval)
	}
	return from
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	// Day 1 never overflows, so this lands in the intended month.
	anchor := time.Date(year, month+time.Month(months), 1,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysInMonth(anchor.Year(), anchor.Month()); day > last {
		day = last
	}
	return time.Date(anchor.Year(), anchor.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NextOccurrence computes the successor due date for a recurring task, based
// on its due date or now when it has none. Returns nil when the rule's end
// date cuts the series off.
func NextOccurrence(t *models.Task, now time.Time) *time.Time {
	if t.Recurrence == nil {
		return nil
	}
	base := now
	if t.DueDate != nil {
		base = *t.DueDate
	}
	next := Advance(base, t.Recurrence.Frequency, t.Recurrence.Interval)
	if t.Recurrence.EndDate != nil && next.After(*t.Recurrence.EndDate) {
		return nil
	}
	return &next
}

// NextInstance clones a recurring task into its next occurrence: same
// title, description, priority, project, tags, estimate and rule; fresh
// identity; due on the next occurrence; no notes, dependencies or parent.
func NextInstance(source *models.Task, nextDue time.Time) *models.Task {
	next := models.NewTask(source.Title)
	next.Description = source.Description
	next.Priority = source.Priority
	next.Project = source.Project
	next.Tags = append([]string(nil), source.Tags...)
	next.EstimatedHours = source.EstimatedHours
	next.Recurrence = source.Recurrence
	next.DueDate = &nextDue
	next.RecurrenceParentID = source.ID
	return next
}
