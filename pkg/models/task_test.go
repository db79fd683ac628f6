package models

import (
	"testing"
	"time"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("Test task")

	if task.Title != "Test task" {
		t.Errorf("Expected title Test task, got %s", task.Title)
	}
	if task.Status != StatusPending {
		t.Errorf("Expected status pending, got %s", task.Status)
	}
	if task.Priority != PriorityMedium {
		t.Errorf("Expected priority medium, got %s", task.Priority)
	}
	if len(task.ID) != 36 {
		t.Errorf("Expected UUID id of length 36, got %d (%s)", len(task.ID), task.ID)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Errorf("Expected CreatedAt and UpdatedAt to be set")
	}
	if !task.ObsidianHasCreated {
		t.Errorf("Expected ObsidianHasCreated to default to true")
	}
}

func TestShortID(t *testing.T) {
	task := NewTask("Test")

	short := task.ShortID()
	if len(short) != ShortIDLength {
		t.Errorf("Expected short id length %d, got %d", ShortIDLength, len(short))
	}
	if task.ID[:ShortIDLength] != short {
		t.Errorf("Expected id to start with short id")
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	ordered := []Priority{PriorityLowest, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Errorf("Expected %s < %s", ordered[i-1], ordered[i])
		}
	}
}

func TestCompleteSetsCompletedAt(t *testing.T) {
	task := NewTask("Test")
	task.Start()

	if task.Status != StatusInProgress {
		t.Fatalf("Expected in_progress, got %s", task.Status)
	}

	task.Complete(1.5)
	if task.Status != StatusDone {
		t.Errorf("Expected done, got %s", task.Status)
	}
	if task.CompletedAt == nil {
		t.Fatalf("Expected completed_at to be set")
	}
	if task.ActualHours != 1.5 {
		t.Errorf("Expected actual hours 1.5, got %v", task.ActualHours)
	}

	// Completing again must not move the original timestamp.
	first := *task.CompletedAt
	task.Complete(0)
	if !task.CompletedAt.Equal(first) {
		t.Errorf("Expected completed_at to be set exactly once")
	}
}

func TestCancelDoesNotSetCompletedAt(t *testing.T) {
	task := NewTask("Test")
	task.Cancel()

	if task.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", task.Status)
	}
	if task.CompletedAt != nil {
		t.Errorf("Expected completed_at to stay unset on cancel")
	}
}

func TestIsOpen(t *testing.T) {
	task := NewTask("Test")
	if !task.IsOpen() {
		t.Errorf("Expected pending task to be open")
	}

	task.Start()
	if !task.IsOpen() {
		t.Errorf("Expected in_progress task to be open")
	}

	task.Complete(0)
	if task.IsOpen() {
		t.Errorf("Expected done task to be closed")
	}
}

func TestAddNote(t *testing.T) {
	task := NewTask("Test")
	before := task.UpdatedAt

	task.AddNote("First note")
	if len(task.Notes) != 1 {
		t.Fatalf("Expected 1 note, got %d", len(task.Notes))
	}
	if task.Notes[0].Content != "First note" {
		t.Errorf("Expected note content First note, got %s", task.Notes[0].Content)
	}
	if task.UpdatedAt.Before(before) {
		t.Errorf("Expected updated_at to advance")
	}
}

func TestAddNoteCollapsesNewlines(t *testing.T) {
	task := NewTask("Test")

	task.AddNote("line one\nline two\r\nline three")
	if task.Notes[0].Content != "line one line two line three" {
		t.Errorf("Expected newlines collapsed, got %q", task.Notes[0].Content)
	}
}

func TestAddTagsCollapsesDuplicates(t *testing.T) {
	task := NewTask("Test")
	task.AddTags("work", "urgent", "work", "", "  ")

	if len(task.Tags) != 2 {
		t.Fatalf("Expected 2 tags, got %d (%v)", len(task.Tags), task.Tags)
	}
	if task.Tags[0] != "work" || task.Tags[1] != "urgent" {
		t.Errorf("Expected insertion order preserved, got %v", task.Tags)
	}
}

func TestIsRecurring(t *testing.T) {
	task := NewTask("Test")
	if task.IsRecurring() {
		t.Errorf("Expected task without rule to not be recurring")
	}

	task.Recurrence = NewRecurrenceRule(FrequencyWeekly, 0)
	if !task.IsRecurring() {
		t.Errorf("Expected task with rule to be recurring")
	}
	if task.Recurrence.Interval != 1 {
		t.Errorf("Expected interval floored at 1, got %d", task.Recurrence.Interval)
	}
}

func TestIsRecurrenceInstance(t *testing.T) {
	parent := NewTask("Parent")
	parent.Recurrence = NewRecurrenceRule(FrequencyDaily, 1)

	instance := NewTask("Instance")
	instance.RecurrenceParentID = parent.ID

	if parent.IsRecurrenceInstance() {
		t.Errorf("Expected template to not be an instance")
	}
	if !instance.IsRecurrenceInstance() {
		t.Errorf("Expected generated task to be an instance")
	}
}

func TestParseHelpers(t *testing.T) {
	if s, ok := ParseStatus("in_progress"); !ok || s != StatusInProgress {
		t.Errorf("ParseStatus(in_progress) = %v, %v", s, ok)
	}
	if _, ok := ParseStatus("bogus"); ok {
		t.Errorf("Expected bogus status to fail")
	}
	if p, ok := ParsePriority("lowest"); !ok || p != PriorityLowest {
		t.Errorf("ParsePriority(lowest) = %v, %v", p, ok)
	}
	if _, ok := ParsePriority("asap"); ok {
		t.Errorf("Expected asap priority to fail")
	}
	if f, ok := ParseFrequency("monthly"); !ok || f != FrequencyMonthly {
		t.Errorf("ParseFrequency(monthly) = %v, %v", f, ok)
	}
	if _, ok := ParseFrequency("fortnightly"); ok {
		t.Errorf("Expected fortnightly frequency to fail")
	}
}

func TestNoteTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	note := Note{Content: "Test", CreatedAt: ts}
	if !note.CreatedAt.Equal(ts) {
		t.Errorf("Expected note timestamp preserved")
	}
}
