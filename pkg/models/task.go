package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus returns the Status for a stored string value.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusDone, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

type Priority string

const (
	PriorityLowest Priority = "lowest"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities from lowest (0) to urgent (4).
func (p Priority) Rank() int {
	switch p {
	case PriorityLowest:
		return 0
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 2
}

// ParsePriority returns the Priority for a stored string value.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLowest, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s), true
	}
	return "", false
}

// ShortIDLength is the number of leading id characters used for user-facing
// references. Prefixes this short are not guaranteed unique.
const ShortIDLength = 8

// Task is the canonical in-memory representation of a task. Exactly one
// markdown file stores each task; the storage format (frontmatter or hybrid)
// is a write-time parameter, not part of the entity.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`

	DueDate       *time.Time `json:"due_date,omitempty"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	EstimatedHours float64 `json:"estimated_hours,omitempty"`
	ActualHours    float64 `json:"actual_hours,omitempty"`

	Tags    []string `json:"tags,omitempty"`
	Project string   `json:"project,omitempty"`

	ParentID     string   `json:"parent_id,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`

	Recurrence         *RecurrenceRule `json:"recurrence,omitempty"`
	RecurrenceParentID string          `json:"recurrence_parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Notes []Note `json:"notes,omitempty"`

	// SourceFile and SourceLine record where an imported task line came
	// from, relative to the vault root, so link-back can rewrite it.
	SourceFile string `json:"source_file,omitempty"`
	SourceLine int    `json:"source_line,omitempty"`

	// ObsidianHasCreated tracks whether the task line carries the created
	// marker. Lines imported without one stay without one on re-encode.
	ObsidianHasCreated bool `json:"obsidian_has_created"`

	// Extra holds unknown frontmatter keys so they survive a rewrite.
	Extra map[string]any `json:"-"`
}

// NewTask creates a pending, medium-priority task with a fresh id.
func NewTask(title string) *Task {
	now := time.Now()
	return &Task{
		ID:                 uuid.NewString(),
		Title:              title,
		Status:             StatusPending,
		Priority:           PriorityMedium,
		CreatedAt:          now,
		UpdatedAt:          now,
		ObsidianHasCreated: true,
	}
}

// ShortID returns the fixed-length id prefix used in listings and file names.
func (t *Task) ShortID() string {
	if len(t.ID) < ShortIDLength {
		return t.ID
	}
	return t.ID[:ShortIDLength]
}

// IsOpen reports whether the task is still actionable.
func (t *Task) IsOpen() bool {
	return t.Status == StatusPending || t.Status == StatusInProgress
}

func (t *Task) IsRecurring() bool {
	return t.Recurrence != nil
}

func (t *Task) IsRecurrenceInstance() bool {
	return t.RecurrenceParentID != ""
}

// Touch bumps updated_at. Every mutating operation calls it.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now()
}

// Start moves the task to in_progress. Dependency gating happens in the
// manager before this is called.
func (t *Task) Start() {
	t.Status = StatusInProgress
	t.Touch()
}

// Complete moves the task to done and stamps completed_at exactly once.
func (t *Task) Complete(actualHours float64) {
	t.Status = StatusDone
	if t.CompletedAt == nil {
		now := time.Now()
		t.CompletedAt = &now
	}
	if actualHours > 0 {
		t.ActualHours = actualHours
	}
	t.Touch()
}

// Cancel moves the task to cancelled. Cancellation never sets completed_at.
func (t *Task) Cancel() {
	t.Status = StatusCancelled
	t.Touch()
}

// AddNote appends a timestamped note. Notes render as a single line in the
// file body, so newlines are collapsed to spaces.
func (t *Task) AddNote(content string) {
	content = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(content)
	t.Notes = append(t.Notes, Note{Content: content, CreatedAt: time.Now()})
	t.Touch()
}

// AddTags appends tags, collapsing duplicates while preserving order.
func (t *Task) AddTags(tags ...string) {
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		dup := false
		for _, existing := range t.Tags {
			if existing == tag {
				dup = true
				break
			}
		}
		if !dup {
			t.Tags = append(t.Tags, tag)
		}
	}
}
