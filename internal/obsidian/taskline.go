// Package obsidian implements the Obsidian Tasks side of the dual-format
// storage: the emoji-annotated checkbox line codec, conflict reconciliation
// against frontmatter, and the vault import engine.
package obsidian

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ldi/butler/pkg/models"
)

// ErrNotATaskLine marks lines that do not start with a checkbox marker.
// During bulk scans this is expected and filtered, not surfaced.
var ErrNotATaskLine = errors.New("not a task line")

// Emoji markers used by the Obsidian Tasks plugin.
const (
	markerUrgent    = "🔺"
	markerHigh      = "⏫"
	markerMedium    = "🔼"
	markerLow       = "🔽"
	markerLowest    = "⏬"
	markerDue       = "📅"
	markerScheduled = "⏳"
	markerStart     = "🛫"
	markerCreated   = "➕"
	markerDone      = "✅"
	markerRecur     = "🔁"
)

const dateLayout = "2006-01-02"

// ParsedLine holds the subset of task fields a single checkbox line can
// carry. Fields absent from the line stay nil/zero and must not be treated
// as cleared when merging into a full task.
type ParsedLine struct {
	Title     string
	Completed bool

	// Priority is nil when the line has no priority marker. A line with no
	// marker means medium by convention, but the distinction matters for
	// round-tripping, so the absence is preserved here.
	Priority *models.Priority

	DueDate       *time.Time
	ScheduledDate *time.Time
	StartDate     *time.Time
	CreatedAt     *time.Time
	CompletedAt   *time.Time

	// RecurrenceText is the raw phrase after the recurrence marker.
	// Recurrence is the parsed rule, nil when the phrase did not parse.
	RecurrenceText string
	Recurrence     *models.RecurrenceRule

	Tags []string
}

// EffectivePriority resolves the absent-marker asymmetry: no marker decodes
// as medium.
func (p *ParsedLine) EffectivePriority() models.Priority {
	if p.Priority == nil {
		return models.PriorityMedium
	}
	return *p.Priority
}

// EncodeLine renders a task as a single Obsidian Tasks line. Medium priority
// emits no marker, absent dates emit no marker, and the created marker is
// only emitted when the task tracks one.
func EncodeLine(t *models.Task) string {
	var b strings.Builder

	if t.Status == models.StatusDone {
		b.WriteString("- [x] ")
	} else {
		b.WriteString("- [ ] ")
	}
	b.WriteString(t.Title)

	switch t.Priority {
	case models.PriorityUrgent:
		b.WriteString(" " + markerUrgent)
	case models.PriorityHigh:
		b.WriteString(" " + markerHigh)
	case models.PriorityLow:
		b.WriteString(" " + markerLow)
	case models.PriorityLowest:
		b.WriteString(" " + markerLowest)
	}

	if t.DueDate != nil {
		b.WriteString(" " + markerDue + " " + t.DueDate.Format(dateLayout))
	}
	if t.ScheduledDate != nil {
		b.WriteString(" " + markerScheduled + " " + t.ScheduledDate.Format(dateLayout))
	}
	if t.StartDate != nil {
		b.WriteString(" " + markerStart + " " + t.StartDate.Format(dateLayout))
	}
	if t.ObsidianHasCreated && !t.CreatedAt.IsZero() {
		b.WriteString(" " + markerCreated + " " + t.CreatedAt.Format(dateLayout))
	}
	if t.Status == models.StatusDone && t.CompletedAt != nil {
		b.WriteString(" " + markerDone + " " + t.CompletedAt.Format(dateLayout))
	}
	if t.Recurrence != nil {
		b.WriteString(" " + markerRecur + " " + FormatRecurrence(t.Recurrence))
	}
	for _, tag := range t.Tags {
		b.WriteString(" #" + tag)
	}

	return b.String()
}

// ParseLine decodes a single Obsidian Tasks line. Lines without a leading
// checkbox marker return ErrNotATaskLine. An unparseable recurrence phrase
// leaves Recurrence nil rather than failing the line.
func ParseLine(line string) (*ParsedLine, error) {
	trimmed := strings.TrimSpace(line)

	var completed bool
	switch {
	case strings.HasPrefix(trimmed, "- [ ] "):
		completed = false
	case strings.HasPrefix(trimmed, "- [x] "), strings.HasPrefix(trimmed, "- [X] "):
		completed = true
	default:
		return nil, ErrNotATaskLine
	}

	parsed := &ParsedLine{Completed: completed}
	rest := strings.TrimSpace(trimmed[len("- [ ] "):])

	tokens := strings.Fields(rest)
	var titleParts []string
	var recurParts []string
	inRecurrence := false

	consumeDate := func(i int) (*time.Time, int) {
		if i+1 >= len(tokens) {
			return nil, i
		}
		d, err := time.Parse(dateLayout, tokens[i+1])
		if err != nil {
			return nil, i
		}
		return &d, i + 1
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]

		if pri, ok := priorityForMarker(tok); ok {
			parsed.Priority = &pri
			inRecurrence = false
			continue
		}

		switch tok {
		case markerDue:
			parsed.DueDate, i = consumeDate(i)
			inRecurrence = false
			continue
		case markerScheduled:
			parsed.ScheduledDate, i = consumeDate(i)
			inRecurrence = false
			continue
		case markerStart:
			parsed.StartDate, i = consumeDate(i)
			inRecurrence = false
			continue
		case markerCreated:
			parsed.CreatedAt, i = consumeDate(i)
			inRecurrence = false
			continue
		case markerDone:
			parsed.CompletedAt, i = consumeDate(i)
			inRecurrence = false
			continue
		case markerRecur:
			inRecurrence = true
			continue
		}

		if strings.HasPrefix(tok, "#") && len(tok) > 1 {
			parsed.Tags = append(parsed.Tags, strings.TrimPrefix(tok, "#"))
			inRecurrence = false
			continue
		}

		if inRecurrence {
			recurParts = append(recurParts, tok)
			continue
		}
		titleParts = append(titleParts, tok)
	}

	parsed.Title = strings.Join(titleParts, " ")
	if parsed.Title == "" {
		return nil, fmt.Errorf("task line has no title: %w", ErrNotATaskLine)
	}

	if len(recurParts) > 0 {
		parsed.RecurrenceText = strings.Join(recurParts, " ")
		if rule, ok := ParseRecurrence(parsed.RecurrenceText); ok {
			parsed.Recurrence = rule
		}
	}

	return parsed, nil
}

func priorityForMarker(tok string) (models.Priority, bool) {
	switch tok {
	case markerUrgent:
		return models.PriorityUrgent, true
	case markerHigh:
		return models.PriorityHigh, true
	case markerMedium:
		return models.PriorityMedium, true
	case markerLow:
		return models.PriorityLow, true
	case markerLowest:
		return models.PriorityLowest, true
	}
	return "", false
}

// ParseRecurrence parses an Obsidian recurrence phrase: a bare frequency
// word (daily, weekly, monthly, yearly) or "every [N] day(s)|week(s)|
// month(s)|year(s)". N defaults to 1. Returns false for anything else.
func ParseRecurrence(text string) (*models.RecurrenceRule, bool) {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(words) == 0 {
		return nil, false
	}

	if len(words) == 1 {
		switch words[0] {
		case "daily":
			return models.NewRecurrenceRule(models.FrequencyDaily, 1), true
		case "weekly":
			return models.NewRecurrenceRule(models.FrequencyWeekly, 1), true
		case "monthly":
			return models.NewRecurrenceRule(models.FrequencyMonthly, 1), true
		case "yearly", "annually":
			return models.NewRecurrenceRule(models.FrequencyYearly, 1), true
		}
		return nil, false
	}

	if words[0] != "every" {
		return nil, false
	}

	interval := 1
	unit := words[1]
	if len(words) == 3 {
		n, err := strconv.Atoi(words[1])
		if err != nil || n < 1 {
			return nil, false
		}
		interval = n
		unit = words[2]
	} else if len(words) != 2 {
		return nil, false
	}

	freq, ok := frequencyForUnit(unit)
	if !ok {
		return nil, false
	}
	return models.NewRecurrenceRule(freq, interval), true
}

func frequencyForUnit(unit string) (models.Frequency, bool) {
	switch strings.TrimSuffix(unit, "s") {
	case "day":
		return models.FrequencyDaily, true
	case "week":
		return models.FrequencyWeekly, true
	case "month":
		return models.FrequencyMonthly, true
	case "year":
		return models.FrequencyYearly, true
	}
	return "", false
}

// FormatRecurrence renders a rule as the phrase Obsidian Tasks understands:
// "every week", "every 2 weeks" and so on.
func FormatRecurrence(rule *models.RecurrenceRule) string {
	unit := map[models.Frequency]string{
		models.FrequencyDaily:   "day",
		models.FrequencyWeekly:  "week",
		models.FrequencyMonthly: "month",
		models.FrequencyYearly:  "year",
	}[rule.Frequency]

	if rule.Interval <= 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", rule.Interval, unit)
}
