// Package storage persists tasks as Markdown files with YAML frontmatter
// and provides the CRUD repository over a task directory.
package storage

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ldi/butler/pkg/models"
)

// Format selects the on-disk representation for a task file. It is resolved
// by the caller (config precedence lives outside this package) and passed in
// per repository.
type Format string

const (
	// FormatFrontmatter stores structured fields in frontmatter only.
	FormatFrontmatter Format = "frontmatter"
	// FormatHybrid additionally embeds an Obsidian Tasks line in the body.
	FormatHybrid Format = "hybrid"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatFrontmatter, FormatHybrid:
		return Format(s), true
	}
	return "", false
}

const (
	notesHeading  = "## Notes"
	taskHeading   = "## Task"
	noteTimestamp = "2006-01-02 15:04"
)

// knownKeys is the set of frontmatter keys the codec owns. Anything else is
// carried through Task.Extra untouched.
var knownKeys = map[string]bool{
	"id": true, "title": true, "status": true, "priority": true,
	"created_at": true, "updated_at": true,
	"due_date": true, "scheduled_date": true, "start_date": true, "completed_at": true,
	"estimated_hours": true, "actual_hours": true,
	"tags": true, "project": true,
	"parent_id": true, "dependencies": true,
	"recurrence": true, "recurrence_parent_id": true,
	"source_file": true, "source_line": true, "obsidian_has_created": true,
}

// Encode renders a task as a frontmatter document. Unset optional fields are
// omitted from the preamble. For hybrid files the caller supplies the
// encoded task line, appended under a "## Task" heading so it can never be
// confused with checkbox lines inside the description.
func Encode(t *models.Task, taskLine string) ([]byte, error) {
	meta := map[string]any{
		"id":         t.ID,
		"title":      t.Title,
		"status":     string(t.Status),
		"priority":   string(t.Priority),
		"created_at": t.CreatedAt.Format(time.RFC3339),
		"updated_at": t.UpdatedAt.Format(time.RFC3339),
	}

	if t.DueDate != nil {
		meta["due_date"] = t.DueDate.Format(time.RFC3339)
	}
	if t.ScheduledDate != nil {
		meta["scheduled_date"] = t.ScheduledDate.Format(time.RFC3339)
	}
	if t.StartDate != nil {
		meta["start_date"] = t.StartDate.Format(time.RFC3339)
	}
	if t.CompletedAt != nil {
		meta["completed_at"] = t.CompletedAt.Format(time.RFC3339)
	}
	if t.EstimatedHours > 0 {
		meta["estimated_hours"] = t.EstimatedHours
	}
	if t.ActualHours > 0 {
		meta["actual_hours"] = t.ActualHours
	}
	if len(t.Tags) > 0 {
		meta["tags"] = t.Tags
	}
	if t.Project != "" {
		meta["project"] = t.Project
	}
	if t.ParentID != "" {
		meta["parent_id"] = t.ParentID
	}
	if len(t.Dependencies) > 0 {
		meta["dependencies"] = t.Dependencies
	}
	if t.Recurrence != nil {
		rec := map[string]any{
			"frequency": string(t.Recurrence.Frequency),
			"interval":  t.Recurrence.Interval,
		}
		if t.Recurrence.EndDate != nil {
			rec["end_date"] = t.Recurrence.EndDate.Format(time.RFC3339)
		}
		meta["recurrence"] = rec
	}
	if t.RecurrenceParentID != "" {
		meta["recurrence_parent_id"] = t.RecurrenceParentID
	}
	if t.SourceFile != "" {
		meta["source_file"] = t.SourceFile
		if t.SourceLine > 0 {
			meta["source_line"] = t.SourceLine
		}
	}
	// Absent means true; only the unusual case is persisted.
	if !t.ObsidianHasCreated {
		meta["obsidian_has_created"] = false
	}

	// Unknown keys from a previous decode are re-emitted unchanged.
	for k, v := range t.Extra {
		if !knownKeys[k] {
			meta[k] = v
		}
	}

	yml, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(yml)
	b.WriteString("---\n")

	if t.Description != "" {
		b.WriteString("\n" + t.Description + "\n")
	}
	if len(t.Notes) > 0 {
		b.WriteString("\n" + notesHeading + "\n\n")
		for _, n := range t.Notes {
			b.WriteString(fmt.Sprintf("- [%s] %s\n", n.CreatedAt.Format(noteTimestamp), n.Content))
		}
	}
	if taskLine != "" {
		b.WriteString("\n" + taskHeading + "\n\n" + taskLine + "\n")
	}

	return []byte(b.String()), nil
}

// Decode parses a frontmatter document back into a task. The "## Task"
// section a hybrid file appends is stripped from the body so a stale line is
// never mistaken for description text; the raw line is returned separately
// for the reconciliation engine. path is used for error reporting only.
func Decode(content []byte, path string) (*models.Task, string, error) {
	meta, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, "", &MalformedFileError{Path: path, Err: err}
	}

	t := &models.Task{ObsidianHasCreated: true}

	var ferr error
	field := func(name string) func(error) {
		return func(err error) {
			if ferr == nil && err != nil {
				ferr = &MalformedFileError{Path: path, Field: name, Err: err}
			}
		}
	}

	t.ID = requireString(meta, "id", field("id"))
	t.Title = requireString(meta, "title", field("title"))

	statusStr := requireString(meta, "status", field("status"))
	if ferr == nil {
		status, ok := models.ParseStatus(statusStr)
		if !ok {
			field("status")(fmt.Errorf("unknown status %q", statusStr))
		}
		t.Status = status
	}

	priorityStr := requireString(meta, "priority", field("priority"))
	if ferr == nil {
		priority, ok := models.ParsePriority(priorityStr)
		if !ok {
			field("priority")(fmt.Errorf("unknown priority %q", priorityStr))
		}
		t.Priority = priority
	}

	t.CreatedAt = requireTime(meta, "created_at", field("created_at"))
	t.UpdatedAt = requireTime(meta, "updated_at", field("updated_at"))

	t.DueDate = optionalTime(meta, "due_date", field("due_date"))
	t.ScheduledDate = optionalTime(meta, "scheduled_date", field("scheduled_date"))
	t.StartDate = optionalTime(meta, "start_date", field("start_date"))
	t.CompletedAt = optionalTime(meta, "completed_at", field("completed_at"))

	t.EstimatedHours = optionalFloat(meta, "estimated_hours", field("estimated_hours"))
	t.ActualHours = optionalFloat(meta, "actual_hours", field("actual_hours"))

	t.Tags = optionalStrings(meta, "tags", field("tags"))
	t.Project = optionalString(meta, "project")
	t.ParentID = optionalString(meta, "parent_id")
	t.Dependencies = optionalStrings(meta, "dependencies", field("dependencies"))
	t.RecurrenceParentID = optionalString(meta, "recurrence_parent_id")
	t.SourceFile = optionalString(meta, "source_file")
	t.SourceLine = optionalInt(meta, "source_line", field("source_line"))

	if raw, ok := meta["obsidian_has_created"]; ok {
		if b, ok := raw.(bool); ok {
			t.ObsidianHasCreated = b
		}
	}

	if raw, ok := meta["recurrence"]; ok {
		rule, err := decodeRecurrence(raw)
		if err != nil {
			field("recurrence")(err)
		}
		t.Recurrence = rule
	}

	if ferr != nil {
		return nil, "", ferr
	}

	for k, v := range meta {
		if !knownKeys[k] {
			if t.Extra == nil {
				t.Extra = map[string]any{}
			}
			t.Extra[k] = v
		}
	}

	taskLine := ""
	t.Description, t.Notes, taskLine = parseBody(body)

	return t, taskLine, nil
}

func splitFrontmatter(content string) (map[string]any, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, "", fmt.Errorf("missing frontmatter preamble")
	}
	rest := content[len("---\n"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, "", fmt.Errorf("unterminated frontmatter preamble")
	}
	yml := rest[:idx+1]
	body := rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(yml), &meta); err != nil {
		return nil, "", fmt.Errorf("invalid frontmatter yaml: %w", err)
	}
	return meta, body, nil
}

// parseBody splits a file body into description, notes, and the embedded
// task line (hybrid files only).
func parseBody(body string) (string, []models.Note, string) {
	body, taskLine := extractTaskSection(body)

	description := body
	var notes []models.Note

	if idx := strings.Index(body, notesHeading); idx >= 0 {
		description = body[:idx]
		for _, line := range strings.Split(body[idx+len(notesHeading):], "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "- [") {
				continue
			}
			end := strings.Index(line, "]")
			if end < 0 {
				continue
			}
			when, err := time.ParseInLocation(noteTimestamp, line[3:end], time.Local)
			if err != nil {
				// Unparseable timestamp: keep the text rather than drop it.
				notes = append(notes, models.Note{Content: strings.TrimSpace(line[2:])})
				continue
			}
			content := strings.TrimPrefix(line[end+1:], " ")
			notes = append(notes, models.Note{Content: content, CreatedAt: when})
		}
	}

	return strings.TrimSpace(description), notes, taskLine
}

// extractTaskSection removes the "## Task" section of a hybrid file and
// returns its embedded checkbox line. The section is only recognized in the
// exact shape Encode writes (the heading, blank lines, one task line at the
// end of the body), so checkbox lines inside the description stay where they
// are.
func extractTaskSection(body string) (string, string) {
	start := -1
	if strings.HasPrefix(body, taskHeading+"\n") {
		start = 0
	}
	if idx := strings.LastIndex(body, "\n"+taskHeading+"\n"); idx >= 0 {
		start = idx + 1
	}
	if start < 0 {
		return body, ""
	}

	taskLine := ""
	for _, line := range strings.Split(body[start+len(taskHeading):], "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if taskLine == "" && isTaskLine(trimmed) {
			taskLine = trimmed
			continue
		}
		return body, ""
	}
	if taskLine == "" {
		return body, ""
	}
	return body[:start], taskLine
}

// isTaskLine is a cheap structural check for an Obsidian checkbox line.
// Note lines ("- [2025-...") do not match because the bracket must hold a
// space or x. Full parsing belongs to the obsidian package.
func isTaskLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "- [ ] ") ||
		strings.HasPrefix(trimmed, "- [x] ") ||
		strings.HasPrefix(trimmed, "- [X] ")
}

func requireString(meta map[string]any, key string, fail func(error)) string {
	raw, ok := meta[key]
	if !ok {
		fail(fmt.Errorf("missing required key"))
		return ""
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		fail(fmt.Errorf("expected non-empty string, got %v", raw))
		return ""
	}
	return s
}

func optionalString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func requireTime(meta map[string]any, key string, fail func(error)) time.Time {
	s := requireString(meta, key, fail)
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		fail(err)
		return time.Time{}
	}
	return ts
}

func optionalTime(meta map[string]any, key string, fail func(error)) *time.Time {
	raw, ok := meta[key]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		fail(fmt.Errorf("expected timestamp string, got %v", raw))
		return nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		fail(err)
		return nil
	}
	return &ts
}

func optionalFloat(meta map[string]any, key string, fail func(error)) float64 {
	raw, ok := meta[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		fail(fmt.Errorf("expected number, got %v", raw))
		return 0
	}
}

func optionalInt(meta map[string]any, key string, fail func(error)) int {
	raw, ok := meta[key]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		fail(fmt.Errorf("expected integer, got %v", raw))
		return 0
	}
}

func optionalStrings(meta map[string]any, key string, fail func(error)) []string {
	raw, ok := meta[key]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		fail(fmt.Errorf("expected list, got %v", raw))
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			fail(fmt.Errorf("expected string list entry, got %v", item))
			return nil
		}
		out = append(out, s)
	}
	return out
}

func decodeRecurrence(raw any) (*models.RecurrenceRule, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected mapping, got %v", raw)
	}

	freqStr, _ := m["frequency"].(string)
	freq, ok := models.ParseFrequency(freqStr)
	if !ok {
		return nil, fmt.Errorf("unknown frequency %q", freqStr)
	}

	interval := 1
	switch v := m["interval"].(type) {
	case int:
		interval = v
	case float64:
		interval = int(v)
	}

	rule := models.NewRecurrenceRule(freq, interval)
	if s, ok := m["end_date"].(string); ok {
		end, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date: %w", err)
		}
		rule.EndDate = &end
	}
	return rule, nil
}
