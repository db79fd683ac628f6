package obsidian

import (
	"fmt"
	"strings"
	"time"

	"github.com/ldi/butler/internal/storage"
	"github.com/ldi/butler/pkg/models"
)

// Strategy selects which representation wins when frontmatter and the
// embedded task line disagree.
type Strategy string

const (
	// StrategyFrontmatter rewrites the task line from frontmatter values.
	StrategyFrontmatter Strategy = "frontmatter"
	// StrategyObsidian overwrites frontmatter from the task line, then
	// re-encodes the whole file so both sides match afterwards.
	StrategyObsidian Strategy = "obsidian"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyFrontmatter, StrategyObsidian:
		return Strategy(s), true
	}
	return "", false
}

// Conflict is one comparable field whose two decoded values differ.
type Conflict struct {
	Field       string
	Frontmatter string
	Obsidian    string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: frontmatter=%q obsidian=%q", c.Field, c.Frontmatter, c.Obsidian)
}

// DetectConflicts compares a task's frontmatter-derived fields against an
// embedded task line, restricted to the fields the line format can
// represent. A missing priority marker decodes as medium and is therefore
// never a conflict against a medium frontmatter priority.
func DetectConflicts(t *models.Task, line string) ([]Conflict, error) {
	parsed, err := ParseLine(line)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict

	fmDone := t.Status == models.StatusDone
	if fmDone != parsed.Completed {
		conflicts = append(conflicts, Conflict{
			Field:       "status",
			Frontmatter: string(t.Status),
			Obsidian:    statusLabel(parsed.Completed),
		})
	}

	if linePri := parsed.EffectivePriority(); t.Priority != linePri {
		conflicts = append(conflicts, Conflict{
			Field:       "priority",
			Frontmatter: string(t.Priority),
			Obsidian:    string(linePri),
		})
	}

	conflicts = appendDateConflict(conflicts, "due_date", t.DueDate, parsed.DueDate)
	conflicts = appendDateConflict(conflicts, "scheduled_date", t.ScheduledDate, parsed.ScheduledDate)
	conflicts = appendDateConflict(conflicts, "start_date", t.StartDate, parsed.StartDate)

	if !tagSetsEqual(t.Tags, parsed.Tags) {
		conflicts = append(conflicts, Conflict{
			Field:       "tags",
			Frontmatter: strings.Join(t.Tags, ","),
			Obsidian:    strings.Join(parsed.Tags, ","),
		})
	}

	return conflicts, nil
}

func statusLabel(completed bool) string {
	if completed {
		return string(models.StatusDone)
	}
	return string(models.StatusPending)
}

// appendDateConflict compares at calendar-day precision. Both formats can
// represent an absent date, so absent-vs-present counts as divergence.
func appendDateConflict(conflicts []Conflict, field string, fm, line *time.Time) []Conflict {
	if fm == nil && line == nil {
		return conflicts
	}
	if fm != nil && line != nil && sameDay(*fm, *line) {
		return conflicts
	}
	return append(conflicts, Conflict{
		Field:       field,
		Frontmatter: dateLabel(fm),
		Obsidian:    dateLabel(line),
	})
}

func sameDay(a, b time.Time) bool {
	return a.Format(dateLayout) == b.Format(dateLayout)
}

func dateLabel(d *time.Time) string {
	if d == nil {
		return "(none)"
	}
	return d.Format(dateLayout)
}

// Tag comparison is order-independent: the line format has no meaningful
// tag ordering guarantee once a human reorders markers in Obsidian.
func tagSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, tag := range a {
		set[tag]++
	}
	for _, tag := range b {
		set[tag]--
		if set[tag] < 0 {
			return false
		}
	}
	return true
}

// Report describes one hybrid task's reconciliation state.
type Report struct {
	Task      *models.Task
	Line      string
	Conflicts []Conflict
}

// Consistent reports whether no comparable field differs.
func (r Report) Consistent() bool {
	return len(r.Conflicts) == 0
}

// Reconciler runs check/resolve passes over hybrid-format task files.
type Reconciler struct {
	repo *storage.Repository
}

func NewReconciler(repo *storage.Repository) *Reconciler {
	return &Reconciler{repo: repo}
}

// Check evaluates every task file holding an embedded task line and returns
// a report per conflicted task. It never mutates anything. Malformed files
// are skipped and returned as warnings.
func (r *Reconciler) Check() ([]Report, []*storage.MalformedFileError, error) {
	tasks, warnings, err := r.repo.List(storage.Filter{IncludeDone: true})
	if err != nil {
		return nil, nil, err
	}

	var conflicted []Report
	for _, t := range tasks {
		report, ok, err := r.checkTask(t)
		if err != nil {
			return nil, nil, err
		}
		if ok && !report.Consistent() {
			conflicted = append(conflicted, report)
		}
	}
	return conflicted, warnings, nil
}

// checkTask returns the task's report and whether the file embeds a task
// line at all (frontmatter-only files are not reconciled).
func (r *Reconciler) checkTask(t *models.Task) (Report, bool, error) {
	_, content, err := r.repo.RawFile(t.ID)
	if err != nil {
		return Report{}, false, err
	}
	_, line, err := storage.Decode(content, "")
	if err != nil || line == "" {
		return Report{}, false, nil
	}

	conflicts, err := DetectConflicts(t, line)
	if err != nil {
		return Report{}, false, nil
	}
	return Report{Task: t, Line: line, Conflicts: conflicts}, true, nil
}

// Resolve transitions conflicted tasks back to consistent using the given
// strategy. taskRef restricts the pass to one task; empty means all. With
// dryRun the would-be resolutions are reported without writing. Resolving
// one task never touches another task's file.
func (r *Reconciler) Resolve(strategy Strategy, taskRef string, dryRun bool) ([]Report, error) {
	var targets []*models.Task
	if taskRef != "" {
		t, err := r.repo.Find(taskRef)
		if err != nil {
			return nil, err
		}
		targets = []*models.Task{t}
	} else {
		all, _, err := r.repo.List(storage.Filter{IncludeDone: true})
		if err != nil {
			return nil, err
		}
		targets = all
	}

	var resolved []Report
	for _, t := range targets {
		report, hasLine, err := r.checkTask(t)
		if err != nil {
			return nil, err
		}
		if !hasLine || report.Consistent() {
			// Already consistent: resolving is a no-op, no write.
			continue
		}

		if !dryRun {
			if err := r.resolveTask(t, report.Line, strategy); err != nil {
				return nil, err
			}
		}
		resolved = append(resolved, report)
	}
	return resolved, nil
}

func (r *Reconciler) resolveTask(t *models.Task, line string, strategy Strategy) error {
	switch strategy {
	case StrategyFrontmatter:
		return r.rewriteLine(t, line)
	case StrategyObsidian:
		parsed, err := ParseLine(line)
		if err != nil {
			return err
		}
		applyParsedLine(t, parsed)
		t.Touch()
		return r.repo.Save(t)
	default:
		return fmt.Errorf("unknown resolution strategy: %s", strategy)
	}
}

// rewriteLine replaces the stale embedded line with one re-encoded from the
// frontmatter-derived task, leaving the rest of the file untouched.
func (r *Reconciler) rewriteLine(t *models.Task, stale string) error {
	path, content, err := r.repo.RawFile(t.ID)
	if err != nil {
		return err
	}

	lines := strings.Split(string(content), "\n")
	replaced := false
	for i, l := range lines {
		if strings.TrimSpace(l) == stale {
			indent := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
			lines[i] = indent + EncodeLine(t)
			replaced = true
			break
		}
	}
	if !replaced {
		return fmt.Errorf("embedded task line not found in %s", path)
	}
	return r.repo.WriteRaw(path, []byte(strings.Join(lines, "\n")))
}

// applyParsedLine makes the task-line values authoritative. Fields the line
// cannot represent (description, notes, dependencies, hierarchy, hours) are
// left alone.
func applyParsedLine(t *models.Task, parsed *ParsedLine) {
	if parsed.Completed && t.Status != models.StatusDone {
		t.Status = models.StatusDone
		if parsed.CompletedAt != nil {
			t.CompletedAt = parsed.CompletedAt
		} else if t.CompletedAt == nil {
			now := time.Now()
			t.CompletedAt = &now
		}
	} else if !parsed.Completed && t.Status == models.StatusDone {
		t.Status = models.StatusPending
		t.CompletedAt = nil
	}

	t.Priority = parsed.EffectivePriority()
	t.DueDate = parsed.DueDate
	t.ScheduledDate = parsed.ScheduledDate
	t.StartDate = parsed.StartDate
	t.Tags = parsed.Tags
}
