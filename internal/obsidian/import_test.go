package obsidian

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ldi/butler/internal/storage"
	"github.com/ldi/butler/pkg/models"
)

func newImportRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewRepository(t.TempDir(), storage.FormatFrontmatter, nil)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	return repo
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func countTasks(t *testing.T, repo *storage.Repository) int {
	t.Helper()
	tasks, _, err := repo.ListAll()
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	return len(tasks)
}

func TestImportCreatesTasks(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, strings.Join([]string{
		"# Weekly notes",
		"",
		"- [ ] Review budget ⏫ 📅 2025-02-01 #finance",
		"some prose in between",
		"- [x] Old chore ✅ 2025-01-15",
	}, "\n"))

	results, err := imp.Run(src, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Action != ActionCreated {
			t.Errorf("Expected created, got %s for %q", r.Action, r.Title)
		}
	}

	first := results[0].Task
	if first.Title != "Review budget" || first.Priority != models.PriorityHigh {
		t.Errorf("Expected parsed fields on task, got %+v", first)
	}
	if first.DueDate == nil || first.DueDate.Format("2006-01-02") != "2025-02-01" {
		t.Errorf("Expected due date, got %v", first.DueDate)
	}
	if first.SourceFile != src || first.SourceLine != 3 {
		t.Errorf("Expected source tracking, got %s:%d", first.SourceFile, first.SourceLine)
	}
	if first.ObsidianHasCreated {
		t.Errorf("Expected created-marker absence remembered")
	}

	second := results[1].Task
	if second.Status != models.StatusDone {
		t.Errorf("Expected completed line imported as done, got %s", second.Status)
	}
	if second.CompletedAt == nil || second.CompletedAt.Format("2006-01-02") != "2025-01-15" {
		t.Errorf("Expected completion date, got %v", second.CompletedAt)
	}

	if got := countTasks(t, repo); got != 2 {
		t.Errorf("Expected 2 stored tasks, got %d", got)
	}
}

func TestImportDuplicateSkip(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	existing := models.NewTask("Weekly review")
	existing.DueDate = &due
	if err := repo.Save(existing); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] Weekly review 🔽 📅 2025-02-01\n")

	results, err := imp.Run(src, Options{Policy: PolicySkip})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Action != ActionSkipped {
		t.Fatalf("Expected one skip, got %v", results)
	}
	if got := countTasks(t, repo); got != 1 {
		t.Errorf("Expected no new task, got %d", got)
	}

	loaded, err := repo.Load(existing.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Priority != models.PriorityMedium {
		t.Errorf("Expected existing task untouched, got priority %s", loaded.Priority)
	}
}

func TestImportDuplicateUpdate(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	existing := models.NewTask("Weekly review")
	existing.DueDate = &due
	existing.Dependencies = []string{"88888888-abcd-1234-abcd-1234567890ab"}
	existing.AddNote("keep me")
	if err := repo.Save(existing); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] Weekly review ⏫ 📅 2025-02-01 ⏳ 2025-01-28 #review\n")

	results, err := imp.Run(src, Options{Policy: PolicyUpdate})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Action != ActionUpdated {
		t.Fatalf("Expected one update, got %v", results)
	}

	loaded, err := repo.Load(existing.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Priority != models.PriorityHigh {
		t.Errorf("Expected priority overwritten, got %s", loaded.Priority)
	}
	if loaded.ScheduledDate == nil || loaded.ScheduledDate.Format("2006-01-02") != "2025-01-28" {
		t.Errorf("Expected scheduled date overwritten, got %v", loaded.ScheduledDate)
	}
	if len(loaded.Tags) != 1 || loaded.Tags[0] != "review" {
		t.Errorf("Expected tags overwritten, got %v", loaded.Tags)
	}
	if len(loaded.Notes) != 1 || loaded.Notes[0].Content != "keep me" {
		t.Errorf("Expected notes preserved, got %v", loaded.Notes)
	}
	if len(loaded.Dependencies) != 1 {
		t.Errorf("Expected dependencies preserved, got %v", loaded.Dependencies)
	}
	if got := countTasks(t, repo); got != 1 {
		t.Errorf("Expected no new task, got %d", got)
	}
}

func TestImportDuplicateForce(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	existing := models.NewTask("Weekly review")
	if err := repo.Save(existing); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] Weekly review\n")

	results, err := imp.Run(src, Options{Policy: PolicyForce})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Action != ActionCreated {
		t.Fatalf("Expected forced creation, got %v", results)
	}
	if got := countTasks(t, repo); got != 2 {
		t.Errorf("Expected 2 tasks after force, got %d", got)
	}
}

func TestImportDuplicateKeyRequiresMatchingDueDate(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	// Same title, no due date: a candidate with a due date is not a
	// duplicate of it.
	existing := models.NewTask("Weekly review")
	if err := repo.Save(existing); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] Weekly review 📅 2025-02-01\n")

	results, err := imp.Run(src, Options{Policy: PolicySkip})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Action != ActionCreated {
		t.Fatalf("Expected creation despite matching title, got %v", results)
	}
}

func TestImportDuplicateKeyNormalizesTitle(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	existing := models.NewTask("Weekly Review")
	if err := repo.Save(existing); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] weekly review\n")

	results, err := imp.Run(src, Options{Policy: PolicySkip})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Action != ActionSkipped {
		t.Fatalf("Expected case-insensitive duplicate, got %v", results)
	}
}

func TestImportInteractiveAllSkip(t *testing.T) {
	repo := newImportRepo(t)

	for _, title := range []string{"First", "Second"} {
		if err := repo.Save(models.NewTask(title)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	prompts := 0
	imp := NewImporter(repo, func(candidate, existing *models.Task) (Choice, error) {
		prompts++
		return ChoiceAllSkip, nil
	})

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] First\n- [ ] Second\n")

	results, err := imp.Run(src, Options{Policy: PolicyInteractive})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if prompts != 1 {
		t.Errorf("Expected all-skip to short-circuit prompts, got %d", prompts)
	}
	for _, r := range results {
		if r.Action != ActionSkipped {
			t.Errorf("Expected skip for %q, got %s", r.Title, r.Action)
		}
	}
}

func TestImportInteractiveWithoutPrompt(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] Task\n")

	if _, err := imp.Run(src, Options{Policy: PolicyInteractive}); err == nil {
		t.Errorf("Expected error for interactive policy without prompt")
	}
}

func TestImportDryRun(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] Task one\n- [ ] Task two\n")

	results, err := imp.Run(src, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 planned actions, got %d", len(results))
	}
	if got := countTasks(t, repo); got != 0 {
		t.Errorf("Dry run must not create tasks, got %d", got)
	}
}

func TestImportRerunIsIdempotent(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] Task one 📅 2025-02-01\n- [ ] Task two\n")

	if _, err := imp.Run(src, Options{}); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	results, err := imp.Run(src, Options{})
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	for _, r := range results {
		if r.Action != ActionSkipped {
			t.Errorf("Expected rerun to skip %q, got %s", r.Title, r.Action)
		}
	}
	if got := countTasks(t, repo); got != 2 {
		t.Errorf("Expected 2 tasks after rerun, got %d", got)
	}
}

func TestImportDedupesWithinOneRun(t *testing.T) {
	repo := newImportRepo(t)
	imp := NewImporter(repo, nil)

	src := filepath.Join(t.TempDir(), "notes.md")
	writeFile(t, src, "- [ ] Same task\n- [ ] Same task\n")

	results, err := imp.Run(src, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results[0].Action != ActionCreated || results[1].Action != ActionSkipped {
		t.Errorf("Expected created then skipped, got %s/%s", results[0].Action, results[1].Action)
	}
	if got := countTasks(t, repo); got != 1 {
		t.Errorf("Expected 1 task, got %d", got)
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "")
	writeFile(t, filepath.Join(dir, "b.txt"), "")
	writeFile(t, filepath.Join(dir, "sub", "c.md"), "")
	writeFile(t, filepath.Join(dir, ".obsidian", "d.md"), "")
	writeFile(t, filepath.Join(dir, "tasks", "e.md"), "")

	flat, err := CollectFiles(dir, false, "*.md", "")
	if err != nil {
		t.Fatalf("CollectFiles failed: %v", err)
	}
	if len(flat) != 1 || filepath.Base(flat[0]) != "a.md" {
		t.Errorf("Expected only top-level a.md, got %v", flat)
	}

	deep, err := CollectFiles(dir, true, "*.md", filepath.Join(dir, "tasks"))
	if err != nil {
		t.Fatalf("CollectFiles failed: %v", err)
	}
	var names []string
	for _, f := range deep {
		names = append(names, filepath.Base(f))
	}
	joined := strings.Join(names, " ")
	if !strings.Contains(joined, "a.md") || !strings.Contains(joined, "c.md") {
		t.Errorf("Expected a.md and c.md, got %v", names)
	}
	if strings.Contains(joined, "d.md") {
		t.Errorf("Expected dot directory skipped, got %v", names)
	}
	if strings.Contains(joined, "e.md") {
		t.Errorf("Expected excluded directory skipped, got %v", names)
	}
	if strings.Contains(joined, "b.txt") {
		t.Errorf("Expected pattern filter applied, got %v", names)
	}
}

func TestFindVaultRoot(t *testing.T) {
	vault := t.TempDir()
	if err := os.MkdirAll(filepath.Join(vault, ".obsidian"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	nested := filepath.Join(vault, "notes", "daily")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	root, ok := FindVaultRoot(nested)
	if !ok {
		t.Fatalf("Expected vault root found")
	}
	if root != vault {
		t.Errorf("Expected root %q, got %q", vault, root)
	}

	if _, ok := FindVaultRoot(t.TempDir()); ok {
		t.Errorf("Expected no vault root outside a vault")
	}
}

func TestImportLinkBackWiki(t *testing.T) {
	vault := t.TempDir()
	if err := os.MkdirAll(filepath.Join(vault, ".obsidian"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	repo, err := storage.NewRepository(filepath.Join(vault, "Tasks"), storage.FormatFrontmatter, nil)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	imp := NewImporter(repo, nil)

	src := filepath.Join(vault, "notes.md")
	writeFile(t, src, "# Notes\n  - [ ] My Task\nprose\n")

	results, err := imp.Run(src, Options{Link: LinkWiki})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	content, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := "  - [[Tasks/" + results[0].Task.ShortID() + "_My_Task|My Task]]"
	if !strings.Contains(string(content), want) {
		t.Errorf("Expected link line %q in:\n%s", want, content)
	}
	if strings.Contains(string(content), "- [ ] My Task") {
		t.Errorf("Expected original line replaced:\n%s", content)
	}
	if !strings.Contains(string(content), "prose") {
		t.Errorf("Expected surrounding lines untouched:\n%s", content)
	}
}

func TestImportLinkBackEmbed(t *testing.T) {
	vault := t.TempDir()
	if err := os.MkdirAll(filepath.Join(vault, ".obsidian"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	repo, err := storage.NewRepository(filepath.Join(vault, "Tasks"), storage.FormatFrontmatter, nil)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	imp := NewImporter(repo, nil)

	src := filepath.Join(vault, "notes.md")
	writeFile(t, src, "- [ ] My Task\n")

	results, err := imp.Run(src, Options{Link: LinkEmbed})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	content, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := "- ![[Tasks/" + results[0].Task.ShortID() + "_My_Task]]"
	if !strings.Contains(string(content), want) {
		t.Errorf("Expected embed link %q in:\n%s", want, content)
	}
}

func TestImportLinkBackSkippedLinesUntouched(t *testing.T) {
	vault := t.TempDir()
	if err := os.MkdirAll(filepath.Join(vault, ".obsidian"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	repo, err := storage.NewRepository(filepath.Join(vault, "Tasks"), storage.FormatFrontmatter, nil)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if err := repo.Save(models.NewTask("My Task")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	imp := NewImporter(repo, nil)

	src := filepath.Join(vault, "notes.md")
	original := "- [ ] My Task\n"
	writeFile(t, src, original)

	if _, err := imp.Run(src, Options{Link: LinkWiki, Policy: PolicySkip}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	content, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != original {
		t.Errorf("Expected skipped line left untouched, got:\n%s", content)
	}
}
