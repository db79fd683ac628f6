package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ldi/butler/pkg/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(t.TempDir(), FormatFrontmatter, nil)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	return repo
}

func TestSaveAndLoad(t *testing.T) {
	repo := newTestRepo(t)

	task := models.NewTask("Test task")
	task.Description = "Some description"
	task.Priority = models.PriorityHigh
	task.AddTags("tag1", "tag2")
	task.Project = "test-project"

	if err := repo.Save(task); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	loaded, err := repo.Load(task.ID)
	if err != nil {
		t.Fatalf("Failed to load task: %v", err)
	}
	if loaded.Title != task.Title {
		t.Errorf("Expected title %q, got %q", task.Title, loaded.Title)
	}
	if loaded.Priority != models.PriorityHigh {
		t.Errorf("Expected priority high, got %s", loaded.Priority)
	}
	if len(loaded.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %v", loaded.Tags)
	}
}

func TestFilenameContainsShortIDAndTitle(t *testing.T) {
	task := models.NewTask("Fix the build!")
	name := Filename(task)

	if !strings.HasPrefix(name, task.ShortID()+"_") {
		t.Errorf("Expected filename to start with short id, got %q", name)
	}
	if !strings.Contains(name, "Fix_the_build") {
		t.Errorf("Expected sanitized title in filename, got %q", name)
	}
	if !strings.HasSuffix(name, ".md") {
		t.Errorf("Expected .md suffix, got %q", name)
	}
}

func TestSaveRenamesFileOnTitleChange(t *testing.T) {
	repo := newTestRepo(t)

	task := models.NewTask("Original title")
	if err := repo.Save(task); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	task.Title = "Renamed title"
	if err := repo.Save(task); err != nil {
		t.Fatalf("Failed to save renamed task: %v", err)
	}

	paths, _ := filepath.Glob(filepath.Join(repo.Dir(), "*.md"))
	if len(paths) != 1 {
		t.Fatalf("Expected exactly one file per task, got %d", len(paths))
	}
	if !strings.Contains(paths[0], "Renamed_title") {
		t.Errorf("Expected renamed file, got %q", paths[0])
	}
}

func TestFindByShortID(t *testing.T) {
	repo := newTestRepo(t)

	task := models.NewTask("Test")
	if err := repo.Save(task); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	found, err := repo.Find(task.ShortID())
	if err != nil {
		t.Fatalf("Failed to find by short id: %v", err)
	}
	if found.ID != task.ID {
		t.Errorf("Expected id %s, got %s", task.ID, found.ID)
	}
}

func TestFindNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Find("deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFindAmbiguousPrefix(t *testing.T) {
	repo := newTestRepo(t)

	t1 := models.NewTask("First")
	t1.ID = "aaaa1111-0000-0000-0000-000000000001"
	t2 := models.NewTask("Second")
	t2.ID = "aaaa2222-0000-0000-0000-000000000002"

	if err := repo.Save(t1); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if err := repo.Save(t2); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	_, err := repo.Find("aaaa")
	var ambiguous *AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("Expected AmbiguousError, got %v", err)
	}
	if len(ambiguous.Matches) != 2 {
		t.Errorf("Expected 2 candidates, got %d", len(ambiguous.Matches))
	}
}

func TestDelete(t *testing.T) {
	repo := newTestRepo(t)

	task := models.NewTask("To delete")
	if err := repo.Save(task); err != nil {
		t.Fatalf("Failed to save task: %v", err)
	}

	if err := repo.Delete(task.ID); err != nil {
		t.Fatalf("Failed to delete task: %v", err)
	}
	if _, err := repo.Load(task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.Delete("00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	repo := newTestRepo(t)

	pending := models.NewTask("Pending")
	done := models.NewTask("Done")
	done.Complete(0)
	high := models.NewTask("High")
	high.Priority = models.PriorityHigh
	tagged := models.NewTask("Tagged")
	tagged.AddTags("work")
	projected := models.NewTask("Projected")
	projected.Project = "alpha"

	for _, task := range []*models.Task{pending, done, high, tagged, projected} {
		if err := repo.Save(task); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	open, _, err := repo.List(Filter{})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(open) != 4 {
		t.Errorf("Expected done task excluded by default, got %d tasks", len(open))
	}

	all, _, err := repo.List(Filter{IncludeDone: true})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Expected 5 tasks with include-done, got %d", len(all))
	}

	doneOnly, _, err := repo.List(Filter{Status: models.StatusDone})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(doneOnly) != 1 || doneOnly[0].Title != "Done" {
		t.Errorf("Expected only the done task, got %v", doneOnly)
	}

	highOnly, _, err := repo.List(Filter{Priority: models.PriorityHigh})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(highOnly) != 1 || highOnly[0].Title != "High" {
		t.Errorf("Expected only the high task, got %v", highOnly)
	}

	taggedOnly, _, err := repo.List(Filter{Tag: "work"})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(taggedOnly) != 1 || taggedOnly[0].Title != "Tagged" {
		t.Errorf("Expected only the tagged task, got %v", taggedOnly)
	}

	inProject, _, err := repo.List(Filter{Project: "alpha"})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(inProject) != 1 || inProject[0].Title != "Projected" {
		t.Errorf("Expected only the project task, got %v", inProject)
	}
}

func TestListSkipsMalformedFilesWithWarning(t *testing.T) {
	repo := newTestRepo(t)

	good := models.NewTask("Good")
	if err := repo.Save(good); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	bad := filepath.Join(repo.Dir(), "deadbeef_Broken.md")
	if err := os.WriteFile(bad, []byte("no frontmatter here\n"), 0644); err != nil {
		t.Fatalf("Failed to write broken file: %v", err)
	}

	tasks, warnings, err := repo.ListAll()
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("Expected 1 task, got %d", len(tasks))
	}
	if len(warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(warnings))
	}
	if warnings[0].Path != bad {
		t.Errorf("Expected warning for %s, got %s", bad, warnings[0].Path)
	}
}

func TestDependentsAndChildren(t *testing.T) {
	repo := newTestRepo(t)

	parent := models.NewTask("Parent")
	dep := models.NewTask("Dependency")
	child := models.NewTask("Child")
	child.ParentID = parent.ID
	dependent := models.NewTask("Dependent")
	dependent.Dependencies = []string{dep.ID}

	for _, task := range []*models.Task{parent, dep, child, dependent} {
		if err := repo.Save(task); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	children, err := repo.Children(parent.ID)
	if err != nil {
		t.Fatalf("Failed to get children: %v", err)
	}
	if len(children) != 1 || children[0].Title != "Child" {
		t.Errorf("Expected one child, got %v", children)
	}

	dependents, err := repo.Dependents(dep.ID)
	if err != nil {
		t.Fatalf("Failed to get dependents: %v", err)
	}
	if len(dependents) != 1 || dependents[0].Title != "Dependent" {
		t.Errorf("Expected one dependent, got %v", dependents)
	}
}

func TestProjectsAndTags(t *testing.T) {
	repo := newTestRepo(t)

	a := models.NewTask("A")
	a.Project = "beta"
	a.AddTags("x")
	b := models.NewTask("B")
	b.Project = "alpha"
	b.AddTags("y", "x")

	for _, task := range []*models.Task{a, b} {
		if err := repo.Save(task); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	projects, err := repo.Projects()
	if err != nil {
		t.Fatalf("Failed to get projects: %v", err)
	}
	if len(projects) != 2 || projects[0] != "alpha" || projects[1] != "beta" {
		t.Errorf("Expected sorted projects [alpha beta], got %v", projects)
	}

	tags, err := repo.Tags()
	if err != nil {
		t.Fatalf("Failed to get tags: %v", err)
	}
	if len(tags) != 2 || tags[0] != "x" || tags[1] != "y" {
		t.Errorf("Expected sorted tags [x y], got %v", tags)
	}
}

func TestSearch(t *testing.T) {
	repo := newTestRepo(t)

	a := models.NewTask("Fix login bug")
	b := models.NewTask("Add feature")
	b.Description = "Improve Login flow"
	c := models.NewTask("Update docs")

	for _, task := range []*models.Task{a, b, c} {
		if err := repo.Save(task); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
	}

	results, err := repo.Search("login")
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
}

func TestHybridFormatEmbedsTaskLine(t *testing.T) {
	encodeLine := func(task *models.Task) string {
		return "- [ ] " + task.Title + " 📅 2026-02-01"
	}
	repo, err := NewRepository(t.TempDir(), FormatHybrid, encodeLine)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	task := models.NewTask("Hybrid task")
	due := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	task.DueDate = &due
	if err := repo.Save(task); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	_, content, err := repo.RawFile(task.ID)
	if err != nil {
		t.Fatalf("Failed to read raw file: %v", err)
	}
	if !strings.Contains(string(content), "- [ ] Hybrid task 📅 2026-02-01") {
		t.Errorf("Expected embedded task line in file, got:\n%s", content)
	}

	// Normal loads must not leak the line into the description.
	loaded, err := repo.Load(task.ID)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if strings.Contains(loaded.Description, "- [ ]") {
		t.Errorf("Expected task line stripped on load, got %q", loaded.Description)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	repo := newTestRepo(t)

	task := models.NewTask("Clean write")
	if err := repo.Save(task); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	entries, err := os.ReadDir(repo.Dir())
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".butler-") {
			t.Errorf("Expected no leftover temp files, found %s", e.Name())
		}
	}
}
