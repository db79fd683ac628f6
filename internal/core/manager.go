package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/ldi/butler/internal/storage"
	"github.com/ldi/butler/pkg/models"
)

// TaskManager drives the task lifecycle. Every mutation validates against
// the dependency and hierarchy rules before any write happens.
type TaskManager struct {
	repo *storage.Repository
}

func NewTaskManager(repo *storage.Repository) *TaskManager {
	return &TaskManager{repo: repo}
}

// Repo exposes the underlying repository for the reconciliation and import
// engines, which operate below the lifecycle layer.
func (m *TaskManager) Repo() *storage.Repository {
	return m.repo
}

// AddOptions carries the optional fields of a new task. Parent and
// dependency references accept short ids.
type AddOptions struct {
	Description    string
	Priority       models.Priority
	DueDate        *time.Time
	ScheduledDate  *time.Time
	StartDate      *time.Time
	EstimatedHours float64
	Tags           []string
	Project        string
	ParentRef      string
	DependencyRefs []string
	Recurrence     *models.RecurrenceRule
}

// Add creates and persists a new task.
func (m *TaskManager) Add(title string, opts AddOptions) (*models.Task, error) {
	if title == "" {
		return nil, fmt.Errorf("task title cannot be empty")
	}

	t := models.NewTask(title)
	t.Description = opts.Description
	if opts.Priority != "" {
		t.Priority = opts.Priority
	}
	t.DueDate = opts.DueDate
	t.ScheduledDate = opts.ScheduledDate
	t.StartDate = opts.StartDate
	t.EstimatedHours = opts.EstimatedHours
	t.Tags = opts.Tags
	t.Project = opts.Project
	t.Recurrence = opts.Recurrence

	if opts.ParentRef != "" {
		parent, err := m.repo.Find(opts.ParentRef)
		if err != nil {
			return nil, fmt.Errorf("parent task: %w", err)
		}
		t.ParentID = parent.ID
	}
	for _, ref := range opts.DependencyRefs {
		dep, err := m.repo.Find(ref)
		if err != nil {
			return nil, fmt.Errorf("dependency task: %w", err)
		}
		t.Dependencies = append(t.Dependencies, dep.ID)
	}

	if err := m.repo.Save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get resolves a full or short id.
func (m *TaskManager) Get(ref string) (*models.Task, error) {
	return m.repo.Find(ref)
}

// Start transitions a pending task to in_progress, gated on its
// dependencies all being done.
func (m *TaskManager) Start(ref string) (*models.Task, error) {
	t, err := m.repo.Find(ref)
	if err != nil {
		return nil, err
	}
	if t.Status == models.StatusDone || t.Status == models.StatusCancelled {
		return nil, fmt.Errorf("cannot start a %s task", t.Status)
	}

	if err := m.requireDependenciesDone(t); err != nil {
		return nil, err
	}

	t.Start()
	if err := m.repo.Save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Complete marks a task done, gated like Start. For a recurring task it also
// materializes the next occurrence, returned as the second task; the status
// gate means the generator fires at most once per instance.
func (m *TaskManager) Complete(ref string, actualHours float64) (*models.Task, *models.Task, error) {
	t, err := m.repo.Find(ref)
	if err != nil {
		return nil, nil, err
	}
	if t.Status == models.StatusDone {
		return nil, nil, fmt.Errorf("task is already done")
	}

	if err := m.requireDependenciesDone(t); err != nil {
		return nil, nil, err
	}

	t.Complete(actualHours)
	if err := m.repo.Save(t); err != nil {
		return nil, nil, err
	}

	var successor *models.Task
	if next := NextOccurrence(t, time.Now()); next != nil {
		successor = NextInstance(t, *next)
		if err := m.repo.Save(successor); err != nil {
			return t, nil, err
		}
	}
	return t, successor, nil
}

func (m *TaskManager) requireDependenciesDone(t *models.Task) error {
	if len(t.Dependencies) == 0 {
		return nil
	}
	all, err := m.allTasks()
	if err != nil {
		return err
	}
	if ok, unmet := CanStart(t, all); !ok {
		return &DependencyViolationError{
			TaskID:   t.ID,
			Reason:   "unmet dependencies",
			Blocking: shortIDs(unmet),
		}
	}
	return nil
}

// Cancel marks a task cancelled. Cancellation never sets completed_at and
// never generates a recurrence successor.
func (m *TaskManager) Cancel(ref string) (*models.Task, error) {
	t, err := m.repo.Find(ref)
	if err != nil {
		return nil, err
	}
	if t.Status == models.StatusDone {
		return nil, fmt.Errorf("cannot cancel a done task")
	}
	t.Cancel()
	if err := m.repo.Save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a task. Refused while other tasks depend on it or child
// tasks still point at it.
func (m *TaskManager) Delete(ref string) error {
	t, err := m.repo.Find(ref)
	if err != nil {
		return err
	}

	all, err := m.allTasks()
	if err != nil {
		return err
	}
	if ok, dependents := CanDelete(t, all); !ok {
		return &DependencyViolationError{
			TaskID:   t.ID,
			Reason:   "other tasks depend on it",
			Blocking: shortIDs(dependents),
		}
	}
	children, err := m.repo.Children(t.ID)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		var ids []string
		for _, c := range children {
			ids = append(ids, c.ID)
		}
		return &DependencyViolationError{
			TaskID:   t.ID,
			Reason:   "child tasks exist",
			Blocking: shortIDs(ids),
		}
	}

	return m.repo.Delete(t.ID)
}

// AddNote appends a timestamped note.
func (m *TaskManager) AddNote(ref, text string) (*models.Task, error) {
	if text == "" {
		return nil, fmt.Errorf("note text cannot be empty")
	}
	t, err := m.repo.Find(ref)
	if err != nil {
		return nil, err
	}
	t.AddNote(text)
	if err := m.repo.Save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update edits task fields. Nil pointer fields are left unchanged; the Clear
// flags remove optional values.
type Update struct {
	Title       *string
	Description *string
	Priority    *models.Priority
	Project     *string

	DueDate            *time.Time
	ClearDueDate       bool
	ScheduledDate      *time.Time
	ClearScheduledDate bool
	StartDate          *time.Time
	ClearStartDate     bool

	EstimatedHours *float64

	// ParentRef reparents the task; an empty string detaches it.
	ParentRef *string

	AddTags []string

	Recurrence      *models.RecurrenceRule
	ClearRecurrence bool
}

// Update applies an edit, validating any reparenting against hierarchy
// cycles first.
func (m *TaskManager) Update(ref string, u Update) (*models.Task, error) {
	t, err := m.repo.Find(ref)
	if err != nil {
		return nil, err
	}

	if u.ParentRef != nil {
		if *u.ParentRef == "" {
			t.ParentID = ""
		} else {
			parent, err := m.repo.Find(*u.ParentRef)
			if err != nil {
				return nil, fmt.Errorf("parent task: %w", err)
			}
			all, err := m.allTasks()
			if err != nil {
				return nil, err
			}
			if WouldCycle(t.ID, parent.ID, all) {
				return nil, &CyclicHierarchyError{TaskID: t.ID, ParentID: parent.ID}
			}
			t.ParentID = parent.ID
		}
	}

	if u.Title != nil {
		if *u.Title == "" {
			return nil, fmt.Errorf("task title cannot be empty")
		}
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Project != nil {
		t.Project = *u.Project
	}
	if u.DueDate != nil {
		t.DueDate = u.DueDate
	} else if u.ClearDueDate {
		t.DueDate = nil
	}
	if u.ScheduledDate != nil {
		t.ScheduledDate = u.ScheduledDate
	} else if u.ClearScheduledDate {
		t.ScheduledDate = nil
	}
	if u.StartDate != nil {
		t.StartDate = u.StartDate
	} else if u.ClearStartDate {
		t.StartDate = nil
	}
	if u.EstimatedHours != nil {
		t.EstimatedHours = *u.EstimatedHours
	}
	if len(u.AddTags) > 0 {
		t.AddTags(u.AddTags...)
	}
	if u.Recurrence != nil {
		t.Recurrence = u.Recurrence
	} else if u.ClearRecurrence {
		t.Recurrence = nil
	}

	t.Touch()
	if err := m.repo.Save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns filtered tasks sorted for display: priority descending, then
// due date ascending with undated tasks last, then creation time.
func (m *TaskManager) List(f storage.Filter) ([]*models.Task, []*storage.MalformedFileError, error) {
	tasks, warnings, err := m.repo.List(f)
	if err != nil {
		return nil, nil, err
	}
	sortTasks(tasks)
	return tasks, warnings, nil
}

// Search matches title and description, returning display-sorted results.
func (m *TaskManager) Search(query string) ([]*models.Task, error) {
	tasks, err := m.repo.Search(query)
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func (m *TaskManager) Projects() ([]string, error) {
	return m.repo.Projects()
}

func (m *TaskManager) Tags() ([]string, error) {
	return m.repo.Tags()
}

func sortTasks(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		switch {
		case a.DueDate != nil && b.DueDate != nil:
			if !a.DueDate.Equal(*b.DueDate) {
				return a.DueDate.Before(*b.DueDate)
			}
		case a.DueDate != nil:
			return true
		case b.DueDate != nil:
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// TreeNode is one task with its child subtrees, for hierarchical display.
type TreeNode struct {
	Task     *models.Task
	Children []*TreeNode
}

// Tree builds the task forest. Tasks whose parent is missing are treated as
// roots rather than dropped.
func (m *TaskManager) Tree(includeDone bool) ([]*TreeNode, error) {
	tasks, _, err := m.repo.List(storage.Filter{IncludeDone: includeDone})
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*TreeNode, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &TreeNode{Task: t}
	}

	var roots []*TreeNode
	for _, t := range tasks {
		node := nodes[t.ID]
		if parent, ok := nodes[t.ParentID]; ok && t.ParentID != "" {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}

	var sortNodes func([]*TreeNode)
	sortNodes = func(ns []*TreeNode) {
		sort.SliceStable(ns, func(i, j int) bool {
			return ns[i].Task.CreatedAt.Before(ns[j].Task.CreatedAt)
		})
		for _, n := range ns {
			sortNodes(n.Children)
		}
	}
	sortNodes(roots)
	return roots, nil
}

func (m *TaskManager) allTasks() (map[string]*models.Task, error) {
	tasks, _, err := m.repo.ListAll()
	if err != nil {
		return nil, err
	}
	all := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		all[t.ID] = t
	}
	return all, nil
}

func shortIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if len(id) > models.ShortIDLength {
			id = id[:models.ShortIDLength]
		}
		out = append(out, id)
	}
	return out
}
