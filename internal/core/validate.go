package core

import (
	"fmt"
	"strings"

	"github.com/ldi/butler/pkg/models"
)

// DependencyViolationError blocks a mutation that would break the dependency
// or hierarchy protection rules: starting or completing a task with unmet
// dependencies, or deleting a task others still reference.
type DependencyViolationError struct {
	TaskID   string
	Reason   string
	Blocking []string
}

func (e *DependencyViolationError) Error() string {
	if len(e.Blocking) == 0 {
		return fmt.Sprintf("task %.8s: %s", e.TaskID, e.Reason)
	}
	return fmt.Sprintf("task %.8s: %s (%s)", e.TaskID, e.Reason, strings.Join(e.Blocking, ", "))
}

// CyclicHierarchyError rejects a parent assignment that would make a task
// its own transitive ancestor.
type CyclicHierarchyError struct {
	TaskID   string
	ParentID string
}

func (e *CyclicHierarchyError) Error() string {
	return fmt.Sprintf("setting parent %.8s on task %.8s would create a cycle", e.ParentID, e.TaskID)
}

// CanStart reports whether every dependency resolves to a done task. A
// dangling dependency id counts as unmet. The unmet ids are returned for
// error reporting.
func CanStart(t *models.Task, all map[string]*models.Task) (bool, []string) {
	var unmet []string
	for _, dep := range t.Dependencies {
		d, ok := all[dep]
		if !ok || d.Status != models.StatusDone {
			unmet = append(unmet, dep)
		}
	}
	return len(unmet) == 0, unmet
}

// CanDelete reports whether no other task depends on t. The dependent ids
// are returned for error reporting.
func CanDelete(t *models.Task, all map[string]*models.Task) (bool, []string) {
	var dependents []string
	for _, other := range all {
		for _, dep := range other.Dependencies {
			if dep == t.ID {
				dependents = append(dependents, other.ID)
				break
			}
		}
	}
	return len(dependents) == 0, dependents
}

// WouldCycle reports whether assigning newParentID to taskID creates a
// hierarchy cycle. The walk up the parent chain is bounded by the task
// count; a walk that fails to terminate within that bound is treated as a
// cycle and rejected.
func WouldCycle(taskID, newParentID string, all map[string]*models.Task) bool {
	if newParentID == "" {
		return false
	}
	if newParentID == taskID {
		return true
	}
	current := newParentID
	for steps := 0; steps <= len(all); steps++ {
		parent, ok := all[current]
		if !ok || parent.ParentID == "" {
			return false
		}
		if parent.ParentID == taskID {
			return true
		}
		current = parent.ParentID
	}
	return true
}
