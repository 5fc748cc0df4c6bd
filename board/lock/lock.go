// Package lock derives task lock state from the dependsOn relation between
// tasks of one card. IsLocked is the only lock predicate in the codebase:
// the store, the engine, the HTTP handlers and the database layer all ask
// it instead of keeping their own copy of the rule.
package lock

import (
	"errors"

	"github.com/CrowderSoup/boardsync/models"
)

var (
	// ErrLocked is returned when a locked task is completed or reassigned
	ErrLocked = errors.New("task is locked by an incomplete dependency")

	// ErrCycle is returned when a dependency would create a cycle
	ErrCycle = errors.New("dependency would create a cycle")

	// ErrForeignDependency is returned when dependsOn names a task outside the card
	ErrForeignDependency = errors.New("dependency must be a task on the same card")
)

// IsLocked reports whether task is blocked by its dependency. A dependency
// that does not exist among siblings or is already completed never locks.
func IsLocked(task models.Task, siblings []models.Task) bool {
	if task.DependsOn == "" {
		return false
	}
	for _, s := range siblings {
		if s.ID == task.DependsOn {
			return !s.Completed
		}
	}
	return false
}

// LockedSet returns the ids of all locked tasks in the card
func LockedSet(tasks []models.Task) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tasks {
		if IsLocked(t, tasks) {
			out[t.ID] = true
		}
	}
	return out
}

// Result describes the effect of a completion change on a card's tasks
type Result struct {
	Tasks []models.Task

	// Unlocked lists dependents that went from locked to unlocked
	Unlocked []string

	// Relocked lists dependents that went from unlocked to locked
	Relocked []string

	// AutoAssigned lists unlocked dependents whose AssignedTo was set from
	// AssignToOnUnlock
	AutoAssigned []string

	// Changed is false when the task already had the requested state
	Changed bool
}

// Apply sets Completed on taskID and recomputes the lock state of its
// dependents. tasks is not modified. A locked task cannot be completed and
// yields ErrLocked. Newly unlocked dependents with AutoAssignOnUnlock get
// AssignedTo replaced by AssignToOnUnlock at this moment.
func Apply(tasks []models.Task, taskID string, completed bool) (Result, error) {
	out := make([]models.Task, len(tasks))
	idx := -1
	for i, t := range tasks {
		out[i] = t.Clone()
		if t.ID == taskID {
			idx = i
		}
	}
	if idx < 0 {
		return Result{}, errors.New("task not found")
	}
	if IsLocked(out[idx], out) {
		return Result{}, ErrLocked
	}
	if out[idx].Completed == completed {
		return Result{Tasks: out}, nil
	}

	before := LockedSet(out)
	out[idx].Completed = completed
	after := LockedSet(out)

	res := Result{Tasks: out, Changed: true}
	for i := range out {
		id := out[i].ID
		switch {
		case before[id] && !after[id]:
			res.Unlocked = append(res.Unlocked, id)
			if out[i].AutoAssignOnUnlock && len(out[i].AssignToOnUnlock) > 0 {
				out[i].AssignedTo = append([]string{}, out[i].AssignToOnUnlock...)
				res.AutoAssigned = append(res.AutoAssigned, id)
			}
		case !before[id] && after[id]:
			res.Relocked = append(res.Relocked, id)
		}
	}
	return res, nil
}

// Dependents returns the ids of tasks that depend directly on taskID
func Dependents(tasks []models.Task, taskID string) []string {
	var out []string
	for _, t := range tasks {
		if t.DependsOn == taskID {
			out = append(out, t.ID)
		}
	}
	return out
}

// Validate checks that taskID may depend on dependsOn: the target must be a
// sibling and the edge must not close a cycle.
func Validate(tasks []models.Task, taskID, dependsOn string) error {
	if dependsOn == "" {
		return nil
	}
	found := false
	for _, t := range tasks {
		if t.ID == dependsOn {
			found = true
			break
		}
	}
	if !found {
		return ErrForeignDependency
	}
	if WouldCycle(tasks, taskID, dependsOn) {
		return ErrCycle
	}
	return nil
}

// WouldCycle reports whether making taskID depend on dependsOn closes a
// cycle. It follows existing dependsOn edges starting from dependsOn.
func WouldCycle(tasks []models.Task, taskID, dependsOn string) bool {
	if dependsOn == taskID {
		return true
	}
	next := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if t.DependsOn != "" {
			next[t.ID] = t.DependsOn
		}
	}
	seen := map[string]bool{}
	for cur := dependsOn; cur != ""; cur = next[cur] {
		if cur == taskID {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
	}
	return false
}
