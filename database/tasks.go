package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/CrowderSoup/boardsync/board/lock"
	"github.com/CrowderSoup/boardsync/models"
)

const (
	assigneeAssigned = "assigned"
	assigneeOnUnlock = "on_unlock"
)

// TaskChange is the result of a task write. Dependents holds sibling tasks
// whose stored data changed as a side effect, such as auto-assignment on
// unlock or a cleared dependency.
type TaskChange struct {
	Task       models.Task
	Dependents []models.Task
}

// loadTasks returns the tasks matching clause (a condition on alias t)
// with their assignees and subtasks, ordered by card and position
func loadTasks(ctx context.Context, q querier, clause string, args ...any) ([]models.Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.card_id, t.title, t.completed, t.depends_on, t.auto_assign_on_unlock, t.position
		FROM tasks t WHERE `+clause+` ORDER BY t.card_id, t.position, t.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	tasks := []models.Task{}
	idx := map[string]int{}
	for rows.Next() {
		t := models.Task{AssignedTo: []string{}, Subtasks: []models.Subtask{}}
		var completed, autoAssign int
		if err := rows.Scan(&t.ID, &t.CardID, &t.Title, &completed, &t.DependsOn, &autoAssign, &t.Position); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Completed = completed != 0
		t.AutoAssignOnUnlock = autoAssign != 0
		idx[t.ID] = len(tasks)
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}

	rows, err = q.QueryContext(ctx, `
		SELECT a.task_id, a.user_id, a.kind
		FROM task_assignees a JOIN tasks t ON a.task_id = t.id
		WHERE `+clause+` ORDER BY a.user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignees: %w", err)
	}
	for rows.Next() {
		var taskID, userID, kind string
		if err := rows.Scan(&taskID, &userID, &kind); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}
		t := &tasks[idx[taskID]]
		if kind == assigneeOnUnlock {
			t.AssignToOnUnlock = append(t.AssignToOnUnlock, userID)
		} else {
			t.AssignedTo = append(t.AssignedTo, userID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read assignees: %w", err)
	}

	rows, err = q.QueryContext(ctx, `
		SELECT s.id, s.task_id, s.title, s.completed
		FROM subtasks s JOIN tasks t ON s.task_id = t.id
		WHERE `+clause+` ORDER BY s.position, s.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st models.Subtask
		var completed int
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan subtask: %w", err)
		}
		st.Completed = completed != 0
		t := &tasks[idx[st.TaskID]]
		t.Subtasks = append(t.Subtasks, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtasks: %w", err)
	}
	return tasks, nil
}

func cardTasks(ctx context.Context, q querier, cardID string) ([]models.Task, error) {
	return loadTasks(ctx, q, "t.card_id = ?", cardID)
}

func findTask(tasks []models.Task, taskID string) (models.Task, bool) {
	for _, t := range tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return models.Task{}, false
}

func setAssignees(ctx context.Context, q querier, taskID, kind string, userIDs []string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM task_assignees WHERE task_id = ? AND kind = ?", taskID, kind); err != nil {
		return fmt.Errorf("failed to clear assignees: %w", err)
	}
	seen := map[string]bool{}
	for _, u := range userIDs {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		if _, err := q.ExecContext(ctx,
			"INSERT INTO task_assignees (task_id, user_id, kind) VALUES (?, ?, ?)", taskID, u, kind); err != nil {
			return fmt.Errorf("failed to insert assignee: %w", err)
		}
	}
	return nil
}

// AddTask appends a task to a card. dependsOn must name a task on the same card.
func (s *BoardService) AddTask(ctx context.Context, cardID string, in models.NewTask) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("task title is required: %w", ErrInvalid)
	}
	id := uuid.NewString()
	var out models.Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := exists(ctx, tx, "cards", cardID); err != nil {
			return err
		}
		tasks, err := cardTasks(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if err := lock.Validate(tasks, id, in.DependsOn); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, card_id, title, depends_on, auto_assign_on_unlock, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, cardID, title, in.DependsOn, boolInt(in.AutoAssignOnUnlock), len(tasks)); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		if err := setAssignees(ctx, tx, id, assigneeOnUnlock, in.AssignToOnUnlock); err != nil {
			return err
		}
		tasks, err = cardTasks(ctx, tx, cardID)
		if err != nil {
			return err
		}
		out, _ = findTask(tasks, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask applies a partial change. Completing or reassigning a locked
// task fails with lock.ErrLocked. Dependents unlocked by a completion are
// auto-assigned and returned in Dependents.
func (s *BoardService) UpdateTask(ctx context.Context, cardID, taskID string, upd models.TaskUpdate) (*TaskChange, error) {
	var out *TaskChange
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		tasks, err := cardTasks(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if _, ok := findTask(tasks, taskID); !ok {
			return notFound("task", taskID)
		}

		var touched []string
		if upd.Completed != nil {
			res, err := lock.Apply(tasks, taskID, *upd.Completed)
			if err != nil {
				return err
			}
			if res.Changed {
				if _, err := tx.ExecContext(ctx,
					"UPDATE tasks SET completed = ? WHERE id = ?", boolInt(*upd.Completed), taskID); err != nil {
					return fmt.Errorf("failed to update task: %w", err)
				}
				for _, id := range res.AutoAssigned {
					dep, _ := findTask(res.Tasks, id)
					if err := setAssignees(ctx, tx, id, assigneeAssigned, dep.AssignedTo); err != nil {
						return err
					}
					touched = append(touched, id)
				}
			}
			tasks = res.Tasks
		}

		if upd.AssignedTo != nil {
			task, _ := findTask(tasks, taskID)
			if lock.IsLocked(task, tasks) {
				return lock.ErrLocked
			}
			if err := setAssignees(ctx, tx, taskID, assigneeAssigned, *upd.AssignedTo); err != nil {
				return err
			}
		}

		if upd.Title != nil {
			title := strings.TrimSpace(*upd.Title)
			if title == "" {
				return fmt.Errorf("task title is required: %w", ErrInvalid)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE tasks SET title = ? WHERE id = ?", title, taskID); err != nil {
				return fmt.Errorf("failed to update task: %w", err)
			}
		}

		tasks, err = cardTasks(ctx, tx, cardID)
		if err != nil {
			return err
		}
		out = &TaskChange{}
		out.Task, _ = findTask(tasks, taskID)
		for _, id := range touched {
			dep, _ := findTask(tasks, id)
			out.Dependents = append(out.Dependents, dep)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out.Dependents) > 0 {
		s.log.Info().Str("task", taskID).Int("dependents", len(out.Dependents)).Msg("dependents auto-assigned on unlock")
	}
	return out, nil
}

// DeleteTask removes a task. Tasks that depended on it lose the dependency
// and are returned in Dependents; they are not auto-assigned.
func (s *BoardService) DeleteTask(ctx context.Context, cardID, taskID string) (*TaskChange, error) {
	var out *TaskChange
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		tasks, err := cardTasks(ctx, tx, cardID)
		if err != nil {
			return err
		}
		deleted, ok := findTask(tasks, taskID)
		if !ok {
			return notFound("task", taskID)
		}
		dependents := lock.Dependents(tasks, taskID)
		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET depends_on = '' WHERE card_id = ? AND depends_on = ?", cardID, taskID); err != nil {
			return fmt.Errorf("failed to clear dependencies: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", taskID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}

		tasks, err = cardTasks(ctx, tx, cardID)
		if err != nil {
			return err
		}
		for i := range tasks {
			if _, err := tx.ExecContext(ctx, "UPDATE tasks SET position = ? WHERE id = ?", i, tasks[i].ID); err != nil {
				return fmt.Errorf("failed to renumber tasks: %w", err)
			}
			tasks[i].Position = i
		}
		out = &TaskChange{Task: deleted}
		for _, id := range dependents {
			dep, _ := findTask(tasks, id)
			out.Dependents = append(out.Dependents, dep)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// taskOnCard checks that taskID belongs to cardID
func taskOnCard(ctx context.Context, q querier, cardID, taskID string) error {
	var owner string
	err := q.QueryRowContext(ctx, "SELECT card_id FROM tasks WHERE id = ?", taskID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != cardID) {
		return notFound("task", taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to query task: %w", err)
	}
	return nil
}

// reloadTask returns the stored task with its subtasks
func reloadTask(ctx context.Context, q querier, taskID string) (*models.Task, error) {
	tasks, err := loadTasks(ctx, q, "t.id = ?", taskID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, notFound("task", taskID)
	}
	return &tasks[0], nil
}

// AddSubtask appends a subtask and returns the parent task
func (s *BoardService) AddSubtask(ctx context.Context, cardID, taskID, title string) (*models.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("subtask title is required: %w", ErrInvalid)
	}
	var out *models.Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := taskOnCard(ctx, tx, cardID, taskID); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM subtasks WHERE task_id = ?", taskID).Scan(&n); err != nil {
			return fmt.Errorf("failed to count subtasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO subtasks (id, task_id, title, position) VALUES (?, ?, ?, ?)",
			uuid.NewString(), taskID, title, n); err != nil {
			return fmt.Errorf("failed to insert subtask: %w", err)
		}
		var err error
		out, err = reloadTask(ctx, tx, taskID)
		return err
	})
	return out, err
}

// UpdateSubtask changes a subtask and returns the parent task
func (s *BoardService) UpdateSubtask(ctx context.Context, cardID, taskID, subtaskID string, upd models.SubtaskUpdate) (*models.Task, error) {
	var out *models.Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := taskOnCard(ctx, tx, cardID, taskID); err != nil {
			return err
		}
		if upd.Title != nil {
			title := strings.TrimSpace(*upd.Title)
			if title == "" {
				return fmt.Errorf("subtask title is required: %w", ErrInvalid)
			}
			if err := execOne(ctx, tx, "subtask", subtaskID,
				"UPDATE subtasks SET title = ? WHERE id = ? AND task_id = ?", title, subtaskID, taskID); err != nil {
				return err
			}
		}
		if upd.Completed != nil {
			if err := execOne(ctx, tx, "subtask", subtaskID,
				"UPDATE subtasks SET completed = ? WHERE id = ? AND task_id = ?", boolInt(*upd.Completed), subtaskID, taskID); err != nil {
				return err
			}
		}
		var err error
		out, err = reloadTask(ctx, tx, taskID)
		return err
	})
	return out, err
}

// DeleteSubtask removes a subtask and returns the parent task
func (s *BoardService) DeleteSubtask(ctx context.Context, cardID, taskID, subtaskID string) (*models.Task, error) {
	var out *models.Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := taskOnCard(ctx, tx, cardID, taskID); err != nil {
			return err
		}
		if err := execOne(ctx, tx, "subtask", subtaskID,
			"DELETE FROM subtasks WHERE id = ? AND task_id = ?", subtaskID, taskID); err != nil {
			return err
		}
		var err error
		out, err = reloadTask(ctx, tx, taskID)
		return err
	})
	return out, err
}

// execOne runs a statement that must touch exactly one row
func execOne(ctx context.Context, q querier, kind, id, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
