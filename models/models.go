package models

// PositionStep is the gap between neighbouring positions written by the
// server and by optimistic updates
const PositionStep = 1024

// Visibility controls who can see a board
type Visibility string

const (
	VisibilityPrivate   Visibility = "private"
	VisibilityWorkspace Visibility = "workspace"
	VisibilityPublic    Visibility = "public"
)

// Member is a user attached to a board with a role
type Member struct {
	UserID string `json:"userId" yaml:"userId"`
	Role   string `json:"role" yaml:"role"`
}

type Board struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Background string     `json:"background,omitempty"`
	Visibility Visibility `json:"visibility"`
	Members    []Member   `json:"members"`
	Starred    bool       `json:"starred"`
	ListIDs    []string   `json:"listIds"`
}

// AutoMoveRule is a stored list preference for the UI. The server keeps and
// returns it but never moves cards on its behalf.
type AutoMoveRule struct {
	OnAllTasksCompleted bool   `json:"onAllTasksCompleted" yaml:"onAllTasksCompleted"`
	TargetListID        string `json:"targetListId" yaml:"targetListId"`
}

// ListSettings are persisted with the list and returned unchanged. WIPLimit
// is advisory; creating or moving cards past it is not rejected.
type ListSettings struct {
	WIPLimit      int            `json:"wipLimit,omitempty" yaml:"wipLimit"`
	AutoMoveRules []AutoMoveRule `json:"autoMoveRules,omitempty" yaml:"autoMoveRules"`
}

type List struct {
	ID       string       `json:"id"`
	BoardID  string       `json:"boardId"`
	Name     string       `json:"name"`
	Position int          `json:"position"`
	CardIDs  []string     `json:"cardIds"`
	Settings ListSettings `json:"settings"`
}

type Card struct {
	ID       string `json:"id"`
	ListID   string `json:"listId"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	Tasks    []Task `json:"tasks"`
}

// Task is a checklist entry on a card. Whether it is locked is derived from
// DependsOn by the lock package and never stored.
type Task struct {
	ID                 string    `json:"id"`
	CardID             string    `json:"cardId"`
	Title              string    `json:"title"`
	Completed          bool      `json:"completed"`
	DependsOn          string    `json:"dependsOn,omitempty"`
	AutoAssignOnUnlock bool      `json:"autoAssignOnUnlock,omitempty"`
	AssignToOnUnlock   []string  `json:"assignToOnUnlock,omitempty"`
	AssignedTo         []string  `json:"assignedTo"`
	Position           int       `json:"position"`
	Subtasks           []Subtask `json:"subtasks"`
}

// Progress returns the percentage of completed subtasks
func (t Task) Progress() int {
	if len(t.Subtasks) == 0 {
		return 0
	}
	done := 0
	for _, st := range t.Subtasks {
		if st.Completed {
			done++
		}
	}
	return done * 100 / len(t.Subtasks)
}

type Subtask struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// BoardSnapshot is the full canonical state of one board as served by
// GET /api/boards/{boardId}. Lists and cards are ordered by position.
type BoardSnapshot struct {
	Board Board  `json:"board"`
	Lists []List `json:"lists"`
	Cards []Card `json:"cards"`
}

// Clone returns a deep copy of the task
func (t Task) Clone() Task {
	c := t
	c.AssignToOnUnlock = cloneStrings(t.AssignToOnUnlock)
	c.AssignedTo = cloneStrings(t.AssignedTo)
	if t.Subtasks != nil {
		c.Subtasks = append([]Subtask{}, t.Subtasks...)
	}
	return c
}

// Clone returns a deep copy of the card including its tasks
func (c Card) Clone() Card {
	out := c
	if c.Tasks != nil {
		out.Tasks = make([]Task, len(c.Tasks))
		for i, t := range c.Tasks {
			out.Tasks[i] = t.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the list
func (l List) Clone() List {
	out := l
	out.CardIDs = cloneStrings(l.CardIDs)
	if l.Settings.AutoMoveRules != nil {
		out.Settings.AutoMoveRules = append([]AutoMoveRule{}, l.Settings.AutoMoveRules...)
	}
	return out
}

// Clone returns a deep copy of the board
func (b Board) Clone() Board {
	out := b
	out.ListIDs = cloneStrings(b.ListIDs)
	if b.Members != nil {
		out.Members = append([]Member{}, b.Members...)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

// TaskUpdate is a partial task change; nil fields are left alone
type TaskUpdate struct {
	Title      *string   `json:"title,omitempty"`
	Completed  *bool     `json:"completed,omitempty"`
	AssignedTo *[]string `json:"assignedTo,omitempty"`
}

// NewTask is the body of addTask
type NewTask struct {
	Title              string   `json:"title"`
	DependsOn          string   `json:"dependsOn,omitempty"`
	AutoAssignOnUnlock bool     `json:"autoAssignOnUnlock,omitempty"`
	AssignToOnUnlock   []string `json:"assignToOnUnlock,omitempty"`
}

// NewBoard is the body of createBoard
type NewBoard struct {
	Name       string     `json:"name"`
	Background string     `json:"background,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`
}

// SubtaskUpdate is a partial subtask change
type SubtaskUpdate struct {
	Title     *string `json:"title,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Placement is where a card or list ended up after a move. Position is the
// index in the containing sequence.
type Placement struct {
	BoardID  string `json:"boardId"`
	ListID   string `json:"listId,omitempty"`
	Position int    `json:"position"`
}
