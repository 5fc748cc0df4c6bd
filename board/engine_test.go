package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/boardsync/board/lock"
	"github.com/CrowderSoup/boardsync/board/state"
	"github.com/CrowderSoup/boardsync/models"
)

// recordingRemote records every persistence call. FailWith makes every
// ordering call fail.
type recordingRemote struct {
	mu       sync.Mutex
	snap     models.BoardSnapshot
	calls    []string
	updates  []models.TaskUpdate
	FailWith error

	UpdateTaskFunc func(update models.TaskUpdate) (*models.Task, error)
}

func (r *recordingRemote) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingRemote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

func (r *recordingRemote) GetBoard(ctx context.Context, boardID string) (*models.BoardSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snap
	return &snap, nil
}

func (r *recordingRemote) MoveCard(ctx context.Context, cardID, targetListID string, position int) error {
	r.record(fmt.Sprintf("moveCard(%s, %s, %d)", cardID, targetListID, position))
	return r.FailWith
}

func (r *recordingRemote) ReorderCard(ctx context.Context, cardID string, position int) error {
	r.record(fmt.Sprintf("reorderCard(%s, %d)", cardID, position))
	return r.FailWith
}

func (r *recordingRemote) ReorderList(ctx context.Context, listID string, position int, listOrder []string) error {
	r.record(fmt.Sprintf("reorderList(%s, %d, %v)", listID, position, listOrder))
	return r.FailWith
}

func (r *recordingRemote) UpdateTask(ctx context.Context, cardID, taskID string, update models.TaskUpdate) (*models.Task, error) {
	r.record(fmt.Sprintf("updateTask(%s, %s)", cardID, taskID))
	r.mu.Lock()
	r.updates = append(r.updates, update)
	fn := r.UpdateTaskFunc
	r.mu.Unlock()
	if fn != nil {
		return fn(update)
	}
	return nil, nil
}

func boardFixture() models.BoardSnapshot {
	return models.BoardSnapshot{
		Board: models.Board{ID: "b1", Name: "Launch", ListIDs: []string{"L1", "L2", "L3"}},
		Lists: []models.List{
			{ID: "L1", BoardID: "b1", Position: 0, CardIDs: []string{"c1", "c2", "c3"}},
			{ID: "L2", BoardID: "b1", Position: 1024, CardIDs: []string{"c4"}},
			{ID: "L3", BoardID: "b1", Position: 2048},
		},
		Cards: []models.Card{
			{ID: "c1", ListID: "L1", Position: 0},
			{ID: "c2", ListID: "L1", Position: 1024},
			{ID: "c3", ListID: "L1", Position: 2048},
			{ID: "c4", ListID: "L2", Position: 0, Tasks: []models.Task{
				{ID: "t1", CardID: "c4", Title: "design", Position: 0},
				{ID: "t2", CardID: "c4", Title: "build", Position: 1, DependsOn: "t1",
					AutoAssignOnUnlock: true, AssignToOnUnlock: []string{"u1"}},
			}},
		},
	}
}

func newEngine(t *testing.T, remote *recordingRemote) *Engine {
	t.Helper()
	e := New(context.Background(), Config{BoardID: "b1", Remote: remote, Logger: zerolog.Nop(), ReloadTimeout: time.Second})
	require.NoError(t, e.Load(context.Background()))
	return e
}

func listCards(e *Engine, listID string) []string {
	return e.Store().CardIDs(listID)
}

func TestScenario_CardAcrossListsBeforeCard(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)
	r := e.Router()

	require.NoError(t, r.DragStarted("c1"))
	require.NoError(t, r.DragHovered("L2"))
	assert.Equal(t, []string{"c4", "c1"}, listCards(e, "L2"))
	require.NoError(t, r.DragEnded("c4"))
	e.Wait()

	assert.Equal(t, []string{"c1", "c4"}, listCards(e, "L2"))
	assert.Equal(t, []string{"c2", "c3"}, listCards(e, "L1"))
	assert.Equal(t, []string{"moveCard(c1, L2, 0)"}, remote.Calls())
	assert.NoError(t, e.Store().CheckInvariants())
	assert.False(t, e.Store().IsPending("c1"))
}

func TestScenario_CardAcrossListsWithoutHover(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)

	require.NoError(t, e.Router().DragStarted("c1"))
	require.NoError(t, e.Router().DragEnded("c4"))
	e.Wait()

	assert.Equal(t, []string{"c1", "c4"}, listCards(e, "L2"))
	assert.Equal(t, []string{"moveCard(c1, L2, 0)"}, remote.Calls())
}

func TestScenario_ThirdListToFront(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)

	require.NoError(t, e.Router().DragStarted("L3"))
	require.NoError(t, e.Router().DragEnded("L1"))
	e.Wait()

	assert.Equal(t, []string{"L3", "L1", "L2"}, e.Store().ListIDs())
	assert.Equal(t, []string{"reorderList(L3, 0, [L3 L1 L2])"}, remote.Calls())
}

func TestScenario_AutoAssignOnUnlock(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)
	e.OpenCard("c4")

	// t2 is locked until t1 completes
	assert.False(t, e.ToggleTaskCompletion("t2"))
	assert.ErrorIs(t, e.AssignTask("t2", []string{"u9"}), lock.ErrLocked)

	assert.True(t, e.ToggleTaskCompletion("t1"))
	e.Wait()

	t2, _, ok := e.Store().Task("t2")
	require.True(t, ok)
	assert.Equal(t, []string{"u1"}, t2.AssignedTo)
	assert.False(t, lock.IsLocked(t2, e.Store().Tasks("c4")))

	require.Equal(t, []string{"updateTask(c4, t1)"}, remote.Calls())
	require.NotNil(t, remote.updates[0].Completed)
	assert.True(t, *remote.updates[0].Completed)
	assert.Nil(t, remote.updates[0].AssignedTo)

	// un-completing t1 re-locks t2
	assert.True(t, e.ToggleTaskCompletion("t1"))
	e.Wait()
	t2, _, _ = e.Store().Task("t2")
	assert.True(t, lock.IsLocked(t2, e.Store().Tasks("c4")))
}

func TestNoOpDrops_MakeNoCalls(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)
	before := e.Snapshot()

	require.NoError(t, e.Router().DragStarted("c1"))
	require.NoError(t, e.Router().DragEnded("c1"))
	require.NoError(t, e.Router().DragStarted("L2"))
	require.NoError(t, e.Router().DragEnded("L2"))
	require.NoError(t, e.Router().DragStarted("c2"))
	require.NoError(t, e.Router().DragEnded(""))
	assert.False(t, e.RequestCardMove("c4", "L2", 0))
	assert.False(t, e.RequestListReorder("L1", 0))
	e.Wait()

	assert.Empty(t, remote.Calls())
	assert.Equal(t, before, e.Snapshot())
}

func TestRequestCardMove_SameList(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)

	assert.True(t, e.RequestCardMove("c3", "L1", 0))
	e.Wait()
	assert.Equal(t, []string{"c3", "c1", "c2"}, listCards(e, "L1"))
	assert.Equal(t, []string{"reorderCard(c3, 0)"}, remote.Calls())
}

func TestFailure_RollsBack(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture(), FailWith: errors.New("503")}
	e := newEngine(t, remote)

	var alerts []string
	var mu sync.Mutex
	e.Subscribe(func(c state.Change) {
		if c.Kind == state.ChangeAlert {
			mu.Lock()
			alerts = append(alerts, c.Message)
			mu.Unlock()
		}
	})

	assert.True(t, e.RequestCardMove("c1", "L3", 0))
	assert.True(t, e.RequestListReorder("L3", 0))
	e.Wait()

	fresh := state.New(zerolog.Nop())
	fresh.Replace(boardFixture())
	assert.Equal(t, fresh.Snapshot(), e.Snapshot())
	mu.Lock()
	assert.Len(t, alerts, 2)
	mu.Unlock()
}

func TestApplyPush_TaskEventsForOpenCardOnly(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)

	task := models.Task{ID: "t3", CardID: "c4", Title: "ship", Position: 2}
	created := models.PushEvent{Type: models.EventTaskCreated, CardID: "c4", Task: &task}

	assert.False(t, e.ApplyPush(created))
	e.OpenCard("c4")
	assert.True(t, e.ApplyPush(created))
	assert.True(t, e.ApplyPush(created))
	assert.Len(t, e.Store().Tasks("c4"), 3)

	assert.True(t, e.ApplyPush(models.PushEvent{Type: models.EventTaskDeleted, CardID: "c4", TaskID: "t3"}))
	assert.Len(t, e.Store().Tasks("c4"), 2)
}

func TestApplyPush_OrderingMergesSkipPending(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)

	require.NoError(t, e.Router().DragStarted("c2"))
	assert.False(t, e.ApplyPush(models.PushEvent{Type: models.EventCardMoved, BoardID: "b1", CardID: "c2", ListID: "L3"}))
	assert.True(t, e.ApplyPush(models.PushEvent{Type: models.EventCardMoved, BoardID: "b1", CardID: "c3", ListID: "L3"}))
	require.NoError(t, e.Router().DragEnded(""))

	assert.Equal(t, []string{"c1", "c2"}, listCards(e, "L1"))
	assert.Equal(t, []string{"c3"}, listCards(e, "L3"))

	assert.False(t, e.ApplyPush(models.PushEvent{Type: models.EventListReordered, BoardID: "other", ListOrder: models.ListRefs([]string{"L2", "L1", "L3"})}))
	assert.True(t, e.ApplyPush(models.PushEvent{Type: models.EventListReordered, BoardID: "b1", ListOrder: models.ListRefs([]string{"L2", "L1", "L3"})}))
	assert.Equal(t, []string{"L2", "L1", "L3"}, e.Store().ListIDs())
	assert.NoError(t, e.Store().CheckInvariants())
}

func TestToggleTwice_LateAckDoesNotWin(t *testing.T) {
	gates := map[bool]chan struct{}{true: make(chan struct{}), false: make(chan struct{})}
	remote := &recordingRemote{snap: boardFixture()}
	remote.UpdateTaskFunc = func(u models.TaskUpdate) (*models.Task, error) {
		<-gates[*u.Completed]
		return &models.Task{ID: "t1", CardID: "c4", Title: "design", Completed: *u.Completed}, nil
	}
	e := newEngine(t, remote)

	require.True(t, e.ToggleTaskCompletion("t1"))
	require.True(t, e.ToggleTaskCompletion("t1"))

	merged := make(chan struct{}, 2)
	e.Subscribe(func(c state.Change) {
		if c.Kind == state.ChangeTasks {
			merged <- struct{}{}
		}
	})

	close(gates[false])
	select {
	case <-merged:
	case <-time.After(time.Second):
		t.Fatal("latest ack was not merged")
	}
	close(gates[true])
	e.Wait()

	task, _, ok := e.Store().Task("t1")
	require.True(t, ok)
	assert.False(t, task.Completed)
	assert.Empty(t, merged)
}

func TestApplyPush_StructureEvents(t *testing.T) {
	remote := &recordingRemote{snap: boardFixture()}
	e := newEngine(t, remote)

	list := models.List{ID: "L4", BoardID: "b1", Name: "Later"}
	assert.False(t, e.ApplyPush(models.PushEvent{Type: models.EventListCreated, BoardID: "other", List: &list}))
	assert.True(t, e.ApplyPush(models.PushEvent{Type: models.EventListCreated, BoardID: "b1", ListID: "L4", Position: 0, List: &list}))
	assert.Equal(t, []string{"L4", "L1", "L2", "L3"}, e.Store().ListIDs())

	card := models.Card{ID: "c9", ListID: "L4", Title: "idea"}
	assert.True(t, e.ApplyPush(models.PushEvent{Type: models.EventCardCreated, BoardID: "b1", CardID: "c9", ListID: "L4", Card: &card}))
	assert.Equal(t, []string{"c9"}, listCards(e, "L4"))

	assert.True(t, e.ApplyPush(models.PushEvent{Type: models.EventCardDeleted, BoardID: "b1", CardID: "c1"}))
	assert.Equal(t, []string{"c2", "c3"}, listCards(e, "L1"))

	assert.True(t, e.ApplyPush(models.PushEvent{Type: models.EventListDeleted, BoardID: "b1", ListID: "L4"}))
	assert.Equal(t, []string{"L1", "L2", "L3"}, e.Store().ListIDs())
	assert.NoError(t, e.Store().CheckInvariants())
	assert.Empty(t, remote.Calls())
}
