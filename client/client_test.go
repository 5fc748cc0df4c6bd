package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrowderSoup/boardsync/board"
	"github.com/CrowderSoup/boardsync/board/state"
	"github.com/CrowderSoup/boardsync/database"
	"github.com/CrowderSoup/boardsync/handlers"
	"github.com/CrowderSoup/boardsync/models"
	"github.com/CrowderSoup/boardsync/services"
)

type fixture struct {
	url   string
	token string
	board models.Board
	lists []models.List
	cards []models.Card
}

func newServer(t *testing.T) *fixture {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "client.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := services.NewHub(zerolog.Nop())
	go hub.Run(ctx)

	auth := services.NewAuthService("test-secret")
	token, err := auth.CreateJWT("u1")
	require.NoError(t, err)

	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{
		Store:          database.NewBoardService(db, zerolog.Nop()),
		Hub:            hub,
		Auth:           auth,
		AllowedOrigins: []string{"*"},
		Logger:         zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return &fixture{url: srv.URL, token: token}
}

// seed builds L1[c1 c2 c3] L2[c4] L3[]
func (f *fixture) seed(t *testing.T, c *Client) {
	t.Helper()
	ctx := context.Background()
	b, err := c.CreateBoard(ctx, models.NewBoard{Name: "Launch"})
	require.NoError(t, err)
	f.board = *b
	for _, name := range []string{"L1", "L2", "L3"} {
		l, err := c.CreateList(ctx, b.ID, name, -1)
		require.NoError(t, err)
		f.lists = append(f.lists, *l)
	}
	for i, title := range []string{"c1", "c2", "c3", "c4"} {
		list := f.lists[0]
		if i == 3 {
			list = f.lists[1]
		}
		card, err := c.CreateCard(ctx, list.ID, title, -1)
		require.NoError(t, err)
		f.cards = append(f.cards, *card)
	}
}

func (f *fixture) listIDs() []string {
	var ids []string
	for _, l := range f.lists {
		ids = append(ids, l.ID)
	}
	return ids
}

func TestClient_APIErrors(t *testing.T) {
	f := newServer(t)
	ctx := context.Background()

	_, err := New(f.url, f.token).GetBoard(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	_, err = New(f.url, "bad-token").GetBoard(ctx, "missing")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	c := New(f.url, f.token)
	f.seed(t, c)
	err = c.MoveCard(ctx, f.cards[0].ID, "nowhere", 0)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestClient_TasksAndSubtasks(t *testing.T) {
	f := newServer(t)
	ctx := context.Background()
	c := New(f.url, f.token)
	f.seed(t, c)
	cardID := f.cards[0].ID

	t1, err := c.AddTask(ctx, cardID, models.NewTask{Title: "design"})
	require.NoError(t, err)
	t2, err := c.AddTask(ctx, cardID, models.NewTask{
		Title: "build", DependsOn: t1.ID, AutoAssignOnUnlock: true, AssignToOnUnlock: []string{"u2"},
	})
	require.NoError(t, err)

	done := true
	_, err = c.UpdateTask(ctx, cardID, t2.ID, models.TaskUpdate{Completed: &done})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "locked")

	updated, err := c.UpdateTask(ctx, cardID, t1.ID, models.TaskUpdate{Completed: &done})
	require.NoError(t, err)
	assert.True(t, updated.Completed)

	withSub, err := c.AddSubtask(ctx, cardID, t2.ID, "docs")
	require.NoError(t, err)
	require.Len(t, withSub.Subtasks, 1)
	withSub, err = c.UpdateSubtask(ctx, cardID, t2.ID, withSub.Subtasks[0].ID, models.SubtaskUpdate{Completed: &done})
	require.NoError(t, err)
	assert.Equal(t, 100, withSub.Progress())
	withSub, err = c.DeleteSubtask(ctx, cardID, t2.ID, withSub.Subtasks[0].ID)
	require.NoError(t, err)
	assert.Empty(t, withSub.Subtasks)

	require.NoError(t, c.DeleteTask(ctx, cardID, t1.ID))
	snap, err := c.GetBoard(ctx, f.board.ID)
	require.NoError(t, err)
	for _, card := range snap.Cards {
		if card.ID == cardID {
			require.Len(t, card.Tasks, 1)
			assert.Empty(t, card.Tasks[0].DependsOn)
			assert.Equal(t, []string{"u2"}, card.Tasks[0].AssignedTo)
		}
	}
}

func TestClient_DeleteListAndCard(t *testing.T) {
	f := newServer(t)
	ctx := context.Background()
	c := New(f.url, f.token)
	f.seed(t, c)

	require.NoError(t, c.DeleteCard(ctx, f.cards[3].ID))
	require.NoError(t, c.DeleteList(ctx, f.lists[0].ID))
	assert.True(t, IsStatus(c.DeleteList(ctx, f.lists[0].ID), http.StatusNotFound))

	snap, err := c.GetBoard(ctx, f.board.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Lists, 2)
	assert.Empty(t, snap.Cards)
}

func newEngine(t *testing.T, f *fixture, c *Client) *board.Engine {
	t.Helper()
	e := board.New(context.Background(), board.Config{
		BoardID:       f.board.ID,
		Remote:        c,
		Logger:        zerolog.Nop(),
		ReloadTimeout: time.Second,
	})
	require.NoError(t, e.Load(context.Background()))
	return e
}

func listen(t *testing.T, f *fixture, c *Client, rooms ...string) <-chan models.PushEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p := NewPushListener(f.url, c, zerolog.Nop())
	require.NoError(t, p.Connect(ctx, rooms...))
	events := make(chan models.PushEvent, 16)
	go p.Listen(ctx, func(ev models.PushEvent) { events <- ev })
	return events
}

func recv(t *testing.T, events <-chan models.PushEvent) models.PushEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no push event")
		return models.PushEvent{}
	}
}

func TestTwoTabs_CardMoveConverges(t *testing.T) {
	f := newServer(t)
	tabA := New(f.url, f.token)
	tabB := New(f.url, f.token)
	f.seed(t, tabA)

	engineA := newEngine(t, f, tabA)
	engineB := newEngine(t, f, tabB)
	room := models.BoardRoom(f.board.ID)
	eventsA := listen(t, f, tabA, room)
	eventsB := listen(t, f, tabB, room)

	require.True(t, engineA.RequestCardMove(f.cards[0].ID, f.lists[1].ID, 0))
	engineA.Wait()

	ev := recv(t, eventsB)
	assert.Equal(t, models.EventCardMoved, ev.Type)
	assert.Equal(t, f.lists[1].ID, ev.ListID)
	assert.Equal(t, 0, ev.Position)
	assert.True(t, engineB.ApplyPush(ev))

	select {
	case ev := <-eventsA:
		t.Fatalf("sender received its own push %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, engineA.Snapshot(), engineB.Snapshot())
	require.NoError(t, engineB.Reload(context.Background()))
	assert.Equal(t, engineA.Snapshot(), engineB.Snapshot())
}

func TestTwoTabs_ListReorderConverges(t *testing.T) {
	f := newServer(t)
	tabA := New(f.url, f.token)
	tabB := New(f.url, f.token)
	f.seed(t, tabA)

	engineA := newEngine(t, f, tabA)
	engineB := newEngine(t, f, tabB)
	eventsB := listen(t, f, tabB, models.BoardRoom(f.board.ID))

	require.True(t, engineA.RequestListReorder(f.lists[2].ID, 0))
	engineA.Wait()

	ev := recv(t, eventsB)
	require.Equal(t, models.EventListReordered, ev.Type)
	want := []string{f.lists[2].ID, f.lists[0].ID, f.lists[1].ID}
	assert.Equal(t, want, models.ListRefIDs(ev.ListOrder))
	assert.True(t, engineB.ApplyPush(ev))
	assert.Equal(t, want, engineB.Store().ListIDs())
}

func TestTwoTabs_TaskUnlockPush(t *testing.T) {
	f := newServer(t)
	ctx := context.Background()
	tabA := New(f.url, f.token)
	tabB := New(f.url, f.token)
	f.seed(t, tabA)
	cardID := f.cards[3].ID

	t1, err := tabA.AddTask(ctx, cardID, models.NewTask{Title: "design"})
	require.NoError(t, err)
	t2, err := tabA.AddTask(ctx, cardID, models.NewTask{
		Title: "build", DependsOn: t1.ID, AutoAssignOnUnlock: true, AssignToOnUnlock: []string{"u1"},
	})
	require.NoError(t, err)

	engineA := newEngine(t, f, tabA)
	engineB := newEngine(t, f, tabB)
	engineA.OpenCard(cardID)
	engineB.OpenCard(cardID)
	eventsB := listen(t, f, tabB, models.CardRoom(cardID))

	var alerts []state.Change
	engineA.Subscribe(func(ch state.Change) {
		if ch.Kind == state.ChangeAlert {
			alerts = append(alerts, ch)
		}
	})

	require.True(t, engineA.ToggleTaskCompletion(t1.ID))
	engineA.Wait()
	assert.Empty(t, alerts)

	for i := 0; i < 2; i++ {
		engineB.ApplyPush(recv(t, eventsB))
	}
	got, _, ok := engineB.Store().Task(t2.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"u1"}, got.AssignedTo)

	// a locked toggle never reaches the server
	require.True(t, engineB.ToggleTaskCompletion(t1.ID))
	engineB.Wait()
	assert.False(t, engineB.ToggleTaskCompletion(t2.ID))
}
