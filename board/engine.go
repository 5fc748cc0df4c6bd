// Package board wires the gesture router, the optimistic store and the
// reconciler into one engine for an open board.
//
// Every request is applied to the store synchronously, before the matching
// network call starts. Network results never block the caller.
package board

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/CrowderSoup/boardsync/board/gesture"
	"github.com/CrowderSoup/boardsync/board/lock"
	"github.com/CrowderSoup/boardsync/board/order"
	"github.com/CrowderSoup/boardsync/board/reconcile"
	"github.com/CrowderSoup/boardsync/board/state"
	"github.com/CrowderSoup/boardsync/models"
)

type Engine struct {
	boardID string
	store   *state.Store
	rec     *reconcile.Reconciler
	router  *gesture.Router
	log     zerolog.Logger
}

type Config struct {
	BoardID       string
	Remote        reconcile.Remote
	Logger        zerolog.Logger
	ReloadTimeout time.Duration
}

// New creates an engine for cfg.BoardID. Call Load before using it.
func New(ctx context.Context, cfg Config) *Engine {
	log := cfg.Logger.With().Str("board", cfg.BoardID).Logger()
	store := state.New(log)
	e := &Engine{
		boardID: cfg.BoardID,
		store:   store,
		rec:     reconcile.New(ctx, cfg.BoardID, cfg.Remote, store, log, reconcile.WithReloadTimeout(cfg.ReloadTimeout)),
		log:     log.With().Str("component", "engine").Logger(),
	}
	e.router = gesture.NewRouter(store, e, log)
	return e
}

// Load fetches the canonical board and replaces local state with it
func (e *Engine) Load(ctx context.Context) error {
	return e.rec.Reload(ctx)
}

// Reload is Load under the name used after a failure banner is dismissed
func (e *Engine) Reload(ctx context.Context) error {
	return e.rec.Reload(ctx)
}

func (e *Engine) Snapshot() models.BoardSnapshot { return e.store.Snapshot() }

// Subscribe registers fn for every state change, including alerts
func (e *Engine) Subscribe(fn func(state.Change)) func() { return e.store.Subscribe(fn) }

// Router returns the gesture router feeding this engine
func (e *Engine) Router() *gesture.Router { return e.router }

// Store exposes the underlying store for read access
func (e *Engine) Store() *state.Store { return e.store }

// Wait blocks until all in-flight persistence has finished
func (e *Engine) Wait() { e.rec.Wait() }

// RequestCardMove moves cardID to index of listID and persists the move.
// It reports whether anything changed.
func (e *Engine) RequestCardMove(cardID, listID string, index int) bool {
	current, ok := e.store.ListOf(cardID)
	if !ok || !e.store.HasList(listID) {
		return false
	}
	return e.moveCard(gesture.CardMove{
		CardID:     cardID,
		FromListID: current,
		ToListID:   listID,
		Index:      index,
		CrossList:  current != listID,
	})
}

// RequestListReorder moves listID to index in the board order
func (e *Engine) RequestListReorder(listID string, index int) bool {
	from := order.IndexOf(e.store.ListIDs(), listID)
	if from < 0 {
		return false
	}
	return e.reorderList(gesture.ListMove{ListID: listID, FromIndex: from, ToIndex: index})
}

func (e *Engine) moveCard(m gesture.CardMove) bool {
	current, ok := e.store.ListOf(m.CardID)
	if !ok {
		return false
	}

	if current == m.ToListID {
		seq := e.store.CardIDs(current)
		next, moved := order.ReorderWithinList(seq, order.IndexOf(seq, m.CardID), m.Index)
		if moved {
			err := e.store.ApplyOptimistic(state.Mutation{
				Kind:      state.CardReorder,
				CardID:    m.CardID,
				ListID:    current,
				Sequences: map[string][]string{current: next},
			})
			if err != nil {
				e.log.Error().Err(err).Str("card", m.CardID).Msg("reorder rejected")
				return false
			}
			seq = next
		}
		pos := order.IndexOf(seq, m.CardID)
		switch {
		case m.CrossList:
			// a hover already moved the card here; the server has not seen it
			e.rec.MoveCard(m.CardID, current, pos)
			return true
		case moved:
			e.rec.ReorderCard(m.CardID, pos)
			return true
		}
		return false
	}

	src, dst, err := order.MoveAcrossLists(m.CardID, e.store.CardIDs(current), e.store.CardIDs(m.ToListID), m.Index)
	if err != nil {
		e.log.Warn().Err(err).Str("card", m.CardID).Msg("cross-list move ignored")
		return false
	}
	err = e.store.ApplyOptimistic(state.Mutation{
		Kind:   state.CardMove,
		CardID: m.CardID,
		ListID: m.ToListID,
		Sequences: map[string][]string{
			current:    src,
			m.ToListID: dst,
		},
	})
	if err != nil {
		e.log.Error().Err(err).Str("card", m.CardID).Msg("move rejected")
		return false
	}
	e.rec.MoveCard(m.CardID, m.ToListID, order.IndexOf(dst, m.CardID))
	return true
}

func (e *Engine) reorderList(m gesture.ListMove) bool {
	next, ok := order.ReorderLists(e.store.ListIDs(), m.FromIndex, m.ToIndex)
	if !ok {
		return false
	}
	err := e.store.ApplyOptimistic(state.Mutation{Kind: state.ListReorder, ListID: m.ListID, ListOrder: next})
	if err != nil {
		e.log.Error().Err(err).Str("list", m.ListID).Msg("list reorder rejected")
		return false
	}
	e.rec.ReorderList(m.ListID, order.IndexOf(next, m.ListID), next)
	return true
}

// DragBegan protects the dragged entity from push merges
func (e *Engine) DragBegan(entityID string, kind gesture.Kind) {
	e.store.MarkPending(entityID)
	e.log.Debug().Str("entity", entityID).Stringer("kind", kind).Msg("drag began")
}

func (e *Engine) DragFinished(entityID string) {
	e.store.ClearPending(entityID)
}

// CardHovered applies live feedback only
func (e *Engine) CardHovered(m gesture.CardMove) {
	src, dst, err := order.MoveAcrossLists(m.CardID, e.store.CardIDs(m.FromListID), e.store.CardIDs(m.ToListID), m.Index)
	if err != nil {
		return
	}
	err = e.store.ApplyOptimistic(state.Mutation{
		Kind:   state.CardMove,
		CardID: m.CardID,
		ListID: m.ToListID,
		Sequences: map[string][]string{
			m.FromListID: src,
			m.ToListID:   dst,
		},
	})
	if err != nil {
		e.log.Error().Err(err).Str("card", m.CardID).Msg("hover move rejected")
	}
}

func (e *Engine) CardDropped(m gesture.CardMove) { e.moveCard(m) }

func (e *Engine) ListDropped(m gesture.ListMove) { e.reorderList(m) }

// ToggleTaskCompletion flips a task's completion. A locked task is left
// untouched. Dependents unlocked by the change are auto-assigned locally;
// only the toggled task is sent to the server.
func (e *Engine) ToggleTaskCompletion(taskID string) bool {
	task, cardID, ok := e.store.Task(taskID)
	if !ok {
		return false
	}
	completed := !task.Completed
	res, err := lock.Apply(e.store.Tasks(cardID), taskID, completed)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			e.log.Debug().Str("task", taskID).Msg("toggle on locked task ignored")
		}
		return false
	}
	if !res.Changed {
		return false
	}
	if err := e.store.SetTasks(cardID, res.Tasks); err != nil {
		return false
	}
	if len(res.AutoAssigned) > 0 {
		e.log.Info().Str("task", taskID).Strs("assigned", res.AutoAssigned).Msg("dependents auto-assigned")
	}
	e.rec.UpdateTask(cardID, taskID, models.TaskUpdate{Completed: &completed})
	return true
}

// AssignTask replaces a task's assignees. Locked tasks return lock.ErrLocked.
func (e *Engine) AssignTask(taskID string, userIDs []string) error {
	task, cardID, ok := e.store.Task(taskID)
	if !ok {
		return state.ErrUnknownEntity
	}
	if lock.IsLocked(task, e.store.Tasks(cardID)) {
		return lock.ErrLocked
	}
	assignees := append([]string{}, userIDs...)
	task.AssignedTo = assignees
	e.store.UpsertTask(cardID, task)
	e.rec.UpdateTask(cardID, taskID, models.TaskUpdate{AssignedTo: &assignees})
	return nil
}

// OpenCard selects the card whose task events are merged
func (e *Engine) OpenCard(cardID string) { e.store.OpenCard(cardID) }

// ApplyPush merges a collaborator's change by entity id. It reports whether
// the store changed.
func (e *Engine) ApplyPush(ev models.PushEvent) bool {
	switch ev.Type {
	case models.EventTaskCreated, models.EventTaskUpdated:
		if ev.Task == nil || !e.forOpenCard(ev.CardID) || e.store.IsPending(ev.Task.ID) {
			return false
		}
		return e.store.UpsertTask(ev.CardID, *ev.Task)
	case models.EventTaskDeleted:
		if !e.forOpenCard(ev.CardID) || e.store.IsPending(ev.TaskID) {
			return false
		}
		return e.store.RemoveTask(ev.CardID, ev.TaskID)
	case models.EventCardMoved:
		if !e.forBoard(ev.BoardID) {
			return false
		}
		return e.store.MergeCardMove(ev.CardID, ev.ListID, ev.Position)
	case models.EventListReordered:
		if !e.forBoard(ev.BoardID) {
			return false
		}
		return e.store.MergeListOrder(models.ListRefIDs(ev.ListOrder))
	case models.EventListCreated:
		if ev.List == nil || !e.forBoard(ev.BoardID) {
			return false
		}
		return e.store.MergeListCreated(*ev.List, ev.Position)
	case models.EventListDeleted:
		if !e.forBoard(ev.BoardID) {
			return false
		}
		return e.store.MergeListDeleted(ev.ListID)
	case models.EventCardCreated:
		if ev.Card == nil || !e.forBoard(ev.BoardID) {
			return false
		}
		return e.store.MergeCardCreated(*ev.Card, ev.Position)
	case models.EventCardDeleted:
		if !e.forBoard(ev.BoardID) {
			return false
		}
		return e.store.MergeCardDeleted(ev.CardID)
	}
	e.log.Debug().Str("type", ev.Type).Msg("unknown push event")
	return false
}

func (e *Engine) forOpenCard(cardID string) bool {
	return cardID != "" && cardID == e.store.OpenCardID()
}

func (e *Engine) forBoard(boardID string) bool {
	return boardID == "" || boardID == e.boardID
}
