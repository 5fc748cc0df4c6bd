package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/CrowderSoup/boardsync/database"
	"github.com/CrowderSoup/boardsync/models"
)

// BoardStore is the persistence the handlers need
type BoardStore interface {
	CreateBoard(ctx context.Context, ownerID string, in models.NewBoard) (*models.Board, error)
	GetBoard(ctx context.Context, boardID string) (*models.BoardSnapshot, error)
	CreateList(ctx context.Context, boardID, name string, position int, settings models.ListSettings) (*models.List, error)
	DeleteList(ctx context.Context, listID string) (string, error)
	CreateCard(ctx context.Context, listID, title string, position int) (*models.Card, error)
	DeleteCard(ctx context.Context, cardID string) (string, error)
	MoveCard(ctx context.Context, cardID, targetListID string, position int) (*models.Placement, error)
	ReorderCard(ctx context.Context, cardID string, position int) (*models.Placement, error)
	ReorderList(ctx context.Context, listID string, position int, listOrder []string) (*models.Placement, []string, error)
	BoardOfCard(ctx context.Context, cardID string) (string, error)

	AddTask(ctx context.Context, cardID string, in models.NewTask) (*models.Task, error)
	UpdateTask(ctx context.Context, cardID, taskID string, upd models.TaskUpdate) (*database.TaskChange, error)
	DeleteTask(ctx context.Context, cardID, taskID string) (*database.TaskChange, error)
	AddSubtask(ctx context.Context, cardID, taskID, title string) (*models.Task, error)
	UpdateSubtask(ctx context.Context, cardID, taskID, subtaskID string, upd models.SubtaskUpdate) (*models.Task, error)
	DeleteSubtask(ctx context.Context, cardID, taskID, subtaskID string) (*models.Task, error)
}

// Publisher fans push events out to a room
type Publisher interface {
	Publish(room string, ev models.PushEvent, excludeClientID string)
}

// BoardHandler serves boards, lists, cards and their ordering
type BoardHandler struct {
	store BoardStore
	hub   Publisher
	log   zerolog.Logger
}

func NewBoardHandler(store BoardStore, hub Publisher, log zerolog.Logger) *BoardHandler {
	return &BoardHandler{store: store, hub: hub, log: log.With().Str("component", "handlers").Logger()}
}

func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.GetBoard(r.Context(), mux.Vars(r)["boardId"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *BoardHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r)
	var req models.NewBoard
	if !decode(w, r, &req) {
		return
	}
	b, err := h.store.CreateBoard(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *BoardHandler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string              `json:"name"`
		Position *int                `json:"position"`
		Settings models.ListSettings `json:"settings"`
	}
	if !decode(w, r, &req) {
		return
	}
	l, err := h.store.CreateList(r.Context(), mux.Vars(r)["boardId"], req.Name, positionOrEnd(req.Position), req.Settings)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.Publish(models.BoardRoom(l.BoardID), models.PushEvent{
		Type:     models.EventListCreated,
		BoardID:  l.BoardID,
		ListID:   l.ID,
		Position: l.Position / models.PositionStep,
		List:     l,
	}, clientID(r))
	writeJSON(w, http.StatusCreated, l)
}

func (h *BoardHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	listID := mux.Vars(r)["listId"]
	boardID, err := h.store.DeleteList(r.Context(), listID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.Publish(models.BoardRoom(boardID), models.PushEvent{
		Type:    models.EventListDeleted,
		BoardID: boardID,
		ListID:  listID,
	}, clientID(r))
	w.WriteHeader(http.StatusNoContent)
}

func (h *BoardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		Position *int   `json:"position"`
	}
	if !decode(w, r, &req) {
		return
	}
	c, err := h.store.CreateCard(r.Context(), mux.Vars(r)["listId"], req.Title, positionOrEnd(req.Position))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if boardID, err := h.store.BoardOfCard(r.Context(), c.ID); err != nil {
		h.log.Warn().Err(err).Str("card", c.ID).Msg("card created but not pushed")
	} else {
		h.hub.Publish(models.BoardRoom(boardID), models.PushEvent{
			Type:     models.EventCardCreated,
			BoardID:  boardID,
			CardID:   c.ID,
			ListID:   c.ListID,
			Position: c.Position / models.PositionStep,
			Card:     c,
		}, clientID(r))
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *BoardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	cardID := mux.Vars(r)["cardId"]
	boardID, err := h.store.DeleteCard(r.Context(), cardID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.Publish(models.BoardRoom(boardID), models.PushEvent{
		Type:    models.EventCardDeleted,
		BoardID: boardID,
		CardID:  cardID,
	}, clientID(r))
	w.WriteHeader(http.StatusNoContent)
}

// MoveCard moves a card to position of another list, or of its own
func (h *BoardHandler) MoveCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetListID string `json:"targetListId"`
		Position     int    `json:"position"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.TargetListID == "" {
		badRequest(w, "targetListId is required")
		return
	}
	cardID := mux.Vars(r)["cardId"]
	p, err := h.store.MoveCard(r.Context(), cardID, req.TargetListID, req.Position)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.publishCardMoved(r, cardID, p)
	writeJSON(w, http.StatusOK, p)
}

func (h *BoardHandler) ReorderCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position int `json:"position"`
	}
	if !decode(w, r, &req) {
		return
	}
	cardID := mux.Vars(r)["cardId"]
	p, err := h.store.ReorderCard(r.Context(), cardID, req.Position)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.publishCardMoved(r, cardID, p)
	writeJSON(w, http.StatusOK, p)
}

func (h *BoardHandler) ReorderList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position  int              `json:"position"`
		ListOrder []models.ListRef `json:"listOrder"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, order, err := h.store.ReorderList(r.Context(), mux.Vars(r)["listId"], req.Position, models.ListRefIDs(req.ListOrder))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.Publish(models.BoardRoom(p.BoardID), models.PushEvent{
		Type:      models.EventListReordered,
		BoardID:   p.BoardID,
		ListOrder: models.ListRefs(order),
	}, clientID(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"boardId":   p.BoardID,
		"position":  p.Position,
		"listOrder": models.ListRefs(order),
	})
}

func (h *BoardHandler) publishCardMoved(r *http.Request, cardID string, p *models.Placement) {
	h.hub.Publish(models.BoardRoom(p.BoardID), models.PushEvent{
		Type:     models.EventCardMoved,
		BoardID:  p.BoardID,
		CardID:   cardID,
		ListID:   p.ListID,
		Position: p.Position,
	}, clientID(r))
}

func positionOrEnd(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
