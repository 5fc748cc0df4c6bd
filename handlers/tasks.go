package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CrowderSoup/boardsync/database"
	"github.com/CrowderSoup/boardsync/models"
)

func (h *BoardHandler) AddTask(w http.ResponseWriter, r *http.Request) {
	var req models.NewTask
	if !decode(w, r, &req) {
		return
	}
	cardID := mux.Vars(r)["cardId"]
	task, err := h.store.AddTask(r.Context(), cardID, req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.Publish(models.CardRoom(cardID), models.PushEvent{
		Type:   models.EventTaskCreated,
		CardID: cardID,
		TaskID: task.ID,
		Task:   task,
	}, clientID(r))
	writeJSON(w, http.StatusCreated, task)
}

// UpdateTask applies {completed?, assignedTo?, title?}. Dependents changed
// as a side effect are pushed to every client, the sender included.
func (h *BoardHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req models.TaskUpdate
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	cardID := vars["cardId"]
	change, err := h.store.UpdateTask(r.Context(), cardID, vars["taskId"], req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.publishTaskUpdated(cardID, change.Task, clientID(r))
	h.publishDependents(cardID, change)
	writeJSON(w, http.StatusOK, change.Task)
}

func (h *BoardHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cardID, taskID := vars["cardId"], vars["taskId"]
	change, err := h.store.DeleteTask(r.Context(), cardID, taskID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.hub.Publish(models.CardRoom(cardID), models.PushEvent{
		Type:   models.EventTaskDeleted,
		CardID: cardID,
		TaskID: taskID,
	}, clientID(r))
	h.publishDependents(cardID, change)
	w.WriteHeader(http.StatusNoContent)
}

func (h *BoardHandler) AddSubtask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	task, err := h.store.AddSubtask(r.Context(), vars["cardId"], vars["taskId"], req.Title)
	h.respondTask(w, r, vars["cardId"], task, err, http.StatusCreated)
}

func (h *BoardHandler) UpdateSubtask(w http.ResponseWriter, r *http.Request) {
	var req models.SubtaskUpdate
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	task, err := h.store.UpdateSubtask(r.Context(), vars["cardId"], vars["taskId"], vars["subtaskId"], req)
	h.respondTask(w, r, vars["cardId"], task, err, http.StatusOK)
}

func (h *BoardHandler) DeleteSubtask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	task, err := h.store.DeleteSubtask(r.Context(), vars["cardId"], vars["taskId"], vars["subtaskId"])
	h.respondTask(w, r, vars["cardId"], task, err, http.StatusOK)
}

// respondTask answers a subtask write with the parent task and pushes it
func (h *BoardHandler) respondTask(w http.ResponseWriter, r *http.Request, cardID string, task *models.Task, err error, status int) {
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.publishTaskUpdated(cardID, *task, clientID(r))
	writeJSON(w, status, task)
}

func (h *BoardHandler) publishTaskUpdated(cardID string, task models.Task, exclude string) {
	h.hub.Publish(models.CardRoom(cardID), models.PushEvent{
		Type:   models.EventTaskUpdated,
		CardID: cardID,
		TaskID: task.ID,
		Task:   &task,
	}, exclude)
}

func (h *BoardHandler) publishDependents(cardID string, change *database.TaskChange) {
	for _, dep := range change.Dependents {
		h.publishTaskUpdated(cardID, dep, "")
	}
}
