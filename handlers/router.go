package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/CrowderSoup/boardsync/services"
)

// Deps are the collaborators of the HTTP API
type Deps struct {
	Store          BoardStore
	Hub            *services.Hub
	Auth           *services.AuthService
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter builds the full API handler with auth, CORS and request logging
func NewRouter(d Deps) http.Handler {
	boards := NewBoardHandler(d.Store, d.Hub, d.Logger)
	ws := NewWSHandler(d.Hub, d.AllowedOrigins, d.Logger)
	auth := NewAuthMiddleware(d.Auth)

	r := mux.NewRouter()
	r.Use(RequestLogger(d.Logger))

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Auth)

	api.HandleFunc("/auth/verify", VerifyToken).Methods("GET")

	api.HandleFunc("/boards", boards.CreateBoard).Methods("POST")
	api.HandleFunc("/boards/{boardId}", boards.GetBoard).Methods("GET")
	api.HandleFunc("/boards/{boardId}/lists", boards.CreateList).Methods("POST")

	api.HandleFunc("/lists/{listId}", boards.DeleteList).Methods("DELETE")
	api.HandleFunc("/lists/{listId}/reorder", boards.ReorderList).Methods("PUT")
	api.HandleFunc("/lists/{listId}/cards", boards.CreateCard).Methods("POST")

	api.HandleFunc("/cards/{cardId}", boards.DeleteCard).Methods("DELETE")
	api.HandleFunc("/cards/{cardId}/move", boards.MoveCard).Methods("PUT")
	api.HandleFunc("/cards/{cardId}/reorder", boards.ReorderCard).Methods("PUT")

	api.HandleFunc("/cards/{cardId}/tasks", boards.AddTask).Methods("POST")
	api.HandleFunc("/cards/{cardId}/tasks/{taskId}", boards.UpdateTask).Methods("PUT")
	api.HandleFunc("/cards/{cardId}/tasks/{taskId}", boards.DeleteTask).Methods("DELETE")
	api.HandleFunc("/cards/{cardId}/tasks/{taskId}/subtasks", boards.AddSubtask).Methods("POST")
	api.HandleFunc("/cards/{cardId}/tasks/{taskId}/subtasks/{subtaskId}", boards.UpdateSubtask).Methods("PUT")
	api.HandleFunc("/cards/{cardId}/tasks/{taskId}/subtasks/{subtaskId}", boards.DeleteSubtask).Methods("DELETE")

	// WebSocket route for live updates
	api.HandleFunc("/ws", ws.HandleWebSocket)

	c := cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", ClientIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
