package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CrowderSoup/boardsync/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one websocket connection. ClientID is chosen by the browser tab
// and sent on REST calls too, so the tab does not receive its own echoes.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   string
	ClientID string

	// rooms is owned by the hub goroutine
	rooms map[string]bool

	// pong is never closed; only the hub sends on Send
	pong chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, clientID string) *Client {
	return &Client{
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		UserID:   userID,
		ClientID: clientID,
		rooms:    map[string]bool{},
		pong:     make(chan struct{}, 1),
	}
}

// ClientMessage is what a client may send: join or leave a room, or ping
type ClientMessage struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

type subscription struct {
	client *Client
	room   string
	join   bool
}

type envelope struct {
	room    string
	exclude string
	payload []byte
}

// ReadPump pumps messages from the websocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn().Err(err).Str("client", c.ClientID).Msg("websocket error")
			}
			return
		}

		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.Hub.log.Debug().Err(err).Str("client", c.ClientID).Msg("malformed client message")
		return
	}

	switch msg.Type {
	case "join":
		c.Hub.Join(c, msg.Room)
	case "leave":
		c.Hub.Leave(c, msg.Room)
	case "ping":
		select {
		case c.pong <- struct{}{}:
		default:
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection. Each
// push event is its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.pong:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			pong, _ := json.Marshal(map[string]string{"type": "pong", "timestamp": time.Now().Format(time.RFC3339)})
			if err := c.Conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub keeps connected clients grouped in rooms and fans push events out to
// them. All room state is owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	subs       chan subscription
	done       chan struct{}
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan envelope),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subs:       make(chan subscription),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Register adds a client to the hub. After Run has returned it closes the
// client's Send channel instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Join(client *Client, room string) {
	h.subscribe(subscription{client: client, room: room, join: true})
}

func (h *Hub) Leave(client *Client, room string) {
	h.subscribe(subscription{client: client, room: room})
}

func (h *Hub) subscribe(sub subscription) {
	if sub.room == "" {
		return
	}
	select {
	case h.subs <- sub:
	case <-h.done:
	}
}

// Publish sends ev to every client in room except the one whose ClientID
// is excludeClientID. An empty excludeClientID reaches everyone.
func (h *Hub) Publish(room string, ev models.PushEvent, excludeClientID string) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal push event")
		return
	}
	select {
	case h.broadcast <- envelope{room: room, exclude: excludeClientID, payload: payload}:
	case <-h.done:
	}
}

// Run is the hub's main loop; it returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			for room := range client.rooms {
				h.addToRoom(client, room)
			}
			h.log.Info().Str("user", client.UserID).Str("client", client.ClientID).Msg("client connected")
		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Info().Str("user", client.UserID).Str("client", client.ClientID).Msg("client disconnected")
			}
		case sub := <-h.subs:
			if !h.clients[sub.client] {
				continue
			}
			if sub.join {
				h.addToRoom(sub.client, sub.room)
			} else {
				h.removeFromRoom(sub.client, sub.room)
			}
		case env := <-h.broadcast:
			for client := range h.rooms[env.room] {
				if env.exclude != "" && client.ClientID == env.exclude {
					continue
				}
				select {
				case client.Send <- env.payload:
				default:
					// Client's send buffer is full, assume disconnected
					h.log.Warn().Str("client", client.ClientID).Msg("send buffer full, removing client")
					h.drop(client)
				}
			}
		}
	}
}

// JoinOnRegister records rooms the client enters as soon as it is
// registered. It must be called before Register.
func (c *Client) JoinOnRegister(rooms ...string) {
	for _, r := range rooms {
		if r != "" {
			c.rooms[r] = true
		}
	}
}

func (h *Hub) addToRoom(client *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
	client.rooms[room] = true
}

func (h *Hub) removeFromRoom(client *Client, room string) {
	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) drop(client *Client) {
	for room := range client.rooms {
		h.removeFromRoom(client, room)
	}
	delete(h.clients, client)
	close(client.Send)
}
