package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CrowderSoup/boardsync/models"
)

const handshakeTimeout = 5 * time.Second

// PushListener receives push events over the server's websocket
type PushListener struct {
	wsURL  string
	token  string
	id     string
	dialer *websocket.Dialer
	log    zerolog.Logger

	conn *websocket.Conn
}

// NewPushListener derives the websocket URL from baseURL (http → ws) and
// uses c's token and client id
func NewPushListener(baseURL string, c *Client, log zerolog.Logger) *PushListener {
	u := strings.Replace(baseURL, "http", "ws", 1) + "/api/ws"
	return &PushListener{
		wsURL:  u,
		token:  c.authToken,
		id:     c.clientID,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("component", "push").Logger(),
	}
}

// Connect dials the server and joins rooms. It returns once the server has
// answered a ping, so the rooms are live when it does.
func (p *PushListener) Connect(ctx context.Context, rooms ...string) error {
	q := url.Values{}
	q.Set("clientId", p.id)
	if len(rooms) > 0 {
		q.Set("rooms", strings.Join(rooms, ","))
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.token)

	conn, resp, err := p.dialer.DialContext(ctx, p.wsURL+"?"+q.Encode(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := handshake(ctx, conn); err != nil {
		conn.Close()
		return err
	}
	p.conn = conn
	return nil
}

func handshake(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("no pong from server: %w", err)
		}
		if msg.Type == "pong" {
			return nil
		}
	}
}

// Join enters a room on an open connection, e.g. models.CardRoom when a card opens
func (p *PushListener) Join(room string) error {
	return p.send("join", room)
}

func (p *PushListener) Leave(room string) error {
	return p.send("leave", room)
}

func (p *PushListener) send(typ, room string) error {
	if p.conn == nil {
		return errors.New("not connected")
	}
	return p.conn.WriteJSON(map[string]string{"type": typ, "room": room})
}

// Listen delivers events to handle until ctx is done or the connection
// drops. It closes the connection on return.
func (p *PushListener) Listen(ctx context.Context, handle func(models.PushEvent)) error {
	if p.conn == nil {
		return errors.New("not connected")
	}
	conn := p.conn
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("push connection lost: %w", err)
		}
		var ev models.PushEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			p.log.Debug().Err(err).Msg("skipping malformed push message")
			continue
		}
		if ev.Type == "pong" {
			continue
		}
		handle(ev)
	}
}
