// Package client is a typed client for the boardsync REST API. Client
// satisfies reconcile.Remote, so an Engine can persist through it directly.
//
// Every request carries the bearer token and the X-Client-ID header; the
// same client id given to PushListener keeps the server from echoing a
// tab's own changes back to it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/CrowderSoup/boardsync/models"
)

const clientIDHeader = "X-Client-ID"

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error: status=%d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: status=%d, body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type Client struct {
	baseURL    string
	authToken  string
	clientID   string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientID sets the id shared with the push connection
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

func New(baseURL, authToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		clientID:   uuid.NewString(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ClientID() string { return c.clientID }

// doRequest performs an HTTP request with proper headers
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.clientID != "" {
		req.Header.Set(clientIDHeader, c.clientID)
	}
	return c.httpClient.Do(req)
}

// decodeResponse decodes the JSON response into target
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, target any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, target)
}

func esc(s string) string { return url.PathEscape(s) }

func (c *Client) GetBoard(ctx context.Context, boardID string) (*models.BoardSnapshot, error) {
	var snap models.BoardSnapshot
	if err := c.call(ctx, http.MethodGet, "/api/boards/"+esc(boardID), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) CreateBoard(ctx context.Context, in models.NewBoard) (*models.Board, error) {
	var b models.Board
	if err := c.call(ctx, http.MethodPost, "/api/boards", in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// MoveCard moves a card to index position of targetListID
func (c *Client) MoveCard(ctx context.Context, cardID, targetListID string, position int) error {
	body := map[string]any{"targetListId": targetListID, "position": position}
	return c.call(ctx, http.MethodPut, "/api/cards/"+esc(cardID)+"/move", body, nil)
}

func (c *Client) ReorderCard(ctx context.Context, cardID string, position int) error {
	return c.call(ctx, http.MethodPut, "/api/cards/"+esc(cardID)+"/reorder", map[string]any{"position": position}, nil)
}

// ReorderList moves a list; listOrder is the full resulting order and may be nil
func (c *Client) ReorderList(ctx context.Context, listID string, position int, listOrder []string) error {
	body := map[string]any{"position": position}
	if listOrder != nil {
		body["listOrder"] = models.ListRefs(listOrder)
	}
	return c.call(ctx, http.MethodPut, "/api/lists/"+esc(listID)+"/reorder", body, nil)
}

// CreateList inserts a list at position; a negative position appends
func (c *Client) CreateList(ctx context.Context, boardID, name string, position int) (*models.List, error) {
	body := map[string]any{"name": name}
	if position >= 0 {
		body["position"] = position
	}
	var l models.List
	if err := c.call(ctx, http.MethodPost, "/api/boards/"+esc(boardID)+"/lists", body, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) DeleteList(ctx context.Context, listID string) error {
	return c.call(ctx, http.MethodDelete, "/api/lists/"+esc(listID), nil, nil)
}

// CreateCard inserts a card at position; a negative position appends
func (c *Client) CreateCard(ctx context.Context, listID, title string, position int) (*models.Card, error) {
	body := map[string]any{"title": title}
	if position >= 0 {
		body["position"] = position
	}
	var card models.Card
	if err := c.call(ctx, http.MethodPost, "/api/lists/"+esc(listID)+"/cards", body, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) DeleteCard(ctx context.Context, cardID string) error {
	return c.call(ctx, http.MethodDelete, "/api/cards/"+esc(cardID), nil, nil)
}

func taskPath(cardID, taskID string) string {
	return "/api/cards/" + esc(cardID) + "/tasks/" + esc(taskID)
}

func (c *Client) AddTask(ctx context.Context, cardID string, in models.NewTask) (*models.Task, error) {
	var t models.Task
	if err := c.call(ctx, http.MethodPost, "/api/cards/"+esc(cardID)+"/tasks", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask sends only the fields set in update and returns the
// server-resolved task
func (c *Client) UpdateTask(ctx context.Context, cardID, taskID string, update models.TaskUpdate) (*models.Task, error) {
	var t models.Task
	if err := c.call(ctx, http.MethodPut, taskPath(cardID, taskID), update, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTask(ctx context.Context, cardID, taskID string) error {
	return c.call(ctx, http.MethodDelete, taskPath(cardID, taskID), nil, nil)
}

func (c *Client) AddSubtask(ctx context.Context, cardID, taskID, title string) (*models.Task, error) {
	var t models.Task
	if err := c.call(ctx, http.MethodPost, taskPath(cardID, taskID)+"/subtasks", map[string]string{"title": title}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) UpdateSubtask(ctx context.Context, cardID, taskID, subtaskID string, update models.SubtaskUpdate) (*models.Task, error) {
	var t models.Task
	if err := c.call(ctx, http.MethodPut, taskPath(cardID, taskID)+"/subtasks/"+esc(subtaskID), update, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteSubtask(ctx context.Context, cardID, taskID, subtaskID string) (*models.Task, error) {
	var t models.Task
	if err := c.call(ctx, http.MethodDelete, taskPath(cardID, taskID)+"/subtasks/"+esc(subtaskID), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
