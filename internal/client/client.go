// Package client is a storage.Channel that talks to a todo-sync server. Writes
// go over REST; subscriptions ride a websocket that carries full snapshots.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"todo-sync/internal/models"
	"todo-sync/internal/storage"
)

var _ storage.Channel = (*Client)(nil)

// Client is scoped to the user of its token.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	hub     *storage.Hub

	mu       sync.Mutex
	token    string
	loginKey string
	subs     map[storage.Handle]*remoteSub
}

// loginKeyHeader matches the header the server reads the login key from.
const loginKeyHeader = "X-Login-Key"

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		hub:     storage.NewHub(),
		token:   token,
		subs:    make(map[storage.Handle]*remoteSub),
	}
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetLoginKey makes Login present key, so any uid may be used.
func (c *Client) SetLoginKey(key string) {
	c.mu.Lock()
	c.loginKey = key
	c.mu.Unlock()
}

type loginResponse struct {
	Token   string `json:"token"`
	UID     string `json:"uid"`
	Created bool   `json:"created"`
}

// Login registers p with the server if needed and keeps the returned token.
// It reports whether the account was created. Without a login key the server
// only accepts new uids, or an existing uid together with its current token.
func (c *Client) Login(ctx context.Context, p models.Profile) (bool, error) {
	body := map[string]string{
		"uid":      p.UID,
		"fullName": p.FullName,
		"email":    p.Email,
		"photoUrl": p.PhotoURL,
	}
	var resp loginResponse
	if err := c.do(ctx, "login", http.MethodPost, "/api/v1/login", body, &resp); err != nil {
		return false, err
	}
	c.SetToken(resp.Token)
	return resp.Created, nil
}

func (c *Client) Me(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, "me", http.MethodGet, "/api/v1/me", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Query returns the server-side filtered view.
func (c *Client) Query(ctx context.Context, search, selector string) ([]models.Task, error) {
	q := url.Values{}
	if search != "" {
		q.Set("q", search)
	}
	if selector != "" {
		q.Set("selector", selector)
	}
	path := "/api/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var tasks []models.Task
	if err := c.do(ctx, "list", http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) Types(ctx context.Context) ([]string, error) {
	var types []string
	if err := c.do(ctx, "types", http.MethodGet, "/api/v1/types", nil, &types); err != nil {
		return nil, err
	}
	return types, nil
}

func (c *Client) List(ctx context.Context) (storage.Snapshot, error) {
	tasks, err := c.Query(ctx, "", "")
	if err != nil {
		return nil, err
	}
	return storage.Snapshot(tasks), nil
}

func (c *Client) Create(ctx context.Context, d models.Draft) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "create", http.MethodPost, "/api/v1/tasks", d, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) Update(ctx context.Context, id string, p models.Patch) error {
	path := "/api/v1/tasks/" + url.PathEscape(id)
	if p.Check != nil && p.TaskName == nil && p.Time == nil && p.Type == nil && p.Description == nil {
		return c.do(ctx, "check", http.MethodPut, path+"/check", map[string]bool{"check": *p.Check}, nil)
	}
	return c.do(ctx, "update", http.MethodPatch, path, p, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &models.ChannelError{Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if op == "login" {
		c.mu.Lock()
		key := c.loginKey
		c.mu.Unlock()
		if key != "" {
			req.Header.Set(loginKeyHeader, key)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &models.ChannelError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.ChannelError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func decodeError(op string, resp *http.Response) error {
	var body models.ErrorBody
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Code == "" {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			body.Code = models.CodeUnauthenticated
		case http.StatusBadRequest:
			body.Code = models.CodeValidation
		case http.StatusNotFound:
			body.Code = models.CodeNotFound
		default:
			body.Code = models.CodeChannel
		}
	}
	if body.Error == "" {
		body.Error = resp.Status
	}
	return models.FromCode(op, body.Code, body.Field, body.Error)
}
