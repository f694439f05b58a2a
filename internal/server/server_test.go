package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"todo-sync/internal/auth"
	"todo-sync/internal/models"
	"todo-sync/internal/storage"
	"todo-sync/internal/view"
)

const testLoginKey = "test-login-key"

type harness struct {
	t        *testing.T
	ts       *httptest.Server
	backend  *storage.Memory
	token    string
	loginKey string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarnessWith(t, Login{Key: testLoginKey})
	h.loginKey = testLoginKey
	return h
}

func newHarnessWith(t *testing.T, login Login) *harness {
	t.Helper()
	tokens, err := auth.NewTokens("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	backend := storage.NewMemory()
	seed := []models.Draft{{TaskName: "Test Task", Type: "Test", Time: "09:30 AM", Description: "test"}}
	ts := httptest.NewServer(New(backend, tokens, login, seed, view.Options{AllIncludesCompleted: true}))
	t.Cleanup(func() {
		ts.Close()
		backend.Close()
	})
	return &harness{t: t, ts: ts, backend: backend}
}

func (h *harness) request(method, path string, body any) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, h.ts.URL+path, &buf)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if h.loginKey != "" && path == "/api/v1/login" {
		req.Header.Set(LoginKeyHeader, h.loginKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) login(uid string) loginResponse {
	h.t.Helper()
	resp := h.request(http.MethodPost, "/api/v1/login", map[string]string{"uid": uid, "fullName": "Tester"})
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("login status %d", resp.StatusCode)
	}
	var out loginResponse
	json.NewDecoder(resp.Body).Decode(&out)
	h.token = out.Token
	return out
}

func (h *harness) tasks(query string) []models.Task {
	h.t.Helper()
	resp := h.request(http.MethodGet, "/api/v1/tasks"+query, nil)
	assert.Equal(h.t, resp.StatusCode, http.StatusOK)
	var tasks []models.Task
	json.NewDecoder(resp.Body).Decode(&tasks)
	return tasks
}

func decodeErr(resp *http.Response) models.ErrorBody {
	var body models.ErrorBody
	json.NewDecoder(resp.Body).Decode(&body)
	return body
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp := h.request(http.MethodGet, "/health", nil)
	assert.Equal(t, resp.StatusCode, http.StatusOK)
}

func TestRequiresToken(t *testing.T) {
	h := newHarness(t)

	resp := h.request(http.MethodGet, "/api/v1/tasks", nil)
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)
	assert.Equal(t, decodeErr(resp).Code, models.CodeUnauthenticated)

	h.token = "forged"
	resp = h.request(http.MethodPost, "/api/v1/tasks", models.Draft{TaskName: "x", Type: "y", Time: "z"})
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)

	resp = h.request(http.MethodPost, "/api/v1/login", map[string]string{"uid": " "})
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)
}

func TestLoginSeedsOnce(t *testing.T) {
	h := newHarness(t)

	first := h.login("u1")
	assert.Equal(t, first.Created, true)
	tasks := h.tasks("")
	assert.Equal(t, len(tasks), 1)
	assert.Equal(t, tasks[0].TaskName, "Test Task")

	second := h.login("u1")
	assert.Equal(t, second.Created, false)
	assert.Equal(t, len(h.tasks("")), 1)

	resp := h.request(http.MethodGet, "/api/v1/me", nil)
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	var p models.Profile
	json.NewDecoder(resp.Body).Decode(&p)
	assert.Equal(t, p.FullName, "Tester")
}

func TestLoginRequiresKey(t *testing.T) {
	h := newHarnessWith(t, Login{Key: testLoginKey})

	resp := h.request(http.MethodPost, "/api/v1/login", map[string]string{"uid": "u1"})
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)
	assert.Equal(t, decodeErr(resp).Code, models.CodeUnauthenticated)

	h.loginKey = "not-the-key"
	resp = h.request(http.MethodPost, "/api/v1/login", map[string]string{"uid": "u1"})
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)

	_, err := h.backend.GetUser(context.Background(), "u1")
	assert.Equal(t, errors.Is(err, models.ErrUnauthenticated), true)

	h.loginKey = testLoginKey
	assert.Equal(t, h.login("u1").Created, true)
}

func TestOpenLoginKeepsExistingProfile(t *testing.T) {
	h := newHarnessWith(t, Login{Open: true})
	ctx := context.Background()

	first := h.login("u1")
	assert.Equal(t, first.Created, true)
	own := first.Token

	t.Run("anonymous login for existing uid is refused", func(t *testing.T) {
		h.token = ""
		resp := h.request(http.MethodPost, "/api/v1/login", map[string]string{"uid": "u1", "fullName": "Mallory"})
		assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)

		p, err := h.backend.GetUser(ctx, "u1")
		assert.Equal(t, err, nil)
		assert.Equal(t, p.FullName, "Tester")
	})

	t.Run("token of another user is refused", func(t *testing.T) {
		h.token = ""
		h.login("u2")
		resp := h.request(http.MethodPost, "/api/v1/login", map[string]string{"uid": "u1", "fullName": "Mallory"})
		assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)
	})

	t.Run("own token refreshes", func(t *testing.T) {
		h.token = own
		again := h.login("u1")
		assert.Equal(t, again.Created, false)
		assert.NotEqual(t, again.Token, "")
	})
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t)
	h.login("u1")

	resp := h.request(http.MethodPost, "/api/v1/tasks", models.Draft{TaskName: "No type", Time: "10:00"})
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)
	body := decodeErr(resp)
	assert.Equal(t, body.Code, models.CodeValidation)
	assert.Equal(t, body.Field, "type")

	resp = h.request(http.MethodPost, "/api/v1/tasks", models.Draft{TaskName: "Buy milk", Type: "Errand", Time: "18:00"})
	assert.Equal(t, resp.StatusCode, http.StatusCreated)
	var created struct{ ID string }
	json.NewDecoder(resp.Body).Decode(&created)
	assert.NotEqual(t, created.ID, "")

	resp = h.request(http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	resp = h.request(http.MethodPut, "/api/v1/tasks/"+created.ID+"/check", map[string]bool{"check": true})
	assert.Equal(t, resp.StatusCode, http.StatusNoContent)

	done := h.tasks("?selector=Done")
	assert.Equal(t, len(done), 1)
	assert.Equal(t, done[0].ID, created.ID)

	name := "Buy oat milk"
	resp = h.request(http.MethodPatch, "/api/v1/tasks/"+created.ID, models.Patch{TaskName: &name})
	assert.Equal(t, resp.StatusCode, http.StatusNoContent)
	found := h.tasks("?q=OAT")
	assert.Equal(t, len(found), 1)
	assert.Equal(t, found[0].Check, true)

	resp = h.request(http.MethodGet, "/api/v1/types", nil)
	var types []string
	json.NewDecoder(resp.Body).Decode(&types)
	assert.Equal(t, types, []string{"Test", "Errand"})

	resp = h.request(http.MethodDelete, "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, resp.StatusCode, http.StatusNoContent)
	resp = h.request(http.MethodDelete, "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, resp.StatusCode, http.StatusNoContent)

	resp = h.request(http.MethodPatch, "/api/v1/tasks/"+created.ID, models.Patch{TaskName: &name})
	assert.Equal(t, resp.StatusCode, http.StatusNotFound)
	assert.Equal(t, decodeErr(resp).Code, models.CodeNotFound)

	resp = h.request(http.MethodPut, "/api/v1/tasks/"+created.ID+"/check", map[string]string{})
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)
}

func TestScopesAreIsolated(t *testing.T) {
	h := newHarness(t)
	h.login("alice")
	h.request(http.MethodPost, "/api/v1/tasks", models.Draft{TaskName: "Alice only", Type: "Home", Time: "08:00"})

	h.login("bob")
	for _, task := range h.tasks("") {
		assert.NotEqual(t, task.TaskName, "Alice only")
	}
}

func TestSubscribeStream(t *testing.T) {
	h := newHarness(t)
	h.login("u1")

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/v1/subscribe?access_token=" + h.token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var f models.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	assert.Equal(t, f.Type, models.FrameSnapshot)
	assert.Equal(t, len(f.Tasks), 1)

	h.request(http.MethodPost, "/api/v1/tasks", models.Draft{TaskName: "Pushed", Type: "Test", Time: "11:00"})
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read update: %v", err)
	}
	assert.Equal(t, len(f.Tasks), 2)
	assert.Equal(t, f.Tasks[1].TaskName, "Pushed")

	h.backend.Interrupt("u1", http.ErrServerClosed)
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	assert.Equal(t, f.Type, models.FrameError)
	assert.Equal(t, f.Code, models.CodeChannel)
}

func TestSubscribeRejectsAnonymous(t *testing.T) {
	h := newHarness(t)
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/v1/subscribe"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, resp.StatusCode, http.StatusUnauthorized)
}
