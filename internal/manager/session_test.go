package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"todo-sync/internal/models"
	"todo-sync/internal/storage"
	"todo-sync/internal/view"
)

var viewAll = view.Options{AllIncludesCompleted: true}

func TestOpenRequiresUser(t *testing.T) {
	backend := newCountingBackend()

	_, err := Open(backend, "", Options{})
	assert.Equal(t, errors.Is(err, models.ErrUnauthenticated), true)
	assert.Equal(t, backend.callCount(), 0)

	_, err = NewSession(" ", newFakeChannel(), Options{})
	assert.Equal(t, errors.Is(err, models.ErrUnauthenticated), true)
}

func TestSessionView(t *testing.T) {
	ch := newFakeChannel(milk, bill)

	t.Run("all includes completed", func(t *testing.T) {
		s, err := NewSession("u1", ch, Options{View: viewAll})
		if err != nil {
			t.Fatalf("session: %v", err)
		}
		defer s.Close()

		assert.Equal(t, taskIDs(s.View("", view.All)), []string{"a", "b"})
		assert.Equal(t, taskIDs(s.View("milk", view.All)), []string{"a"})
		assert.Equal(t, taskIDs(s.View("", view.Done)), []string{"b"})
		assert.Equal(t, taskIDs(s.View("", "Finance")), []string{"b"})
	})

	t.Run("all excludes completed", func(t *testing.T) {
		s, err := NewSession("u1", ch, Options{})
		if err != nil {
			t.Fatalf("session: %v", err)
		}
		defer s.Close()

		assert.Equal(t, taskIDs(s.View("", view.All)), []string{"a"})
	})
}

func TestSessionLiveView(t *testing.T) {
	ch := newFakeChannel(milk, bill)
	var shown [][]string
	s, err := NewSession("u1", ch, Options{
		View:   viewAll,
		OnView: func(tasks []models.Task) { shown = append(shown, taskIDs(tasks)) },
	})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	s.Live().SetSelector(view.Done)
	ch.set(milk, bill, models.Task{ID: "c", TaskName: "Done too", Type: "Home", Check: true})
	ch.emit()

	assert.Equal(t, shown, [][]string{{"a", "b"}, {"b"}, {"b", "c"}})
	assert.Equal(t, s.Live().Tabs(), []view.Selector{view.All, view.Done, view.Pending, "Errand", "Finance", "Home"})
}

func TestSessionCloseStopsCallbacks(t *testing.T) {
	ch := newFakeChannel(milk)
	errs := 0
	s, err := NewSession("u1", ch, Options{OnError: func(error) { errs++ }})
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	s.Close()
	s.Close()
	assert.Equal(t, ch.activeSubs(), 0)

	ch.set(bill)
	ch.emit()
	ch.emitError(errors.New("late"))
	assert.Equal(t, taskIDs(s.Cache.CurrentTasks()), []string{"a"})
	assert.Equal(t, errs, 0)
}

func TestSessionOnMemoryBackend(t *testing.T) {
	backend := storage.NewMemory()
	defer backend.Close()

	updates := make(chan []models.Task, 16)
	s, err := Open(backend, "u1", Options{View: viewAll, OnView: func(tasks []models.Task) { updates <- tasks }})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Cache.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}

	id, err := s.Mutator.CreateTask(ctx, validDraft())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, updates, func(tasks []models.Task) bool { return len(tasks) == 1 })

	if err := s.Mutator.SetCompletion(ctx, id, true); err != nil {
		t.Fatalf("check: %v", err)
	}
	waitFor(t, updates, func(tasks []models.Task) bool { return len(tasks) == 1 && tasks[0].Check })

	if err := s.Mutator.DeleteTask(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, updates, func(tasks []models.Task) bool { return len(tasks) == 0 })
}

func waitFor(t *testing.T, updates <-chan []models.Task, cond func([]models.Task) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tasks := <-updates:
			if cond(tasks) {
				return
			}
		case <-deadline:
			t.Fatal("view never reached the expected state")
		}
	}
}
