package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"todo-sync/internal/models"
)

// recorder collects callbacks of one subscription.
type recorder struct {
	snaps chan Snapshot
	errs  chan error
}

func newRecorder() *recorder {
	return &recorder{snaps: make(chan Snapshot, 64), errs: make(chan error, 64)}
}

func (r *recorder) onSnapshot(s Snapshot) { r.snaps <- s }
func (r *recorder) onError(err error)     { r.errs <- err }

func (r *recorder) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-r.snaps:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
		return nil
	}
}

// until waits for a snapshot matching cond, skipping stale ones.
func (r *recorder) until(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.snaps:
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatal("expected snapshot never arrived")
			return nil
		}
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case s := <-r.snaps:
		t.Fatalf("unexpected snapshot after unsubscribe: %v", s)
	case err := <-r.errs:
		t.Fatalf("unexpected error after unsubscribe: %v", err)
	case <-time.After(d):
	}
}

func ids(s Snapshot) []string {
	out := make([]string, 0, len(s))
	for _, t := range s {
		out = append(out, t.ID)
	}
	return out
}

func draft(name, typ string) models.Draft {
	return models.Draft{TaskName: name, Type: typ, Time: "09:30"}
}

// runBackendContract exercises the Channel contract against any backend.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("Channel requires a user", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Channel("  ")
		assert.Equal(t, errors.Is(err, models.ErrUnauthenticated), true)
	})

	t.Run("Subscribe delivers the current collection first", func(t *testing.T) {
		b := newBackend(t)
		ch, _ := b.Channel("u-first")
		id, err := ch.Create(ctx, draft("Buy milk", "Errand"))
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		rec := newRecorder()
		h, err := ch.Subscribe(rec.onSnapshot, rec.onError)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer ch.Unsubscribe(h)

		snap := rec.next(t)
		assert.Equal(t, ids(snap), []string{id})
		assert.Equal(t, snap[0].TaskName, "Buy milk")
	})

	t.Run("Writes produce full snapshots in creation order", func(t *testing.T) {
		b := newBackend(t)
		ch, _ := b.Channel("u-order")
		rec := newRecorder()
		h, err := ch.Subscribe(rec.onSnapshot, rec.onError)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer ch.Unsubscribe(h)
		assert.Equal(t, len(rec.next(t)), 0)

		a, _ := ch.Create(ctx, draft("Buy milk", "Errand"))
		bID, _ := ch.Create(ctx, draft("Pay bill", "Finance"))
		snap := rec.until(t, func(s Snapshot) bool { return len(s) == 2 })
		assert.Equal(t, ids(snap), []string{a, bID})

		if err := ch.Update(ctx, bID, models.CheckPatch(true)); err != nil {
			t.Fatalf("update: %v", err)
		}
		snap = rec.until(t, func(s Snapshot) bool { return len(s) == 2 && s[1].Check })
		assert.Equal(t, snap[0].Check, false)
		assert.Equal(t, snap[1].Type, "Finance")

		if err := ch.Delete(ctx, a); err != nil {
			t.Fatalf("delete: %v", err)
		}
		snap = rec.until(t, func(s Snapshot) bool { return len(s) == 1 })
		assert.Equal(t, ids(snap), []string{bID})
	})

	t.Run("Update of a missing id is NotFound, Delete is idempotent", func(t *testing.T) {
		b := newBackend(t)
		ch, _ := b.Channel("u-missing")
		err := ch.Update(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", models.CheckPatch(true))
		assert.Equal(t, errors.Is(err, models.ErrNotFound), true)
		assert.Equal(t, ch.Delete(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV"), nil)
	})

	t.Run("Scopes are isolated", func(t *testing.T) {
		b := newBackend(t)
		alice, _ := b.Channel("alice")
		bob, _ := b.Channel("bob")
		id, _ := alice.Create(ctx, draft("Alice task", "Home"))

		snap, err := bob.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		assert.Equal(t, len(snap), 0)
		assert.Equal(t, errors.Is(bob.Update(ctx, id, models.CheckPatch(true)), models.ErrNotFound), true)
	})

	t.Run("No new callbacks after Unsubscribe", func(t *testing.T) {
		b := newBackend(t)
		ch, _ := b.Channel("u-unsub")
		rec := newRecorder()
		h, err := ch.Subscribe(rec.onSnapshot, rec.onError)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		rec.next(t)
		ch.Unsubscribe(h)
		ch.Unsubscribe(h)

		if _, err := ch.Create(ctx, draft("Late", "Errand")); err != nil {
			t.Fatalf("create: %v", err)
		}
		rec.quiet(t, 200*time.Millisecond)
	})

	t.Run("EnsureUser seeds only new users", func(t *testing.T) {
		b := newBackend(t)
		seed := []models.Draft{draft("Test Task", "Test")}
		prof := models.Profile{UID: "u-seed", FullName: "Ann", Email: "ann@example.com"}

		created, err := b.EnsureUser(ctx, prof, seed)
		if err != nil {
			t.Fatalf("ensure user: %v", err)
		}
		assert.Equal(t, created, true)

		prof.FullName = "Ann B."
		created, err = b.EnsureUser(ctx, prof, seed)
		if err != nil {
			t.Fatalf("ensure user again: %v", err)
		}
		assert.Equal(t, created, false)

		got, err := b.GetUser(ctx, "u-seed")
		if err != nil {
			t.Fatalf("get user: %v", err)
		}
		assert.Equal(t, got.FullName, "Ann B.")

		ch, _ := b.Channel("u-seed")
		snap, _ := ch.List(ctx)
		assert.Equal(t, len(snap), 1)
		assert.Equal(t, snap[0].TaskName, "Test Task")

		_, err = b.GetUser(ctx, "nobody")
		assert.Equal(t, errors.Is(err, models.ErrUnauthenticated), true)
	})
}
