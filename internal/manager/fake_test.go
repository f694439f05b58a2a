package manager

import (
	"context"
	"fmt"
	"sync"

	"todo-sync/internal/models"
	"todo-sync/internal/storage"
)

type fakeSub struct {
	onSnapshot storage.SnapshotFunc
	onError    storage.ErrorFunc
}

// fakeChannel is a synchronous Channel double. Writes change its state but do
// not notify; tests call emit to play the backend confirmation.
type fakeChannel struct {
	mu     sync.Mutex
	tasks  storage.Snapshot
	subs   map[storage.Handle]fakeSub
	nextID int
	calls  map[string]int

	subscribeErr error
	createErr    error
	updateErr    error
	deleteErr    error
}

func newFakeChannel(tasks ...models.Task) *fakeChannel {
	return &fakeChannel{
		tasks: append(storage.Snapshot{}, tasks...),
		subs:  make(map[storage.Handle]fakeSub),
		calls: make(map[string]int),
	}
}

func (f *fakeChannel) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeChannel) remoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["create"] + f.calls["update"] + f.calls["delete"]
}

func (f *fakeChannel) activeSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeChannel) set(tasks ...models.Task) {
	f.mu.Lock()
	f.tasks = append(storage.Snapshot{}, tasks...)
	f.mu.Unlock()
}

func (f *fakeChannel) emit() {
	f.mu.Lock()
	snap := append(storage.Snapshot{}, f.tasks...)
	subs := make([]fakeSub, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.onSnapshot(snap)
	}
}

func (f *fakeChannel) emitError(err error) {
	f.mu.Lock()
	subs := make([]fakeSub, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		s.onError(err)
	}
}

func (f *fakeChannel) Subscribe(onSnapshot storage.SnapshotFunc, onError storage.ErrorFunc) (storage.Handle, error) {
	f.mu.Lock()
	f.calls["subscribe"]++
	if f.subscribeErr != nil {
		f.mu.Unlock()
		return "", f.subscribeErr
	}
	f.nextID++
	h := storage.Handle(fmt.Sprintf("h%d", f.nextID))
	f.subs[h] = fakeSub{onSnapshot: onSnapshot, onError: onError}
	snap := append(storage.Snapshot{}, f.tasks...)
	f.mu.Unlock()

	onSnapshot(snap)
	return h, nil
}

func (f *fakeChannel) Unsubscribe(h storage.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["unsubscribe"]++
	delete(f.subs, h)
}

func (f *fakeChannel) List(ctx context.Context) (storage.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(storage.Snapshot{}, f.tasks...), nil
}

func (f *fakeChannel) Create(ctx context.Context, d models.Draft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++
	if f.createErr != nil {
		return "", f.createErr
	}
	id := models.NewID()
	f.tasks = append(f.tasks, d.Task(id))
	return id, nil
}

func (f *fakeChannel) Update(ctx context.Context, id string, p models.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update"]++
	if f.updateErr != nil {
		return f.updateErr
	}
	for i, t := range f.tasks {
		if t.ID == id {
			f.tasks[i] = p.Apply(t)
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeChannel) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, t := range f.tasks {
		if t.ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			break
		}
	}
	return nil
}

// countingBackend hands out fake channels and records every call.
type countingBackend struct {
	mu       sync.Mutex
	calls    int
	channels map[string]*fakeChannel
}

func newCountingBackend() *countingBackend {
	return &countingBackend{channels: make(map[string]*fakeChannel)}
}

func (b *countingBackend) Channel(uid string) (storage.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	ch, ok := b.channels[uid]
	if !ok {
		ch = newFakeChannel()
		b.channels[uid] = ch
	}
	return ch, nil
}

func (b *countingBackend) EnsureUser(ctx context.Context, p models.Profile, seed []models.Draft) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return false, nil
}

func (b *countingBackend) GetUser(ctx context.Context, uid string) (*models.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return nil, models.ErrUnauthenticated
}

func (b *countingBackend) Close() error { return nil }

func (b *countingBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
