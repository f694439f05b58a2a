package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"todo-sync/internal/models"
)

// Memory keeps everything in process memory. Writes are applied and published
// under one lock, so subscribers observe snapshots in write order.
type Memory struct {
	mu     sync.Mutex
	users  map[string]models.Profile
	tasks  map[string]*collection
	hub    *Hub
	closed bool
}

type collection struct {
	order []string
	byID  map[string]models.Task
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]models.Profile),
		tasks: make(map[string]*collection),
		hub:   NewHub(),
	}
}

func (m *Memory) Channel(uid string) (Channel, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, models.ErrUnauthenticated
	}
	return &memoryChannel{m: m, uid: uid}, nil
}

func (m *Memory) EnsureUser(ctx context.Context, p models.Profile, seed []models.Draft) (bool, error) {
	if strings.TrimSpace(p.UID) == "" {
		return false, models.ErrUnauthenticated
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[p.UID]
	if ok {
		p.CreatedAt = existing.CreatedAt
		m.users[p.UID] = p
		return false, nil
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.users[p.UID] = p

	c := m.collectionLocked(p.UID)
	for _, d := range seed {
		c.add(d.Task(models.NewID()))
	}
	m.hub.Publish(p.UID, c.snapshot())
	return true, nil
}

func (m *Memory) GetUser(ctx context.Context, uid string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.users[uid]
	if !ok {
		return nil, models.ErrUnauthenticated
	}
	return &p, nil
}

// Interrupt reports err to every subscriber of uid, the way a dropped remote
// listener would.
func (m *Memory) Interrupt(uid string, err error) {
	m.hub.Fail(uid, models.NewChannelError("listen", err))
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.Close()
	return nil
}

func (m *Memory) collectionLocked(uid string) *collection {
	c, ok := m.tasks[uid]
	if !ok {
		c = &collection{byID: make(map[string]models.Task)}
		m.tasks[uid] = c
	}
	return c
}

func (c *collection) add(t models.Task) {
	c.order = append(c.order, t.ID)
	c.byID[t.ID] = t
}

func (c *collection) remove(id string) {
	if _, ok := c.byID[id]; !ok {
		return
	}
	delete(c.byID, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *collection) snapshot() Snapshot {
	snap := make(Snapshot, 0, len(c.order))
	for _, id := range c.order {
		snap = append(snap, c.byID[id])
	}
	return snap
}

type memoryChannel struct {
	m   *Memory
	uid string
}

func (ch *memoryChannel) Subscribe(onSnapshot SnapshotFunc, onError ErrorFunc) (Handle, error) {
	ch.m.mu.Lock()
	defer ch.m.mu.Unlock()

	if ch.m.closed {
		return "", models.NewChannelError("subscribe", errClosed)
	}
	snap := ch.m.collectionLocked(ch.uid).snapshot()
	return ch.m.hub.Add(ch.uid, snap, onSnapshot, onError), nil
}

func (ch *memoryChannel) Unsubscribe(h Handle) {
	ch.m.hub.Remove(h)
}

func (ch *memoryChannel) List(ctx context.Context) (Snapshot, error) {
	ch.m.mu.Lock()
	defer ch.m.mu.Unlock()
	return ch.m.collectionLocked(ch.uid).snapshot(), nil
}

func (ch *memoryChannel) Create(ctx context.Context, d models.Draft) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", models.NewChannelError("create", err)
	}

	ch.m.mu.Lock()
	defer ch.m.mu.Unlock()

	if ch.m.closed {
		return "", models.NewChannelError("create", errClosed)
	}
	c := ch.m.collectionLocked(ch.uid)
	id := models.NewID()
	c.add(d.Task(id))
	ch.m.hub.Publish(ch.uid, c.snapshot())
	return id, nil
}

func (ch *memoryChannel) Update(ctx context.Context, id string, p models.Patch) error {
	if err := ctx.Err(); err != nil {
		return models.NewChannelError("update", err)
	}

	ch.m.mu.Lock()
	defer ch.m.mu.Unlock()

	if ch.m.closed {
		return models.NewChannelError("update", errClosed)
	}
	c := ch.m.collectionLocked(ch.uid)
	t, ok := c.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	if p.Empty() {
		return nil
	}
	c.byID[id] = p.Apply(t)
	ch.m.hub.Publish(ch.uid, c.snapshot())
	return nil
}

func (ch *memoryChannel) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return models.NewChannelError("delete", err)
	}

	ch.m.mu.Lock()
	defer ch.m.mu.Unlock()

	if ch.m.closed {
		return models.NewChannelError("delete", errClosed)
	}
	c := ch.m.collectionLocked(ch.uid)
	if _, ok := c.byID[id]; !ok {
		return nil
	}
	c.remove(id)
	ch.m.hub.Publish(ch.uid, c.snapshot())
	return nil
}
