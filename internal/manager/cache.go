package manager

import (
	"context"
	"sync"

	"todo-sync/internal/logger"
	"todo-sync/internal/models"
	"todo-sync/internal/storage"
	"todo-sync/internal/view"
)

// TaskCache is the local copy of one user's tasks. It only changes when the
// channel delivers a snapshot, and every snapshot replaces the whole list.
// On a channel error the last good snapshot stays in place.
type TaskCache struct {
	ch storage.Channel

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	tasks   []models.Task
	index   map[string]int
	types   []string
	lastErr error
	handle  storage.Handle
	running bool
	// gen changes on every Start and Stop; events of an older subscription are dropped.
	gen uint64
	// seq counts applied snapshots.
	seq   uint64
	ready chan struct{}

	// dirty marks a state change not yet handed to onChange; delivering is set
	// while one goroutine runs the listeners.
	dirty      bool
	delivering bool

	onChange []func([]models.Task)
	onError  []func(error)
}

func NewTaskCache(ch storage.Channel) *TaskCache {
	return &TaskCache{
		ch:    ch,
		tasks: []models.Task{},
		index: map[string]int{},
		types: []string{},
		ready: make(chan struct{}),
	}
}

// OnChange registers fn to receive the task list after each applied snapshot.
func (c *TaskCache) OnChange(fn func([]models.Task)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// OnError registers fn to receive channel errors.
func (c *TaskCache) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// Start subscribes to the channel. A running subscription is released first,
// so a cache never holds more than one.
func (c *TaskCache) Start() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.stopLocked()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.ready = make(chan struct{})
	c.mu.Unlock()

	h, err := c.ch.Subscribe(
		func(snap storage.Snapshot) { c.apply(gen, snap) },
		func(err error) { c.fail(gen, err) },
	)
	if err != nil {
		err = models.NewChannelError("subscribe", err)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.handle = h
	c.running = true
	c.mu.Unlock()
	return nil
}

// Stop releases the subscription. Once it returns the cache content no longer
// changes. Calling Stop again is a no-op.
func (c *TaskCache) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()
}

func (c *TaskCache) stopLocked() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.gen++
	h := c.handle
	c.handle = ""
	c.mu.Unlock()

	c.ch.Unsubscribe(h)
}

func (c *TaskCache) apply(gen uint64, snap storage.Snapshot) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	tasks := make([]models.Task, 0, len(snap))
	index := make(map[string]int, len(snap))
	for _, t := range snap {
		if i, dup := index[t.ID]; dup {
			tasks[i] = t
			continue
		}
		index[t.ID] = len(tasks)
		tasks = append(tasks, t)
	}

	c.tasks = tasks
	c.index = index
	c.types = view.DerivedTypes(tasks)
	c.lastErr = nil
	c.seq++
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
	size := len(tasks)
	run := c.changedLocked()
	c.mu.Unlock()

	snapshotCount.WithLabelValues("snapshot").Inc()
	cachedTasks.Observe(float64(size))
	if run {
		c.deliver()
	}
}

// changedLocked records a state change. It reports whether the caller has to
// run deliver, which is the case unless another goroutine already does.
func (c *TaskCache) changedLocked() bool {
	c.dirty = true
	if c.delivering {
		return false
	}
	c.delivering = true
	return true
}

// deliver hands the latest task list to onChange until no change is pending.
// Listeners run one call at a time and never see an older list after a newer one.
func (c *TaskCache) deliver() {
	for {
		c.mu.Lock()
		if !c.dirty {
			c.delivering = false
			c.mu.Unlock()
			return
		}
		c.dirty = false
		listeners := c.onChange
		out := c.copyLocked()
		c.mu.Unlock()

		for _, fn := range listeners {
			fn(out)
		}
	}
}

func (c *TaskCache) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	err = models.NewChannelError("listen", err)
	c.lastErr = err
	listeners := c.onError
	c.mu.Unlock()

	snapshotCount.WithLabelValues("error").Inc()
	logger.Error(context.Background(), err, "Task listener failed, keeping last snapshot")
	for _, fn := range listeners {
		fn(err)
	}
}

// optimisticEdit is a patch applied ahead of the backend.
type optimisticEdit struct {
	prev, next models.Task
	seq        uint64
}

// patch applies p to the cached task ahead of the backend. The next snapshot
// overwrites it either way.
func (c *TaskCache) patch(id string, p models.Patch) (optimisticEdit, bool) {
	c.mu.Lock()
	i, ok := c.index[id]
	if !ok || !c.running {
		c.mu.Unlock()
		return optimisticEdit{}, false
	}
	edit := optimisticEdit{prev: c.tasks[i], next: p.Apply(c.tasks[i]), seq: c.seq}
	c.tasks[i] = edit.next
	c.types = view.DerivedTypes(c.tasks)
	run := c.changedLocked()
	c.mu.Unlock()

	if run {
		c.deliver()
	}
	return edit, true
}

// restore undoes edit unless a snapshot arrived or the task was patched again
// since.
func (c *TaskCache) restore(edit optimisticEdit) {
	c.mu.Lock()
	i, ok := c.index[edit.prev.ID]
	if !ok || c.seq != edit.seq || !c.running || c.tasks[i] != edit.next {
		c.mu.Unlock()
		return
	}
	c.tasks[i] = edit.prev
	c.types = view.DerivedTypes(c.tasks)
	run := c.changedLocked()
	c.mu.Unlock()

	if run {
		c.deliver()
	}
}

func (c *TaskCache) copyLocked() []models.Task {
	out := make([]models.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// CurrentTasks returns the cached tasks in backend order.
func (c *TaskCache) CurrentTasks() []models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copyLocked()
}

// DerivedTypes returns the distinct non-empty types of the cached tasks.
func (c *TaskCache) DerivedTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.types))
	copy(out, c.types)
	return out
}

// Task looks a task up by id.
func (c *TaskCache) Task(id string) (models.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return models.Task{}, false
	}
	return c.tasks[i], true
}

// Err returns the last channel error, cleared by the next snapshot.
func (c *TaskCache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *TaskCache) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// WaitReady blocks until the first snapshot of the current subscription.
func (c *TaskCache) WaitReady(ctx context.Context) error {
	c.mu.RLock()
	ready := c.ready
	c.mu.RUnlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
