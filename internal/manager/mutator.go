package manager

import (
	"context"
	"errors"
	"time"

	"todo-sync/internal/logger"
	"todo-sync/internal/models"
	"todo-sync/internal/storage"
)

// TaskMutator turns user intents into channel writes. Each call returns once
// the backend acknowledged the write; the cache catches up when the resulting
// snapshot arrives.
type TaskMutator struct {
	ch storage.Channel
	// optimistic, when set, is patched before the write goes out.
	optimistic *TaskCache
}

type MutatorOption func(*TaskMutator)

// WithOptimisticCache makes completion toggles and field edits show up in
// cache right away. The next snapshot replaces the patched values.
func WithOptimisticCache(cache *TaskCache) MutatorOption {
	return func(m *TaskMutator) {
		m.optimistic = cache
	}
}

func NewTaskMutator(ch storage.Channel, opts ...MutatorOption) *TaskMutator {
	m := &TaskMutator{ch: ch}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTask validates d and asks the backend to store it. It returns the id
// the backend assigned.
func (m *TaskMutator) CreateTask(ctx context.Context, d models.Draft) (string, error) {
	startTime := time.Now()
	defer func() {
		mutationDuration.WithLabelValues("create").Observe(time.Since(startTime).Seconds())
	}()

	if err := d.Validate(); err != nil {
		mutationCount.WithLabelValues("create", "error").Inc()
		return "", err
	}

	id, err := m.ch.Create(ctx, d)
	mutationCount.WithLabelValues("create", status(err)).Inc()
	if err != nil {
		logger.Error(ctx, err, "Task create failed", "task", d.TaskName)
		return "", models.NewChannelError("create", err)
	}

	logger.Debug(ctx, "Task created", "id", id, "type", d.Type)
	return id, nil
}

// SetCompletion sets the check flag of task id.
func (m *TaskMutator) SetCompletion(ctx context.Context, id string, value bool) error {
	return m.update(ctx, "check", id, models.CheckPatch(value))
}

// UpdateFields merges p into task id. An empty patch is a no-op.
func (m *TaskMutator) UpdateFields(ctx context.Context, id string, p models.Patch) error {
	if p.Empty() {
		return nil
	}
	return m.update(ctx, "update", id, p)
}

func (m *TaskMutator) update(ctx context.Context, op, id string, p models.Patch) error {
	startTime := time.Now()
	defer func() {
		mutationDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	if !models.ValidID(id) {
		mutationCount.WithLabelValues(op, "error").Inc()
		return &models.ValidationError{Field: "id"}
	}
	if err := p.Validate(); err != nil {
		mutationCount.WithLabelValues(op, "error").Inc()
		return err
	}

	var (
		edit    optimisticEdit
		patched bool
	)
	if m.optimistic != nil {
		edit, patched = m.optimistic.patch(id, p)
	}

	err := m.ch.Update(ctx, id, p)
	mutationCount.WithLabelValues(op, status(err)).Inc()
	if err != nil {
		if patched {
			m.optimistic.restore(edit)
		}
		if errors.Is(err, models.ErrNotFound) {
			logger.Info(ctx, "Task vanished before update", "id", id)
			return err
		}
		logger.Error(ctx, err, "Task update failed", "id", id)
		return models.NewChannelError(op, err)
	}
	return nil
}

// DeleteTask removes task id. Deleting a task that is already gone succeeds
// or reports models.ErrNotFound, depending on the backend; neither touches
// local state.
func (m *TaskMutator) DeleteTask(ctx context.Context, id string) error {
	startTime := time.Now()
	defer func() {
		mutationDuration.WithLabelValues("delete").Observe(time.Since(startTime).Seconds())
	}()

	if !models.ValidID(id) {
		mutationCount.WithLabelValues("delete", "error").Inc()
		return &models.ValidationError{Field: "id"}
	}

	err := m.ch.Delete(ctx, id)
	mutationCount.WithLabelValues("delete", status(err)).Inc()
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logger.Info(ctx, "Task already deleted", "id", id)
			return err
		}
		logger.Error(ctx, err, "Task delete failed", "id", id)
		return models.NewChannelError("delete", err)
	}
	return nil
}
