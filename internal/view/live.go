package view

import (
	"sync"

	"todo-sync/internal/models"
)

// Live keeps the visible list current. It recomputes whenever the task list or
// the criteria change and hands the result to the listener.
type Live struct {
	mu       sync.Mutex
	opts     Options
	tasks    []models.Task
	search   string
	selector Selector
	visible  []models.Task
	onChange func([]models.Task)
}

func NewLive(opts Options, onChange func([]models.Task)) *Live {
	return &Live{opts: opts, selector: All, onChange: onChange, visible: []models.Task{}}
}

// SetTasks replaces the task list, usually with a fresh cache read.
func (l *Live) SetTasks(tasks []models.Task) {
	l.mu.Lock()
	l.tasks = tasks
	l.recomputeLocked()
}

func (l *Live) SetSearch(search string) {
	l.mu.Lock()
	l.search = search
	l.recomputeLocked()
}

func (l *Live) SetSelector(sel Selector) {
	l.mu.Lock()
	l.selector = sel
	l.recomputeLocked()
}

// Criteria returns the current search text and selector.
func (l *Live) Criteria() (string, Selector) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.search, l.selector
}

// Visible returns the last computed list.
func (l *Live) Visible() []models.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Task, len(l.visible))
	copy(out, l.visible)
	return out
}

// Tabs returns the selectors for the current task list.
func (l *Live) Tabs() []Selector {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Tabs(DerivedTypes(l.tasks))
}

// recomputeLocked unlocks l.mu before calling the listener.
func (l *Live) recomputeLocked() {
	visible := Filter(l.tasks, l.search, l.selector, l.opts)
	l.visible = visible
	onChange := l.onChange
	l.mu.Unlock()

	if onChange != nil {
		out := make([]models.Task, len(visible))
		copy(out, visible)
		onChange(out)
	}
}
