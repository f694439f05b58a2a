package manager

import (
	"strings"
	"sync"

	"todo-sync/internal/models"
	"todo-sync/internal/storage"
	"todo-sync/internal/view"
)

// Options configures a Session.
type Options struct {
	View view.Options
	// Optimistic patches the cache before writes are acknowledged.
	Optimistic bool
	// OnView receives the visible list whenever it changes.
	OnView func([]models.Task)
	// OnError receives channel errors for display.
	OnError func(error)
}

// Session is one signed-in user's cache, mutator and live view.
type Session struct {
	UserID  string
	Cache   *TaskCache
	Mutator *TaskMutator

	opts      Options
	live      *view.Live
	closeOnce sync.Once
}

// Open starts a session for uid on backend. A blank uid fails with
// models.ErrUnauthenticated before the backend is contacted.
func Open(backend storage.Backend, uid string, opts Options) (*Session, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, models.ErrUnauthenticated
	}
	ch, err := backend.Channel(uid)
	if err != nil {
		return nil, err
	}
	return NewSession(uid, ch, opts)
}

// NewSession starts a session on an already scoped channel.
func NewSession(uid string, ch storage.Channel, opts Options) (*Session, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, models.ErrUnauthenticated
	}

	cache := NewTaskCache(ch)
	var mutOpts []MutatorOption
	if opts.Optimistic {
		mutOpts = append(mutOpts, WithOptimisticCache(cache))
	}

	s := &Session{
		UserID:  uid,
		Cache:   cache,
		Mutator: NewTaskMutator(ch, mutOpts...),
		opts:    opts,
		live:    view.NewLive(opts.View, opts.OnView),
	}
	cache.OnChange(s.live.SetTasks)
	if opts.OnError != nil {
		cache.OnError(opts.OnError)
	}

	if err := cache.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// View filters the current cache content.
func (s *Session) View(search string, sel view.Selector) []models.Task {
	return view.Filter(s.Cache.CurrentTasks(), search, sel, s.opts.View)
}

// Live returns the view that follows the cache.
func (s *Session) Live() *view.Live {
	return s.live
}

// Close releases the subscription. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(s.Cache.Stop)
}
