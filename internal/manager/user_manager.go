package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"todo-sync/internal/logger"
	"todo-sync/internal/models"
	"todo-sync/internal/storage"
)

// UserManager signs users in and keeps one Session per user.
type UserManager struct {
	mu       sync.Mutex
	backend  storage.Backend
	seed     []models.Draft
	opts     Options
	sessions map[string]*Session
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewUserManager builds a manager. seed is written to the list of every user
// that signs in for the first time.
func NewUserManager(backend storage.Backend, seed []models.Draft, opts Options) *UserManager {
	return &UserManager{
		backend:  backend,
		seed:     append([]models.Draft(nil), seed...),
		opts:     opts,
		sessions: make(map[string]*Session),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Register stores the profile, seeding the task list for new users.
func (um *UserManager) Register(ctx context.Context, p models.Profile) (bool, error) {
	if strings.TrimSpace(p.UID) == "" {
		return false, models.ErrUnauthenticated
	}

	created, err := um.backend.EnsureUser(ctx, p, um.seed)
	if err != nil {
		logger.Error(ctx, err, "Не удалось сохранить пользователя", "user", p.UID)
		return false, err
	}
	if created {
		logger.Info(ctx, "Пользователь создан", "user", p.UID, "seed", len(um.seed))
	}
	return created, nil
}

// SignIn registers the profile and returns the user's session, opening it if needed.
func (um *UserManager) SignIn(ctx context.Context, p models.Profile) (*Session, error) {
	if _, err := um.Register(ctx, p); err != nil {
		return nil, err
	}
	return um.Session(p.UID)
}

// Session returns the open session of uid, opening one if there is none.
func (um *UserManager) Session(uid string) (*Session, error) {
	um.mu.Lock()
	defer um.mu.Unlock()

	if s, ok := um.sessions[uid]; ok {
		um.lastSeen[uid] = um.now()
		return s, nil
	}
	s, err := Open(um.backend, uid, um.opts)
	if err != nil {
		return nil, err
	}
	um.sessions[uid] = s
	um.lastSeen[uid] = um.now()
	return s, nil
}

// GetOrCreateUserByTelegramID signs in a Telegram user.
func (um *UserManager) GetOrCreateUserByTelegramID(ctx context.Context, telegramID int64, name string) (*Session, error) {
	return um.SignIn(ctx, models.Profile{
		UID:      fmt.Sprintf("telegram_%d", telegramID),
		FullName: name,
	})
}

// SignOut closes the session of uid, if any.
func (um *UserManager) SignOut(uid string) {
	um.mu.Lock()
	s, ok := um.sessions[uid]
	delete(um.sessions, uid)
	delete(um.lastSeen, uid)
	um.mu.Unlock()

	if ok {
		s.Close()
	}
}

// EvictIdle closes the sessions not used through Session for longer than
// maxIdle and returns how many it closed.
func (um *UserManager) EvictIdle(maxIdle time.Duration) int {
	um.mu.Lock()
	cutoff := um.now().Add(-maxIdle)
	var idle []*Session
	for uid, seen := range um.lastSeen {
		if seen.Before(cutoff) {
			idle = append(idle, um.sessions[uid])
			delete(um.sessions, uid)
			delete(um.lastSeen, uid)
		}
	}
	um.mu.Unlock()

	for _, s := range idle {
		logger.Debug(context.Background(), "Сессия закрыта по простою", "user", s.UserID)
		s.Close()
	}
	return len(idle)
}

// Active reports how many sessions are open.
func (um *UserManager) Active() int {
	um.mu.Lock()
	defer um.mu.Unlock()
	return len(um.sessions)
}

// Close closes every open session.
func (um *UserManager) Close() {
	um.mu.Lock()
	sessions := um.sessions
	um.sessions = make(map[string]*Session)
	um.lastSeen = make(map[string]time.Time)
	um.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
