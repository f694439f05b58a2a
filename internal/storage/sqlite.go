package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"todo-sync/internal/logger"
	"todo-sync/internal/models"

	_ "modernc.org/sqlite"
)

var errClosed = errors.New("backend closed")

// SQLite stores tasks in a single SQLite file. Subscribers are notified from
// the process that performed the write.
type SQLite struct {
	db  *sql.DB
	hub *Hub
	// mu orders write+publish pairs so snapshots never go backwards.
	mu sync.Mutex
}

func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: no SQLITE_BUSY between our own writers, and ":memory:"
	// stays a single database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	s := &SQLite{db: db, hub: NewHub()}
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info(context.Background(), "SQLite storage ready", "path", dbPath)
	return s, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			uid TEXT PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			photo_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			task_name TEXT NOT NULL,
			time TEXT NOT NULL DEFAULT '',
			type TEXT,
			description TEXT,
			check_done BOOLEAN,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	s.hub.Close()
	return s.db.Close()
}

func (s *SQLite) Channel(uid string) (Channel, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, models.ErrUnauthenticated
	}
	return &sqliteChannel{s: s, uid: uid}, nil
}

func (s *SQLite) EnsureUser(ctx context.Context, p models.Profile, seed []models.Draft) (bool, error) {
	if strings.TrimSpace(p.UID) == "" {
		return false, models.ErrUnauthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, models.NewChannelError("ensure user", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE uid = ?", p.UID).Scan(&exists)
	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx,
			"UPDATE users SET full_name = ?, email = ?, photo_url = ? WHERE uid = ?",
			p.FullName, p.Email, p.PhotoURL, p.UID)
		if err != nil {
			return false, models.NewChannelError("ensure user", err)
		}
		return false, models.NewChannelError("ensure user", tx.Commit())
	case !errors.Is(err, sql.ErrNoRows):
		return false, models.NewChannelError("ensure user", err)
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (uid, full_name, email, photo_url, created_at) VALUES (?, ?, ?, ?, ?)",
		p.UID, p.FullName, p.Email, p.PhotoURL, p.CreatedAt)
	if err != nil {
		return false, models.NewChannelError("ensure user", err)
	}
	for _, d := range seed {
		if err := insertTask(ctx, tx, p.UID, d.Task(models.NewID()), now); err != nil {
			return false, models.NewChannelError("ensure user", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, models.NewChannelError("ensure user", err)
	}

	s.publish(ctx, p.UID)
	return true, nil
}

func (s *SQLite) GetUser(ctx context.Context, uid string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx,
		"SELECT uid, full_name, email, photo_url, created_at FROM users WHERE uid = ?", uid).
		Scan(&p.UID, &p.FullName, &p.Email, &p.PhotoURL, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUnauthenticated
		}
		return nil, models.NewChannelError("get user", err)
	}
	return &p, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, uid string, t models.Task, now time.Time) error {
	_, err := db.ExecContext(ctx, `
	INSERT INTO tasks (id, user_id, task_name, time, type, description, check_done, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, uid, t.TaskName, t.Time, t.Type, t.Description, t.Check, now, now)
	return err
}

func (s *SQLite) list(ctx context.Context, uid string) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, task_name, time, type, description, check_done
	FROM tasks WHERE user_id = ? ORDER BY id`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var t models.Task
		var taskType, description sql.NullString
		var check sql.NullBool
		if err := rows.Scan(&t.ID, &t.TaskName, &t.Time, &taskType, &description, &check); err != nil {
			return nil, err
		}
		t.Type = taskType.String
		t.Description = description.String
		t.Check = check.Valid && check.Bool
		snap = append(snap, t)
	}
	return snap, rows.Err()
}

// publish sends the current collection of uid to its subscribers. Callers hold s.mu.
func (s *SQLite) publish(ctx context.Context, uid string) {
	if !s.hub.Active(uid) {
		return
	}
	snap, err := s.list(context.WithoutCancel(ctx), uid)
	if err != nil {
		logger.Error(ctx, err, "Snapshot reload failed", "user", uid)
		s.hub.Fail(uid, models.NewChannelError("listen", err))
		return
	}
	s.hub.Publish(uid, snap)
}

type sqliteChannel struct {
	s   *SQLite
	uid string
}

func (ch *sqliteChannel) Subscribe(onSnapshot SnapshotFunc, onError ErrorFunc) (Handle, error) {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()

	snap, err := ch.s.list(context.Background(), ch.uid)
	if err != nil {
		return "", models.NewChannelError("subscribe", err)
	}
	return ch.s.hub.Add(ch.uid, snap, onSnapshot, onError), nil
}

func (ch *sqliteChannel) Unsubscribe(h Handle) {
	ch.s.hub.Remove(h)
}

func (ch *sqliteChannel) List(ctx context.Context) (Snapshot, error) {
	snap, err := ch.s.list(ctx, ch.uid)
	if err != nil {
		return nil, models.NewChannelError("list", err)
	}
	return snap, nil
}

func (ch *sqliteChannel) Create(ctx context.Context, d models.Draft) (string, error) {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()

	t := d.Task(models.NewID())
	if err := insertTask(ctx, ch.s.db, ch.uid, t, time.Now()); err != nil {
		return "", models.NewChannelError("create", err)
	}
	ch.s.publish(ctx, ch.uid)
	return t.ID, nil
}

func (ch *sqliteChannel) Update(ctx context.Context, id string, p models.Patch) error {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()

	setClauses := "updated_at = ?"
	args := []any{time.Now()}
	for _, f := range p.Fields() {
		setClauses += fmt.Sprintf(", %s = ?", f.Name)
		args = append(args, f.Value)
	}
	args = append(args, id, ch.uid)

	result, err := ch.s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE tasks SET %s WHERE id = ? AND user_id = ?", setClauses), args...)
	if err != nil {
		return models.NewChannelError("update", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return models.NewChannelError("update", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}

	if !p.Empty() {
		ch.s.publish(ctx, ch.uid)
	}
	return nil
}

func (ch *sqliteChannel) Delete(ctx context.Context, id string) error {
	ch.s.mu.Lock()
	defer ch.s.mu.Unlock()

	result, err := ch.s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ? AND user_id = ?", id, ch.uid)
	if err != nil {
		return models.NewChannelError("delete", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		ch.s.publish(ctx, ch.uid)
	}
	return nil
}
