package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"todo-sync/internal/logger"
	"todo-sync/internal/models"
)

const notifyChannel = "todosync_changes"

// Postgres is a multi-client backend. Every write sends a notification carrying
// the user id; each process listens and republishes fresh snapshots of that
// user to its local subscribers, whichever process made the change.
type Postgres struct {
	pool *pgxpool.Pool
	hub  *Hub

	// mu orders snapshot reads against subscribe.
	mu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, hub: NewHub(), done: make(chan struct{})}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.listen(listenCtx)
	return p, nil
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			uid        TEXT PRIMARY KEY,
			full_name  TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			photo_url  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			task_name   TEXT NOT NULL,
			time        TEXT NOT NULL DEFAULT '',
			type        TEXT,
			description TEXT,
			check_done  BOOLEAN,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	p.cancel()
	<-p.done
	p.hub.Close()
	p.pool.Close()
	return nil
}

func (p *Postgres) Channel(uid string) (Channel, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, models.ErrUnauthenticated
	}
	return &pgChannel{p: p, uid: uid}, nil
}

func (p *Postgres) EnsureUser(ctx context.Context, prof models.Profile, seed []models.Draft) (bool, error) {
	if strings.TrimSpace(prof.UID) == "" {
		return false, models.ErrUnauthenticated
	}
	if prof.CreatedAt.IsZero() {
		prof.CreatedAt = time.Now().Truncate(time.Microsecond)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, models.NewChannelError("ensure user", err)
	}
	defer tx.Rollback(ctx)

	var created bool
	err = tx.QueryRow(ctx, `
		INSERT INTO users (uid, full_name, email, photo_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email, photo_url = EXCLUDED.photo_url
		RETURNING (xmax = 0)`,
		prof.UID, prof.FullName, prof.Email, prof.PhotoURL, prof.CreatedAt).Scan(&created)
	if err != nil {
		return false, models.NewChannelError("ensure user", err)
	}

	if created {
		for _, d := range seed {
			t := d.Task(models.NewID())
			_, err := tx.Exec(ctx, `
				INSERT INTO tasks (id, user_id, task_name, time, type, description, check_done)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				t.ID, prof.UID, t.TaskName, t.Time, t.Type, t.Description, t.Check)
			if err != nil {
				return false, models.NewChannelError("ensure user", err)
			}
		}
		if err := notify(ctx, tx, prof.UID); err != nil {
			return false, models.NewChannelError("ensure user", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, models.NewChannelError("ensure user", err)
	}
	return created, nil
}

func (p *Postgres) GetUser(ctx context.Context, uid string) (*models.Profile, error) {
	var prof models.Profile
	err := p.pool.QueryRow(ctx,
		`SELECT uid, full_name, email, photo_url, created_at FROM users WHERE uid = $1`, uid).
		Scan(&prof.UID, &prof.FullName, &prof.Email, &prof.PhotoURL, &prof.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrUnauthenticated
		}
		return nil, models.NewChannelError("get user", err)
	}
	return &prof, nil
}

func notify(ctx context.Context, tx pgx.Tx, uid string) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, uid)
	return err
}

func (p *Postgres) list(ctx context.Context, uid string) (Snapshot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, task_name, time, COALESCE(type, ''), COALESCE(description, ''), COALESCE(check_done, FALSE)
		FROM tasks WHERE user_id = $1 ORDER BY id`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := Snapshot{}
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.TaskName, &t.Time, &t.Type, &t.Description, &t.Check); err != nil {
			return nil, err
		}
		snap = append(snap, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return snap, nil
}

func (p *Postgres) refresh(ctx context.Context, uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.hub.Active(uid) {
		return
	}
	snap, err := p.list(ctx, uid)
	if err != nil {
		logger.Error(ctx, err, "Snapshot reload failed", "user", uid)
		p.hub.Fail(uid, models.NewChannelError("listen", err))
		return
	}
	p.hub.Publish(uid, snap)
}

// listen keeps a dedicated connection on LISTEN. When the connection drops,
// subscribers get a ChannelError and, once reconnected, a fresh snapshot, since
// notifications sent in between are lost.
func (p *Postgres) listen(ctx context.Context) {
	defer close(p.done)

	backoff := time.Second
	reconnected := false
	for {
		err := p.listenOnce(ctx, reconnected)
		if ctx.Err() != nil {
			return
		}
		logger.Error(ctx, err, "Change listener disconnected")
		p.hub.FailAll(models.NewChannelError("listen", err))
		reconnected = true

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context, resync bool) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	if resync {
		for _, uid := range p.hub.Scopes() {
			p.refresh(ctx, uid)
		}
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		p.refresh(ctx, n.Payload)
	}
}

type pgChannel struct {
	p   *Postgres
	uid string
}

func (ch *pgChannel) Subscribe(onSnapshot SnapshotFunc, onError ErrorFunc) (Handle, error) {
	ch.p.mu.Lock()
	defer ch.p.mu.Unlock()

	snap, err := ch.p.list(context.Background(), ch.uid)
	if err != nil {
		return "", models.NewChannelError("subscribe", err)
	}
	return ch.p.hub.Add(ch.uid, snap, onSnapshot, onError), nil
}

func (ch *pgChannel) Unsubscribe(h Handle) {
	ch.p.hub.Remove(h)
}

func (ch *pgChannel) List(ctx context.Context) (Snapshot, error) {
	snap, err := ch.p.list(ctx, ch.uid)
	if err != nil {
		return nil, models.NewChannelError("list", err)
	}
	return snap, nil
}

func (ch *pgChannel) Create(ctx context.Context, d models.Draft) (string, error) {
	t := d.Task(models.NewID())
	err := ch.write(ctx, "create", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO tasks (id, user_id, task_name, time, type, description, check_done)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, ch.uid, t.TaskName, t.Time, t.Type, t.Description, t.Check)
		return err
	})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (ch *pgChannel) Update(ctx context.Context, id string, patch models.Patch) error {
	setClauses := "updated_at = $1"
	args := []any{time.Now().Truncate(time.Microsecond)}
	argIdx := 2
	for _, f := range patch.Fields() {
		setClauses += fmt.Sprintf(", %s = $%d", f.Name, argIdx)
		args = append(args, f.Value)
		argIdx++
	}
	args = append(args, id, ch.uid)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d AND user_id = $%d", setClauses, argIdx, argIdx+1)

	return ch.write(ctx, "update", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func (ch *pgChannel) Delete(ctx context.Context, id string) error {
	return ch.write(ctx, "delete", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, ch.uid)
		return err
	})
}

// write runs fn and the change notification in one transaction.
func (ch *pgChannel) write(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := ch.p.pool.Begin(ctx)
	if err != nil {
		return models.NewChannelError(op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return models.NewChannelError(op, err)
	}
	if err := notify(ctx, tx, ch.uid); err != nil {
		return models.NewChannelError(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.NewChannelError(op, err)
	}
	return nil
}
