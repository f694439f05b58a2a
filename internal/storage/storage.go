package storage

import (
	"context"

	"todo-sync/internal/models"
)

// Snapshot is the complete task collection of one scope, in backend order.
type Snapshot []models.Task

type SnapshotFunc func(Snapshot)

type ErrorFunc func(error)

// Handle identifies a subscription.
type Handle string

// Channel is the remote task collection of a single user scope.
//
// Subscribe delivers the current collection once right away and again after
// every change, always as a full snapshot. Callbacks of one subscription never
// overlap. Unsubscribe works like the stop func of context.AfterFunc: events
// not yet dispatched are dropped, but a callback that was already dispatched
// may still run, even after Unsubscribe returns. Unsubscribe may be called
// from inside a callback.
//
// Create returns the backend-assigned id; the stored task shows up through the
// next snapshot. Update fails with models.ErrNotFound if the id is gone. Delete
// of a missing id is not an error.
type Channel interface {
	Subscribe(onSnapshot SnapshotFunc, onError ErrorFunc) (Handle, error)
	Unsubscribe(h Handle)
	List(ctx context.Context) (Snapshot, error)
	Create(ctx context.Context, d models.Draft) (string, error)
	Update(ctx context.Context, id string, p models.Patch) error
	Delete(ctx context.Context, id string) error
}

// Accounts stores user profiles.
type Accounts interface {
	// EnsureUser stores the profile and, for users seen for the first time,
	// the seed tasks. It reports whether the user was created.
	EnsureUser(ctx context.Context, p models.Profile, seed []models.Draft) (bool, error)
	GetUser(ctx context.Context, uid string) (*models.Profile, error)
}

// Backend hands out scoped channels.
type Backend interface {
	Accounts
	Channel(uid string) (Channel, error)
	Close() error
}
