// Package user holds the registered username directory. Usernames are
// self-asserted identities; the directory only guarantees uniqueness.
package user

import (
	"context"
	"errors"
	"sync"
)

// ErrExists is returned by Create when the username is already registered.
var ErrExists = errors.New("username already exists")

// Directory is the interface for username registration backends.
type Directory interface {
	Exists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, username string) error
}

// MemDirectory is an in-memory username directory.
type MemDirectory struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewMemDirectory creates an empty in-memory directory.
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{users: make(map[string]struct{})}
}

// Exists reports whether the username is registered.
func (d *MemDirectory) Exists(ctx context.Context, username string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[username]
	return ok, nil
}

// Create registers the username, failing with ErrExists on duplicates.
func (d *MemDirectory) Create(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[username]; ok {
		return ErrExists
	}
	d.users[username] = struct{}{}
	return nil
}
