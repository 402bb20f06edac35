// Package storage persists the account session and per-datacenter auth
// keys across restarts.
package storage

import (
	"context"
	"errors"
	"time"
)

// Session is the persisted account state: which datacenter the account
// lives on and the credentials to talk to it.
type Session struct {
	DC       int
	Addr     string
	AuthKey  []byte
	UserID   int64
	TestMode bool
	Date     time.Time
}

// ErrNotFound is returned when no session or auth key is stored.
var ErrNotFound = errors.New("storage: not found")

// ErrBadPassphrase is returned when a sealed record cannot be opened
// with the configured passphrase.
var ErrBadPassphrase = errors.New("storage: wrong passphrase")

// Storage persists sessions. Implementations are safe for concurrent use.
type Storage interface {
	// Load returns the stored session or ErrNotFound.
	Load(ctx context.Context) (*Session, error)

	// Save stores the session, replacing any previous one.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session and all auth keys.
	Delete(ctx context.Context) error

	// LoadAuthKey returns the auth key negotiated with dc, or ErrNotFound.
	LoadAuthKey(ctx context.Context, dc int) ([]byte, error)

	// SaveAuthKey stores the auth key for dc.
	SaveAuthKey(ctx context.Context, dc int, key []byte) error

	Close() error
}
