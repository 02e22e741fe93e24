package novel

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by SessionStore implementations when a
// session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Provider answers the two query types served by the generative backend.
type Provider interface {
	// FindNovel resolves a free-form query to novel metadata. A not-found or
	// refused answer returns ok=false with a nil error; err is reserved for
	// transport and parse failures.
	FindNovel(ctx context.Context, query string) (Metadata, bool, error)
	// FetchChapterText reconstructs one chapter. It never fails outward:
	// any fault collapses into a fixed diagnostic string so callers can
	// always proceed to persistence.
	FetchChapterText(ctx context.Context, novelTitle, chapterTitle string) string
}

// FileStore is a path-addressed, versioned content store.
type FileStore interface {
	// Stat returns the current version token for path, or ok=false when the
	// path does not exist yet.
	Stat(ctx context.Context, path string) (version string, ok bool, err error)
	// Put creates or updates path with content. version carries the token
	// from Stat for updates and is empty for new files.
	Put(ctx context.Context, path string, content []byte, message, version string) error
	// Validate checks reachability and authorization once at session setup.
	Validate(ctx context.Context) error
}

// SessionStore persists sessions and chapter state.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	SetState(ctx context.Context, id string, state SessionState) error
	UpdateChapter(ctx context.Context, id string, ch Chapter) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
