// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/novelarc/novelarc/internal/novel"
)

// ErrSessionNotFound aliases the store-neutral sentinel so callers can match
// it without caring which driver is behind the interface.
var ErrSessionNotFound = novel.ErrSessionNotFound

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// SessionStoreConfig controls the Postgres connection pool.
type SessionStoreConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// SessionStore persists sessions and chapters so interrupted runs survive a
// process restart: on re-start the controller resumes from the first chapter
// still pending.
type SessionStore struct {
	pool db
}

// NewSessionStore connects a pool using the provided config.
func NewSessionStore(ctx context.Context, cfg SessionStoreConfig) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SessionStore{pool: pool}, nil
}

// NewSessionStoreWithPool wraps an existing pool; used by tests.
func NewSessionStoreWithPool(pool db) *SessionStore {
	return &SessionStore{pool: pool}
}

// Close releases the connection pool.
func (s *SessionStore) Close() {
	s.pool.Close()
}

// CreateSession inserts the session row and one row per chapter.
func (s *SessionStore) CreateSession(ctx context.Context, sess novel.Session) error {
	sources, err := json.Marshal(sess.Metadata.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	const insertSession = `
		INSERT INTO sessions (id, title, author, description, total_estimate, sources, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	if _, err := s.pool.Exec(ctx, insertSession,
		sess.ID,
		sess.Metadata.Title,
		sess.Metadata.Author,
		sess.Metadata.Description,
		sess.Metadata.TotalChaptersEstimate,
		sources,
		string(sess.State),
		sess.Created,
		sess.Updated,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	const insertChapter = `
		INSERT INTO chapters (session_id, seq, title, status, content, error_text)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	for _, ch := range sess.Chapters {
		if _, err := s.pool.Exec(ctx, insertChapter,
			sess.ID, ch.Seq, ch.Title, string(ch.Status), ch.Content, ch.Error,
		); err != nil {
			return fmt.Errorf("insert chapter %d: %w", ch.Seq, err)
		}
	}
	return nil
}

// GetSession loads the session row and its chapters in queue order.
func (s *SessionStore) GetSession(ctx context.Context, id string) (novel.Session, error) {
	const selectSession = `
		SELECT title, author, description, total_estimate, sources, state, created_at, updated_at
		FROM sessions WHERE id = $1;
	`
	var (
		sess    novel.Session
		state   string
		sources []byte
	)
	sess.ID = id
	err := s.pool.QueryRow(ctx, selectSession, id).Scan(
		&sess.Metadata.Title,
		&sess.Metadata.Author,
		&sess.Metadata.Description,
		&sess.Metadata.TotalChaptersEstimate,
		&sources,
		&state,
		&sess.Created,
		&sess.Updated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return novel.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return novel.Session{}, fmt.Errorf("select session: %w", err)
	}
	sess.State = novel.SessionState(state)
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &sess.Metadata.Sources); err != nil {
			return novel.Session{}, fmt.Errorf("unmarshal sources: %w", err)
		}
	}

	const selectChapters = `
		SELECT seq, title, status, content, error_text
		FROM chapters WHERE session_id = $1 ORDER BY seq;
	`
	rows, err := s.pool.Query(ctx, selectChapters, id)
	if err != nil {
		return novel.Session{}, fmt.Errorf("select chapters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ch     novel.Chapter
			status string
		)
		if err := rows.Scan(&ch.Seq, &ch.Title, &status, &ch.Content, &ch.Error); err != nil {
			return novel.Session{}, fmt.Errorf("scan chapter: %w", err)
		}
		ch.Status = novel.ChapterStatus(status)
		sess.Chapters = append(sess.Chapters, ch)
		sess.Metadata.ChapterTitles = append(sess.Metadata.ChapterTitles, ch.Title)
	}
	if err := rows.Err(); err != nil {
		return novel.Session{}, fmt.Errorf("iterate chapters: %w", err)
	}
	return sess, nil
}

// SetState updates the session lifecycle state.
func (s *SessionStore) SetState(ctx context.Context, id string, state novel.SessionState) error {
	const query = `UPDATE sessions SET state = $1, updated_at = $2 WHERE id = $3;`
	tag, err := s.pool.Exec(ctx, query, string(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateChapter replaces the chapter row matching ch.Seq.
func (s *SessionStore) UpdateChapter(ctx context.Context, id string, ch novel.Chapter) error {
	const query = `
		UPDATE chapters SET status = $1, content = $2, error_text = $3
		WHERE session_id = $4 AND seq = $5;
	`
	tag, err := s.pool.Exec(ctx, query, string(ch.Status), ch.Content, ch.Error, id, ch.Seq)
	if err != nil {
		return fmt.Errorf("update chapter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	const touch = `UPDATE sessions SET updated_at = $1 WHERE id = $2;`
	if _, err := s.pool.Exec(ctx, touch, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
