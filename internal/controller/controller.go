// Package controller implements the chapter-by-chapter archive loop.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/novelarc/novelarc/internal/novel"
	"github.com/novelarc/novelarc/internal/policy/ratelimit"
	"github.com/novelarc/novelarc/internal/progress"
)

// Rate limiter targets for the two upstreams the loop talks to.
const (
	targetProvider = "provider"
	targetStore    = "store"
)

// Control errors surfaced to the API layer.
var (
	ErrAlreadyRunning    = errors.New("session is already running")
	ErrNoPendingChapters = errors.New("session has no pending chapters")
)

// Config controls Controller behavior.
type Config struct {
	// PathPrefix is prepended to every composed store path.
	PathPrefix string
	// Delay is the fixed pause between completed chapters. Deliberately
	// constant: no adaptivity, no backoff.
	Delay time.Duration
	// InitialDelay is the pause before the first tick after Start.
	InitialDelay time.Duration
	// OutboundRPS caps calls to the provider and file store. Zero disables
	// the cap.
	OutboundRPS float64
}

// Controller drives exactly one pending chapter per tick until the queue is
// exhausted or the caller stops the session. It is the sole writer of chapter
// status and session state while a run is active.
type Controller struct {
	provider novel.Provider
	store    novel.FileStore
	sessions novel.SessionStore
	emitter  progress.Emitter
	clock    novel.Clock
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
	cfg      Config

	mu   sync.Mutex
	runs map[string]*runHandle
}

type runHandle struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (h *runHandle) requestStop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// New constructs a Controller.
func New(
	provider novel.Provider,
	store novel.FileStore,
	sessions novel.SessionStore,
	emitter progress.Emitter,
	clock novel.Clock,
	cfg Config,
	logger *zap.Logger,
) *Controller {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 3 * time.Second
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	return &Controller{
		provider: provider,
		store:    store,
		sessions: sessions,
		emitter:  emitter,
		clock:    clock,
		limiter:  ratelimit.New(ratelimit.Config{RPS: cfg.OutboundRPS}),
		logger:   logger,
		cfg:      cfg,
	}
}

// Start launches the archive loop for a session. It is valid only when the
// session has at least one pending chapter and no loop is running for it.
// Starting after a Stop resumes from the first remaining pending chapter.
func (c *Controller) Start(ctx context.Context, sessionID string) error {
	sess, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if _, ok := sess.NextPending(); !ok {
		return ErrNoPendingChapters
	}

	c.mu.Lock()
	if c.runs == nil {
		c.runs = make(map[string]*runHandle)
	}
	if _, running := c.runs[sessionID]; running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	handle := &runHandle{stop: make(chan struct{}), done: make(chan struct{})}
	c.runs[sessionID] = handle
	c.mu.Unlock()

	if err := c.sessions.SetState(ctx, sessionID, novel.SessionRunning); err != nil {
		c.release(sessionID)
		close(handle.done)
		return fmt.Errorf("mark session running: %w", err)
	}
	c.emitter.Emit(progress.Event{
		SessionID: sessionID,
		TS:        c.clock.Now(),
		Stage:     progress.StageSessionStart,
		Novel:     sess.Metadata.Title,
		Progress:  sess.Progress(),
	})
	c.logger.Info("session started",
		zap.String("session_id", sessionID),
		zap.String("novel", sess.Metadata.Title),
		zap.Int("chapters", len(sess.Chapters)),
	)

	go c.run(ctx, sessionID, handle)
	return nil
}

// Stop requests a cooperative stop and blocks until the loop exits or ctx
// ends. The stop is honored at tick boundaries only: an in-flight chapter
// still commits its result before the loop halts.
func (c *Controller) Stop(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	handle, running := c.runs[sessionID]
	c.mu.Unlock()
	if !running {
		return nil
	}
	handle.requestStop()
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop wait: %w", ctx.Err())
	}
}

// StopAll requests a stop for every active loop and waits for each to exit or
// ctx to end. Used during graceful shutdown.
func (c *Controller) StopAll(ctx context.Context) error {
	c.mu.Lock()
	handles := make([]*runHandle, 0, len(c.runs))
	for _, h := range c.runs {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		h.requestStop()
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return fmt.Errorf("stop wait: %w", ctx.Err())
		}
	}
	return nil
}

// Running reports whether a loop is active for the session.
func (c *Controller) Running(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.runs[sessionID]
	return ok
}

func (c *Controller) release(sessionID string) {
	c.mu.Lock()
	delete(c.runs, sessionID)
	c.mu.Unlock()
}

func (c *Controller) run(ctx context.Context, sessionID string, handle *runHandle) {
	defer close(handle.done)
	defer c.release(sessionID)

	if !c.pause(ctx, handle, c.cfg.InitialDelay) {
		c.settle(ctx, sessionID, progress.StageSessionStop)
		return
	}
	for {
		sess, err := c.sessions.GetSession(ctx, sessionID)
		if err != nil {
			c.logger.Error("load session failed, stopping loop",
				zap.String("session_id", sessionID), zap.Error(err))
			c.settle(ctx, sessionID, progress.StageSessionStop)
			return
		}
		ch, ok := sess.NextPending()
		if !ok {
			// Sole happy-path termination condition.
			if err := c.sessions.SetState(ctx, sessionID, novel.SessionFinished); err != nil {
				c.logger.Error("mark session finished failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
			c.emitter.Emit(progress.Event{
				SessionID: sessionID,
				TS:        c.clock.Now(),
				Stage:     progress.StageSessionDone,
				Novel:     sess.Metadata.Title,
				Progress:  1,
			})
			c.logger.Info("session finished", zap.String("session_id", sessionID))
			return
		}

		c.advanceOne(ctx, sessionID, sess, ch)

		if !c.pause(ctx, handle, c.cfg.Delay) {
			c.settle(ctx, sessionID, progress.StageSessionStop)
			return
		}
	}
}

// pause waits for d between ticks. It returns false when the loop should
// exit: a stop request or context cancellation, both checked only here, at
// the tick boundary.
func (c *Controller) pause(ctx context.Context, handle *runHandle, d time.Duration) bool {
	// A stop that raced the last tick wins before any timer starts.
	select {
	case <-handle.stop:
		return false
	case <-ctx.Done():
		return false
	default:
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-handle.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) settle(ctx context.Context, sessionID string, stage progress.Stage) {
	if err := c.sessions.SetState(ctx, sessionID, novel.SessionIdle); err != nil {
		c.logger.Warn("mark session idle failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	sess, err := c.sessions.GetSession(ctx, sessionID)
	evt := progress.Event{
		SessionID: sessionID,
		TS:        c.clock.Now(),
		Stage:     stage,
	}
	if err == nil {
		evt.Novel = sess.Metadata.Title
		evt.Progress = sess.Progress()
	}
	c.emitter.Emit(evt)
	c.logger.Info("session stopped", zap.String("session_id", sessionID))
}

// advanceOne drives a single chapter through fetch, sanitize, upload and
// status update. Provider failures are swallowed into placeholder content and
// still persisted; store failures mark the chapter error. Either way the
// chapter ends terminal and the loop moves on.
func (c *Controller) advanceOne(ctx context.Context, sessionID string, sess novel.Session, ch novel.Chapter) {
	if ch.Status != novel.ChapterPending {
		// Selection only yields pending chapters; anything else is a logic
		// error, not a recoverable fault.
		c.logger.Error("selected chapter is not pending",
			zap.String("session_id", sessionID),
			zap.Int("seq", ch.Seq),
			zap.String("status", string(ch.Status)),
		)
		return
	}
	started := c.clock.Now()

	ch.Status = novel.ChapterCrawling
	if err := c.sessions.UpdateChapter(ctx, sessionID, ch); err != nil {
		c.logger.Error("mark chapter crawling failed",
			zap.String("session_id", sessionID), zap.Int("seq", ch.Seq), zap.Error(err))
		return
	}

	c.emitter.Emit(progress.Event{
		SessionID: sessionID,
		TS:        started,
		Stage:     progress.StageFetchStart,
		Novel:     sess.Metadata.Title,
		Seq:       ch.Seq,
		Chapter:   ch.Title,
		Progress:  sess.Progress(),
	})
	c.logger.Info("fetching chapter",
		zap.String("session_id", sessionID),
		zap.Int("seq", ch.Seq),
		zap.String("chapter", ch.Title),
	)

	c.waitOutbound(ctx, targetProvider)
	content := c.provider.FetchChapterText(ctx, sess.Metadata.Title, ch.Title)
	if content == "" {
		content = novel.PlaceholderContent
	}

	path := novel.ChapterPath(c.cfg.PathPrefix, sess.Metadata.Title, ch.Seq, ch.Title)
	message := fmt.Sprintf("Archive chapter %d of %s: %s",
		ch.Seq, sess.Metadata.Title, ch.Title)

	c.emitter.Emit(progress.Event{
		SessionID: sessionID,
		TS:        c.clock.Now(),
		Stage:     progress.StageUploadStart,
		Novel:     sess.Metadata.Title,
		Seq:       ch.Seq,
		Chapter:   ch.Title,
		Progress:  sess.Progress(),
	})
	c.logger.Info("uploading chapter",
		zap.String("session_id", sessionID),
		zap.Int("seq", ch.Seq),
		zap.String("path", path),
	)

	c.waitOutbound(ctx, targetStore)
	err := c.upload(ctx, path, content, message)
	if err != nil {
		ch.Status = novel.ChapterError
		ch.Content = ""
		ch.Error = err.Error()
		c.logger.Error("chapter upload failed",
			zap.String("session_id", sessionID),
			zap.Int("seq", ch.Seq),
			zap.String("path", path),
			zap.Error(err),
		)
	} else {
		ch.Status = novel.ChapterSuccess
		ch.Content = content
		ch.Error = ""
	}
	if updErr := c.sessions.UpdateChapter(ctx, sessionID, ch); updErr != nil {
		c.logger.Error("record chapter outcome failed",
			zap.String("session_id", sessionID), zap.Int("seq", ch.Seq), zap.Error(updErr))
		return
	}

	outcome := progress.OutcomeSuccess
	note := ""
	if err != nil {
		outcome = progress.OutcomeError
		note = err.Error()
	}
	after, getErr := c.sessions.GetSession(ctx, sessionID)
	progressNow := sess.Progress()
	if getErr == nil {
		progressNow = after.Progress()
	}
	c.emitter.Emit(progress.Event{
		SessionID: sessionID,
		TS:        c.clock.Now(),
		Stage:     progress.StageChapterDone,
		Novel:     sess.Metadata.Title,
		Seq:       ch.Seq,
		Chapter:   ch.Title,
		Outcome:   outcome,
		Bytes:     int64(len(ch.Content)),
		Progress:  progressNow,
		Dur:       c.clock.Now().Sub(started),
		Note:      note,
	})
}

func (c *Controller) upload(ctx context.Context, path, content, message string) error {
	version, _, err := c.store.Stat(ctx, path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := c.store.Put(ctx, path, []byte(content), message, version); err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (c *Controller) waitOutbound(ctx context.Context, target string) {
	if err := c.limiter.Wait(ctx, target); err != nil && ctx.Err() == nil {
		c.logger.Warn("outbound rate limit wait failed",
			zap.String("target", target), zap.Error(err))
	}
}
