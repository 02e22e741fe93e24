package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novelarc/novelarc/internal/controller"
	"github.com/novelarc/novelarc/internal/metrics"
	"github.com/novelarc/novelarc/internal/novel"
)

// Server wires HTTP handlers to the provider, the stores and the controller.
type Server struct {
	router   chi.Router
	sessions novel.SessionStore
	store    novel.FileStore
	provider novel.Provider
	ctrl     *controller.Controller
	idGen    novel.IDGenerator
	clock    novel.Clock
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. metrics serves
// GET /metrics and is typically a promhttp handler.
func NewServer(
	sessions novel.SessionStore,
	store novel.FileStore,
	provider novel.Provider,
	ctrl *controller.Controller,
	idGen novel.IDGenerator,
	clock novel.Clock,
	metricsHandler http.Handler,
	httpMetrics *metrics.HTTP,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions: sessions,
		store:    store,
		provider: provider,
		ctrl:     ctrl,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware)
	}
	r.Use(timeoutMiddleware(5 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Post("/start", s.startSession)
				r.Post("/stop", s.stopSession)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createSessionRequest struct {
	Query string `json:"query"`
}

type createSessionResponse struct {
	SessionID string      `json:"session_id"`
	Metadata  metadataDTO `json:"metadata"`
}

type metadataDTO struct {
	Title                 string   `json:"title"`
	Author                string   `json:"author,omitempty"`
	Description           string   `json:"description,omitempty"`
	TotalChaptersEstimate int      `json:"total_chapters_estimate,omitempty"`
	ChapterCount          int      `json:"chapter_count"`
	Sources               []string `json:"sources,omitempty"`
}

// createSession resolves a free-form query to novel metadata and registers a
// session with every chapter pending. The target store is validated first so a
// bad token or missing repo surfaces here rather than mid-run.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "missing query")
		return
	}

	if err := s.store.Validate(r.Context()); err != nil {
		s.logger.Error("file store validation failed", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("file store unavailable: %v", err))
		return
	}

	meta, found, err := s.provider.FindNovel(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("novel lookup failed", zap.String("query", req.Query), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "novel lookup failed")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no novel found for %q", req.Query))
		return
	}
	if len(meta.ChapterTitles) == 0 {
		s.writeError(w, http.StatusUnprocessableEntity, "novel has no chapters to archive")
		return
	}

	id, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate session id")
		return
	}
	sess := novel.NewSession(id, meta, s.clock.Now())
	if err := s.sessions.CreateSession(r.Context(), sess); err != nil {
		s.logger.Error("create session failed", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}

	s.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("novel", meta.Title),
		zap.Int("chapters", len(meta.ChapterTitles)),
	)
	s.writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: id,
		Metadata:  toMetadataDTO(meta),
	})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	// The archive loop outlives this request, so it must not inherit the
	// request's cancellation.
	err := s.ctrl.Start(context.WithoutCancel(r.Context()), id)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"session_id": id,
			"state":      string(novel.SessionRunning),
		})
	case errors.Is(err, controller.ErrAlreadyRunning):
		s.writeError(w, http.StatusConflict, "session is already running")
	case errors.Is(err, controller.ErrNoPendingChapters):
		s.writeError(w, http.StatusConflict, "session has no pending chapters")
	case errors.Is(err, novel.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	default:
		s.logger.Error("start session failed", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "start session failed")
	}
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if _, err := s.sessions.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, novel.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("load session failed", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "load session failed")
		return
	}
	// Blocks until the in-flight chapter, if any, commits its result.
	if err := s.ctrl.Stop(r.Context(), id); err != nil {
		s.writeError(w, http.StatusGatewayTimeout, "stop did not complete in time")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"state":      string(novel.SessionIdle),
	})
}

type sessionResponse struct {
	SessionID string       `json:"session_id"`
	State     string       `json:"state"`
	Running   bool         `json:"running"`
	Metadata  metadataDTO  `json:"metadata"`
	Progress  progressDTO  `json:"progress"`
	Chapters  []chapterDTO `json:"chapters"`
	Created   time.Time    `json:"created"`
	Updated   time.Time    `json:"updated"`
}

type progressDTO struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
}

type chapterDTO struct {
	Seq    int    `json:"seq"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	sess, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, novel.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("load session failed", zap.String("session_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "load session failed")
		return
	}
	s.writeJSON(w, http.StatusOK, toSessionResponse(sess, s.ctrl.Running(id)))
}

func toSessionResponse(sess novel.Session, running bool) sessionResponse {
	completed := 0
	chapters := make([]chapterDTO, 0, len(sess.Chapters))
	for _, ch := range sess.Chapters {
		if ch.Status.Terminal() {
			completed++
		}
		chapters = append(chapters, chapterDTO{
			Seq:    ch.Seq,
			Title:  ch.Title,
			Status: string(ch.Status),
			Error:  ch.Error,
		})
	}
	return sessionResponse{
		SessionID: sess.ID,
		State:     string(sess.State),
		Running:   running,
		Metadata:  toMetadataDTO(sess.Metadata),
		Progress: progressDTO{
			Completed: completed,
			Total:     len(sess.Chapters),
			Fraction:  sess.Progress(),
		},
		Chapters: chapters,
		Created:  sess.Created,
		Updated:  sess.Updated,
	}
}

func toMetadataDTO(meta novel.Metadata) metadataDTO {
	return metadataDTO{
		Title:                 meta.Title,
		Author:                meta.Author,
		Description:           meta.Description,
		TotalChaptersEstimate: meta.TotalChaptersEstimate,
		ChapterCount:          len(meta.ChapterTitles),
		Sources:               meta.Sources,
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
