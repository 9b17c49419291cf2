package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/learnflow/internal/chat"
	"github.com/ashureev/learnflow/internal/coderun"
	"github.com/ashureev/learnflow/internal/domain"
	"github.com/ashureev/learnflow/internal/identity"
	"github.com/ashureev/learnflow/internal/progress"
	"github.com/ashureev/learnflow/internal/session"
	"github.com/go-chi/chi/v5"
)

// SessionHandler exposes the per-tab controllers. Routes require the
// identity middleware.
type SessionHandler struct {
	registry *session.Registry
	progress *progress.Fetcher
	feed     *FeedHandler
	logger   *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(registry *session.Registry, fetcher *progress.Fetcher, feed *FeedHandler, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{registry: registry, progress: fetcher, feed: feed, logger: logger}
}

// RegisterRoutes registers session routes. throttle, when non-nil, wraps the
// routes that trigger upstream work.
func (h *SessionHandler) RegisterRoutes(r chi.Router, throttle func(http.Handler) http.Handler) {
	r.Route("/api/session", func(r chi.Router) {
		limited := r
		if throttle != nil {
			limited = r.With(throttle)
		}
		r.Get("/", h.Get)
		r.Delete("/", h.Reset)
		limited.Post("/chat", h.Chat)
		r.Put("/code", h.SetCode)
		limited.Post("/run", h.Run)
		r.Get("/progress", h.Progress)
		if h.feed != nil {
			r.Get("/feed", h.feed.ServeHTTP)
		}
	})
}

func (h *SessionHandler) current(r *http.Request) *session.Session {
	id, _ := identity.FromContext(r.Context())
	return h.registry.Get(r.Context(), id.UserID, id.SessionID)
}

// Get returns the session snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.current(r).Snapshot())
}

// Reset discards the tab's controllers. The next request starts fresh.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	h.registry.Close(id.UserID, id.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Turn    domain.Turn      `json:"turn"`
	Session session.Snapshot `json:"session"`
}

// Chat submits a message and returns the tutor's turn once it is appended.
func (h *SessionHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := h.current(r)
	// The reply belongs to the transcript even if this client goes away.
	ctx := context.WithoutCancel(r.Context())

	turn, err := sess.Chat.Submit(ctx, req.Text)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message is empty")
		return
	case errors.Is(err, chat.ErrBusy):
		Error(w, http.StatusConflict, "chat_in_flight")
		return
	case err != nil:
		h.logger.Error("Chat submit failed", "error", err, "user_id", sess.UserID, "session_id", sess.SessionID)
		Error(w, http.StatusInternalServerError, "chat failed")
		return
	}

	JSON(w, http.StatusOK, chatResponse{Turn: turn, Session: sess.Snapshot()})
}

type codeRequest struct {
	Code string `json:"code"`
}

// SetCode replaces the editor buffer.
func (h *SessionHandler) SetCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := h.current(r)
	sess.Code.SetSource(req.Code)
	JSON(w, http.StatusOK, sess.Snapshot())
}

type runResponse struct {
	Result  domain.ExecutionResult  `json:"result"`
	Display domain.ExecutionDisplay `json:"display"`
}

// Run executes the editor buffer and returns the rendered result.
func (h *SessionHandler) Run(w http.ResponseWriter, r *http.Request) {
	sess := h.current(r)

	result, err := sess.Code.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, coderun.ErrBusy) {
		Error(w, http.StatusConflict, "run_in_flight")
		return
	}
	if err != nil {
		h.logger.Error("Code run failed", "error", err, "user_id", sess.UserID, "session_id", sess.SessionID)
		Error(w, http.StatusInternalServerError, "run failed")
		return
	}

	JSON(w, http.StatusOK, runResponse{Result: result, Display: coderun.Render(result)})
}

// Progress fetches mastery records. Fallback data is tagged as such.
func (h *SessionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.progress.Fetch(r.Context(), r.URL.Query().Get("user_id")))
}
