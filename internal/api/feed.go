package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/learnflow/internal/identity"
	"github.com/ashureev/learnflow/internal/session"
	"github.com/coder/websocket"
)

const feedWriteTimeout = 5 * time.Second

// FeedHandler pushes session snapshots over a WebSocket whenever a
// controller changes.
type FeedHandler struct {
	registry      *session.Registry
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewFeedHandler creates a feed handler.
func NewFeedHandler(registry *session.Registry, allowedOrigin string, isDev bool, logger *slog.Logger) *FeedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandler{registry: registry, allowedOrigin: allowedOrigin, isDev: isDev, logger: logger}
}

// feedMessage is one frame on the feed.
type feedMessage struct {
	Type    string            `json:"type"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())
	userID, sessionID := id.UserID, id.SessionID

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess := h.registry.Get(r.Context(), userID, sessionID)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes, release := sess.Subscribe()
	defer release()

	h.logger.Info("Session feed opened", "user_id", userID, "session_id", sessionID)

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, userID)
	}()

	if err := h.pushSnapshot(ctx, ws, sess); err != nil {
		return
	}

	for {
		select {
		case _, open := <-changes:
			if !open {
				_ = h.writeJSON(ctx, ws, feedMessage{Type: "closed"})
				h.logger.Info("Session feed closed by eviction", "user_id", userID, "session_id", sessionID)
				return
			}
			if err := h.pushSnapshot(ctx, ws, sess); err != nil {
				return
			}
		case <-ctx.Done():
			h.logger.Info("Session feed ended", "user_id", userID, "session_id", sessionID)
			return
		}
	}
}

func (h *FeedHandler) pushSnapshot(ctx context.Context, ws *websocket.Conn, sess *session.Session) error {
	snap := sess.Snapshot()
	if err := h.writeJSON(ctx, ws, feedMessage{Type: "snapshot", Session: &snap}); err != nil {
		if ctx.Err() == nil {
			h.logger.Debug("Feed write error", "error", err, "user_id", sess.UserID)
		}
		return err
	}
	return nil
}

// readLoop answers pings and returns when the client goes away.
func (h *FeedHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg feedMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, feedMessage{Type: "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *FeedHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *FeedHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
