package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/learnflow/internal/transport"
	"github.com/go-chi/chi/v5"
)

// Bodies returned with 502 when an upstream cannot be reached.
var (
	chatUnavailable     = json.RawMessage(`{"error":"Cannot reach triage agent","response":"Backend is not available. Please ensure services are running."}`)
	progressUnavailable = json.RawMessage(`{"progress":[]}`)
	runnerUnavailable   = json.RawMessage(`{"error":"Cannot reach code runner","stdout":"","stderr":"Backend is not available."}`)
)

// Forwarder performs one upstream call.
type Forwarder interface {
	Send(ctx context.Context, method, path string, body any) transport.Result
}

// ProxyHandler forwards the browser's calls to the tutoring agent and the
// code runner, one route per upstream endpoint.
type ProxyHandler struct {
	triage         Forwarder
	runner         Forwarder
	defaultLearner string
	logger         *slog.Logger
}

// NewProxyHandler creates a proxy handler.
func NewProxyHandler(triage, runner Forwarder, defaultLearner string, logger *slog.Logger) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{triage: triage, runner: runner, defaultLearner: defaultLearner, logger: logger}
}

// RegisterRoutes registers the forwarding routes. throttle, when non-nil,
// wraps the routes that trigger upstream work.
func (h *ProxyHandler) RegisterRoutes(r chi.Router, throttle func(http.Handler) http.Handler) {
	limited := r
	if throttle != nil {
		limited = r.With(throttle)
	}
	limited.Post("/api/chat", h.Chat)
	r.Get("/api/progress", h.Progress)
	limited.Post("/api/run-code", h.RunCode)
}

// Chat forwards a chat message to the tutoring agent.
func (h *ProxyHandler) Chat(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON(w, r)
	if !ok {
		return
	}
	h.forward(w, r, h.triage, http.MethodPost, "/chat", body, chatUnavailable)
}

// Progress forwards a progress lookup. user_id defaults to the configured learner.
func (h *ProxyHandler) Progress(w http.ResponseWriter, r *http.Request) {
	learnerID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if learnerID == "" {
		learnerID = h.defaultLearner
	}
	h.forward(w, r, h.triage, http.MethodGet, "/progress/"+url.PathEscape(learnerID), nil, progressUnavailable)
}

// RunCode forwards a code execution request to the runner.
func (h *ProxyHandler) RunCode(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON(w, r)
	if !ok {
		return
	}
	h.forward(w, r, h.runner, http.MethodPost, "/execute", body, runnerUnavailable)
}

// forward relays the upstream JSON verbatim with 200, or writes fallback with
// 502 when the upstream could not be reached or did not answer in JSON.
func (h *ProxyHandler) forward(w http.ResponseWriter, r *http.Request, to Forwarder, method, path string, body json.RawMessage, fallback json.RawMessage) {
	var payload any
	if body != nil {
		payload = body
	}

	res := to.Send(r.Context(), method, path, payload)
	if !res.OK() {
		if res.Unavailable() {
			h.logger.Warn("Upstream unreachable", "upstream", path, "error", res.Err)
		} else {
			h.logger.Error("Upstream request not sent", "upstream", path, "error", res.Err)
		}
		Raw(w, http.StatusBadGateway, fallback)
		return
	}

	h.logger.Debug("Upstream replied", "upstream", path, "status", res.Status)
	Raw(w, http.StatusOK, res.Body)
}
