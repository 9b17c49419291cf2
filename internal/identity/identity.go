// Package identity tells browsers and their tabs apart without accounts.
// A browser carries an anonymous id in a cookie; each tab names itself with a
// header so two tabs of one browser keep separate transcripts.
package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/learnflow/internal/domain"
	"github.com/google/uuid"
)

const (
	AnonCookieName        = "learnflow_anon_id"
	SessionHeaderName     = "X-LearnFlow-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"

	cookieLifetime = 30 * 24 * time.Hour
)

var (
	userIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	tabIDPattern  = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity names the browser and the tab behind a request.
type Identity struct {
	UserID    string
	SessionID string
}

// UserStore is the part of the store the resolver needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the middleware. Without one the
// user id is empty and the tab is DefaultSessionIDValue.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok {
		return Identity{SessionID: DefaultSessionIDValue}, false
	}
	return id, true
}

// Resolver establishes the identity of each request.
type Resolver struct {
	users  UserStore
	secure bool
	now    func() time.Time
}

// NewResolver creates a resolver. Cookies are marked Secure outside development.
func NewResolver(users UserStore, isDev bool) *Resolver {
	return &Resolver{users: users, secure: !isDev, now: time.Now}
}

// Resolve reads or mints the browser id, refreshes its cookie, makes sure the
// user is on record, and picks the tab id from the request.
func (res *Resolver) Resolve(w http.ResponseWriter, r *http.Request) (Identity, error) {
	userID := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && userIDPattern.MatchString(c.Value) {
		userID = c.Value
	} else {
		userID = newUserID()
	}
	res.setCookie(w, userID)

	if err := res.register(r.Context(), userID); err != nil {
		return Identity{}, fmt.Errorf("register user %s: %w", userID, err)
	}
	return Identity{UserID: userID, SessionID: tabID(r)}, nil
}

// Middleware stores the resolved identity in the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := res.Resolve(w, r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"failed to establish anonymous identity"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
	})
}

// Middleware is shorthand for NewResolver(users, isDev).Middleware.
func Middleware(users UserStore, isDev bool) func(http.Handler) http.Handler {
	return NewResolver(users, isDev).Middleware
}

func (res *Resolver) register(ctx context.Context, userID string) error {
	existing, err := res.users.GetUser(ctx, userID)
	if err != nil || existing != nil {
		return err
	}
	now := res.now()
	return res.users.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (res *Resolver) setCookie(w http.ResponseWriter, userID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(cookieLifetime.Seconds()),
		Expires:  res.now().Add(cookieLifetime),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   res.secure,
	})
}

func newUserID() string {
	u := uuid.New()
	return "anon_" + hex.EncodeToString(u[:])
}

// tabID prefers the header; websocket clients cannot set headers, so the
// query parameter is accepted too. Anything malformed maps to the default tab.
func tabID(r *http.Request) string {
	id := r.Header.Get(SessionHeaderName)
	if id == "" {
		id = r.URL.Query().Get(SessionQueryParam)
	}
	id = strings.TrimSpace(id)
	if !tabIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// IPFromRequest returns the remote IP without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
