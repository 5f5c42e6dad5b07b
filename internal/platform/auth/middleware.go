package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SessionKey   contextKey = "session"
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// SessionManager issues and resolves session cookies against a Store.
type SessionManager struct {
	store      Store
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

func NewSessionManager(store Store, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		store:      store,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		now:        time.Now,
	}
}

func (m *SessionManager) Store() Store {
	return m.store
}

// Start persists a new session for the given identity and sets the cookie.
func (m *SessionManager) Start(c echo.Context, userID string, kind Kind, role, name string) (*Session, error) {
	now := m.now()
	sess := &Session{
		UserID:    userID,
		Kind:      kind,
		Role:      role,
		Name:      name,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Create(c.Request().Context(), sess); err != nil {
		return nil, err
	}

	c.SetCookie(&http.Cookie{
		Name:     m.cookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// End deletes the current session, if any, and expires the cookie.
func (m *SessionManager) End(c echo.Context) error {
	var err error
	if cookie, cerr := c.Cookie(m.cookieName); cerr == nil && cookie.Value != "" {
		err = m.store.Delete(c.Request().Context(), cookie.Value)
	}
	m.clearCookie(c)
	return err
}

func (m *SessionManager) clearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Lookup resolves the session cookie on a raw request. Used by the websocket
// upgrade, which runs outside the API middleware chain.
func (m *SessionManager) Lookup(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrSessionNotFound
	}
	return m.store.Get(r.Context(), cookie.Value)
}

// Load attaches the session referenced by the cookie to the request context.
// Requests without a valid session pass through anonymously.
func (m *SessionManager) Load() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess, err := m.Lookup(c.Request())
			switch {
			case err == nil:
				c.Set("user_id", sess.UserID)
				ctx := WithSession(c.Request().Context(), sess)
				c.SetRequest(c.Request().WithContext(ctx))
			case errors.Is(err, ErrSessionNotFound):
				if _, cerr := c.Cookie(m.cookieName); cerr == nil {
					m.clearCookie(c)
				}
			default:
				return echo.NewHTTPError(http.StatusServiceUnavailable, "session store unavailable").SetInternal(err)
			}
			return next(c)
		}
	}
}

// WithSession returns a context carrying sess and its derived identity.
func WithSession(ctx context.Context, sess *Session) context.Context {
	ctx = context.WithValue(ctx, SessionKey, sess)
	ctx = context.WithValue(ctx, UserIDKey, sess.UserID)
	ctx = context.WithValue(ctx, UserRolesKey, []string{sess.Role})
	return ctx
}

func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(SessionKey).(*Session)
	return sess
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
