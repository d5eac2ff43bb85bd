package idp

import (
	"log/slog"
	"net/http"
	"time"
)

const sessionCookieName = "idp_session"

// SessionManager handles cookie-backed browser sessions on the IDP.
type SessionManager struct {
	store  Store
	logger *slog.Logger
	ttl    time.Duration
	secure bool
}

// NewSessionManager constructs a session manager.
func NewSessionManager(store Store, ttl time.Duration, secure bool, logger *slog.Logger) *SessionManager {
	return &SessionManager{store: store, logger: logger, ttl: ttl, secure: secure}
}

// Fetch returns the session for the request cookie, or nil when absent or
// expired. Active sessions get a sliding TTL extension.
func (sm *SessionManager) Fetch(r *http.Request) (*BrowserSession, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, nil
	}
	sess, err := sm.store.GetBrowserSession(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if !time.Now().Before(sess.ExpiresAt) {
		if err := sm.store.DeleteBrowserSession(r.Context(), sess.ID); err != nil {
			sm.logger.Warn("delete expired session", "error", err)
		}
		return nil, nil
	}

	sess.ExpiresAt = time.Now().Add(sm.ttl)
	if err := sm.store.SaveBrowserSession(r.Context(), *sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Create establishes a new session for user and sets the cookie.
func (sm *SessionManager) Create(w http.ResponseWriter, r *http.Request, user *User) (*BrowserSession, error) {
	sess := BrowserSession{
		ID:        RandomToken(40),
		UserID:    user.ID,
		AuthTime:  time.Now(),
		ExpiresAt: time.Now().Add(sm.ttl),
	}
	if err := sm.store.SaveBrowserSession(r.Context(), sess); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.ttl.Seconds()),
	})
	return &sess, nil
}

// Clear removes the server-side session and expires the cookie.
func (sm *SessionManager) Clear(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := sm.store.DeleteBrowserSession(r.Context(), cookie.Value); err != nil {
			sm.logger.Warn("delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
