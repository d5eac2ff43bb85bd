package rp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const sessionCookieName = "rp_session"

// Session is the RP-side browser session. Before the callback completes it
// carries the transient login state; afterwards, the verified identity.
type Session struct {
	ID string

	// Transient, set by BeginLogin and cleared by HandleCallback.
	State    string
	Nonce    string
	Verifier string

	// Populated from the verified ID token.
	Authenticated bool
	UserID        string
	Name          string
	Email         string
	EmailVerified bool
	IDToken       string
	AccessToken   string
	RefreshToken  string

	ExpiresAt time.Time
}

// SessionStore persists RP sessions. Implementations are injected so
// deployments can swap the backing store.
type SessionStore interface {
	Save(ctx context.Context, sess Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// MemSessionStore is the in-memory SessionStore.
type MemSessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemSessionStore constructs an empty store.
func NewMemSessionStore() *MemSessionStore {
	return &MemSessionStore{sessions: make(map[string]Session)}
}

func (s *MemSessionStore) Save(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *MemSessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// SessionManager binds sessions to the browser cookie.
type SessionManager struct {
	store  SessionStore
	logger *slog.Logger
	ttl    time.Duration
	secure bool
}

// NewSessionManager constructs a session manager over store.
func NewSessionManager(store SessionStore, ttl time.Duration, secure bool, logger *slog.Logger) *SessionManager {
	return &SessionManager{store: store, logger: logger, ttl: ttl, secure: secure}
}

// Fetch returns the request's session, or nil when absent or expired.
func (sm *SessionManager) Fetch(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, nil
	}
	sess, err := sm.store.Get(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if !time.Now().Before(sess.ExpiresAt) {
		if err := sm.store.Delete(r.Context(), sess.ID); err != nil {
			sm.logger.Warn("delete expired session", "error", err)
		}
		return nil, nil
	}
	return sess, nil
}

// Ensure returns the request's session, creating a fresh one when needed.
func (sm *SessionManager) Ensure(w http.ResponseWriter, r *http.Request) (*Session, error) {
	sess, err := sm.Fetch(r)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess = &Session{
		ID:        newRandomValue(),
		ExpiresAt: time.Now().Add(sm.ttl),
	}
	if err := sm.store.Save(r.Context(), *sess); err != nil {
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
	return sess, nil
}

// Save persists an updated session.
func (sm *SessionManager) Save(ctx context.Context, sess *Session) error {
	return sm.store.Save(ctx, *sess)
}

// Clear removes the server-side session and expires the cookie.
func (sm *SessionManager) Clear(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := sm.store.Delete(r.Context(), cookie.Value); err != nil {
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
