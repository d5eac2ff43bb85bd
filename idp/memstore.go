package idp

import (
	"context"
	"sync"
	"time"
)

// MemStore keeps all protocol state in mutex-guarded maps. Suitable for dev
// mode and tests; production deployments use SQLStore.
type MemStore struct {
	mu            sync.Mutex
	sessions      map[string]BrowserSession
	authSessions  map[string]AuthSession // keyed by sessionID + "\x00" + clientID
	authCodes     map[string]AuthorizationCode
	accessTokens  map[string]AccessToken
	refreshTokens map[string]RefreshToken
}

// NewMemStore constructs an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:      make(map[string]BrowserSession),
		authSessions:  make(map[string]AuthSession),
		authCodes:     make(map[string]AuthorizationCode),
		accessTokens:  make(map[string]AccessToken),
		refreshTokens: make(map[string]RefreshToken),
	}
}

func (s *MemStore) SaveBrowserSession(ctx context.Context, sess BrowserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *MemStore) GetBrowserSession(ctx context.Context, id string) (*BrowserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *MemStore) DeleteBrowserSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemStore) UpsertAuthSession(ctx context.Context, sess AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authSessions[sess.SessionID+"\x00"+sess.ClientID] = sess
	return nil
}

func (s *MemStore) FindAuthSessionByClientAndState(ctx context.Context, clientID, state string) (*AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.authSessions {
		if sess.ClientID == clientID && sess.State == state && time.Now().Before(sess.ExpiresAt) {
			out := sess
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemStore) SaveAuthCode(ctx context.Context, code AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code.Code] = code
	return nil
}

func (s *MemStore) RedeemAuthCode(ctx context.Context, code, clientID string, now time.Time) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.authCodes[code]
	if !ok || rec.ClientID != clientID || rec.Revoked || !now.Before(rec.ExpiresAt) {
		return nil, nil
	}
	rec.Revoked = true
	s.authCodes[code] = rec
	return &rec, nil
}

func (s *MemStore) SaveAccessToken(ctx context.Context, token AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[token.Token] = token
	return nil
}

func (s *MemStore) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accessTokens[token]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemStore) SaveRefreshToken(ctx context.Context, token RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token.Token] = token
	return nil
}

func (s *MemStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refreshTokens[token]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemStore) Close() error { return nil }
