package idp

import (
	"context"
	"time"
)

// Store owns the server-side protocol state: browser sessions, pending
// authentication sessions, authorization codes, and opaque tokens. Lookups
// that miss return (nil, nil); errors are reserved for storage failures.
type Store interface {
	SaveBrowserSession(ctx context.Context, sess BrowserSession) error
	GetBrowserSession(ctx context.Context, id string) (*BrowserSession, error)
	DeleteBrowserSession(ctx context.Context, id string) error

	// UpsertAuthSession overwrites the mutable fields of the record keyed by
	// (SessionID, ClientID), or inserts it. Concurrent authorizations from
	// one browser session to different clients never collide.
	UpsertAuthSession(ctx context.Context, sess AuthSession) error
	FindAuthSessionByClientAndState(ctx context.Context, clientID, state string) (*AuthSession, error)

	SaveAuthCode(ctx context.Context, code AuthorizationCode) error

	// RedeemAuthCode atomically marks the code revoked and returns it. The
	// revoked=false precondition is evaluated inside the store so two racing
	// redemptions cannot both succeed. A spent, expired, or unknown code
	// returns (nil, nil).
	RedeemAuthCode(ctx context.Context, code, clientID string, now time.Time) (*AuthorizationCode, error)

	SaveAccessToken(ctx context.Context, token AccessToken) error
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	SaveRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	Close() error
}
