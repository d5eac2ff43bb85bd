package idp

import (
	"crypto/rand"
	"errors"
	"slices"
	"strings"
	"time"
)

// OAuth protocol error categories surfaced as RFC 6749 error bodies.
var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInvalidClient  = errors.New("invalid_client")
	ErrInvalidGrant   = errors.New("invalid_grant")
	ErrInvalidScope   = errors.New("invalid_scope")
)

// ErrAuthenticationRequired signals that the caller must complete a login
// before the authorization can continue. It is a control-flow outcome, not a
// protocol failure.
var ErrAuthenticationRequired = errors.New("authentication required")

// Client records registered OAuth client metadata.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURIs []string
	Revoked      bool
}

// ValidRedirect reports whether uri is a member of the registered set.
// Exact match only; prefix or substring policies invite open redirects.
func (c *Client) ValidRedirect(uri string) bool {
	return uri != "" && slices.Contains(c.RedirectURIs, uri)
}

// User is an entry in the local user directory.
type User struct {
	ID            string
	Username      string
	Password      string
	Name          string
	Email         string
	EmailVerified bool
}

// BrowserSession is a logged-in browser session bound to a cookie.
type BrowserSession struct {
	ID        string
	UserID    string
	AuthTime  time.Time
	ExpiresAt time.Time
}

// AuthSession binds one pending OIDC transaction per browser session per
// client: nonce, state, and the PKCE challenge recorded at approval time.
type AuthSession struct {
	SessionID           string
	ClientID            string
	UserID              string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
}

// AuthorizationCode is a short-lived, single-use code issued at consent.
type AuthorizationCode struct {
	Code      string
	UserID    string
	ClientID  string
	Scope     string
	Revoked   bool
	ExpiresAt time.Time
}

// AccessToken is an opaque bearer token accepted at /oauth/userinfo.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	ExpiresAt time.Time
}

// RefreshToken is an opaque reissue handle.
type RefreshToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	Revoked   bool
	ExpiresAt time.Time
}

// TokenResponse is the token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// HasScope reports membership in a space-separated scope string.
func HasScope(scope, want string) bool {
	return slices.Contains(strings.Fields(scope), want)
}

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandomToken returns n alphanumeric characters from crypto/rand.
func RandomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("idp: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
