package rp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"oidcpair/config"
	"oidcpair/idtoken"
)

// Verification failures, separated from signature and shape errors so
// callers can tell a forged token from a stale or misdirected one.
var (
	ErrInvalidIssuer   = errors.New("id token issuer mismatch")
	ErrInvalidAudience = errors.New("id token audience mismatch")
	ErrTokenExpired    = errors.New("id token expired")
	ErrInvalidNonce    = errors.New("id token nonce mismatch")
)

// Verifier checks ID tokens against the provider's published keys and the
// RP's expectations.
type Verifier struct {
	discovery *DiscoveryClient
	clientID  string
}

// NewVerifier constructs a verifier bound to one provider and client.
func NewVerifier(discovery *DiscoveryClient, clientID string) *Verifier {
	return &Verifier{discovery: discovery, clientID: clientID}
}

// Verify validates raw cryptographically and then checks issuer, audience,
// expiry, and the expected nonce. expectedNonce may be empty when the login
// was started without one.
func (v *Verifier) Verify(ctx context.Context, raw, expectedNonce string) (*idtoken.Claims, error) {
	kid, err := idtoken.KidFromHeader(raw)
	if err != nil {
		return nil, err
	}

	set, err := v.discovery.Keys(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := set.ByKid(kid)
	if !ok {
		// The provider may have rotated keys since the last fetch.
		set, err = v.discovery.RefreshKeys(ctx)
		if err != nil {
			return nil, err
		}
		if key, ok = set.ByKid(kid); !ok {
			return nil, fmt.Errorf("%w: no key for kid %q", idtoken.ErrInvalidSignature, kid)
		}
	}

	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("provider key %q: %w", key.Kid, err)
	}

	claims, err := idtoken.Verify(raw, pub)
	if err != nil {
		return nil, err
	}

	if config.NormalizedIssuer(claims.Issuer) != v.discovery.Issuer() {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrInvalidIssuer, claims.Issuer, v.discovery.Issuer())
	}
	if !slices.Contains(claims.Audience, v.clientID) {
		return nil, fmt.Errorf("%w: got %v, want %q", ErrInvalidAudience, claims.Audience, v.clientID)
	}
	if claims.ExpiresAt == nil || !time.Now().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	if claims.Nonce != expectedNonce {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidNonce, claims.Nonce)
	}
	return claims, nil
}
