package idp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"oidcpair/config"
	"oidcpair/idtoken"
)

var (
	testKeyOnce sync.Once
	testRSAKey  *rsa.PrivateKey
)

func testSigningKey(t *testing.T) *SigningKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		testRSAKey = key
	})
	return &SigningKey{Private: testRSAKey, Kid: SigningKid}
}

type tokenFixture struct {
	engine *TokenEngine
	authz  *AuthorizationEngine
	store  Store
	key    *SigningKey
}

func newTokenFixture(t *testing.T, mutate func(*config.IDPConfig)) *tokenFixture {
	t.Helper()
	cfg := config.Default().IDP
	if mutate != nil {
		mutate(&cfg)
	}

	clients, err := NewClientRegistry(cfg.Clients)
	if err != nil {
		t.Fatalf("client registry: %v", err)
	}
	users := NewUserDirectory(cfg.Users)
	store := NewMemStore()
	key := testSigningKey(t)

	return &tokenFixture{
		engine: NewTokenEngine(cfg, clients, users, store, key, testLogger()),
		authz:  NewAuthorizationEngine(cfg, clients, store, testLogger()),
		store:  store,
		key:    key,
	}
}

// issueCode drives the authorization step and returns the minted code.
func (f *tokenFixture) issueCode(t *testing.T, scope, state, nonce, challenge string) string {
	t.Helper()
	overrides := map[string]string{"scope": scope, "state": state, "nonce": nonce}
	if challenge != "" {
		overrides["code_challenge"] = challenge
		overrides["code_challenge_method"] = "S256"
	}
	req, err := f.authz.Parse(authorizeParams(overrides))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	code, err := f.authz.Approve(context.Background(), req, "browser-sess", "1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	return code
}

func baseTokenRequest(code, state, verifier string) TokenRequest {
	return TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "http://127.0.0.1:8081/oauth/callback",
		ClientID:     "webapp",
		ClientSecret: "webapp-secret",
		CodeVerifier: verifier,
		State:        state,
	}
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestExchangeHappyPath(t *testing.T) {
	f := newTokenFixture(t, nil)
	verifier := "verifier-0123456789-0123456789-0123456789-0123456789"
	code := f.issueCode(t, "openid profile email", "st-1", "n-1", s256(verifier))

	resp, err := f.engine.Exchange(context.Background(), baseTokenRequest(code, "st-1", verifier))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if len(resp.AccessToken) != 40 {
		t.Errorf("access token length = %d, want 40", len(resp.AccessToken))
	}
	if resp.RefreshToken == "" {
		t.Error("refresh token missing with issue_refresh_token enabled")
	}
	if resp.Scope != "openid profile email" {
		t.Errorf("scope = %q", resp.Scope)
	}

	claims, err := idtoken.Verify(resp.IDToken, &f.key.Private.PublicKey)
	if err != nil {
		t.Fatalf("verify id token: %v", err)
	}
	if claims.Subject != "1" {
		t.Errorf("sub = %q, want 1", claims.Subject)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "webapp" {
		t.Errorf("aud = %v, want [webapp]", claims.Audience)
	}
	if claims.Nonce != "n-1" {
		t.Errorf("nonce = %q, want n-1", claims.Nonce)
	}
	if claims.Name != "Alice Example" {
		t.Errorf("name = %q", claims.Name)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
	if claims.EmailVerified == nil || !*claims.EmailVerified {
		t.Error("email_verified not set")
	}
	if claims.AuthTime == 0 {
		t.Error("auth_time missing")
	}

	kid, err := idtoken.KidFromHeader(resp.IDToken)
	if err != nil || kid != SigningKid {
		t.Errorf("kid = %q, err %v", kid, err)
	}
}

func TestExchangeScopeGatesClaims(t *testing.T) {
	f := newTokenFixture(t, nil)
	code := f.issueCode(t, "openid email", "st-1", "n-1", "")

	resp, err := f.engine.Exchange(context.Background(), baseTokenRequest(code, "st-1", ""))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	claims, err := idtoken.Verify(resp.IDToken, &f.key.Private.PublicKey)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Name != "" {
		t.Errorf("name present without profile scope: %q", claims.Name)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
	if claims.EmailVerified == nil {
		t.Error("email_verified missing with email scope")
	}
}

func TestExchangeRejectsBadGrantType(t *testing.T) {
	f := newTokenFixture(t, nil)
	req := baseTokenRequest("whatever", "st", "")
	req.GrantType = "client_credentials"
	if _, err := f.engine.Exchange(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestExchangeRejectsBadClientSecret(t *testing.T) {
	f := newTokenFixture(t, nil)
	code := f.issueCode(t, "openid", "st-1", "", "")

	req := baseTokenRequest(code, "st-1", "")
	req.ClientSecret = "wrong"
	if _, err := f.engine.Exchange(context.Background(), req); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("err = %v, want ErrInvalidClient", err)
	}
}

func TestExchangeRejectsUnknownCode(t *testing.T) {
	f := newTokenFixture(t, nil)
	if _, err := f.engine.Exchange(context.Background(), baseTokenRequest("nope", "st", "")); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("err = %v, want ErrInvalidGrant", err)
	}
}

func TestExchangeRejectsDoubleRedemption(t *testing.T) {
	f := newTokenFixture(t, nil)
	code := f.issueCode(t, "openid", "st-1", "", "")

	if _, err := f.engine.Exchange(context.Background(), baseTokenRequest(code, "st-1", "")); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if _, err := f.engine.Exchange(context.Background(), baseTokenRequest(code, "st-1", "")); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("second exchange err = %v, want ErrInvalidGrant", err)
	}
}

func TestExchangeRejectsWrongVerifier(t *testing.T) {
	f := newTokenFixture(t, nil)
	code := f.issueCode(t, "openid", "st-1", "", s256("right-verifier-right-verifier-right-verifier"))

	req := baseTokenRequest(code, "st-1", "wrong-verifier-wrong-verifier-wrong-verifier")
	if _, err := f.engine.Exchange(context.Background(), req); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("err = %v, want ErrInvalidGrant", err)
	}
}

func TestExchangeRejectsMissingVerifier(t *testing.T) {
	f := newTokenFixture(t, nil)
	code := f.issueCode(t, "openid", "st-1", "", s256("some-verifier-some-verifier-some-verifier"))

	if _, err := f.engine.Exchange(context.Background(), baseTokenRequest(code, "st-1", "")); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("err = %v, want ErrInvalidGrant", err)
	}
}

func TestExchangeToleratesMissingAuthSession(t *testing.T) {
	f := newTokenFixture(t, nil)
	code := f.issueCode(t, "openid", "st-1", "n-1", "")

	// Client omits state at the token endpoint. The session cannot be
	// recovered, so the id_token has no nonce but the exchange succeeds.
	resp, err := f.engine.Exchange(context.Background(), baseTokenRequest(code, "", ""))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	claims, err := idtoken.Verify(resp.IDToken, &f.key.Private.PublicKey)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Nonce != "" {
		t.Errorf("nonce = %q, want empty", claims.Nonce)
	}
}

func TestExchangeWithoutRefreshToken(t *testing.T) {
	f := newTokenFixture(t, func(cfg *config.IDPConfig) {
		cfg.IssueRefreshToken = false
	})
	code := f.issueCode(t, "openid", "st-1", "", "")

	resp, err := f.engine.Exchange(context.Background(), baseTokenRequest(code, "st-1", ""))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.RefreshToken != "" {
		t.Errorf("refresh token issued despite being disabled: %q", resp.RefreshToken)
	}
}

func TestUserinfoScopeFiltering(t *testing.T) {
	tests := []struct {
		scope     string
		wantName  bool
		wantEmail bool
	}{
		{"openid", false, false},
		{"openid profile", true, false},
		{"openid email", false, true},
		{"openid profile email", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			f := newTokenFixture(t, nil)
			code := f.issueCode(t, tt.scope, "st-1", "", "")
			resp, err := f.engine.Exchange(context.Background(), baseTokenRequest(code, "st-1", ""))
			if err != nil {
				t.Fatalf("Exchange: %v", err)
			}

			info, err := f.engine.Userinfo(context.Background(), resp.AccessToken)
			if err != nil {
				t.Fatalf("Userinfo: %v", err)
			}
			if info["sub"] != "1" {
				t.Errorf("sub = %v", info["sub"])
			}
			if _, ok := info["name"]; ok != tt.wantName {
				t.Errorf("name present = %v, want %v", ok, tt.wantName)
			}
			if _, ok := info["email"]; ok != tt.wantEmail {
				t.Errorf("email present = %v, want %v", ok, tt.wantEmail)
			}
		})
	}
}

func TestUserinfoRejectsUnknownToken(t *testing.T) {
	f := newTokenFixture(t, nil)
	if _, err := f.engine.Userinfo(context.Background(), "nope"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("err = %v, want ErrInvalidGrant", err)
	}
}
