package idp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"oidcpair/config"
	"oidcpair/idtoken"
)

// TokenRequest carries the form parameters of POST /oauth/token.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	State        string
}

// TokenEngine redeems authorization codes for tokens.
type TokenEngine struct {
	cfg     config.IDPConfig
	issuer  string
	clients *ClientRegistry
	users   *UserDirectory
	store   Store
	key     *SigningKey
	logger  *slog.Logger
}

// NewTokenEngine constructs the engine.
func NewTokenEngine(cfg config.IDPConfig, clients *ClientRegistry, users *UserDirectory, store Store, key *SigningKey, logger *slog.Logger) *TokenEngine {
	return &TokenEngine{
		cfg:     cfg,
		issuer:  config.NormalizedIssuer(cfg.Issuer),
		clients: clients,
		users:   users,
		store:   store,
		key:     key,
		logger:  logger,
	}
}

// Exchange runs the authorization_code grant: client authentication, atomic
// single-use code redemption, PKCE enforcement, and token minting.
func (e *TokenEngine) Exchange(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	if req.GrantType != "authorization_code" {
		return TokenResponse{}, fmt.Errorf("%w: unsupported grant_type %q", ErrInvalidRequest, req.GrantType)
	}
	if req.Code == "" || req.RedirectURI == "" {
		return TokenResponse{}, fmt.Errorf("%w: code and redirect_uri required", ErrInvalidRequest)
	}

	client, err := e.clients.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}
	if !client.ValidRedirect(req.RedirectURI) {
		return TokenResponse{}, fmt.Errorf("%w: redirect_uri not registered", ErrInvalidGrant)
	}

	now := time.Now()

	// The conditional update settles the single-use race: of two concurrent
	// redemptions, exactly one gets the record back.
	code, err := e.store.RedeemAuthCode(ctx, req.Code, client.ClientID, now)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("redeem code: %w", err)
	}
	if code == nil {
		return TokenResponse{}, fmt.Errorf("%w: code invalid, expired, or already used", ErrInvalidGrant)
	}

	// Recover the nonce/PKCE binding recorded at approval. A missing session
	// is tolerated: the id_token then carries no nonce and PKCE cannot be
	// checked. Clients that sent a challenge lose replay protection if their
	// state never reaches us here, so they should always echo state.
	sess, err := e.store.FindAuthSessionByClientAndState(ctx, client.ClientID, req.State)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("find auth session: %w", err)
	}

	if sess != nil && sess.CodeChallenge != "" {
		if err := verifyPKCE(sess.CodeChallenge, req.CodeVerifier); err != nil {
			return TokenResponse{}, err
		}
	}

	user, ok := e.users.ByID(code.UserID)
	if !ok {
		return TokenResponse{}, fmt.Errorf("%w: user %q not found", ErrInvalidGrant, code.UserID)
	}

	// The code record, not the original request, is the authoritative grant.
	scope := code.Scope

	access := AccessToken{
		Token:     RandomToken(40),
		ClientID:  client.ClientID,
		UserID:    user.ID,
		Scope:     scope,
		ExpiresAt: now.Add(e.cfg.AccessTokenLifetime()),
	}
	if err := e.store.SaveAccessToken(ctx, access); err != nil {
		return TokenResponse{}, fmt.Errorf("save access token: %w", err)
	}

	var nonce string
	if sess != nil {
		nonce = sess.Nonce
	}
	idToken, err := e.buildIDToken(user, client, scope, nonce, now)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("build id token: %w", err)
	}

	resp := TokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(e.cfg.AccessTokenLifetime().Seconds()),
		IDToken:     idToken,
		Scope:       scope,
	}

	if e.cfg.IssueRefreshToken {
		refresh := RefreshToken{
			Token:     RandomToken(40),
			ClientID:  client.ClientID,
			UserID:    user.ID,
			Scope:     scope,
			ExpiresAt: now.Add(e.cfg.RefreshTokenLifetime()),
		}
		if err := e.store.SaveRefreshToken(ctx, refresh); err != nil {
			return TokenResponse{}, fmt.Errorf("save refresh token: %w", err)
		}
		resp.RefreshToken = refresh.Token
	}

	e.logger.Info("tokens issued",
		"client_id", client.ClientID,
		"user_id", user.ID,
		"scope", scope,
	)
	return resp, nil
}

// Userinfo resolves a bearer access token to the userinfo claims, filtered
// by the granted scopes.
func (e *TokenEngine) Userinfo(ctx context.Context, bearer string) (map[string]any, error) {
	token, err := e.store.GetAccessToken(ctx, bearer)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	if token == nil || !time.Now().Before(token.ExpiresAt) {
		return nil, fmt.Errorf("%w: access token invalid or expired", ErrInvalidGrant)
	}
	user, ok := e.users.ByID(token.UserID)
	if !ok {
		return nil, fmt.Errorf("%w: user %q not found", ErrInvalidGrant, token.UserID)
	}

	resp := map[string]any{"sub": user.ID}
	if HasScope(token.Scope, "profile") {
		resp["name"] = user.Name
	}
	if HasScope(token.Scope, "email") {
		resp["email"] = user.Email
		resp["email_verified"] = user.EmailVerified
	}
	return resp, nil
}

// buildIDToken assembles and signs the ID Token. auth_time equals iat since
// every issuance follows an interactive authentication.
func (e *TokenEngine) buildIDToken(user *User, client *Client, scope, nonce string, now time.Time) (string, error) {
	claims := idtoken.Claims{
		AuthTime: now.Unix(),
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{client.ClientID},
			ExpiresAt: jwt.NewNumericDate(now.Add(e.cfg.IDTokenLifetime())),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        RandomToken(40),
		},
	}
	if HasScope(scope, "profile") {
		claims.Name = user.Name
	}
	if HasScope(scope, "email") {
		claims.Email = user.Email
		verified := user.EmailVerified
		claims.EmailVerified = &verified
	}

	return idtoken.Sign(claims, e.key.Private, e.key.Kid)
}

// verifyPKCE checks base64url(SHA256(verifier)) against the stored challenge.
func verifyPKCE(challenge, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("%w: code_verifier required", ErrInvalidGrant)
	}
	sum := sha256.Sum256([]byte(verifier))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
		return fmt.Errorf("%w: pkce verification failed", ErrInvalidGrant)
	}
	return nil
}
