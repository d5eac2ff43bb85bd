package idp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"oidcpair/config"
)

// AuthorizeRequest is a validated authorization request.
type AuthorizeRequest struct {
	Client              *Client
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationEngine validates authorization requests and, on approval,
// binds the transaction to the browser session and mints the code.
type AuthorizationEngine struct {
	clients *ClientRegistry
	store   Store
	cfg     config.IDPConfig
	logger  *slog.Logger
}

// NewAuthorizationEngine constructs the engine.
func NewAuthorizationEngine(cfg config.IDPConfig, clients *ClientRegistry, store Store, logger *slog.Logger) *AuthorizationEngine {
	return &AuthorizationEngine{clients: clients, store: store, cfg: cfg, logger: logger}
}

// Parse validates the query/form parameters of GET or POST /oauth/authorize.
// Client and redirect-URI failures must not be reported via redirect, so the
// returned request carries no redirect target until both have been checked.
func (e *AuthorizationEngine) Parse(params url.Values) (*AuthorizeRequest, error) {
	clientID := params.Get("client_id")
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id required", ErrInvalidRequest)
	}

	client, ok := e.clients.Get(clientID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown or revoked client", ErrInvalidClient)
	}

	redirectURI := params.Get("redirect_uri")
	if !client.ValidRedirect(redirectURI) {
		return nil, fmt.Errorf("%w: redirect_uri not registered for client", ErrInvalidRequest)
	}

	req := &AuthorizeRequest{
		Client:              client,
		RedirectURI:         redirectURI,
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		Nonce:               params.Get("nonce"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	}

	if params.Get("response_type") != "code" {
		return req, fmt.Errorf("%w: response_type must be code", ErrInvalidRequest)
	}
	if req.State == "" {
		return req, fmt.Errorf("%w: state required", ErrInvalidRequest)
	}
	if req.Scope == "" {
		return req, fmt.Errorf("%w: scope required", ErrInvalidRequest)
	}
	if !HasScope(req.Scope, "openid") {
		return req, fmt.Errorf("%w: openid scope required", ErrInvalidScope)
	}

	// code_challenge and code_challenge_method come as a pair, S256 only.
	switch {
	case req.CodeChallenge == "" && req.CodeChallengeMethod == "":
	case req.CodeChallenge == "":
		return req, fmt.Errorf("%w: code_challenge required with code_challenge_method", ErrInvalidRequest)
	case req.CodeChallengeMethod != "S256":
		return req, fmt.Errorf("%w: code_challenge_method must be S256", ErrInvalidRequest)
	}

	return req, nil
}

// Approve records the approved transaction and mints the authorization code:
// the auth session is upserted per (browser session, client), then a
// single-use code tied to the user, client, and requested scopes is issued.
// The caller composes the redirect with code and state.
func (e *AuthorizationEngine) Approve(ctx context.Context, req *AuthorizeRequest, sessionID, userID string) (string, error) {
	now := time.Now()

	sess := AuthSession{
		SessionID:           sessionID,
		ClientID:            req.Client.ClientID,
		UserID:              userID,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           now.Add(e.cfg.AuthSessionLifetime()),
	}
	if err := e.store.UpsertAuthSession(ctx, sess); err != nil {
		return "", fmt.Errorf("upsert auth session: %w", err)
	}

	code := AuthorizationCode{
		Code:      RandomToken(40),
		UserID:    userID,
		ClientID:  req.Client.ClientID,
		Scope:     req.Scope,
		ExpiresAt: now.Add(e.cfg.AuthCodeLifetime()),
	}
	if err := e.store.SaveAuthCode(ctx, code); err != nil {
		return "", fmt.Errorf("save auth code: %w", err)
	}

	e.logger.Info("authorization approved",
		"client_id", req.Client.ClientID,
		"user_id", userID,
		"scope", req.Scope,
		"pkce", req.CodeChallenge != "",
	)
	return code.Code, nil
}
