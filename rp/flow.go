package rp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"oidcpair/config"
)

// Callback failures surfaced to the handler layer.
var (
	ErrNoSession            = errors.New("no login session")
	ErrStateMismatch        = errors.New("state mismatch")
	ErrMissingVerifier      = errors.New("missing pkce verifier")
	ErrInvalidTokenResponse = errors.New("token response missing id_token")
)

// FlowEngine drives the authorization code flow against the provider.
type FlowEngine struct {
	cfg       config.RPConfig
	discovery *DiscoveryClient
	verifier  *Verifier
	sessions  *SessionManager
	logger    *slog.Logger
}

// NewFlowEngine constructs the flow engine.
func NewFlowEngine(cfg config.RPConfig, discovery *DiscoveryClient, verifier *Verifier, sessions *SessionManager, logger *slog.Logger) *FlowEngine {
	return &FlowEngine{
		cfg:       cfg,
		discovery: discovery,
		verifier:  verifier,
		sessions:  sessions,
		logger:    logger,
	}
}

// oauthConfig assembles the x/oauth2 client config from discovery.
func (f *FlowEngine) oauthConfig(doc *DiscoveryDocument) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURL:  f.cfg.RedirectURI,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  doc.AuthorizationEndpoint,
			TokenURL: doc.TokenEndpoint,
		},
	}
}

// BeginLogin records fresh state, nonce, and PKCE verifier on the session
// and returns the provider authorization URL.
func (f *FlowEngine) BeginLogin(ctx context.Context, sess *Session) (string, error) {
	doc, err := f.discovery.Document(ctx)
	if err != nil {
		return "", err
	}

	sess.State = newRandomValue()
	sess.Nonce = newRandomValue()
	sess.Verifier = oauth2.GenerateVerifier()
	if err := f.sessions.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}

	authURL := f.oauthConfig(doc).AuthCodeURL(sess.State,
		oauth2.S256ChallengeOption(sess.Verifier),
		oauth2.SetAuthURLParam("nonce", sess.Nonce),
	)
	f.logger.Info("login started", "authorization_endpoint", doc.AuthorizationEndpoint)
	return authURL, nil
}

// HandleCallback redeems the code, verifies the ID token, and promotes the
// session to an authenticated one.
func (f *FlowEngine) HandleCallback(ctx context.Context, sess *Session, code, state string) error {
	if sess == nil || sess.State == "" {
		return ErrNoSession
	}
	if state != sess.State {
		return ErrStateMismatch
	}
	if sess.Verifier == "" {
		return ErrMissingVerifier
	}

	doc, err := f.discovery.Document(ctx)
	if err != nil {
		return err
	}

	token, err := f.oauthConfig(doc).Exchange(ctx, code,
		oauth2.VerifierOption(sess.Verifier),
		oauth2.SetAuthURLParam("state", state),
	)
	if err != nil {
		return fmt.Errorf("code exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return ErrInvalidTokenResponse
	}

	claims, err := f.verifier.Verify(ctx, rawIDToken, sess.Nonce)
	if err != nil {
		return fmt.Errorf("verify id token: %w", err)
	}

	sess.Authenticated = true
	sess.UserID = claims.Subject
	sess.Name = claims.Name
	sess.Email = claims.Email
	sess.EmailVerified = claims.EmailVerified != nil && *claims.EmailVerified
	sess.IDToken = rawIDToken
	sess.AccessToken = token.AccessToken
	sess.RefreshToken = token.RefreshToken
	sess.State = ""
	sess.Nonce = ""
	sess.Verifier = ""
	sess.ExpiresAt = time.Now().Add(f.cfg.SessionLifetime())
	if err := f.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	f.logger.Info("login completed", "sub", claims.Subject)
	return nil
}

// LogoutURL builds the provider end-session URL that returns the browser to
// the RP home page. An empty string means the provider publishes no
// end_session_endpoint and a local logout suffices.
func (f *FlowEngine) LogoutURL(ctx context.Context) (string, error) {
	doc, err := f.discovery.Document(ctx)
	if err != nil {
		return "", err
	}
	if doc.EndSessionEndpoint == "" {
		return "", nil
	}

	end, err := url.Parse(doc.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("end_session_endpoint: %w", err)
	}
	q := end.Query()
	q.Set("post_logout_redirect_uri", f.cfg.PublicURL+"/")
	end.RawQuery = q.Encode()
	return end.String(), nil
}

const randomAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newRandomValue returns 40 alphanumeric characters from crypto/rand,
// used for session IDs, state, and nonce values.
func newRandomValue() string {
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		panic("rp: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = randomAlphabet[int(b)%len(randomAlphabet)]
	}
	return string(buf)
}
