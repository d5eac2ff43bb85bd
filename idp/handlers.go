package idp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"oidcpair/config"
)

// App bundles the runtime dependencies of the identity provider.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    Store
	Clients  *ClientRegistry
	Users    *UserDirectory
	Sessions *SessionManager
	Authz    *AuthorizationEngine
	Tokens   *TokenEngine
	Key      *SigningKey
}

// NewApp wires the identity provider from configuration.
func NewApp(cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := openStore(cfg.IDP.Storage)
	if err != nil {
		return nil, err
	}

	clients, err := NewClientRegistry(cfg.IDP.Clients)
	if err != nil {
		return nil, err
	}
	users := NewUserDirectory(cfg.IDP.Users)

	key, err := LoadOrCreateSigningKey(cfg.Server.SecretsPath, logger)
	if err != nil {
		return nil, err
	}

	sessions := NewSessionManager(store, cfg.IDP.BrowserSessionLifetime(), !cfg.Server.DevMode, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Clients:  clients,
		Users:    users,
		Sessions: sessions,
		Authz:    NewAuthorizationEngine(cfg.IDP, clients, store, logger),
		Tokens:   NewTokenEngine(cfg.IDP, clients, users, store, key, logger),
		Key:      key,
	}, nil
}

func openStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemStore(), nil
	case "sqlite":
		return OpenSQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func (a *App) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildDiscoveryDocument(a.Config.IDP))
}

func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildJWKS(a.Key))
}

func (a *App) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	req, err := a.Authz.Parse(r.URL.Query())
	if err != nil {
		a.authorizeError(w, r, req, err)
		return
	}

	_, user, err := a.requireAuthenticated(w, r)
	if err != nil {
		if errors.Is(err, ErrAuthenticationRequired) {
			a.redirectToLogin(w, r)
			return
		}
		a.Logger.Error("session fetch", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	a.renderConsent(w, req, user)
}

func (a *App) handleApprove(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	req, err := a.Authz.Parse(r.PostForm)
	if err != nil {
		a.authorizeError(w, r, req, err)
		return
	}

	sess, _, err := a.requireAuthenticated(w, r)
	if err != nil {
		if errors.Is(err, ErrAuthenticationRequired) {
			a.redirectToLogin(w, r)
			return
		}
		a.Logger.Error("session fetch", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if r.PostForm.Get("action") == "deny" {
		redirectWithError(w, r, req.RedirectURI, req.State, "access_denied", "user denied the request")
		return
	}

	code, err := a.Authz.Approve(r.Context(), req, sess.ID, sess.UserID)
	if err != nil {
		a.Logger.Error("approve", "error", err)
		redirectWithError(w, r, req.RedirectURI, req.State, "server_error", "failed to issue code")
		return
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	values := redirect.Query()
	values.Set("code", code)
	values.Set("state", req.State)
	redirect.RawQuery = values.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "invalid form")
		return
	}

	req := TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		State:        r.PostForm.Get("state"),
	}
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID, req.ClientSecret = id, secret
	}

	resp, err := a.Tokens.Exchange(r.Context(), req)
	if err != nil {
		a.Logger.Warn("token exchange rejected", "client_id", req.ClientID, "error", err)
		writeOAuthErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	bearer := extractBearerToken(r.Header.Get("Authorization"))
	if bearer == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	claims, err := a.Tokens.Userinfo(r.Context(), bearer)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Clear(w, r)
	target := r.URL.Query().Get("post_logout_redirect_uri")
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *App) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	a.renderLogin(w, r.URL.Query().Get("return_to"), "")
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	returnTo := r.PostForm.Get("return_to")
	user, err := a.Users.Authenticate(r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		a.renderLogin(w, returnTo, "Invalid username or password.")
		return
	}

	if _, err := a.Sessions.Create(w, r, user); err != nil {
		a.Logger.Error("create session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Only local targets: an absolute return_to would be an open redirect.
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// requireAuthenticated resolves the browser session and its user. A missing
// or stale session yields ErrAuthenticationRequired.
func (a *App) requireAuthenticated(w http.ResponseWriter, r *http.Request) (*BrowserSession, *User, error) {
	sess, err := a.Sessions.Fetch(r)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, ErrAuthenticationRequired
	}
	user, ok := a.Users.ByID(sess.UserID)
	if !ok {
		a.Sessions.Clear(w, r)
		return nil, nil, ErrAuthenticationRequired
	}
	return sess, user, nil
}

func (a *App) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	login := url.URL{Path: "/login"}
	q := login.Query()
	q.Set("return_to", r.URL.RequestURI())
	login.RawQuery = q.Encode()
	http.Redirect(w, r, login.String(), http.StatusFound)
}

// authorizeError reports a failed authorization request. Errors discovered
// before the client and redirect URI were validated go straight to the user
// agent, never to the (unvalidated) redirect target.
func (a *App) authorizeError(w http.ResponseWriter, r *http.Request, req *AuthorizeRequest, err error) {
	a.Logger.Warn("authorize rejected", "error", err)

	code := "invalid_request"
	if errors.Is(err, ErrInvalidScope) {
		code = "invalid_scope"
	}

	if req != nil && req.RedirectURI != "" {
		redirectWithError(w, r, req.RedirectURI, req.State, code, err.Error())
		return
	}
	writeOAuthError(w, http.StatusBadRequest, code, err.Error())
}

func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, desc string) {
	uri, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, desc, http.StatusBadRequest)
		return
	}
	q := uri.Query()
	q.Set("error", code)
	q.Set("error_description", desc)
	if state != "" {
		q.Set("state", state)
	}
	uri.RawQuery = q.Encode()
	http.Redirect(w, r, uri.String(), http.StatusFound)
}

func writeOAuthErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidClient):
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", err.Error())
	case errors.Is(err, ErrInvalidGrant):
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", err.Error())
	case errors.Is(err, ErrInvalidScope):
		writeOAuthError(w, http.StatusBadRequest, "invalid_scope", err.Error())
	case errors.Is(err, ErrInvalidRequest):
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeOAuthError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
