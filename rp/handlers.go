package rp

import (
	"html/template"
	"log/slog"
	"net/http"

	"oidcpair/config"
)

// App bundles the runtime dependencies of the relying party.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Sessions *SessionManager
	Flow     *FlowEngine
}

// NewApp wires the relying party from configuration. store may be nil, in
// which case the in-memory session store is used.
func NewApp(cfg config.Config, store SessionStore, logger *slog.Logger) *App {
	if store == nil {
		store = NewMemSessionStore()
	}

	discovery := NewDiscoveryClient(cfg.RP.IDPIssuer, cfg.RP.DiscoveryCacheLifetime(), nil, logger)
	verifier := NewVerifier(discovery, cfg.RP.ClientID)
	sessions := NewSessionManager(store, cfg.RP.SessionLifetime(), !cfg.Server.DevMode, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Sessions: sessions,
		Flow:     NewFlowEngine(cfg.RP, discovery, verifier, sessions, logger),
	}
}

var homeTmpl = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>Relying Party</title></head>
<body>
<h1>Relying Party</h1>
{{if .Authenticated}}
<p>Signed in as <strong>{{.Name}}</strong> ({{.Email}}).</p>
<p>Subject: {{.UserID}}</p>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
{{else}}
<p>Not signed in.</p>
<p><a href="/login">Sign in with the identity provider</a></p>
{{end}}
</body>
</html>
`))

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Sessions.Fetch(r)
	if err != nil {
		a.Logger.Error("session fetch", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		sess = &Session{}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTmpl.Execute(w, sess); err != nil {
		a.Logger.Error("render home", "error", err)
	}
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, err := a.Sessions.Ensure(w, r)
	if err != nil {
		a.Logger.Error("session ensure", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	authURL, err := a.Flow.BeginLogin(r.Context(), sess)
	if err != nil {
		a.Logger.Error("begin login", "error", err)
		http.Error(w, "identity provider unavailable", http.StatusBadGateway)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		a.Logger.Warn("authorization rejected", "error", errCode, "description", query.Get("error_description"))
		http.Error(w, "authorization rejected: "+errCode, http.StatusBadRequest)
		return
	}

	sess, err := a.Sessions.Fetch(r)
	if err != nil {
		a.Logger.Error("session fetch", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := a.Flow.HandleCallback(r.Context(), sess, query.Get("code"), query.Get("state")); err != nil {
		a.Logger.Warn("callback failed", "error", err)
		http.Error(w, "login failed", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Clear(w, r)

	target, err := a.Flow.LogoutURL(r.Context())
	if err != nil {
		a.Logger.Warn("end session url", "error", err)
		target = ""
	}
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}
