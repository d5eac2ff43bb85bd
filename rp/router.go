package rp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"oidcpair/web"
)

// Routes builds the relying party's HTTP handler.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(web.RequestIDMiddleware)
	r.Use(web.LoggingMiddleware(a.Logger))
	r.Use(web.RecoveryMiddleware(a.Logger))
	r.Use(web.SecurityHeadersMiddleware(a.Config.Server.HSTSMaxAge))

	r.Get("/", a.handleHome)
	r.Get("/login", a.handleLogin)
	r.Get("/oauth/callback", a.handleCallback)
	r.Post("/logout", a.handleLogout)

	return r
}
