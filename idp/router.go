// Package idp implements the identity provider side: client and user
// registries, session and token storage, the authorization and token
// engines, and the HTTP surface that exposes them.
package idp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"oidcpair/web"
)

// Routes builds the identity provider's HTTP handler.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(web.RequestIDMiddleware)
	r.Use(web.LoggingMiddleware(a.Logger))
	r.Use(web.RecoveryMiddleware(a.Logger))
	r.Use(web.CORSMiddleware(a.Config.Server.CORS))
	r.Use(web.SecurityHeadersMiddleware(a.Config.Server.HSTSMaxAge))

	r.Get("/.well-known/openid-configuration", a.handleDiscovery)
	r.Get("/.well-known/jwks.json", a.handleJWKS)

	r.Get("/login", a.handleLoginForm)
	r.Post("/login", a.handleLogin)

	r.Get("/oauth/authorize", a.handleAuthorize)
	r.Post("/oauth/authorize", a.handleApprove)
	r.Post("/oauth/token", a.handleToken)
	r.Get("/oauth/userinfo", a.handleUserinfo)
	r.Get("/oauth/logout", a.handleLogout)

	return r
}
