package idp

import (
	"oidcpair/config"
	"oidcpair/jwk"
)

// DiscoveryDocument is the OpenID Provider metadata.
type DiscoveryDocument struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	EndSessionEndpoint               string   `json:"end_session_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
	CodeChallengeMethodsSupported    []string `json:"code_challenge_methods_supported"`
}

// BuildDiscoveryDocument derives the static provider metadata from config.
func BuildDiscoveryDocument(cfg config.IDPConfig) DiscoveryDocument {
	issuer := config.NormalizedIssuer(cfg.Issuer)
	return DiscoveryDocument{
		Issuer:                           issuer,
		AuthorizationEndpoint:            issuer + "/oauth/authorize",
		TokenEndpoint:                    issuer + "/oauth/token",
		UserinfoEndpoint:                 issuer + "/oauth/userinfo",
		EndSessionEndpoint:               issuer + "/oauth/logout",
		JWKSURI:                          issuer + "/.well-known/jwks.json",
		ResponseTypesSupported:           []string{"code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  []string{"openid", "profile", "email"},
		TokenEndpointAuthMethods:         []string{"client_secret_post", "client_secret_basic"},
		ClaimsSupported:                  []string{"sub", "name", "email", "email_verified"},
		CodeChallengeMethodsSupported:    []string{"S256"},
	}
}

// BuildJWKS exposes the single signing key as a key set.
func BuildJWKS(key *SigningKey) jwk.Set {
	return jwk.Set{Keys: []jwk.JWK{key.Public()}}
}
