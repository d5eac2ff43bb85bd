// Package config loads the YAML configuration and applies environment
// overrides for both the identity-provider and relying-party roles.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Fallbacks for optional TTL settings.
const (
	DefaultAuthCodeTTL       = 10 * time.Minute
	DefaultAuthSessionTTL    = time.Hour
	DefaultBrowserSessionTTL = 12 * time.Hour
	DefaultAccessTokenTTL    = time.Hour
	DefaultRefreshTokenTTL   = 30 * 24 * time.Hour
	DefaultIDTokenTTL        = time.Hour
	DefaultDiscoveryCacheTTL = time.Hour
)

// Roles the binary can assume.
const (
	RoleIDP  = "idp"
	RoleRP   = "rp"
	RoleBoth = "both"
)

// Config is the full application configuration.
type Config struct {
	Role   string       `yaml:"role" env:"OIDCPAIR_ROLE"`
	Server ServerConfig `yaml:"server"`
	IDP    IDPConfig    `yaml:"idp"`
	RP     RPConfig     `yaml:"rp"`
}

// ServerConfig controls listeners, TLS, and shared HTTP concerns.
type ServerConfig struct {
	DevMode         bool       `yaml:"dev_mode" env:"OIDCPAIR_DEV_MODE"`
	IDPListenAddr   string     `yaml:"idp_listen_addr" env:"OIDCPAIR_IDP_LISTEN_ADDR"`
	RPListenAddr    string     `yaml:"rp_listen_addr" env:"OIDCPAIR_RP_LISTEN_ADDR"`
	HTTPListenAddr  string     `yaml:"http_listen_addr" env:"OIDCPAIR_HTTP_LISTEN_ADDR"`
	HTTPSListenAddr string     `yaml:"https_listen_addr" env:"OIDCPAIR_HTTPS_LISTEN_ADDR"`
	SecretsPath     string     `yaml:"secrets_path" env:"OIDCPAIR_SECRETS_PATH"`
	HSTSMaxAge      int        `yaml:"hsts_max_age" env:"OIDCPAIR_HSTS_MAX_AGE"`
	TLS             TLSConfig  `yaml:"tls"`
	CORS            CORSConfig `yaml:"cors"`
}

// TLSConfig defines autocert behaviour in production mode.
type TLSConfig struct {
	Domains []string `yaml:"domains" env:"OIDCPAIR_TLS_DOMAINS"`
	Email   string   `yaml:"email" env:"OIDCPAIR_TLS_EMAIL"`
}

// CORSConfig lists origins allowed to call the JSON endpoints.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"OIDCPAIR_CORS_ALLOWED_ORIGINS"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// IDPConfig configures the identity-provider role.
type IDPConfig struct {
	Issuer            string         `yaml:"issuer" env:"OIDCPAIR_IDP_ISSUER"`
	AuthCodeTTL       string         `yaml:"auth_code_ttl"`
	AuthSessionTTL    string         `yaml:"auth_session_ttl"`
	BrowserSessionTTL string         `yaml:"browser_session_ttl"`
	AccessTokenTTL    string         `yaml:"access_token_ttl" env:"OIDCPAIR_ACCESS_TOKEN_TTL"`
	RefreshTokenTTL   string         `yaml:"refresh_token_ttl" env:"OIDCPAIR_REFRESH_TOKEN_TTL"`
	IDTokenTTL        string         `yaml:"id_token_ttl" env:"OIDCPAIR_ID_TOKEN_TTL"`
	IssueRefreshToken bool           `yaml:"issue_refresh_token"`
	Storage           StorageConfig  `yaml:"storage"`
	Clients           []ClientConfig `yaml:"clients"`
	Users             []UserConfig   `yaml:"users"`
}

// StorageConfig selects the backing store for codes, sessions, and tokens.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"OIDCPAIR_STORAGE_DRIVER"` // "memory" or "sqlite"
	DSN    string `yaml:"dsn" env:"OIDCPAIR_STORAGE_DSN"`
}

// ClientConfig describes a registered OAuth client.
type ClientConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURIs []string `yaml:"redirect_uris"`
	Revoked      bool     `yaml:"revoked"`
}

// UserConfig describes a user in the local directory.
type UserConfig struct {
	ID            string `yaml:"id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Name          string `yaml:"name"`
	Email         string `yaml:"email"`
	EmailVerified bool   `yaml:"email_verified"`
}

// RPConfig configures the relying-party role.
type RPConfig struct {
	PublicURL         string `yaml:"public_url" env:"OIDCPAIR_RP_PUBLIC_URL"`
	IDPIssuer         string `yaml:"idp_issuer" env:"OIDCPAIR_RP_IDP_ISSUER"`
	ClientID          string `yaml:"client_id" env:"OIDCPAIR_RP_CLIENT_ID"`
	ClientSecret      string `yaml:"client_secret" env:"OIDCPAIR_RP_CLIENT_SECRET"`
	RedirectURI       string `yaml:"redirect_uri" env:"OIDCPAIR_RP_REDIRECT_URI"`
	DiscoveryCacheTTL string `yaml:"discovery_cache_ttl"`
	SessionTTL        string `yaml:"session_ttl"`
}

// Load reads the YAML file at path (when non-empty), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a development configuration with one client and one user.
func Default() Config {
	return Config{
		Role: RoleBoth,
		Server: ServerConfig{
			DevMode:         true,
			IDPListenAddr:   "127.0.0.1:8080",
			RPListenAddr:    "127.0.0.1:8081",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			SecretsPath:     ".secrets",
			HSTSMaxAge:      31536000,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
			},
		},
		IDP: IDPConfig{
			Issuer:            "http://127.0.0.1:8080",
			IssueRefreshToken: true,
			Storage:           StorageConfig{Driver: "memory"},
			Clients: []ClientConfig{{
				ClientID:     "webapp",
				ClientSecret: "webapp-secret",
				RedirectURIs: []string{"http://127.0.0.1:8081/oauth/callback"},
			}},
			Users: []UserConfig{{
				ID:            "1",
				Username:      "alice",
				Password:      "password",
				Name:          "Alice Example",
				Email:         "alice@example.com",
				EmailVerified: true,
			}},
		},
		RP: RPConfig{
			PublicURL:    "http://127.0.0.1:8081",
			IDPIssuer:    "http://127.0.0.1:8080",
			ClientID:     "webapp",
			ClientSecret: "webapp-secret",
			RedirectURI:  "http://127.0.0.1:8081/oauth/callback",
		},
	}
}

// Validate performs sanity checks for the selected role.
func (c Config) Validate() error {
	switch c.Role {
	case RoleIDP, RoleRP, RoleBoth:
	default:
		return fmt.Errorf("role must be %q, %q, or %q, got %q", RoleIDP, RoleRP, RoleBoth, c.Role)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		return errors.New("server.tls.domains must be provided in production")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"idp.auth_code_ttl", c.IDP.AuthCodeTTL},
		{"idp.auth_session_ttl", c.IDP.AuthSessionTTL},
		{"idp.browser_session_ttl", c.IDP.BrowserSessionTTL},
		{"idp.access_token_ttl", c.IDP.AccessTokenTTL},
		{"idp.refresh_token_ttl", c.IDP.RefreshTokenTTL},
		{"idp.id_token_ttl", c.IDP.IDTokenTTL},
		{"rp.discovery_cache_ttl", c.RP.DiscoveryCacheTTL},
		{"rp.session_ttl", c.RP.SessionTTL},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	if c.Role != RoleRP {
		if err := c.validateIDP(); err != nil {
			return err
		}
	}
	if c.Role != RoleIDP {
		if err := c.validateRP(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validateIDP() error {
	if err := requireHTTPURL("idp.issuer", c.IDP.Issuer); err != nil {
		return err
	}
	switch c.IDP.Storage.Driver {
	case "", "memory":
	case "sqlite":
		if c.IDP.Storage.DSN == "" {
			return errors.New("idp.storage.dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("idp.storage.driver must be \"memory\" or \"sqlite\", got %q", c.IDP.Storage.Driver)
	}
	for i, client := range c.IDP.Clients {
		if client.ClientID == "" {
			return fmt.Errorf("idp.clients[%d]: client_id is required", i)
		}
		if len(client.RedirectURIs) == 0 {
			return fmt.Errorf("idp.clients[%d]: at least one redirect_uri is required", i)
		}
		for _, uri := range client.RedirectURIs {
			if err := requireHTTPURL(fmt.Sprintf("idp.clients[%d].redirect_uris", i), uri); err != nil {
				return err
			}
		}
	}
	for i, user := range c.IDP.Users {
		if user.ID == "" || user.Username == "" {
			return fmt.Errorf("idp.users[%d]: id and username are required", i)
		}
	}
	return nil
}

func (c Config) validateRP() error {
	if err := requireHTTPURL("rp.public_url", c.RP.PublicURL); err != nil {
		return err
	}
	if err := requireHTTPURL("rp.idp_issuer", c.RP.IDPIssuer); err != nil {
		return err
	}
	if err := requireHTTPURL("rp.redirect_uri", c.RP.RedirectURI); err != nil {
		return err
	}
	if c.RP.ClientID == "" {
		return errors.New("rp.client_id is required")
	}
	return nil
}

func requireHTTPURL(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, value)
	}
	return nil
}

// Duration accessors resolve the string TTL fields against their defaults.

func (c IDPConfig) AuthCodeLifetime() time.Duration {
	return parseDuration(c.AuthCodeTTL, DefaultAuthCodeTTL)
}

func (c IDPConfig) AuthSessionLifetime() time.Duration {
	return parseDuration(c.AuthSessionTTL, DefaultAuthSessionTTL)
}

func (c IDPConfig) BrowserSessionLifetime() time.Duration {
	return parseDuration(c.BrowserSessionTTL, DefaultBrowserSessionTTL)
}

func (c IDPConfig) AccessTokenLifetime() time.Duration {
	return parseDuration(c.AccessTokenTTL, DefaultAccessTokenTTL)
}

func (c IDPConfig) RefreshTokenLifetime() time.Duration {
	return parseDuration(c.RefreshTokenTTL, DefaultRefreshTokenTTL)
}

func (c IDPConfig) IDTokenLifetime() time.Duration {
	return parseDuration(c.IDTokenTTL, DefaultIDTokenTTL)
}

func (c RPConfig) DiscoveryCacheLifetime() time.Duration {
	return parseDuration(c.DiscoveryCacheTTL, DefaultDiscoveryCacheTTL)
}

func (c RPConfig) SessionLifetime() time.Duration {
	return parseDuration(c.SessionTTL, DefaultBrowserSessionTTL)
}

// NormalizedIssuer trims the trailing slash so issuer comparisons are exact.
func NormalizedIssuer(issuer string) string {
	return strings.TrimSuffix(issuer, "/")
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
