package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Role != RoleBoth {
		t.Fatalf("default role = %q", cfg.Role)
	}
	if got := cfg.IDP.AuthCodeLifetime(); got != DefaultAuthCodeTTL {
		t.Fatalf("auth code ttl = %v", got)
	}
	if got := cfg.IDP.AuthSessionLifetime(); got != time.Hour {
		t.Fatalf("auth session ttl = %v", got)
	}
}

func TestLoadYAMLAndTTLs(t *testing.T) {
	path := writeConfig(t, `
role: idp
server:
  dev_mode: true
idp:
  issuer: http://idp.test
  auth_code_ttl: 5m
  id_token_ttl: 30m
  clients:
    - client_id: webapp
      client_secret: s3cret
      redirect_uris: ["http://rp.test/oauth/callback"]
  users:
    - id: "1"
      username: alice
      password: pw
      name: Alice
      email: alice@example.com
      email_verified: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IDP.AuthCodeLifetime() != 5*time.Minute {
		t.Fatalf("auth_code_ttl = %v", cfg.IDP.AuthCodeLifetime())
	}
	if cfg.IDP.IDTokenLifetime() != 30*time.Minute {
		t.Fatalf("id_token_ttl = %v", cfg.IDP.IDTokenLifetime())
	}
	if len(cfg.IDP.Clients) != 1 || cfg.IDP.Clients[0].ClientID != "webapp" {
		t.Fatalf("clients not loaded: %+v", cfg.IDP.Clients)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "role: idp\nbogus_key: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OIDCPAIR_ROLE", "rp")
	t.Setenv("OIDCPAIR_RP_CLIENT_ID", "cli-from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Role != RoleRP {
		t.Fatalf("role override ignored: %q", cfg.Role)
	}
	if cfg.RP.ClientID != "cli-from-env" {
		t.Fatalf("client_id override ignored: %q", cfg.RP.ClientID)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad role", func(c *Config) { c.Role = "proxy" }, "role"},
		{"prod needs domains", func(c *Config) { c.Server.DevMode = false }, "tls.domains"},
		{"bad ttl", func(c *Config) { c.IDP.AuthCodeTTL = "soon" }, "auth_code_ttl"},
		{"bad issuer", func(c *Config) { c.IDP.Issuer = "idp.test" }, "idp.issuer"},
		{"sqlite needs dsn", func(c *Config) { c.IDP.Storage = StorageConfig{Driver: "sqlite"} }, "dsn"},
		{"client needs redirect", func(c *Config) { c.IDP.Clients[0].RedirectURIs = nil }, "redirect_uri"},
		{"rp needs client", func(c *Config) { c.RP.ClientID = "" }, "rp.client_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNormalizedIssuer(t *testing.T) {
	if got := NormalizedIssuer("http://idp.test/"); got != "http://idp.test" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizedIssuer("http://idp.test"); got != "http://idp.test" {
		t.Fatalf("got %q", got)
	}
}
