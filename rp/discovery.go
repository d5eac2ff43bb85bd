// Package rp implements the relying-party side: provider discovery, ID
// token verification, the login flow, and the session-backed web surface.
package rp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"oidcpair/config"
	"oidcpair/jwk"
)

// DiscoveryDocument is the subset of provider metadata the RP consumes.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// DiscoveryClient fetches and caches the provider metadata and JWKS. The
// mutex doubles as a stampede guard: concurrent callers on a cold cache
// issue one upstream fetch.
type DiscoveryClient struct {
	issuer string
	ttl    time.Duration
	client *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	doc         *DiscoveryDocument
	docExpires  time.Time
	keys        jwk.Set
	keysExpires time.Time
}

// NewDiscoveryClient constructs a client for the issuer. httpClient may be
// nil, in which case http.DefaultClient is used.
func NewDiscoveryClient(issuer string, ttl time.Duration, httpClient *http.Client, logger *slog.Logger) *DiscoveryClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DiscoveryClient{
		issuer: config.NormalizedIssuer(issuer),
		ttl:    ttl,
		client: httpClient,
		logger: logger,
	}
}

// Issuer returns the normalized issuer this client discovers.
func (c *DiscoveryClient) Issuer() string { return c.issuer }

// Document returns the cached discovery document, refetching it when the
// cache has expired.
func (c *DiscoveryClient) Document(ctx context.Context) (*DiscoveryDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.doc != nil && time.Now().Before(c.docExpires) {
		return c.doc, nil
	}

	var doc DiscoveryDocument
	ttl, err := c.fetchJSON(ctx, c.issuer+"/.well-known/openid-configuration", &doc)
	if err != nil {
		return nil, fmt.Errorf("fetch discovery document: %w", err)
	}
	if doc.Issuer == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return nil, fmt.Errorf("discovery document from %s is incomplete", c.issuer)
	}

	c.doc = &doc
	c.docExpires = time.Now().Add(ttl)
	c.logger.Debug("discovery document cached", "issuer", doc.Issuer, "ttl", ttl)
	return c.doc, nil
}

// Keys returns the cached JWKS, refetching when the cache has expired.
func (c *DiscoveryClient) Keys(ctx context.Context) (jwk.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.keys.Keys) > 0 && time.Now().Before(c.keysExpires) {
		return c.keys, nil
	}
	return c.refreshKeysLocked(ctx)
}

// RefreshKeys drops the JWKS cache and refetches. Called on a kid miss so a
// rotated key is picked up without waiting out the TTL.
func (c *DiscoveryClient) RefreshKeys(ctx context.Context) (jwk.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshKeysLocked(ctx)
}

func (c *DiscoveryClient) refreshKeysLocked(ctx context.Context) (jwk.Set, error) {
	jwksURI := c.issuer + "/.well-known/jwks.json"
	if c.doc != nil && c.doc.JWKSURI != "" {
		jwksURI = c.doc.JWKSURI
	}

	var set jwk.Set
	ttl, err := c.fetchJSON(ctx, jwksURI, &set)
	if err != nil {
		return jwk.Set{}, fmt.Errorf("fetch jwks: %w", err)
	}
	if len(set.Keys) == 0 {
		return jwk.Set{}, fmt.Errorf("jwks from %s is empty", jwksURI)
	}

	c.keys = set
	c.keysExpires = time.Now().Add(ttl)
	c.logger.Debug("jwks cached", "keys", len(set.Keys), "ttl", ttl)
	return set, nil
}

// fetchJSON gets url into v and returns the effective cache lifetime,
// honoring a Cache-Control max-age shorter than the configured TTL.
func (c *DiscoveryClient) fetchJSON(ctx context.Context, url string, v any) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", url, err)
	}
	return cacheLifetime(resp.Header.Get("Cache-Control"), c.ttl), nil
}

func cacheLifetime(cacheControl string, fallback time.Duration) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if rest, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(rest); err == nil && secs > 0 {
				if d := time.Duration(secs) * time.Second; d < fallback {
					return d
				}
			}
		}
	}
	return fallback
}
