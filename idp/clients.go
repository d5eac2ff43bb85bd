package idp

import (
	"crypto/subtle"
	"fmt"

	"oidcpair/config"
)

// ClientRegistry holds the registered OAuth clients.
type ClientRegistry struct {
	clients map[string]*Client
}

// NewClientRegistry builds the registry from configuration.
func NewClientRegistry(cfgs []config.ClientConfig) (*ClientRegistry, error) {
	clients := make(map[string]*Client, len(cfgs))
	for i, cfg := range cfgs {
		if cfg.ClientID == "" {
			return nil, fmt.Errorf("clients[%d]: client_id required", i)
		}
		clients[cfg.ClientID] = &Client{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURIs: cfg.RedirectURIs,
			Revoked:      cfg.Revoked,
		}
	}
	return &ClientRegistry{clients: clients}, nil
}

// Get retrieves a non-revoked client definition.
func (cr *ClientRegistry) Get(id string) (*Client, bool) {
	client, ok := cr.clients[id]
	if !ok || client.Revoked {
		return nil, false
	}
	return client, true
}

// Authenticate validates client credentials against non-revoked clients.
func (cr *ClientRegistry) Authenticate(id, secret string) (*Client, error) {
	client, ok := cr.Get(id)
	if !ok {
		return nil, ErrInvalidClient
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(client.ClientSecret)) != 1 {
		return nil, ErrInvalidClient
	}
	return client, nil
}
