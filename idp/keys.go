package idp

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	jose "github.com/go-jose/go-jose/v3"

	"oidcpair/jwk"
)

// SigningKid is the fixed kid published in the JWKS. The deployment
// uses a single signing key; rotation is out of scope.
const SigningKid = "1"

// SigningKey is the IDP's RSA key pair for ID token signatures.
type SigningKey struct {
	Private *rsa.PrivateKey
	Kid     string
}

// Public returns the JWK for the JWKS endpoint.
func (k *SigningKey) Public() jwk.JWK {
	return jwk.FromPublicKey(&k.Private.PublicKey, k.Kid)
}

// LoadOrCreateSigningKey reads the signing key from secretsPath, generating
// and persisting a fresh RSA-2048 key on first start. The on-disk format is
// a go-jose JWK so the file stays inspectable.
func LoadOrCreateSigningKey(secretsPath string, logger *slog.Logger) (*SigningKey, error) {
	path := filepath.Join(secretsPath, "signing-key.json")

	payload, err := os.ReadFile(path)
	switch {
	case err == nil:
		var stored jose.JSONWebKey
		if err := json.Unmarshal(payload, &stored); err != nil {
			return nil, fmt.Errorf("parse signing key %s: %w", path, err)
		}
		priv, ok := stored.Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key %s is not an RSA private key", path)
		}
		logger.Debug("signing key loaded", "path", path, "kid", stored.KeyID)
		return &SigningKey{Private: priv, Kid: stored.KeyID}, nil
	case errors.Is(err, os.ErrNotExist):
		// fall through to generation
	default:
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	stored := jose.JSONWebKey{Key: priv, KeyID: SigningKid, Algorithm: string(jose.RS256), Use: "sig"}
	payload, err = json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal signing key: %w", err)
	}
	if err := os.MkdirAll(secretsPath, 0o755); err != nil {
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}

	logger.Info("signing key generated", "path", path, "kid", SigningKid)
	return &SigningKey{Private: priv, Kid: SigningKid}, nil
}
