// Package idtoken signs and verifies OIDC ID Tokens (RS256 compact JWTs).
//
// Verify checks the signature and the shape of the claims only. Issuer,
// audience, expiry, and nonce are business rules that belong to the caller,
// so that signature validity stays separate from policy validity.
package idtoken

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken indicates the compact form or required claims are broken.
	ErrMalformedToken = errors.New("idtoken: malformed token")
	// ErrInvalidSignature indicates the signature does not match the key.
	ErrInvalidSignature = errors.New("idtoken: invalid signature")
)

// Claims is the typed ID Token payload. Required claims are explicit struct
// fields; optional claims are emitted only when set.
type Claims struct {
	AuthTime      int64  `json:"auth_time,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// Sign produces the compact serialization, signed with RS256. The kid lands
// in the protected header so verifiers can select the JWKS entry.
func Sign(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	return signed, nil
}

// Verify checks the RS256 signature against pub and decodes the claims.
// Expired or otherwise policy-invalid tokens still verify here.
func Verify(raw string, pub *rsa.PublicKey) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if claims.Issuer == "" || claims.Subject == "" || len(claims.Audience) == 0 || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrMalformedToken)
	}
	return claims, nil
}

// KidFromHeader extracts the kid from the unverified protected header, so a
// verifier can pick the right JWKS entry before checking the signature.
func KidFromHeader(raw string) (string, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	kid, _ := token.Header["kid"].(string)
	return kid, nil
}
