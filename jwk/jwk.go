// Package jwk converts between JSON Web Keys and RSA public keys.
//
// The DER encoding of the public key structure is built by hand rather than
// delegated to crypto/x509, so that the byte-level rules (two's-complement
// zero padding, short/long length forms) are pinned down by unit tests.
package jwk

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrMalformedKey indicates a JWK with missing or undecodable fields.
	ErrMalformedKey = errors.New("jwk: malformed key")
	// ErrUnsupportedKeyType indicates a key type other than RSA.
	ErrUnsupportedKeyType = errors.New("jwk: unsupported key type")
)

// JWK is the JSON representation of an RSA signing key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg,omitempty"`
}

// Set is the body of a JWKS endpoint response.
type Set struct {
	Keys []JWK `json:"keys"`
}

// ByKid returns the key with the given kid, or the first key when kid is
// empty. Single-key deployments make the fallback moot.
func (s Set) ByKid(kid string) (JWK, bool) {
	for _, k := range s.Keys {
		if kid == "" || k.Kid == kid {
			return k, true
		}
	}
	return JWK{}, false
}

// PublicKey reconstructs the RSA public key from the JWK fields.
func (k JWK) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, k.Kty)
	}
	if k.N == "" || k.E == "" {
		return nil, fmt.Errorf("%w: missing n or e", ErrMalformedKey)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("%w: decode n: %v", ErrMalformedKey, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("%w: decode e: %v", ErrMalformedKey, err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("%w: empty n or e", ErrMalformedKey)
	}
	if len(eBytes) > 8 {
		return nil, fmt.Errorf("%w: exponent too large", ErrMalformedKey)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e < 2 {
		return nil, fmt.Errorf("%w: exponent %d", ErrMalformedKey, e)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// FromPublicKey builds the JWK for an RSA public key. The n and e fields are
// the minimal big-endian unsigned representation, base64url without padding.
func FromPublicKey(pub *rsa.PublicKey, kid string) JWK {
	e := big.NewInt(int64(pub.E))
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(e.Bytes()),
		Alg: "RS256",
	}
}

// rsaAlgorithmIdentifier is the DER encoding of
// SEQUENCE { OID 1.2.840.113549.1.1.1 (rsaEncryption), NULL }.
var rsaAlgorithmIdentifier = []byte{
	0x30, 0x0d,
	0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x01,
	0x05, 0x00,
}

// EncodePublicKeyDER renders the SubjectPublicKeyInfo structure:
// SEQUENCE { AlgorithmIdentifier, BIT STRING { SEQUENCE { n, e } } }.
func EncodePublicKeyDER(pub *rsa.PublicKey) []byte {
	n := derInteger(pub.N.Bytes())
	e := derInteger(big.NewInt(int64(pub.E)).Bytes())

	keySeq := derSequence(append(append([]byte{}, n...), e...))

	// BIT STRING payload carries a leading unused-bits octet.
	bitString := append([]byte{0x03}, derLength(len(keySeq)+1)...)
	bitString = append(bitString, 0x00)
	bitString = append(bitString, keySeq...)

	body := append(append([]byte{}, rsaAlgorithmIdentifier...), bitString...)
	return derSequence(body)
}

// EncodePublicKeyPEM wraps the DER structure in a PUBLIC KEY PEM block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: EncodePublicKeyDER(pub),
	})
}

// derInteger encodes a big-endian unsigned integer as a DER INTEGER. A zero
// byte is prepended when the high bit is set, otherwise the value would be
// read as negative in two's-complement semantics.
func derInteger(b []byte) []byte {
	if len(b) == 0 {
		b = []byte{0x00}
	}
	if b[0]&0x80 != 0 {
		b = append([]byte{0x00}, b...)
	}
	out := append([]byte{0x02}, derLength(len(b))...)
	return append(out, b...)
}

// derLength encodes a length octet sequence: short form below 128, long form
// (0x80 | count, then big-endian length bytes) otherwise.
func derLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var body []byte
	for v := n; v > 0; v >>= 8 {
		body = append([]byte{byte(v & 0xff)}, body...)
	}
	return append([]byte{0x80 | byte(len(body))}, body...)
}

func derSequence(body []byte) []byte {
	out := append([]byte{0x30}, derLength(len(body))...)
	return append(out, body...)
}
