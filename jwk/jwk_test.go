package jwk

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	jose "github.com/go-jose/go-jose/v3"
)

func testKey(t *testing.T, bits int) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestRoundTrip(t *testing.T) {
	key := testKey(t, 2048)

	jwk := FromPublicKey(&key.PublicKey, "1")
	pub, err := jwk.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 {
		t.Fatalf("modulus mismatch after round trip")
	}
	if pub.E != key.PublicKey.E {
		t.Fatalf("exponent mismatch: got %d want %d", pub.E, key.PublicKey.E)
	}

	again := FromPublicKey(pub, "1")
	if again != jwk {
		t.Fatalf("jwk not stable across round trip: %+v vs %+v", again, jwk)
	}
}

func TestFromPublicKeyFields(t *testing.T) {
	key := testKey(t, 2048)
	jwk := FromPublicKey(&key.PublicKey, "1")

	if jwk.Kty != "RSA" || jwk.Use != "sig" || jwk.Alg != "RS256" || jwk.Kid != "1" {
		t.Fatalf("unexpected metadata: %+v", jwk)
	}
	// 65537 == 0x010001, minimal encoding "AQAB".
	if jwk.E != "AQAB" {
		t.Fatalf("expected minimal exponent encoding AQAB, got %q", jwk.E)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		t.Fatalf("decode n: %v", err)
	}
	if nBytes[0] == 0 {
		t.Fatalf("modulus encoding carries a leading zero byte")
	}
}

func TestPublicKeyRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		jwk  JWK
		want error
	}{
		{"ec key", JWK{Kty: "EC", N: "AQAB", E: "AQAB"}, ErrUnsupportedKeyType},
		{"missing n", JWK{Kty: "RSA", E: "AQAB"}, ErrMalformedKey},
		{"missing e", JWK{Kty: "RSA", N: "AQAB"}, ErrMalformedKey},
		{"bad base64 n", JWK{Kty: "RSA", N: "!!", E: "AQAB"}, ErrMalformedKey},
		{"bad base64 e", JWK{Kty: "RSA", N: "AQAB", E: "!!"}, ErrMalformedKey},
		{"huge exponent", JWK{Kty: "RSA", N: "AQAB", E: "AQABAQABAQABAQAB"}, ErrMalformedKey},
		{"exponent one", JWK{Kty: "RSA", N: "AQAB", E: "AQ"}, ErrMalformedKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.jwk.PublicKey(); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEncodePublicKeyDERMatchesX509(t *testing.T) {
	for _, bits := range []int{512, 1024, 2048} {
		key := testKey(t, bits)
		want, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			t.Fatalf("MarshalPKIXPublicKey: %v", err)
		}
		got := EncodePublicKeyDER(&key.PublicKey)
		if !bytes.Equal(got, want) {
			t.Fatalf("%d-bit DER mismatch:\ngot  %x\nwant %x", bits, got, want)
		}
	}
}

func TestEncodePublicKeyPEMParses(t *testing.T) {
	key := testKey(t, 2048)
	pemBytes := EncodePublicKeyPEM(&key.PublicKey)

	if !bytes.HasPrefix(pemBytes, []byte("-----BEGIN PUBLIC KEY-----")) {
		t.Fatalf("unexpected PEM header: %s", pemBytes[:40])
	}
}

func TestDERIntegerHighBitPadding(t *testing.T) {
	// 0x80 has the high bit set and must be padded to 00 80.
	got := derInteger([]byte{0x80})
	want := []byte{0x02, 0x02, 0x00, 0x80}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}

	// 0x7f does not need padding.
	got = derInteger([]byte{0x7f})
	want = []byte{0x02, 0x01, 0x7f}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestDERLengthForms(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x81, 0x80}},
		{256, []byte{0x82, 0x01, 0x00}},
		{65536, []byte{0x83, 0x01, 0x00, 0x00}},
	}
	for _, tc := range cases {
		if got := derLength(tc.n); !bytes.Equal(got, tc.want) {
			t.Fatalf("derLength(%d) = %x, want %x", tc.n, got, tc.want)
		}
	}
}

// A go-jose consumer must agree with our JWK serialization.
func TestJoseInterop(t *testing.T) {
	key := testKey(t, 2048)
	ours := FromPublicKey(&key.PublicKey, "1")

	payload, err := json.Marshal(ours)
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}

	var theirs jose.JSONWebKey
	if err := theirs.UnmarshalJSON(payload); err != nil {
		t.Fatalf("go-jose rejected our JWK: %v", err)
	}
	pub, ok := theirs.Key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("go-jose parsed key as %T", theirs.Key)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 || pub.E != key.PublicKey.E {
		t.Fatalf("go-jose reconstructed a different key")
	}
}

func TestSetByKid(t *testing.T) {
	set := Set{Keys: []JWK{
		{Kty: "RSA", Kid: "a", N: "AQAB", E: "AQAB"},
		{Kty: "RSA", Kid: "b", N: "AQAB", E: "AQAB"},
	}}

	if k, ok := set.ByKid("b"); !ok || k.Kid != "b" {
		t.Fatalf("kid lookup failed: %+v %v", k, ok)
	}
	if k, ok := set.ByKid(""); !ok || k.Kid != "a" {
		t.Fatalf("empty kid should select first key: %+v %v", k, ok)
	}
	if _, ok := set.ByKid("missing"); ok {
		t.Fatalf("unknown kid should miss")
	}
}
