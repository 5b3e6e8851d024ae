package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type issuer struct {
	server  *httptest.Server
	key     *rsa.PrivateKey
	fetches atomic.Int32
}

func newIssuer(t *testing.T) *issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	iss := &issuer{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": iss.server.URL + "/keys"})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		iss.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(jwks{Keys: []jwk{{
			Kid: "k1",
			Kty: "RSA",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	})
	iss.server = httptest.NewServer(mux)
	t.Cleanup(iss.server.Close)
	return iss
}

func (i *issuer) sign(t *testing.T, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(i.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func (i *issuer) claims(subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.server.URL,
		Audience:  jwt.ClaimStrings{"creatorhub"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func TestKeySetVerify(t *testing.T) {
	iss := newIssuer(t)
	ks := NewKeySet(iss.server.URL, "creatorhub")

	subject, err := ks.Verify(context.Background(), iss.sign(t, "k1", iss.claims("user-1")))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("subject = %q, want user-1", subject)
	}
	if _, err := ks.Verify(context.Background(), iss.sign(t, "k1", iss.claims("user-2"))); err != nil {
		t.Fatalf("second Verify returned error: %v", err)
	}
	if got := iss.fetches.Load(); got != 1 {
		t.Fatalf("keys fetched %d times, want 1", got)
	}
}

func TestKeySetRejects(t *testing.T) {
	iss := newIssuer(t)
	ks := NewKeySet(iss.server.URL, "creatorhub")

	wrongAudience := iss.claims("user-1")
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}
	expired := iss.claims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := iss.claims("")

	cases := map[string]string{
		"unknown kid":    iss.sign(t, "k2", iss.claims("user-1")),
		"wrong audience": iss.sign(t, "k1", wrongAudience),
		"expired":        iss.sign(t, "k1", expired),
		"no subject":     iss.sign(t, "k1", noSubject),
		"garbage":        "not.a.token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ks.Verify(context.Background(), token); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestKeySetRejectsHMACTokens(t *testing.T) {
	iss := newIssuer(t)
	ks := NewKeySet(iss.server.URL, "creatorhub")

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, iss.claims("user-1"))
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ks.Verify(context.Background(), signed); err == nil {
		t.Fatalf("expected HS256 token to be rejected")
	}
}
