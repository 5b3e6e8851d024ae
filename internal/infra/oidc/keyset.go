// Package oidc verifies RS256 bearer tokens issued by an external identity
// provider against the keys published at its discovery document.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyTTL = time.Hour

var ErrUnknownKey = errors.New("oidc: unknown signing key")

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet caches the issuer's RSA keys and refreshes them on expiry or on an unknown kid.
type KeySet struct {
	issuer     string
	audience   string
	httpClient *http.Client

	mu      sync.RWMutex
	cache   map[string]*rsa.PublicKey
	fetched time.Time
	now     func() time.Time
}

func NewKeySet(issuer, audience string) *KeySet {
	return &KeySet{
		issuer:     strings.TrimRight(issuer, "/"),
		audience:   audience,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[string]*rsa.PublicKey),
		now:        time.Now,
	}
}

// Verify checks the token signature, issuer, audience and expiry and returns its subject.
func (k *KeySet) Verify(ctx context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return k.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(k.issuer),
		jwt.WithAudience(k.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("oidc: token has no subject")
	}
	return claims.Subject, nil
}

func (k *KeySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	fresh := k.now().Sub(k.fetched) < keyTTL
	pub, ok := k.cache[kid]
	k.mu.RUnlock()
	if ok && fresh {
		return pub, nil
	}
	if err := k.refresh(ctx); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if pub, ok := k.cache[kid]; ok {
		return pub, nil
	}
	return nil, ErrUnknownKey
}

func (k *KeySet) refresh(ctx context.Context) error {
	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := k.getJSON(ctx, k.issuer+"/.well-known/openid-configuration", &discovery); err != nil {
		return fmt.Errorf("oidc: discovery: %w", err)
	}
	if discovery.JWKSURI == "" {
		return errors.New("oidc: discovery document has no jwks_uri")
	}
	var set jwks
	if err := k.getJSON(ctx, discovery.JWKSURI, &set); err != nil {
		return fmt.Errorf("oidc: fetch keys: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for _, key := range set.Keys {
		if key.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromJWK(key)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("oidc: no usable keys published")
	}
	k.mu.Lock()
	k.cache = keys
	k.fetched = k.now()
	k.mu.Unlock()
	return nil
}

func (k *KeySet) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func rsaKeyFromJWK(j jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
