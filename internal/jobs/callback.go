package jobs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"creatorhub/internal/domain"
)

const (
	callbackAudience   = "webhook"
	defaultCallbackTTL = 7 * 24 * time.Hour

	// SignatureHeader carries the provider's HMAC of the raw webhook body.
	SignatureHeader = "X-Webhook-Signature"
	signaturePrefix = "sha256="
)

type callbackClaims struct {
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// CallbackTokens issues and verifies the token embedded in provider callback URLs.
// The token binds a webhook delivery to the owner and provider of the submission.
type CallbackTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCallbackTokens(secret string, ttl time.Duration) *CallbackTokens {
	if ttl <= 0 {
		ttl = defaultCallbackTTL
	}
	return &CallbackTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (c *CallbackTokens) Issue(ownerID string, provider domain.Provider) (string, error) {
	now := c.now()
	claims := callbackClaims{
		Provider: string(provider),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Audience:  jwt.ClaimStrings{callbackAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign callback token: %w", err)
	}
	return signed, nil
}

// Verify checks token and returns the owner it was issued for.
func (c *CallbackTokens) Verify(token string, provider domain.Provider) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", domain.Errorf(domain.ErrAuth, "callback token is required")
	}
	claims := &callbackClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(callbackAudience),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", domain.Wrap(domain.ErrAuth, err, "invalid callback token")
	}
	if claims.Provider != string(provider) {
		return "", domain.Errorf(domain.ErrAuth, "callback token was issued for another provider")
	}
	if claims.Subject == "" {
		return "", domain.Errorf(domain.ErrAuth, "callback token has no owner")
	}
	return claims.Subject, nil
}

// CallbackURL builds the webhook URL handed to the provider.
func CallbackURL(publicBaseURL string, provider domain.Provider, token string) string {
	return strings.TrimRight(publicBaseURL, "/") + "/v1/webhooks/" + url.PathEscape(string(provider)) + "?token=" + url.QueryEscape(token)
}

// SignBody returns the signature header value for body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifyBodySignature checks header against the HMAC-SHA256 of body.
func VerifyBodySignature(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return domain.Errorf(domain.ErrAuth, "missing or malformed webhook signature")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return domain.Wrap(domain.ErrAuth, err, "malformed webhook signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.Wrap(domain.ErrAuth, errors.New("signature mismatch"), "invalid webhook signature")
	}
	return nil
}
