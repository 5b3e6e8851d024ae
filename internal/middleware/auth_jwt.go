package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "creatorhub"
	tokenAudience = "creatorhub-clients"
)

// TokenClaims are the claims carried by client bearer tokens.
type TokenClaims struct {
	Plan string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

type userKey string

const (
	userIDKey userKey = "user_id"
)

// SignJWT issues an HS256 token for subject valid for ttl.
func SignJWT(secret, subject, plan string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		Plan: plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyJWT checks signature, expiry, issuer and audience and returns the claims.
func VerifyJWT(secret, token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Verifier resolves a bearer token to the caller's subject.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// HMACVerifier accepts the HS256 tokens issued by SignJWT.
type HMACVerifier struct {
	Secret string
}

func (v HMACVerifier) Verify(_ context.Context, token string) (string, error) {
	claims, err := VerifyJWT(v.Secret, token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// AuthJWT rejects requests without a valid HS256 bearer token.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return AuthBearer(HMACVerifier{Secret: secret})
}

// AuthBearer tries each verifier in order and stores the first accepted subject in the context.
func AuthBearer(verifiers ...Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "invalid authorization")
				return
			}
			token := strings.TrimSpace(parts[1])
			for _, v := range verifiers {
				if v == nil {
					continue
				}
				subject, err := v.Verify(r.Context(), token)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), subject)))
					return
				}
			}
			unauthorized(w, "invalid token")
		})
	}
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "unauthorized", "message": message},
	})
}
