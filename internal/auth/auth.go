// Package auth guards the internal API with HS256 bearer tokens.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"area-engine/internal/common/errors"
)

const Issuer = "area-engine"

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Auth struct {
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time
}

type contextKey struct{}

// New creates an Auth signing with secret. Tokens live for ttl, 24h when zero.
func New(secret string, ttl time.Duration) (*Auth, error) {
	if len(secret) < 32 {
		return nil, errors.ConfigError("JWT secret must be at least 32 characters long")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl, nowFn: time.Now}, nil
}

// GenerateJWT issues a token for userID.
func (a *Auth) GenerateJWT(userID, role string) (string, error) {
	now := a.nowFn()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT parses token and checks signature, issuer and expiry.
func (a *Auth) ValidateJWT(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(a.nowFn),
	)
	if err != nil {
		return nil, errors.AuthError("invalid token: " + err.Error())
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, errors.AuthError("invalid token")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// claims in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			unauthorized(w, "Authentication required")
			return
		}
		claims, err := a.ValidateJWT(strings.TrimSpace(token))
		if err != nil {
			unauthorized(w, "Invalid or expired token")
			return
		}
		r.Header.Set("X-User-ID", claims.UserID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// ClaimsFrom returns the claims RequireAuth stored, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="area-engine"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "` + msg + `"}`))
}
