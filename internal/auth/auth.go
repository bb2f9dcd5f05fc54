package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"melody-map/internal/common/errors"
	"melody-map/internal/common/logging"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is stamped on every token this service signs and required on every token it accepts
	Issuer = "melody-map"

	DefaultTokenTTL = 24 * time.Hour

	blacklistPrefix = "jwt:blacklist:"
	minSecretLength = 32
)

// RedisClient is the key/value subset used for the revocation list
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Claims identifies the caller. UserID mirrors the registered subject.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Auth signs and validates HS256 bearer tokens
type Auth struct {
	secret []byte
	redis  RedisClient
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Auth)

// WithTokenTTL overrides the lifetime of issued tokens
func WithTokenTTL(ttl time.Duration) Option {
	return func(a *Auth) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

// New creates the JWT service. redis may be nil, which disables revocation.
func New(secret string, redis RedisClient, opts ...Option) (*Auth, error) {
	if len(secret) < minSecretLength {
		return nil, errors.ConfigError("JWT secret must be at least 32 characters long")
	}
	a := &Auth{
		secret: []byte(secret),
		redis:  redis,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// GenerateJWT issues a token for userID
func (a *Auth) GenerateJWT(userID string) (string, error) {
	if userID == "" {
		return "", errors.ValidationError("user ID is required")
	}

	now := a.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT checks signature, algorithm, issuer, expiry and the revocation list
func (a *Auth) ValidateJWT(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.AuthError("missing token")
	}

	if a.isRevoked(ctx, tokenString) {
		return nil, errors.AuthError("token has been revoked")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, errors.AuthError("invalid token")
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, errors.AuthError("token has no subject")
	}
	return claims, nil
}

// Revoke blacklists tokenString until it would have expired anyway
func (a *Auth) Revoke(ctx context.Context, tokenString string) error {
	claims, err := a.ValidateJWT(ctx, tokenString)
	if err != nil {
		return err
	}
	if a.redis == nil {
		return errors.ConfigError("token revocation requires Redis")
	}

	remaining := claims.ExpiresAt.Time.Sub(a.now())
	if remaining <= 0 {
		return nil
	}
	return a.redis.Set(ctx, blacklistPrefix+tokenString, "1", remaining)
}

func (a *Auth) isRevoked(ctx context.Context, tokenString string) bool {
	if a.redis == nil {
		return false
	}
	val, err := a.redis.Get(ctx, blacklistPrefix+tokenString)
	return err == nil && val != ""
}

// RequireAuth accepts a bearer header or a "token" cookie and stores the
// user ID on the request context
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			unauthorized(w, "Authentication required")
			return
		}

		claims, err := a.ValidateJWT(r.Context(), tokenString)
		if err != nil {
			logging.WithContext(r.Context()).Debug("Rejected bearer token",
				logging.Field{Key: "path", Value: r.URL.Path},
				logging.Field{Key: "error", Value: err.Error()},
			)
			unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := logging.ContextWithUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest extracts the raw token from the Authorization header or cookie
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return ""
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}

// UserID returns the authenticated user set by RequireAuth
func UserID(r *http.Request) (string, bool) {
	return logging.UserIDFromContext(r.Context())
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="melody-map"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": "UNAUTHORIZED"})
}
