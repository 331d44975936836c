package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"pingme/internal/constants"
	apperrors "pingme/internal/errors"
	"pingme/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize = 32
	issuer  = "pingme"
)

// Claims are the token claims. The subject is the user id.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Verifier resolves a presented credential to an authenticated user id.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// TokenManager issues and verifies HS256 tokens signed with a key derived
// from the configured secret.
type TokenManager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// DeriveKey stretches secret into a signing key with PBKDF2-SHA256.
func DeriveKey(secret, salt string, iterations int) []byte {
	return pbkdf2.Key([]byte(secret), []byte(salt), iterations, keySize, sha256.New)
}

// NewTokenManager derives the signing key from cfg.
func NewTokenManager(cfg models.AuthConfig) (*TokenManager, error) {
	if len(cfg.TokenSecret) < constants.MinTokenSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d characters", constants.MinTokenSecretLength)
	}
	salt := cfg.TokenSalt
	if salt == "" {
		salt = constants.DefaultTokenSalt
	}
	iterations := cfg.KeyIterations
	if iterations <= 0 {
		iterations = constants.DefaultKeyIterations
	}
	ttlHours := cfg.TokenTTLHours
	if ttlHours <= 0 {
		ttlHours = constants.DefaultTokenTTLHours
	}

	return &TokenManager{
		key: DeriveKey(cfg.TokenSecret, salt, iterations),
		ttl: time.Duration(ttlHours) * time.Hour,
		now: time.Now,
	}, nil
}

// Issue signs a token for userID.
func (m *TokenManager) Issue(userID, username string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := m.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// Verify checks signature, algorithm, issuer and expiry. Every failure is
// an Unauthenticated error.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, apperrors.NewAuthError("missing token")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnauthenticated, "invalid token").
			WithUserMessage("Not authorized, invalid or missing token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, apperrors.NewAuthError("token has no subject")
	}
	return claims, nil
}

type contextKey string

const userIDKey contextKey = "auth_user_id"

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user id, or "" for an
// unauthenticated context.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
