// Package auth issues and validates the backend session tokens.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hpungsan/studybuddy/internal/db"
)

// SessionTTL is the lifetime of a session token.
const SessionTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidToken is returned when a token fails parsing or verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRevokedToken is returned for tokens invalidated by logout.
	ErrRevokedToken = errors.New("token revoked")
)

// Claims are the session token claims.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service signs session tokens with an HMAC secret. When a database is
// attached, logout revocations are recorded and honored.
type Service struct {
	secret []byte
	issuer string
	db     *sql.DB
	now    func() time.Time
}

// NewService creates a token service. database may be nil.
func NewService(secret, issuer string, database *sql.DB) *Service {
	return &Service{
		secret: []byte(secret),
		issuer: issuer,
		db:     database,
		now:    time.Now,
	}
}

// Issue creates a signed session token for email.
func (s *Service) Issue(email string) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Validate parses tokenString and returns its claims.
func (s *Service) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Email == "" {
		return nil, ErrInvalidToken
	}

	if s.db != nil && claims.ID != "" {
		revoked, err := db.IsTokenRevoked(ctx, s.db, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}
	return claims, nil
}

// Revoke invalidates the token described by claims until it would expire.
// Without a database this is a no-op.
func (s *Service) Revoke(ctx context.Context, claims *Claims) error {
	if s.db == nil || claims == nil || claims.ID == "" {
		return nil
	}
	expires := s.now().Add(SessionTTL).Unix()
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Unix()
	}
	return db.RevokeToken(ctx, s.db, claims.ID, expires)
}

// PurgeExpired drops revocations of tokens that have expired anyway.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	return db.PurgeRevokedTokens(ctx, s.db, s.now().Unix())
}
