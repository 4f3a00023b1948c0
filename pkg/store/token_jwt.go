package store

import (
	"context"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultJWTIssuer = "checkpoint"
	defaultJWTLeeway = 30 * time.Second
)

// JWTTokenStore issues HS256 signed tokens. Nothing is stored per login, so
// every IssueToken call mints a new token; logout revokes the token ID.
type JWTTokenStore struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	leeway  time.Duration
	revoker TokenRevoker
}

// NewJWTTokenStore builds a signed-token store. revoker may be nil, in which
// case logout cannot invalidate tokens before expiry.
func NewJWTTokenStore(secret string, ttl time.Duration, revoker TokenRevoker) (*JWTTokenStore, error) {
	if len(strings.TrimSpace(secret)) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTTokenStore{
		secret:  []byte(secret),
		ttl:     ttl,
		issuer:  defaultJWTIssuer,
		leeway:  defaultJWTLeeway,
		revoker: revoker,
	}, nil
}

// IssueToken signs a token for userID.
func (s *JWTTokenStore) IssueToken(_ context.Context, userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// UserIDByToken verifies the signature and claims and checks revocation.
func (s *JWTTokenStore) UserIDByToken(ctx context.Context, token string) (string, bool, error) {
	claims, ok := s.parse(token)
	if !ok {
		return "", false, nil
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return "", false, err
		}
		if revoked {
			return "", false, nil
		}
	}
	return claims.Subject, true, nil
}

// DeleteToken revokes the token ID until the token would expire.
func (s *JWTTokenStore) DeleteToken(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, ok := s.parse(token)
	if !ok || claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)+s.leeway)
}

func (s *JWTTokenStore) parse(token string) (jwt.RegisteredClaims, bool) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, false
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil || !parsed.Valid {
		return claims, false
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return claims, false
	}
	return claims, true
}
