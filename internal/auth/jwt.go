package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAttemptTokenTTL bounds how long a monitor may keep logging into an attempt.
const DefaultAttemptTokenTTL = 12 * time.Hour

var (
	// ErrInvalidToken is returned for tokens that fail signature or expiry checks.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrTokenMismatch is returned when a valid token was issued for another attempt.
	ErrTokenMismatch = errors.New("token does not belong to attempt")
)

// AttemptClaims binds a token to one attempt. The subject is the attempt id.
type AttemptClaims struct {
	Identity string `json:"ip,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies attempt tokens
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service. ttl <= 0 selects DefaultAttemptTokenTTL.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = DefaultAttemptTokenTTL
	}
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SignAttemptToken issues an HS256 token whose subject is attemptID
func (s *JWTService) SignAttemptToken(attemptID, identity string) (string, error) {
	now := s.now()
	claims := &AttemptClaims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   attemptID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign attempt token: %w", err)
	}
	return tokenString, nil
}

// VerifyAttemptToken parses tokenString and checks it was issued for attemptID
func (s *JWTService) VerifyAttemptToken(tokenString, attemptID string) (*AttemptClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AttemptClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AttemptClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject != attemptID {
		return nil, ErrTokenMismatch
	}
	return claims, nil
}
