package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenExpiry is the lifetime of issued tokens.
const DefaultTokenExpiry = time.Hour

// TokenService signs and verifies user tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenService builds a token helper with the given secret and expiry.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &TokenService{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Claims carries the authenticated username.
type Claims struct {
	User string `json:"user"`
	jwt.RegisteredClaims
}

// Issue signs a token for user that expires after the configured lifetime.
func (s *TokenService) Issue(user string) (string, error) {
	if s == nil {
		return "", ErrAuthDisabled
	}
	return s.IssueWithExpiry(user, s.now().Add(s.expiry))
}

// IssueWithExpiry signs a token with an explicit expiry instant.
func (s *TokenService) IssueWithExpiry(user string, expiresAt time.Time) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	name, err := ValidateUsername(user)
	if err != nil {
		return "", err
	}

	claims := Claims{
		User: name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature and expiry of token and returns its user.
// Malformed, tampered and expired tokens all fail.
func (s *TokenService) Verify(token string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	user, err := ValidateUsername(claims.User)
	if err != nil {
		return "", ErrInvalidToken
	}
	return user, nil
}
