package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL applies when a non-positive TTL is requested.
const DefaultTokenTTL = 60 * time.Minute

// issuer is stamped into every token and required on parse.
const issuer = "graylogic-pioneer"

// minSecretLen matches the config validation for security.jwt.secret.
const minSecretLen = 32

// Claims are the JWT claims of an API token.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// TokenRequest describes a token to mint.
type TokenRequest struct {
	Subject string
	Role    Role
	TTL     time.Duration
}

// IssueToken signs an access token with secret.
//
// Parameters:
//   - req: Subject, role and lifetime (defaults to DefaultTokenTTL)
//   - secret: HMAC key, at least 32 bytes
//
// Returns:
//   - string: The signed token
//   - time.Time: When it expires
//   - error: ErrSecretRequired, ErrInvalidRole, or a signing failure
func IssueToken(req TokenRequest, secret string) (string, time.Time, error) {
	if len(secret) < minSecretLen {
		return "", time.Time{}, fmt.Errorf("%w: need at least %d bytes", ErrSecretRequired, minSecretLen)
	}
	if !req.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidRole, req.Role)
	}
	if req.Subject == "" {
		req.Subject = "api-key"
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Role: req.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates signature, expiry, issuer and role.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
