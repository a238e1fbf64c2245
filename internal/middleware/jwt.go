package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of tokens minted by browserd.
const Issuer = "browserd"

// ContextKey is a type for context keys
type ContextKey string

const (
	// ClientIDKey is the context key for the authenticated client id (the sub claim)
	ClientIDKey ContextKey = "clientId"
)

var ErrMissingToken = errors.New("missing bearer token")

// Claims are the claims browserd reads from access tokens.
type Claims struct {
	// Session optionally pins the client to one session id.
	Session string `json:"session,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token for clientID valid for ttl.
func IssueToken(secret, clientID, session string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Session: session,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates an HMAC-signed token and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}

// WithClaims stores validated claims on ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClientIDKey, claims)
}

// ClaimsFrom returns the claims stored by the auth middleware, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ClientIDKey).(*Claims)
	return c, ok
}

// SessionAllowed reports whether the caller on ctx may use sessionID.
// Unauthenticated contexts and tokens without a session claim allow all.
func SessionAllowed(ctx context.Context, sessionID string) bool {
	c, ok := ClaimsFrom(ctx)
	if !ok || c.Session == "" {
		return true
	}
	return c.Session == sessionID
}
