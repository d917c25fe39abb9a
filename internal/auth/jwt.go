// Package auth resolves bearer tokens to the calling user.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by storefront tokens. id is the user id.
type Claims struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("%w, no token", orders.ErrAuth)
	}
	return parts[1], nil
}

func (v *Verifier) Verify(token string) (orders.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return orders.Actor{}, fmt.Errorf("%w, token failed: %w", orders.ErrAuth, err)
	}
	if claims.ID == "" {
		return orders.Actor{}, fmt.Errorf("%w, token has no user id", orders.ErrAuth)
	}
	return orders.Actor{UserID: claims.ID, IsAdmin: claims.IsAdmin}, nil
}

// Issue signs a token for a user. The storefront's auth service issues tokens
// in production; this is used by the dev token command and tests.
func (v *Verifier) Issue(userID string, isAdmin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:      userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type actorKey struct{}

func WithActor(ctx context.Context, a orders.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (orders.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(orders.Actor)
	return a, ok
}
