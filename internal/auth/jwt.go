// Package auth binds a bearer credential to a chat identity. Tokens are
// HS256 JWTs carrying the user id in "userId" (or "sub") and the display
// name in "username" (or "name").
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/relaychat/internal/chat"
)

// Claims is the token payload.
type Claims struct {
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies tokens signed with a shared secret.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// NewAuthenticator returns an Authenticator. Empty issuer or audience
// disables that check.
func NewAuthenticator(secret, issuer, audience string, leeway time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
	}, nil
}

// Authenticate verifies token and returns the identity it carries.
func (a *Authenticator) Authenticate(token string) (chat.Identity, error) {
	if token == "" {
		return chat.Identity{}, chat.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return chat.Identity{}, fmt.Errorf("%w: %v", chat.ErrInvalidToken, err)
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return chat.Identity{}, chat.ErrInvalidTokenSubject
	}
	name := claims.Username
	if name == "" {
		name = claims.Name
	}
	if name == "" {
		name = id
	}
	return chat.Identity{ID: id, DisplayName: name}, nil
}

// Sign issues a token for identity that expires after ttl.
func (a *Authenticator) Sign(identity chat.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   identity.ID,
		Username: identity.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// TokenFromRequest extracts the bearer credential from the Authorization
// header or, for browser WebSocket clients that cannot set headers, from the
// "token" query parameter. A header with another scheme, such as Basic auth
// added by a proxy, does not hide the query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	return r.URL.Query().Get("token")
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity chat.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (chat.Identity, bool) {
	identity, ok := ctx.Value(ctxKey{}).(chat.Identity)
	return identity, ok
}
