// Package auth issues and checks the bearer tokens that carry a user scope.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"todo-sync/internal/models"
)

const issuer = "todo-sync"

// Tokens signs HS256 tokens whose subject is the user id.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for uid.
func (t *Tokens) Issue(uid string) (string, error) {
	if strings.TrimSpace(uid) == "" {
		return "", models.ErrUnauthenticated
	}
	now := t.now()
	claims := gojwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   uid,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(t.ttl)),
	}
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify returns the user id carried by token. Any failure is reported as
// models.ErrUnauthenticated.
func (t *Tokens) Verify(token string) (string, error) {
	claims := &gojwt.RegisteredClaims{}
	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(issuer),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(t.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", models.ErrUnauthenticated
	}
	return claims.Subject, nil
}

// FromRequest reads the bearer token of r. Browsers cannot set headers on a
// websocket upgrade, so the access_token query parameter is accepted as well.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}
