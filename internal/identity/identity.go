// Package identity adapts the external identity gateway: it verifies the
// HS256 tokens the gateway issues and turns their claims into a user id
// plus the profile fields mention resolution needs.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/domain"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Identity struct {
	UserID    uuid.UUID
	Username  string
	FirstName string
	LastName  string
}

func (i Identity) Profile() domain.User {
	return domain.User{ID: i.UserID, Username: i.Username, FirstName: i.FirstName, LastName: i.LastName}
}

type claims struct {
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(tokenStr string) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return &Identity{UserID: userID, Username: c.Username, FirstName: c.FirstName, LastName: c.LastName}, nil
}

// Issue signs a token for id. The gateway does this in production; the
// server only uses it in tests and local tooling.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Username:  id.Username,
		FirstName: id.FirstName,
		LastName:  id.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
