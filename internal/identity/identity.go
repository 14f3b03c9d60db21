// Package identity resolves who owns the local data and whether their plan
// includes remote sync. Every store, queue and sync loop is constructed for
// one identity; switching accounts means building a fresh workspace, never
// rebinding live components.
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Plan tiers. Free runs local-only; premium and pro mirror to the backend.
const (
	TierFree    = "free"
	TierPremium = "premium"
	TierPro     = "pro"
)

var ErrInvalidToken = errors.New("invalid account token")

// Identity is one resolved account.
type Identity struct {
	OwnerID string
	Tier    string
}

// RemoteSync reports whether this identity's plan mirrors data remotely.
func (i Identity) RemoteSync() bool {
	return i.Tier == TierPremium || i.Tier == TierPro
}

// Provider resolves the current identity.
type Provider interface {
	Resolve() (Identity, error)
}

// Static is a fixed identity, used for local-only setups and tests.
type Static struct {
	ID Identity
}

func (s Static) Resolve() (Identity, error) { return s.ID, nil }

// tokenClaims is the JWT payload issued by the account service.
type tokenClaims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

// TokenProvider resolves identity from an HMAC-signed account token. The
// subject claim is the owner id; the tier claim picks the plan.
type TokenProvider struct {
	Token  string
	Secret []byte
}

func (p TokenProvider) Resolve() (Identity, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(p.Token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.Secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	tier := claims.Tier
	if tier == "" {
		tier = TierFree
	}
	return Identity{OwnerID: claims.Subject, Tier: tier}, nil
}
