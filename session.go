package oidcroles

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidSession = errors.New("invalid session")

const (
	sessionIssuer = "oidcroles"

	// MinSessionKeySize is the minimum size of Params.SessionKey.
	MinSessionKeySize = 32
)

// sessionClaims carries the outcome of a login: the principal name, its
// claims and the mapped authority names.
type sessionClaims struct {
	jwt.RegisteredClaims

	Authorities []string  `json:"authorities"`
	Claims      MapClaims `json:"claims,omitempty"`
}

// sessionCodec signs and verifies session tokens with HMAC-SHA256.
type sessionCodec struct {
	key []byte
}

func newSessionCodec(key []byte) (*sessionCodec, error) {
	if len(key) < MinSessionKeySize {
		return nil, fmt.Errorf("session key must be at least %d bytes", MinSessionKeySize)
	}
	return &sessionCodec{key: key}, nil
}

func (sc *sessionCodec) issue(
	name string,
	claims MapClaims,
	authorities *AuthoritySet,
	expiresAt time.Time,
) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Authorities: authorities.Names(),
		Claims:      claims,
	})
	return token.SignedString(sc.key)
}

func (sc *sessionCodec) load(token string) ClaimsPrincipal {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return sc.key, nil
	})
	if err != nil {
		return unauthenticatedClaimsPrincipalWithErr(fmt.Errorf("%w: %s", ErrInvalidSession, err))
	}
	if !claims.VerifyIssuer(sessionIssuer, true) || claims.Subject == "" {
		return unauthenticatedClaimsPrincipalWithErr(ErrInvalidSession)
	}

	claimsEncoded, err := json.Marshal(claims.Claims)
	if err != nil {
		return unauthenticatedClaimsPrincipalWithErr(err)
	}

	authorities := NewAuthoritySet()
	for _, name := range claims.Authorities {
		authorities.Add(SimpleAuthority(name))
	}

	return &claimsPrincipal{
		name:        claims.Subject,
		claims:      claimsEncoded,
		authorities: authorities,
	}
}
