// Package auth verifies the bearer credential presented by a Hrana hello
// message, using symmetric pre-shared keys.
package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks the credential of a hello message: nil when the client
// presents none, or an opaque bearer token. No other information crosses
// this boundary.
type Verifier interface {
	Verify(token *string) error
}

// NewKeyedAuth returns a KeyedAuth using the given pre-shared secret keys,
// which are base64 encoded and separated by whitespace and/or commas.
//
// The first key is used for signing Authorizations, and any key may verify
// a presented token.
//
// The special value `AA==` (the base64 encoding of a single zero byte)
// will allow connections presenting no credential to proceed, and should
// only be used temporarily for rollout of authorization in an existing
// deployment.
func NewKeyedAuth(base64Keys string) (*KeyedAuth, error) {
	var keys jwt.VerificationKeySet
	var allowMissing bool

	for i, key := range strings.Fields(strings.ReplaceAll(base64Keys, ",", " ")) {
		if key == "AA==" {
			allowMissing = true
		} else if b, err := base64.StdEncoding.DecodeString(key); err != nil {
			return nil, fmt.Errorf("failed to decode key at index %d: %w", i, err)
		} else {
			keys.Keys = append(keys.Keys, b)
		}
	}
	if len(keys.Keys) == 0 {
		return nil, fmt.Errorf("at least one key must be provided")
	}
	return &KeyedAuth{keys, allowMissing}, nil
}

// KeyedAuth implements Verifier using symmetric, pre-shared keys.
type KeyedAuth struct {
	jwt.VerificationKeySet
	allowMissing bool
}

// Authorize mints a token which Verify will accept, valid for exp.
func (k *KeyedAuth) Authorize(exp time.Duration) (string, error) {
	var now = time.Now()
	var claims = jwt.RegisteredClaims{
		IssuedAt:  &jwt.NumericDate{Time: now},
		ExpiresAt: &jwt.NumericDate{Time: now.Add(exp)},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.Keys[0])
}

func (k *KeyedAuth) Verify(token *string) error {
	if token == nil || *token == "" {
		if k.allowMissing {
			return nil
		}
		return ErrMissingAuth
	}

	var claims jwt.RegisteredClaims
	if parsed, err := jwt.ParseWithClaims(*token, &claims,
		func(token *jwt.Token) (interface{}, error) { return k.VerificationKeySet, nil },
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Second*5),
		jwt.WithValidMethods([]string{"HS256", "HS384"}),
	); err != nil {
		return fmt.Errorf("verifying authorization: %w", err)
	} else if !parsed.Valid {
		panic("token.Valid must be true")
	}
	return nil
}

// NewNoopAuth returns a Verifier which accepts every credential, for use
// when authorization is disabled.
func NewNoopAuth() Verifier { return &noop{} }

type noop struct{}

func (*noop) Verify(*string) error { return nil }

var ErrMissingAuth = fmt.Errorf("missing or empty authorization token")
