// Package jwtcredential decorates a relay/external.CredentialStore for
// providers whose credential encodes more than a bare API key. A stored
// credential may be a locally-signed JWT carrying an {account_id, token}
// pair as claims; GetKey transparently unwraps it back into the
// "account_id:token" form the provider adapters expect, since a credential
// is an opaque string that may encode additional fields.
package jwtcredential

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaycore/relay/relay/external"
)

type claims struct {
	AccountID string `json:"account_id"`
	Token     string `json:"token"`
	jwt.RegisteredClaims
}

// Store wraps an external.CredentialStore, signing/verifying with signingKey.
type Store struct {
	inner      external.CredentialStore
	signingKey []byte
}

func New(inner external.CredentialStore, signingKey []byte) *Store {
	return &Store{inner: inner, signingKey: signingKey}
}

// Encode packs an account_id/token pair into a signed JWT suitable for
// SaveKey.
func (s *Store) Encode(accountID, token string) (string, error) {
	c := claims{AccountID: accountID, Token: token}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.signingKey)
}

// GetKey returns the underlying credential, unwrapped to "account_id:token"
// if it is a signed JWT carrying those claims; otherwise it is returned
// unchanged (a bare API key, or a provider-specific encoding this
// decorator does not understand).
func (s *Store) GetKey(ctx context.Context, providerID string) (string, bool, error) {
	raw, ok, err := s.inner.GetKey(ctx, providerID)
	if err != nil || !ok {
		return raw, ok, err
	}

	c := &claims{}
	_, parseErr := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if parseErr != nil {
		return raw, true, nil
	}
	return fmt.Sprintf("%s:%s", c.AccountID, c.Token), true, nil
}

func (s *Store) SaveKey(ctx context.Context, providerID, credential string) error {
	return s.inner.SaveKey(ctx, providerID, credential)
}

func (s *Store) RemoveKey(ctx context.Context, providerID string) error {
	return s.inner.RemoveKey(ctx, providerID)
}
