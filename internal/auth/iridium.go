// Package auth verifies the signed tokens that accompany satellite posts.
// The constellation's delivery service signs every webhook with a fixed
// RSA key pair and ships the public half out of band; anything that fails
// the signature check never touches the queue.
package auth

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier holds the pinned public key. One instance serves all requests.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier parses a PEM-encoded RSA public key.
func NewVerifier(pemKey string) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parse iridium public key: %w", err)
	}
	return &Verifier{key: key}, nil
}

// Verify checks the token's signature and standard claims. Only RS256 is
// accepted; tokens announcing any other algorithm fail before the
// signature is even looked at.
func (v *Verifier) Verify(token string) error {
	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return fmt.Errorf("iridium token rejected: %w", err)
	}
	return nil
}
