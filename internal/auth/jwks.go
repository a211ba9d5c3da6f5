// ABOUTME: JWKS document parsing into an immutable RSA key set
// ABOUTME: Key sets are replaced wholesale on refresh, never mutated in place

package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// jwksDocument mirrors the provider's published key-set response.
type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet maps key identifiers to RSA public keys. A keySet is immutable once
// built; the validator swaps the whole set under its lock on refresh.
type keySet struct {
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// lookup returns the public key for kid, or nil if the set does not carry it.
func (ks *keySet) lookup(kid string) *rsa.PublicKey {
	if ks == nil {
		return nil
	}
	return ks.keys[kid]
}

func (ks *keySet) stale(now time.Time) bool {
	return ks == nil || now.After(ks.expiresAt)
}

// parseKeySet decodes a JWKS JSON document. Non-RSA entries are skipped; a
// document with no usable keys is an error since validation could never succeed.
func parseKeySet(data []byte, expiresAt time.Time) (*keySet, error) {
	var doc jwksDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding JWKS document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaPublicKey(k)
		if err != nil {
			return nil, fmt.Errorf("decoding JWK %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("JWKS document contains no usable RSA keys")
	}

	return &keySet{keys: keys, expiresAt: expiresAt}, nil
}

// rsaPublicKey builds an rsa.PublicKey from the base64url modulus and exponent.
func rsaPublicKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("exponent must be positive")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
