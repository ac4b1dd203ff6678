package auth

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
)

type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// NewJWKSet publishes the verification key. HMAC signers have nothing to
// publish and yield an empty set.
func NewJWKSet(publicKey *rsa.PublicKey) (JWKSet, error) {
	if publicKey == nil {
		return JWKSet{Keys: []JWK{}}, nil
	}
	kid, err := KeyID(publicKey)
	if err != nil {
		return JWKSet{}, err
	}
	jwk := JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(intToBytes(publicKey.E)),
	}
	return JWKSet{Keys: []JWK{jwk}}, nil
}

// KeyID is the RFC 7638 thumbprint of the public key.
func KeyID(publicKey *rsa.PublicKey) (string, error) {
	if publicKey == nil {
		return "", errors.New("missing_public_key")
	}
	// Member order is fixed by the RFC: e, kty, n.
	thumb, err := json.Marshal(struct {
		E   string `json:"e"`
		Kty string `json:"kty"`
		N   string `json:"n"`
	}{
		E:   base64.RawURLEncoding.EncodeToString(intToBytes(publicKey.E)),
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(thumb)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func intToBytes(value int) []byte {
	if value == 0 {
		return []byte{0}
	}
	return big.NewInt(int64(value)).Bytes()
}
