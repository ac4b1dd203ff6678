package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"lms/auth-identity/internal/model"
)

// Kind separates access credentials from refresh credentials. A token of one
// kind is never accepted where the other is expected.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

type Claims struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
	Kind   Kind       `json:"kind"`
	jwt.RegisteredClaims
}

// Signer holds the signing material for one algorithm: HS256 with a shared
// secret, or RS256 with a key pair whose public half is published as a JWKS.
type Signer struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	publicKey *rsa.PublicKey
	keyID     string
}

func NewHMACSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("missing_jwt_secret")
	}
	return &Signer{
		method:    jwt.SigningMethodHS256,
		signKey:   []byte(secret),
		verifyKey: []byte(secret),
	}, nil
}

func NewRSASigner(privatePEM, publicPEM string) (*Signer, error) {
	privateKey, err := ParseRSAPrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	publicKey, err := ParseRSAPublicKey(publicPEM)
	if err != nil {
		return nil, err
	}
	if privateKey.PublicKey.N.Cmp(publicKey.N) != 0 || privateKey.PublicKey.E != publicKey.E {
		return nil, errors.New("jwt_key_pair_mismatch")
	}
	kid, err := KeyID(publicKey)
	if err != nil {
		return nil, err
	}
	return &Signer{
		method:    jwt.SigningMethodRS256,
		signKey:   privateKey,
		verifyKey: publicKey,
		publicKey: publicKey,
		keyID:     kid,
	}, nil
}

// PublicKey returns the RSA verification key, or nil for HMAC signers.
func (s *Signer) PublicKey() *rsa.PublicKey {
	return s.publicKey
}

func (s *Signer) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	return token.SignedString(s.signKey)
}

func (s *Signer) keyFunc(_ *jwt.Token) (interface{}, error) {
	return s.verifyKey, nil
}

func ParseRSAPrivateKey(value string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(value))
	if block == nil {
		return nil, errors.New("invalid_private_key_pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private_key_not_rsa")
	}
	return key, nil
}

func ParseRSAPublicKey(value string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(value))
	if block == nil {
		return nil, errors.New("invalid_public_key_pem")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public_key_not_rsa")
	}
	return key, nil
}
