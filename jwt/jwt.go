package jwtkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Signer issues asymmetric JWTs carrying a kid header.
type Signer interface {
	// Algorithm returns the JWS algorithm (e.g., RS256).
	Algorithm() string
	// KID returns current key id.
	KID() string
	// Sign creates a signed JWT with provided claims.
	Sign(ctx context.Context, claims jwt.MapClaims) (token string, err error)
}

// RSASigner is an in-memory RSA signer. It stands in for an identity provider
// in tests and in the jwkverify dev tooling.
type RSASigner struct {
	key    *rsa.PrivateKey
	kid    string
	method jwt.SigningMethod
}

func NewRSASigner(bits int, kid string) (*RSASigner, error) {
	if bits == 0 {
		bits = 2048
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: k, kid: kid, method: jwt.SigningMethodRS256}, nil
}

// WithMethod returns a signer sharing the key but signing with m (e.g. RS512).
func (s *RSASigner) WithMethod(m jwt.SigningMethod) *RSASigner {
	return &RSASigner{key: s.key, kid: s.kid, method: m}
}

// WithKID returns a signer sharing the key but advertising a different kid.
// An empty kid omits the header entirely.
func (s *RSASigner) WithKID(kid string) *RSASigner {
	return &RSASigner{key: s.key, kid: kid, method: s.method}
}

func (s *RSASigner) Algorithm() string           { return s.method.Alg() }
func (s *RSASigner) KID() string                 { return s.kid }
func (s *RSASigner) PublicKey() *rsa.PublicKey   { return &s.key.PublicKey }
func (s *RSASigner) PrivateKey() *rsa.PrivateKey { return s.key }

// JWK returns the public half of the signer as a JWK.
func (s *RSASigner) JWK() JWK { return RSAPublicToJWK(s.PublicKey(), s.kid, s.Algorithm()) }

func (s *RSASigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	if s.kid != "" {
		token.Header["kid"] = s.kid
	}
	return token.SignedString(s.key)
}

// NewRSASignerFromPEM constructs an RSASigner from a PEM-encoded private key.
func NewRSASignerFromPEM(kid string, pemBytes []byte) (*RSASigner, error) {
	if len(pemBytes) == 0 {
		return nil, errors.New("empty RSA private key pem")
	}
	blk, _ := pem.Decode(pemBytes)
	if blk == nil {
		return nil, errors.New("failed to decode RSA private key pem")
	}
	var parsed *rsa.PrivateKey
	var err error
	switch blk.Type {
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(blk.Bytes)
	default:
		var key any
		key, err = x509.ParsePKCS8PrivateKey(blk.Bytes)
		if err == nil {
			var ok bool
			if parsed, ok = key.(*rsa.PrivateKey); !ok {
				err = errors.New("pkcs8 key is not RSA private key")
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: parsed, kid: kid, method: jwt.SigningMethodRS256}, nil
}

// BaseClaims returns the registered claims an issuer would put on an access
// token for subject, valid from now for ttl.
func BaseClaims(issuer, audience, subject string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
}
