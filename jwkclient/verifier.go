package jwkclient

import (
	"crypto/rsa"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Header is the unverified token metadata needed to pick a key.
type Header struct {
	KeyID     string
	Algorithm string
}

// Constraints are the claims a verified token must match.
type Constraints struct {
	Issuer    string
	Audience  string
	Algorithm string
	Leeway    time.Duration
	// Now is the clock for exp/nbf/iat checks; nil means time.Now.
	Now func() time.Time
}

// Verifier decodes token headers and checks signatures and claims.
type Verifier interface {
	// DecodeHeader reads the header without verifying the signature.
	DecodeHeader(token string) (Header, error)
	// Verify checks token against key and c, decoding claims into claims.
	Verify(token string, key *rsa.PublicKey, c Constraints, claims jwt.Claims) error
}

// JWTVerifier is the default Verifier, backed by golang-jwt.
type JWTVerifier struct{}

func (JWTVerifier) DecodeHeader(token string) (Header, error) {
	t, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Header{}, err
	}
	kid, _ := t.Header["kid"].(string)
	alg, _ := t.Header["alg"].(string)
	return Header{KeyID: kid, Algorithm: alg}, nil
}

func (JWTVerifier) Verify(token string, key *rsa.PublicKey, c Constraints, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.Algorithm}),
		jwt.WithIssuer(c.Issuer),
		jwt.WithAudience(c.Audience),
	}
	if c.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(c.Leeway))
	}
	if c.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(c.Now))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	return err
}

// supportedAlgorithms are the RSA JWS algorithms a Client may be configured with.
var supportedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
}
