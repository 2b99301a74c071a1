// Package testing provides a mock identity provider for tests of code that
// validates tokens with jwkclient. It serves a rotatable JWKS (and an OpenID
// discovery document) and signs tokens that validate against it.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	client, _ := jwkclient.New(issuer.JWKSURL(), issuer.URL(), issuer.Audience())
//	token := issuer.CreateToken("user-123")
package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	jwtkit "github.com/PaulFidika/jwkclient/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	JWKSPath      = "/.well-known/jwks.json"
	DiscoveryPath = "/.well-known/openid-configuration"
	TokenPath     = "/token"
)

// TestIssuer runs an HTTP server that serves JWKS at /.well-known/jwks.json
// and can sign JWT tokens that will validate against it. Keys can be added,
// staged with an activation time, and removed to simulate rotation.
type TestIssuer struct {
	server   *httptest.Server
	audience string

	mu        sync.Mutex
	active    *jwtkit.RSASigner
	keys      map[string]publishedKey
	fetches   int
	failNext  int
	failCode  int
	published bool
}

type publishedKey struct {
	signer    *jwtkit.RSASigner
	notBefore time.Time
}

// NewTestIssuer creates a new test issuer with a JWKS endpoint.
// The issuer generates a new RSA key pair ("test-key-1") and publishes it.
// Call Close() when done to shut down the test server.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("test-app")
}

// NewTestIssuerWithAudience creates a test issuer with a specific audience claim.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	signer, err := jwtkit.NewRSASigner(2048, "test-key-1")
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}

	ti := &TestIssuer{
		audience:  audience,
		active:    signer,
		keys:      map[string]publishedKey{signer.KID(): {signer: signer}},
		published: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(JWKSPath, ti.handleJWKS)
	mux.HandleFunc(DiscoveryPath, ti.handleDiscovery)
	mux.HandleFunc(TokenPath, ti.handleToken)

	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the base URL of the test issuer server.
// Use this as the expected issuer.
func (ti *TestIssuer) URL() string {
	return ti.server.URL
}

// JWKSURL returns the location of the key set document.
func (ti *TestIssuer) JWKSURL() string {
	return ti.server.URL + JWKSPath
}

// Audience returns the audience configured for this test issuer.
func (ti *TestIssuer) Audience() string {
	return ti.audience
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

// Signer returns the key tokens are currently signed with.
func (ti *TestIssuer) Signer() *jwtkit.RSASigner {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.active
}

// Rotate generates a key under kid, publishes it and makes it the signing key.
// Previously published keys stay published until removed.
func (ti *TestIssuer) Rotate(kid string) *jwtkit.RSASigner {
	signer := ti.newSigner(kid)
	ti.mu.Lock()
	ti.keys[kid] = publishedKey{signer: signer}
	ti.active = signer
	ti.mu.Unlock()
	return signer
}

// Stage generates a key under kid that is published with an activation time
// but is not used for signing by CreateToken.
func (ti *TestIssuer) Stage(kid string, notBefore time.Time) *jwtkit.RSASigner {
	signer := ti.newSigner(kid)
	ti.mu.Lock()
	ti.keys[kid] = publishedKey{signer: signer, notBefore: notBefore}
	ti.mu.Unlock()
	return signer
}

// Unpublish removes kid from the served key set. Tokens signed with it can
// still be created through its signer.
func (ti *TestIssuer) Unpublish(kid string) {
	ti.mu.Lock()
	delete(ti.keys, kid)
	ti.mu.Unlock()
}

// SetPublished toggles whether the JWKS is served at all; while false the
// endpoint answers 404.
func (ti *TestIssuer) SetPublished(on bool) {
	ti.mu.Lock()
	ti.published = on
	ti.mu.Unlock()
}

// FailNext makes the next n JWKS requests answer with status code.
func (ti *TestIssuer) FailNext(n, code int) {
	ti.mu.Lock()
	ti.failNext = n
	ti.failCode = code
	ti.mu.Unlock()
}

// FetchCount returns how many JWKS requests the server has received.
func (ti *TestIssuer) FetchCount() int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.fetches
}

// KeySet returns the document currently served.
func (ti *TestIssuer) KeySet() jwtkit.JWKS {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.keySetLocked()
}

func (ti *TestIssuer) keySetLocked() jwtkit.JWKS {
	kids := make([]string, 0, len(ti.keys))
	for kid := range ti.keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	ks := jwtkit.JWKS{Keys: make([]jwtkit.JWK, 0, len(kids))}
	for _, kid := range kids {
		pk := ti.keys[kid]
		ks.Keys = append(ks.Keys, pk.signer.JWK().WithNotBefore(pk.notBefore))
	}
	return ks
}

func (ti *TestIssuer) newSigner(kid string) *jwtkit.RSASigner {
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	return signer
}

// handleJWKS serves the JWKS document containing the published keys.
func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.mu.Lock()
	ti.fetches++
	if ti.failNext > 0 {
		ti.failNext--
		code := ti.failCode
		ti.mu.Unlock()
		http.Error(w, http.StatusText(code), code)
		return
	}
	if !ti.published {
		ti.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	ks := ti.keySetLocked()
	ti.mu.Unlock()
	jwtkit.ServeJWKS(w, r, ks)
}

func (ti *TestIssuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := map[string]string{
		"issuer":                 ti.URL(),
		"jwks_uri":               ti.JWKSURL(),
		"authorization_endpoint": ti.URL() + "/authorize",
		"token_endpoint":         ti.URL() + TokenPath,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

// handleToken implements the client-credentials grant. Any non-empty client
// id is accepted; the issued token's subject is the client id.
func (ti *TestIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clientID, _, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostFormValue("client_id")
	}
	w.Header().Set("Content-Type", "application/json")
	if r.PostFormValue("grant_type") != "client_credentials" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
		return
	}
	if clientID == "" {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
		return
	}
	var extra map[string]any
	if scope := r.PostFormValue("scope"); scope != "" {
		extra = map[string]any{"scope": scope}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": ti.CreateTokenWithClaims(clientID, extra),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// CreateToken creates a signed JWT for subject with the active key.
// The token validates against the JWKS served by this issuer.
func (ti *TestIssuer) CreateToken(subject string) string {
	return ti.CreateTokenWithClaims(subject, nil)
}

// CreateTokenWithClaims creates a signed JWT with additional custom claims.
// The custom claims are merged over the standard claims (sub, iss, aud, exp, iat, jti).
func (ti *TestIssuer) CreateTokenWithClaims(subject string, extraClaims map[string]any) string {
	return ti.SignWith(ti.Signer(), subject, extraClaims)
}

// SignWith signs a token with an arbitrary signer, e.g. one returned by Stage.
func (ti *TestIssuer) SignWith(signer *jwtkit.RSASigner, subject string, extraClaims map[string]any) string {
	claims := jwtkit.BaseClaims(ti.URL(), ti.audience, subject, time.Hour)
	claims["jti"] = uuid.NewString()

	// Merge extra claims
	for k, v := range extraClaims {
		claims[k] = v
	}

	token, err := signer.Sign(context.Background(), jwt.MapClaims(claims))
	if err != nil {
		panic(fmt.Sprintf("failed to sign token: %v", err))
	}
	return token
}

// CreateTokenWithExpiry creates a signed JWT token with a custom expiry time.
func (ti *TestIssuer) CreateTokenWithExpiry(subject string, expiry time.Time) string {
	return ti.CreateTokenWithClaims(subject, map[string]any{
		"exp": expiry.Unix(),
	})
}

// CreateExpiredToken creates a token that has already expired.
func (ti *TestIssuer) CreateExpiredToken(subject string) string {
	return ti.CreateTokenWithExpiry(subject, time.Now().Add(-time.Hour))
}
