package oidckit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PaulFidika/jwkclient/jwkclient"
	jwktest "github.com/PaulFidika/jwkclient/testing"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestDiscover_TestIssuer(t *testing.T) {
	issuer := jwktest.NewTestIssuer()
	defer issuer.Close()

	p, err := Discover(context.Background(), issuer.URL()+"/")
	require.NoError(t, err)
	assert.Equal(t, issuer.URL(), p.Issuer)
	assert.Equal(t, issuer.JWKSURL(), p.JWKSURI)
	assert.Equal(t, issuer.URL()+jwktest.TokenPath, p.TokenEndpoint)
}

func TestDiscover_Rejections(t *testing.T) {
	var doc map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()
	ctx := context.Background()

	_, err := Discover(ctx, "")
	assert.Error(t, err)

	_, err = Discover(ctx, srv.URL)
	assert.ErrorContains(t, err, "discovery failed")

	doc = map[string]string{"issuer": "https://someone-else.example", "jwks_uri": srv.URL + "/jwks"}
	_, err = Discover(ctx, srv.URL)
	assert.ErrorContains(t, err, "issuer mismatch")

	doc = map[string]string{"issuer": srv.URL}
	_, err = Discover(ctx, srv.URL)
	assert.ErrorContains(t, err, "jwks_uri")

	doc = map[string]string{"jwks_uri": srv.URL + "/jwks"}
	p, err := Discover(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, p.Issuer, "missing issuer falls back to the requested one")
}

func TestNewClient_ValidatesIssuerTokens(t *testing.T) {
	issuer := jwktest.NewTestIssuerWithAudience("orders-api")
	defer issuer.Close()

	c, err := NewClient(context.Background(), issuer.URL(), "orders-api", jwkclient.WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, issuer.JWKSURL(), c.SourceURI())

	claims, err := c.Validate(context.Background(), issuer.CreateToken("user-1"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
}

func TestClientCredentials_TokenValidates(t *testing.T) {
	issuer := jwktest.NewTestIssuer()
	defer issuer.Close()
	ctx := context.Background()

	p, err := Discover(ctx, issuer.URL())
	require.NoError(t, err)

	cc, err := p.ClientCredentials("svc-reporting", "s3cret", "read", "write")
	require.NoError(t, err)
	tok, err := cc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)

	c, err := p.NewClient(issuer.Audience(), jwkclient.WithLogger(quietLogger()))
	require.NoError(t, err)
	claims := jwt.MapClaims{}
	require.NoError(t, c.ValidateInto(ctx, tok.AccessToken, claims))
	assert.Equal(t, "svc-reporting", claims["sub"])
	assert.Equal(t, "read write", claims["scope"])

	_, err = (&Provider{}).ClientCredentials("id", "secret")
	assert.Error(t, err)
	_, err = p.ClientCredentials("", "secret")
	assert.Error(t, err)
}
