package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PaulFidika/jwkclient/config"
	jwktest "github.com/PaulFidika/jwkclient/testing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIssuer(t *testing.T) *jwktest.TestIssuer {
	t.Helper()
	issuer := jwktest.NewTestIssuer()
	t.Cleanup(issuer.Close)

	cfg = &config.Config{
		JWKSURI:         issuer.JWKSURL(),
		Issuer:          issuer.URL(),
		Audience:        issuer.Audience(),
		RefreshInterval: time.Hour,
		RetryCooldown:   5 * time.Minute,
		FetchTimeout:    5 * time.Second,
		Algorithm:       "RS256",
		LogLevel:        "panic",
		LogFormat:       "text",
	}
	require.NoError(t, cfg.Validate())
	log = logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return issuer
}

func TestReadToken(t *testing.T) {
	tok, err := readToken(nil, []string{" abc.def.ghi "})
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, err = readToken(strings.NewReader("abc.def.ghi\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, err = readToken(strings.NewReader("abc.def.ghi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	_, err = readToken(strings.NewReader("\n"), nil)
	assert.Error(t, err)
}

func TestNewClient_Discover(t *testing.T) {
	issuer := setupIssuer(t)
	cfg.JWKSURI = ""
	cfg.Discover = true

	client, err := newClient(context.Background())
	require.NoError(t, err)
	assert.Equal(t, issuer.JWKSURL(), client.SourceURI())
}

func TestRouter(t *testing.T) {
	issuer := setupIssuer(t)
	client, err := newClient(context.Background())
	require.NoError(t, err)
	r := newRouter(client, prometheus.NewRegistry())

	t.Run("validate endpoint", func(t *testing.T) {
		body, _ := json.Marshal(validateRequest{Token: issuer.CreateToken("user-1")})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/validate", bytes.NewReader(body)))
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Active bool           `json:"active"`
			Claims map[string]any `json:"claims"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Active)
		assert.Equal(t, "user-1", resp.Claims["sub"])
	})

	t.Run("validate rejects expired", func(t *testing.T) {
		body, _ := json.Marshal(validateRequest{Token: issuer.CreateExpiredToken("user-1")})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/validate", bytes.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"active":false`)
	})

	t.Run("validate requires body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/validate", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("introspect", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/introspect", nil)
		req.Header.Set("Authorization", "Bearer "+issuer.CreateToken("user-2"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"sub":"user-2"`)

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/introspect", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("republished jwks and health", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"kid":"test-key-1"`)

		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"keys":1`)
	})

	t.Run("metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
