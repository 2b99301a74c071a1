// Package oidckit resolves a token validator from an OpenID Provider's
// discovery document.
package oidckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaulFidika/jwkclient/jwkclient"
	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DiscoveryPath is appended to the issuer to locate the discovery document.
const DiscoveryPath = "/.well-known/openid-configuration"

// Provider holds the discovery metadata a resource server cares about.
type Provider struct {
	Issuer                string   `json:"issuer"`
	JWKSURI               string   `json:"jwks_uri"`
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string   `json:"token_endpoint,omitempty"`
	SigningAlgs           []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// DiscoverOpt configures discovery.
type DiscoverOpt func(*discoverConfig)

type discoverConfig struct {
	httpClient *http.Client
	timeout    time.Duration
}

// WithHTTPClient routes discovery through hc.
func WithHTTPClient(hc *http.Client) DiscoverOpt {
	return func(c *discoverConfig) { c.httpClient = hc }
}

// WithTimeout bounds the discovery request.
func WithTimeout(d time.Duration) DiscoverOpt {
	return func(c *discoverConfig) { c.timeout = d }
}

// Discover fetches the issuer's discovery document. The advertised issuer
// must match the requested one (ignoring a trailing slash) and jwks_uri must
// be present.
func Discover(ctx context.Context, issuer string, opts ...DiscoverOpt) (*Provider, error) {
	trimmedIssuer := strings.TrimRight(strings.TrimSpace(issuer), "/")
	if trimmedIssuer == "" {
		return nil, errors.New("oidc: issuer is empty")
	}
	cfg := discoverConfig{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	var rc *resty.Client
	if cfg.httpClient != nil {
		rc = resty.NewWithClient(cfg.httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetTimeout(cfg.timeout)

	resp, err := rc.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(trimmedIssuer + DiscoveryPath)
	if err != nil {
		return nil, fmt.Errorf("oidc: discovery request: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("oidc: discovery failed: %s", resp.Status())
	}

	var p Provider
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		return nil, fmt.Errorf("oidc: decode discovery: %w", err)
	}
	discoveredIssuer := strings.TrimRight(p.Issuer, "/")
	if discoveredIssuer != "" && discoveredIssuer != trimmedIssuer {
		return nil, fmt.Errorf("oidc: issuer mismatch: %s", p.Issuer)
	}
	if p.Issuer == "" {
		p.Issuer = issuer
	}
	if p.JWKSURI == "" {
		return nil, errors.New("oidc: discovery missing jwks_uri")
	}
	return &p, nil
}

// NewClient discovers issuer and builds a jwkclient.Client for audience that
// reads keys from the advertised jwks_uri and expects the advertised issuer.
func NewClient(ctx context.Context, issuer, audience string, opts ...jwkclient.Option) (*jwkclient.Client, error) {
	p, err := Discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return p.NewClient(audience, opts...)
}

// NewClient builds a jwkclient.Client from already-discovered metadata.
func (p *Provider) NewClient(audience string, opts ...jwkclient.Option) (*jwkclient.Client, error) {
	return jwkclient.New(p.JWKSURI, p.Issuer, audience, opts...)
}

// ClientCredentials returns an OAuth2 client-credentials config against the
// provider's token endpoint. Useful for minting machine tokens to smoke-test
// a deployment.
func (p *Provider) ClientCredentials(clientID, clientSecret string, scopes ...string) (*clientcredentials.Config, error) {
	if p.TokenEndpoint == "" {
		return nil, errors.New("oidc: discovery missing token_endpoint")
	}
	if clientID == "" {
		return nil, errors.New("oidc: client id is empty")
	}
	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     p.TokenEndpoint,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleAutoDetect,
	}, nil
}
