// Package config loads jwkverify settings from JWK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PaulFidika/jwkclient/jwkclient"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Prefix is prepended to every variable name, e.g. JWK_ISSUER.
const Prefix = "JWK"

type Config struct {
	JWKSURI  string `envconfig:"JWKS_URI" json:"jwks_uri"`
	Issuer   string `envconfig:"ISSUER" json:"issuer"`
	Audience string `envconfig:"AUDIENCE" json:"audience"`
	Discover bool   `envconfig:"DISCOVER" default:"false" json:"discover"`

	RefreshInterval   time.Duration `envconfig:"REFRESH_INTERVAL" default:"1h" json:"refresh_interval"`
	RetryCooldown     time.Duration `envconfig:"RETRY_COOLDOWN" default:"5m" json:"retry_cooldown"`
	FetchTimeout      time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s" json:"fetch_timeout"`
	Algorithm         string        `envconfig:"ALGORITHM" default:"RS256" json:"algorithm"`
	Leeway            time.Duration `envconfig:"LEEWAY" default:"0s" json:"leeway"`
	BackgroundRefresh string        `envconfig:"BACKGROUND_REFRESH" json:"background_refresh"`

	RedisAddr  string `envconfig:"REDIS_ADDR" json:"redis_addr"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080" json:"listen_addr"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" json:"log_level"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" json:"log_format"`

	ClientID     string   `envconfig:"CLIENT_ID" json:"client_id"`
	ClientSecret string   `envconfig:"CLIENT_SECRET" json:"-"`
	Scopes       []string `envconfig:"SCOPES" json:"scopes"`
}

// Load reads the environment. It does not validate; callers apply flag
// overrides first and then call Validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("unable to parse configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Issuer) == "" {
		errs = append(errs, errors.New("issuer is required"))
	}
	if strings.TrimSpace(c.Audience) == "" {
		errs = append(errs, errors.New("audience is required"))
	}
	if !c.Discover && strings.TrimSpace(c.JWKSURI) == "" {
		errs = append(errs, errors.New("jwks uri is required unless discovery is enabled"))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, errors.New("refresh interval must be positive"))
	}
	if c.RetryCooldown <= 0 {
		errs = append(errs, errors.New("retry cooldown must be positive"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.Leeway < 0 {
		errs = append(errs, errors.New("leeway must not be negative"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Fetcher builds the key-set fetcher for the configured timeout.
func (c *Config) Fetcher() jwkclient.Fetcher {
	return jwkclient.NewFetcher(jwkclient.HTTPFetcherConfig{
		Timeout:   c.FetchTimeout,
		UserAgent: "jwkverify",
	})
}

// ClientOptions translates the tunables into jwkclient options.
func (c *Config) ClientOptions() []jwkclient.Option {
	return []jwkclient.Option{
		jwkclient.WithFetcher(c.Fetcher()),
		jwkclient.WithProactiveRefreshInterval(c.RefreshInterval),
		jwkclient.WithRetryCooldown(c.RetryCooldown),
		jwkclient.WithAlgorithm(c.Algorithm),
		jwkclient.WithLeeway(c.Leeway),
	}
}

// NewLogger builds a logrus logger at the configured level and format,
// writing to stderr.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(lvl)
	if strings.EqualFold(c.LogFormat, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
