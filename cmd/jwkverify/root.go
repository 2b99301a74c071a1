package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/PaulFidika/jwkclient/config"
	"github.com/PaulFidika/jwkclient/jwkclient"
	oidckit "github.com/PaulFidika/jwkclient/oidc"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:           "jwkverify",
	Short:         "Validate JWTs against a remote JWKS",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		l, err := cfg.NewLogger()
		if err != nil {
			return err
		}
		log = l
		return nil
	},
}

func bindFlags(c *config.Config) {
	f := rootCmd.PersistentFlags()
	f.StringVar(&c.JWKSURI, "jwks-uri", c.JWKSURI, "key set location (JWK_JWKS_URI)")
	f.StringVar(&c.Issuer, "issuer", c.Issuer, "expected iss claim (JWK_ISSUER)")
	f.StringVar(&c.Audience, "audience", c.Audience, "expected aud claim (JWK_AUDIENCE)")
	f.BoolVar(&c.Discover, "discover", c.Discover, "resolve jwks_uri from the issuer's OpenID discovery document (JWK_DISCOVER)")
	f.DurationVar(&c.RefreshInterval, "refresh-interval", c.RefreshInterval, "proactive refresh interval (JWK_REFRESH_INTERVAL)")
	f.DurationVar(&c.RetryCooldown, "retry-cooldown", c.RetryCooldown, "minimum time between reactive refreshes (JWK_RETRY_COOLDOWN)")
	f.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "key set request timeout (JWK_FETCH_TIMEOUT)")
	f.StringVar(&c.Algorithm, "algorithm", c.Algorithm, "accepted signing algorithm (JWK_ALGORITHM)")
	f.DurationVar(&c.Leeway, "leeway", c.Leeway, "clock skew tolerance for exp/nbf/iat (JWK_LEEWAY)")
	f.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (JWK_LOG_LEVEL)")
	f.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json (JWK_LOG_FORMAT)")
}

// Execute runs the CLI against c and returns the process exit code.
func Execute(c *config.Config) int {
	cfg = c
	bindFlags(c)
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("jwkverify failed")
		if k := jwkclient.KindOf(err); k != 0 {
			fmt.Fprintf(os.Stderr, "error: %s\n", k)
		}
		return 1
	}
	return 0
}

// newClient builds the validator, discovering jwks_uri first when enabled.
func newClient(ctx context.Context, extra ...jwkclient.Option) (*jwkclient.Client, error) {
	opts := append(cfg.ClientOptions(), jwkclient.WithLogger(log.WithField("component", "jwkclient")))
	opts = append(opts, extra...)

	if !cfg.Discover {
		return jwkclient.New(cfg.JWKSURI, cfg.Issuer, cfg.Audience, opts...)
	}
	p, err := discover(ctx)
	if err != nil {
		return nil, err
	}
	log.WithField("jwks_uri", p.JWKSURI).Debug("discovered key set")
	return p.NewClient(cfg.Audience, opts...)
}

func discover(ctx context.Context) (*oidckit.Provider, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout+5*time.Second)
	defer cancel()
	return oidckit.Discover(ctx, cfg.Issuer, oidckit.WithTimeout(cfg.FetchTimeout))
}
