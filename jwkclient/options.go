package jwkclient

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithFetcher replaces the HTTP key-set fetcher.
func WithFetcher(f Fetcher) Option {
	return func(c *Client) {
		if f != nil {
			c.fetcher = f
		}
	}
}

// WithKeyBuilder replaces BuildRSAPublicKey.
func WithKeyBuilder(b KeyBuilder) Option {
	return func(c *Client) {
		if b != nil {
			c.build = b
		}
	}
}

// WithVerifier replaces the golang-jwt based verifier.
func WithVerifier(v Verifier) Option {
	return func(c *Client) {
		if v != nil {
			c.verifier = v
		}
	}
}

// WithAlgorithm sets the only accepted JWS algorithm. Default RS256.
func WithAlgorithm(alg string) Option {
	return func(c *Client) { c.algorithm = alg }
}

// WithLeeway tolerates clock skew on exp/nbf/iat.
func WithLeeway(d time.Duration) Option {
	return func(c *Client) { c.leeway = d }
}

// WithProactiveRefreshInterval sets the initial staleness interval.
func WithProactiveRefreshInterval(d time.Duration) Option {
	return func(c *Client) { c.refreshInterval = d }
}

// WithRetryCooldown sets the initial minimum spacing between reactive refreshes.
func WithRetryCooldown(d time.Duration) Option {
	return func(c *Client) { c.retryCooldown = d }
}

// WithLogger sets the logger. Default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver receives refresh and validation outcomes.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}
