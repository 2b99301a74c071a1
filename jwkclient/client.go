// Package jwkclient validates bearer JWTs against a remotely published JSON
// Web Key Set.
//
// Keys are refreshed proactively when older than the refresh interval (one
// hour by default) and reactively, at most once per retry cooldown (five
// minutes by default), when a validation fails. A reactive refresh lets a
// client pick up a rotated key before its next scheduled refresh.
//
//	c, err := jwkclient.New("https://idp.example/.well-known/jwks.json", "https://idp.example", "my-service")
//	claims, err := c.Validate(ctx, rawToken)
package jwkclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Client validates tokens for one issuer/audience pair. It is safe for
// concurrent use.
type Client struct {
	sourceURI string
	issuer    string
	audience  string
	algorithm string
	leeway    time.Duration

	mu              sync.RWMutex
	refreshInterval time.Duration
	retryCooldown   time.Duration

	cache    *KeyCache
	fetcher  Fetcher
	build    KeyBuilder
	verifier Verifier
	observer Observer
	log      logrus.FieldLogger
	now      func() time.Time

	// refreshMu serializes fetch+replace; flights coalesces concurrent
	// refreshes of the same kind into one fetch.
	refreshMu sync.Mutex
	flights   singleflight.Group

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New builds a client for tokens issued by issuer for audience, verified with
// keys published at sourceURI. No keys are fetched until the first Validate
// or Refresh.
func New(sourceURI, issuer, audience string, opts ...Option) (*Client, error) {
	sourceURI = strings.TrimSpace(sourceURI)
	if sourceURI == "" {
		return nil, errors.New("jwkclient: source uri is required")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("jwkclient: issuer is required")
	}
	if strings.TrimSpace(audience) == "" {
		return nil, errors.New("jwkclient: audience is required")
	}
	c := &Client{
		sourceURI:       sourceURI,
		issuer:          issuer,
		audience:        audience,
		algorithm:       jwt.SigningMethodRS256.Alg(),
		refreshInterval: DefaultProactiveRefreshInterval,
		retryCooldown:   DefaultRetryCooldown,
		cache:           NewKeyCache(),
		build:           BuildRSAPublicKey,
		verifier:        JWTVerifier{},
		observer:        nopObserver{},
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !supportedAlgorithms[c.algorithm] {
		return nil, fmt.Errorf("jwkclient: unsupported algorithm %q", c.algorithm)
	}
	if c.fetcher == nil {
		c.fetcher = NewFetcher(HTTPFetcherConfig{})
	}
	if c.log == nil {
		c.log = logrus.StandardLogger().WithField("component", "jwkclient")
	}
	c.log = c.log.WithField("jwks_uri", sourceURI)
	return c, nil
}

// SourceURI returns the key-set location.
func (c *Client) SourceURI() string { return c.sourceURI }

// Issuer returns the required iss claim.
func (c *Client) Issuer() string { return c.issuer }

// Audience returns the required aud claim.
func (c *Client) Audience() string { return c.audience }

// Cache exposes the key cache for inspection.
func (c *Client) Cache() *KeyCache { return c.cache }

// SetProactiveRefreshInterval changes how old keys may get before Validate
// refreshes them first. A non-positive interval refreshes before every call.
func (c *Client) SetProactiveRefreshInterval(d time.Duration) {
	c.mu.Lock()
	c.refreshInterval = d
	c.mu.Unlock()
}

// SetRetryCooldown changes the minimum spacing between reactive refreshes.
func (c *Client) SetRetryCooldown(d time.Duration) {
	c.mu.Lock()
	c.retryCooldown = d
	c.mu.Unlock()
}

func (c *Client) tunables() (interval, cooldown time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshInterval, c.retryCooldown
}

// Validate verifies token and returns its claims.
func (c *Client) Validate(ctx context.Context, token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if err := c.ValidateInto(ctx, token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateInto verifies token and decodes its claims into claims, which may be
// any jwt.Claims implementation (e.g. a struct embedding jwt.RegisteredClaims).
// Errors are always *Error.
func (c *Client) ValidateInto(ctx context.Context, token string, claims jwt.Claims) error {
	retried, err := c.validate(ctx, token, claims)
	c.observer.ValidationCompleted(retried, err)
	return err
}

func (c *Client) validate(ctx context.Context, token string, claims jwt.Claims) (bool, error) {
	interval, cooldown := c.tunables()

	proactive, _ := c.cache.LastRefresh()
	if IsStale(proactive, c.now(), interval) {
		if err := c.refresh(ctx, RefreshProactive); err != nil {
			return false, err
		}
	}

	first := c.attempt(token, claims)
	if first == nil {
		return false, nil
	}
	if !c.mayRetry(cooldown) {
		return false, first
	}

	c.log.WithError(first).Debug("token rejected, refreshing keys before retry")
	if err := c.refresh(ctx, RefreshReactive); err != nil {
		return true, err
	}
	return true, c.attempt(token, claims)
}

func (c *Client) attempt(token string, claims jwt.Claims) error {
	hdr, err := c.verifier.DecodeHeader(token)
	if err != nil {
		return newError(KindVerification, "", err)
	}
	if hdr.KeyID == "" {
		return newError(KindMissingKeyID, "", nil)
	}
	key, ok := c.cache.LookupValid(hdr.KeyID, c.now())
	if !ok {
		return newError(KindUnknownOrInactiveKey, hdr.KeyID, nil)
	}
	err = c.verifier.Verify(token, key, Constraints{
		Issuer:    c.issuer,
		Audience:  c.audience,
		Algorithm: c.algorithm,
		Leeway:    c.leeway,
		Now:       c.now,
	}, claims)
	if err != nil {
		return newError(KindVerification, hdr.KeyID, err)
	}
	return nil
}

func (c *Client) mayRetry(cooldown time.Duration) bool {
	_, reactive := c.cache.LastRefresh()
	return MayRetry(reactive, c.now(), cooldown)
}

// Refresh fetches the key set now and counts as a proactive refresh. A failed
// refresh leaves the cached keys and timestamps untouched.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresh(ctx, RefreshProactive)
}

func (c *Client) refresh(ctx context.Context, kind RefreshKind) error {
	ch := c.flights.DoChan(kind.String(), func() (any, error) {
		// Callers that join this flight keep waiting after the first one
		// gives up, so the fetch must not inherit its cancellation.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedRefreshTimeout)
		defer cancel()

		c.refreshMu.Lock()
		defer c.refreshMu.Unlock()

		start := time.Now()
		entries, err := fetchEntries(fetchCtx, c.fetcher, c.build, c.sourceURI)
		took := time.Since(start)
		if err != nil {
			c.log.WithError(err).WithField("kind", kind.String()).Warn("jwks refresh failed")
			c.observer.RefreshCompleted(kind, 0, took, err)
			return nil, err
		}
		c.cache.commit(entries, kind, c.now())
		c.log.WithFields(logrus.Fields{
			"kind":        kind.String(),
			"keys":        len(entries),
			"duration_ms": took.Milliseconds(),
		}).Info("jwks refreshed")
		c.observer.RefreshCompleted(kind, len(entries), took, nil)
		return len(entries), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.log.WithField("kind", kind.String()).Debug("joined in-flight jwks refresh")
		}
		if res.Err != nil {
			return asFetchError(res.Err)
		}
		return nil
	case <-ctx.Done():
		return newError(KindTransport, "", ctx.Err())
	}
}
