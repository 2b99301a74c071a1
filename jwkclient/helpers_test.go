package jwkclient

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	jwtkit "github.com/PaulFidika/jwkclient/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://idp.example"
	testAudience = "my-service"
	testURI      = "https://idp.example/.well-known/jwks.json"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fetchResult struct {
	records []KeyRecord
	err     error
}

// fakeFetcher returns its results in order, repeating the last one.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	uris    []string
	results []fetchResult
}

func (f *fakeFetcher) FetchKeySet(_ context.Context, uri string) ([]KeyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.uris = append(f.uris, uri)
	if len(f.results) == 0 {
		return nil, errors.New("no result configured")
	}
	i := f.calls - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	r := f.results[i]
	return r.records, r.err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// then appends results served after the ones already configured.
func (f *fakeFetcher) then(rs ...fetchResult) {
	f.mu.Lock()
	f.results = append(f.results, rs...)
	f.mu.Unlock()
}

type recordingObserver struct {
	mu          sync.Mutex
	refreshes   []RefreshKind
	refreshErrs int
	validations int
	retried     int
	failures    int
}

func (o *recordingObserver) RefreshCompleted(kind RefreshKind, _ int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshes = append(o.refreshes, kind)
	if err != nil {
		o.refreshErrs++
	}
}

func (o *recordingObserver) ValidationCompleted(retried bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.validations++
	if retried {
		o.retried++
	}
	if err != nil {
		o.failures++
	}
}

var (
	signerMu sync.Mutex
	signers  = map[string]*jwtkit.RSASigner{}
)

// signer returns a cached 2048-bit key per kid so tests do not regenerate keys.
func signer(t *testing.T, kid string) *jwtkit.RSASigner {
	t.Helper()
	signerMu.Lock()
	defer signerMu.Unlock()
	if s, ok := signers[kid]; ok {
		return s
	}
	s, err := jwtkit.NewRSASigner(2048, kid)
	require.NoError(t, err)
	signers[kid] = s
	return s
}

func record(s *jwtkit.RSASigner, notBefore time.Time) KeyRecord {
	pub := s.PublicKey()
	return KeyRecord{
		KeyID:     s.KID(),
		NotBefore: notBefore,
		Exponent:  big.NewInt(int64(pub.E)).Bytes(),
		Modulus:   pub.N.Bytes(),
	}
}

func keys(rs ...KeyRecord) fetchResult { return fetchResult{records: rs} }

func tokenFor(t *testing.T, s *jwtkit.RSASigner, now time.Time, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	tok, err := s.Sign(context.Background(), claims)
	require.NoError(t, err)
	return tok
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestClient(t *testing.T, f Fetcher, clock *fakeClock, opts ...Option) *Client {
	t.Helper()
	base := []Option{WithFetcher(f), WithClock(clock.Now), WithLogger(quietLogger())}
	c, err := New(testURI, testIssuer, testAudience, append(base, opts...)...)
	require.NoError(t, err)
	return c
}
