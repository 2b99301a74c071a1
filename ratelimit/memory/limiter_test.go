package memorylimiter

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PaulFidika/jwkclient/jwkclient"
	jwktest "github.com/PaulFidika/jwkclient/testing"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// gatedFetcher blocks its first call until release is closed and answers
// every call with a record named after the call number.
type gatedFetcher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedFetcher) FetchKeySet(ctx context.Context, _ string) ([]jwkclient.KeyRecord, error) {
	n := g.calls.Add(1)
	if n == 1 {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []jwkclient.KeyRecord{{KeyID: string(rune('a' + n - 1))}}, nil
}

func TestFetcher_ClientsSharingItEachSeeRotation(t *testing.T) {
	issuer := jwktest.NewTestIssuer()
	defer issuer.Close()

	shared := New(jwkclient.NewHTTPFetcher(jwkclient.HTTPFetcherConfig{}))
	newClient := func() *jwkclient.Client {
		c, err := jwkclient.New(issuer.JWKSURL(), issuer.URL(), issuer.Audience(),
			jwkclient.WithFetcher(shared), jwkclient.WithLogger(quietLogger()))
		require.NoError(t, err)
		return c
	}
	a, b := newClient(), newClient()
	ctx := context.Background()

	_, err := a.Validate(ctx, issuer.CreateToken("user-1"))
	require.NoError(t, err)
	_, err = b.Validate(ctx, issuer.CreateToken("user-1"))
	require.NoError(t, err)

	issuer.Rotate("test-key-2")
	token := issuer.CreateToken("user-2")

	_, err = a.Validate(ctx, token)
	require.NoError(t, err, "first client refreshes reactively")
	_, err = b.Validate(ctx, token)
	require.NoError(t, err, "second client must not be left on the old key set")

	assert.ElementsMatch(t, []string{"test-key-1", "test-key-2"}, b.Cache().KeyIDs())
	assert.Equal(t, 4, issuer.FetchCount(), "sequential refreshes are never served a stale document")
}

func TestFetcher_ConcurrentCallersShareOneFetch(t *testing.T) {
	inner := newGatedFetcher()
	f := New(inner)
	now := time.Now()
	f.now = func() time.Time { return now }

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]jwkclient.KeyRecord, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs, err := f.FetchKeySet(context.Background(), "https://idp/jwks")
			assert.NoError(t, err)
			results[i] = recs
		}(i)
	}
	<-inner.entered
	close(inner.release)
	wg.Wait()

	assert.EqualValues(t, 1, inner.calls.Load())
	for _, recs := range results {
		require.Len(t, recs, 1)
		assert.Equal(t, "a", recs[0].KeyID)
	}
}

func TestFetcher_FetchStartedEarlierIsNotReused(t *testing.T) {
	inner := newGatedFetcher()
	f := New(inner)
	var mu sync.Mutex
	now := time.Now()
	f.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	first := make(chan []jwkclient.KeyRecord, 1)
	go func() {
		recs, _ := f.FetchKeySet(context.Background(), "https://idp/jwks")
		first <- recs
	}()
	<-inner.entered

	mu.Lock()
	now = now.Add(time.Second)
	mu.Unlock()

	second := make(chan []jwkclient.KeyRecord, 1)
	go func() {
		recs, err := f.FetchKeySet(context.Background(), "https://idp/jwks")
		assert.NoError(t, err)
		second <- recs
	}()
	close(inner.release)

	assert.Equal(t, "a", (<-first)[0].KeyID)
	assert.Equal(t, "b", (<-second)[0].KeyID)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestFetcher_FailureIsNotRemembered(t *testing.T) {
	var calls atomic.Int32
	f := New(jwkclient.FetcherFunc(func(context.Context, string) ([]jwkclient.KeyRecord, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("upstream down")
		}
		return []jwkclient.KeyRecord{{KeyID: "k1"}}, nil
	}))
	now := time.Now()
	f.now = func() time.Time { return now }

	_, err := f.FetchKeySet(context.Background(), "https://idp/jwks")
	require.Error(t, err)

	recs, err := f.FetchKeySet(context.Background(), "https://idp/jwks")
	require.NoError(t, err)
	assert.Equal(t, "k1", recs[0].KeyID)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetcher_FailedReactiveRefreshCanBeRetried(t *testing.T) {
	issuer := jwktest.NewTestIssuer()
	defer issuer.Close()

	c, err := jwkclient.New(issuer.JWKSURL(), issuer.URL(), issuer.Audience(),
		jwkclient.WithFetcher(New(jwkclient.NewHTTPFetcher(jwkclient.HTTPFetcherConfig{}))),
		jwkclient.WithLogger(quietLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Validate(ctx, issuer.CreateToken("user-1"))
	require.NoError(t, err)

	issuer.Rotate("test-key-2")
	issuer.FailNext(1, http.StatusBadGateway)
	token := issuer.CreateToken("user-2")

	_, err = c.Validate(ctx, token)
	assert.ErrorIs(t, err, jwkclient.ErrTransport)

	_, err = c.Validate(ctx, token)
	require.NoError(t, err, "a failed refresh does not start the cooldown")
	assert.Equal(t, 3, issuer.FetchCount())
}

func TestFetcher_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	inner := newGatedFetcher()
	f := New(inner)
	now := time.Now()
	f.now = func() time.Time { return now }

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.FetchKeySet(leaderCtx, "https://idp/jwks")
		leaderErr <- err
	}()
	<-inner.entered

	waiter := make(chan []jwkclient.KeyRecord, 1)
	go func() {
		recs, err := f.FetchKeySet(context.Background(), "https://idp/jwks")
		assert.NoError(t, err)
		waiter <- recs
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	recs := <-waiter
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].KeyID, "the waiter fetched on its own")
}

func TestFetcher_WaiterHonoursItsContext(t *testing.T) {
	inner := newGatedFetcher()
	f := New(inner)
	defer close(inner.release)

	go func() { _, _ = f.FetchKeySet(context.Background(), "https://idp/jwks") }()
	<-inner.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.FetchKeySet(ctx, "https://idp/jwks")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetcher_SourcesAreIndependent(t *testing.T) {
	var calls atomic.Int32
	f := New(jwkclient.FetcherFunc(func(_ context.Context, uri string) ([]jwkclient.KeyRecord, error) {
		calls.Add(1)
		return []jwkclient.KeyRecord{{KeyID: uri}}, nil
	}))
	now := time.Now()
	f.now = func() time.Time { return now }

	a, err := f.FetchKeySet(context.Background(), "https://a/jwks")
	require.NoError(t, err)
	b, err := f.FetchKeySet(context.Background(), "https://b/jwks")
	require.NoError(t, err)

	assert.Equal(t, "https://a/jwks", a[0].KeyID)
	assert.Equal(t, "https://b/jwks", b[0].KeyID)
	assert.EqualValues(t, 2, calls.Load())
}
