package redislimiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/PaulFidika/jwkclient/jwkclient"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultKeyPrefix    = "jwks:shared:"
	defaultLockTTL      = 30 * time.Second
	defaultDocumentTTL  = time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

// releaseLock deletes the lock only while it still carries our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Fetcher coalesces key-set fetches across every process sharing a Redis
// instance. One process holds the lock for a URI and fetches; the others wait
// for the document it stores. A caller only accepts a document whose fetch
// began, by the Redis clock, no earlier than the caller asked, so it is never
// handed anything older than its own fetch would have returned.
//
// When Redis is nil or failing, every call goes straight to the inner fetcher.
type Fetcher struct {
	rdb   *redis.Client
	inner jwkclient.Fetcher
	keyNS string

	lockTTL time.Duration
	docTTL  time.Duration
	poll    time.Duration
	log     logrus.FieldLogger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithPollInterval sets how often waiting callers check for the document.
func WithPollInterval(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.poll = d
		}
	}
}

// WithLockTTL bounds how long a crashed leader can hold up other processes.
func WithLockTTL(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.lockTTL = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// New wraps inner. An empty keyPrefix selects "jwks:shared:".
func New(rdb *redis.Client, inner jwkclient.Fetcher, keyPrefix string, opts ...Option) *Fetcher {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	f := &Fetcher{
		rdb:     rdb,
		inner:   inner,
		keyNS:   keyPrefix,
		lockTTL: defaultLockTTL,
		docTTL:  defaultDocumentTTL,
		poll:    defaultPollInterval,
		log:     logrus.StandardLogger().WithField("component", "redislimiter"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) key(sourceURI string) string {
	sum := sha256.Sum256([]byte(sourceURI))
	return f.keyNS + hex.EncodeToString(sum[:8])
}

type document struct {
	StartedAt int64                 `json:"started_at"` // Redis clock, microseconds
	Records   []jwkclient.KeyRecord `json:"records"`
}

// FetchKeySet returns the records at uri, taking them from a fetch another
// process started after this call began when there is one.
func (f *Fetcher) FetchKeySet(ctx context.Context, uri string) ([]jwkclient.KeyRecord, error) {
	if f.rdb == nil {
		return f.inner.FetchKeySet(ctx, uri)
	}
	start, err := f.rdb.Time(ctx).Result()
	if err != nil {
		return f.direct(ctx, uri, err)
	}
	base := f.key(uri)
	docKey, lockKey := base+":doc", base+":lock"

	for {
		doc, err := f.load(ctx, docKey)
		if err != nil {
			return f.direct(ctx, uri, err)
		}
		if doc != nil && doc.StartedAt >= start.UnixMicro() {
			return doc.Records, nil
		}

		token := uuid.NewString()
		won, err := f.rdb.SetNX(ctx, lockKey, token, f.lockTTL).Result()
		if err != nil {
			return f.direct(ctx, uri, err)
		}
		if won {
			return f.lead(ctx, uri, docKey, lockKey, token)
		}

		t := time.NewTimer(f.poll)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

func (f *Fetcher) lead(ctx context.Context, uri, docKey, lockKey, token string) ([]jwkclient.KeyRecord, error) {
	defer func() {
		// Release even when ctx is done so waiters are not held for the lock TTL.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseLock.Run(relCtx, f.rdb, []string{lockKey}, token).Err(); err != nil {
			f.log.WithError(err).Warn("jwks fetch lock release failed")
		}
	}()

	began, err := f.rdb.Time(ctx).Result()
	if err != nil {
		return f.direct(ctx, uri, err)
	}
	records, err := f.inner.FetchKeySet(ctx, uri)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(document{StartedAt: began.UnixMicro(), Records: records})
	if err == nil {
		err = f.rdb.Set(ctx, docKey, raw, f.docTTL).Err()
	}
	if err != nil {
		f.log.WithError(err).Warn("jwks document not shared")
	}
	return records, nil
}

func (f *Fetcher) load(ctx context.Context, docKey string) (*document, error) {
	raw, err := f.rdb.Get(ctx, docKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		f.log.WithError(err).Warn("discarding unreadable shared jwks document")
		return nil, nil
	}
	return &doc, nil
}

// direct fetches without coordination after a Redis failure.
func (f *Fetcher) direct(ctx context.Context, uri string, cause error) ([]jwkclient.KeyRecord, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.log.WithError(cause).Warn("redis unavailable, fetching jwks without coordination")
	return f.inner.FetchKeySet(ctx, uri)
}
