package jwkclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	defaultFetchTimeout = 10 * time.Second
	maxKeySetBytes      = 1 << 20
	// maxNotBefore is 9999-12-31T23:59:59Z.
	maxNotBefore = 253402300799
)

// HTTPFetcherConfig configures NewHTTPFetcher. Zero values take defaults.
type HTTPFetcherConfig struct {
	// Timeout bounds a single fetch. Default 10s.
	Timeout time.Duration
	// HTTPClient overrides the underlying transport (e.g. for custom TLS).
	HTTPClient *http.Client
	// UserAgent is sent on every request when set.
	UserAgent string
}

// HTTPFetcher fetches a JSON Web Key Set over HTTP and parses it with jwx.
// It remembers ETag/Last-Modified per uri and reuses the previous parse on 304.
type HTTPFetcher struct {
	client *resty.Client

	mu        sync.Mutex
	validator map[string]cachedDocument
}

type cachedDocument struct {
	etag         string
	lastModified string
	records      []KeyRecord
}

// NewHTTPFetcher returns a fetcher with no retries; retry timing is owned by the Client.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	var client *resty.Client
	if cfg.HTTPClient != nil {
		client = resty.NewWithClient(cfg.HTTPClient)
	} else {
		client = resty.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client.SetTimeout(timeout).
		SetRetryCount(0).
		SetResponseBodyLimit(maxKeySetBytes).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &HTTPFetcher{client: client, validator: map[string]cachedDocument{}}
}

func (f *HTTPFetcher) FetchKeySet(ctx context.Context, uri string) ([]KeyRecord, error) {
	req := f.client.R().SetContext(ctx)

	f.mu.Lock()
	prev, havePrev := f.validator[uri]
	f.mu.Unlock()
	if havePrev {
		if prev.etag != "" {
			req.SetHeader("If-None-Match", prev.etag)
		}
		if prev.lastModified != "" {
			req.SetHeader("If-Modified-Since", prev.lastModified)
		}
	}

	resp, err := req.Get(uri)
	if err != nil {
		return nil, newError(KindTransport, "", fmt.Errorf("fetching jwks: %w", err))
	}

	if resp.StatusCode() == http.StatusNotModified {
		if !havePrev {
			return nil, newError(KindTransport, "", errors.New("jwks returned 304 without a cached document"))
		}
		return append([]KeyRecord(nil), prev.records...), nil
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		body := resp.Body()
		if len(body) > 4<<10 {
			body = body[:4<<10]
		}
		return nil, newError(KindTransport, "", fmt.Errorf("jwks fetch status %d: %s", resp.StatusCode(), strings.TrimSpace(string(body))))
	}

	records, err := ParseKeySet(resp.Body())
	if err != nil {
		return nil, err
	}

	etag := resp.Header().Get("ETag")
	lastModified := resp.Header().Get("Last-Modified")
	f.mu.Lock()
	if etag != "" || lastModified != "" {
		f.validator[uri] = cachedDocument{etag: etag, lastModified: lastModified, records: records}
	} else {
		delete(f.validator, uri)
	}
	f.mu.Unlock()

	return append([]KeyRecord(nil), records...), nil
}

// rsaComponents is satisfied by both jwk.RSAPublicKey and jwk.RSAPrivateKey.
type rsaComponents interface {
	N() []byte
	E() []byte
}

// ParseKeySet parses a JSON Web Key Set document into raw RSA key records.
// Keys of other types are skipped; a document that does not parse, or an RSA
// key without kid, fails the whole parse.
func ParseKeySet(doc []byte) ([]KeyRecord, error) {
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, newError(KindKeyFormat, "", fmt.Errorf("parsing jwks json: %w", err))
	}
	records := make([]KeyRecord, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if key.KeyType() != jwa.RSA {
			continue
		}
		kid := key.KeyID()
		if kid == "" {
			return nil, newError(KindKeyFormat, "", errors.New("rsa jwk without kid"))
		}
		comp, ok := key.(rsaComponents)
		if !ok {
			return nil, newError(KindKeyFormat, kid, fmt.Errorf("unexpected rsa jwk type %T", key))
		}
		nbf, err := notBefore(key)
		if err != nil {
			return nil, newError(KindKeyFormat, kid, err)
		}
		records = append(records, KeyRecord{
			KeyID:     kid,
			NotBefore: nbf,
			Exponent:  comp.E(),
			Modulus:   comp.N(),
		})
	}
	return records, nil
}

// notBefore reads the optional "nbf" member (Unix seconds).
func notBefore(key jwk.Key) (time.Time, error) {
	raw, ok := key.Get("nbf")
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid nbf %q: %w", v, err)
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid nbf %q: %w", v, err)
		}
		secs = f
	default:
		return time.Time{}, fmt.Errorf("invalid nbf type %T", raw)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, errors.New("invalid nbf")
	}
	if secs < 0 || secs > maxNotBefore {
		return time.Time{}, fmt.Errorf("nbf %g out of range", secs)
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}
