package jwkclient

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// FileFetcher reads a key set document from the local filesystem, for
// deployments where keys are mounted from a secret store rather than served.
// uri is a plain path or a file:// URL.
type FileFetcher struct{}

func (FileFetcher) FetchKeySet(ctx context.Context, uri string) ([]KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindTransport, "", err)
	}
	path := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, newError(KindTransport, "", fmt.Errorf("parsing jwks uri: %w", err))
		}
		path = u.Path
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, newError(KindTransport, "", fmt.Errorf("reading jwks file: %w", err))
	}
	if info.Size() > maxKeySetBytes {
		return nil, newError(KindTransport, "", fmt.Errorf("jwks document exceeds %d bytes", maxKeySetBytes))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindTransport, "", fmt.Errorf("reading jwks file: %w", err))
	}
	return ParseKeySet(data)
}

// NewFetcher returns a Fetcher that reads file:// URIs from disk and
// everything else over HTTP.
func NewFetcher(cfg HTTPFetcherConfig) Fetcher {
	httpFetcher := NewHTTPFetcher(cfg)
	return FetcherFunc(func(ctx context.Context, uri string) ([]KeyRecord, error) {
		if strings.HasPrefix(uri, "file://") {
			return FileFetcher{}.FetchKeySet(ctx, uri)
		}
		return httpFetcher.FetchKeySet(ctx, uri)
	})
}
