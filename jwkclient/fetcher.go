package jwkclient

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// KeyRecord is one raw key from a key-set document. Exponent and Modulus are
// the big-endian bytes of the base64url-decoded "e" and "n" members.
type KeyRecord struct {
	KeyID     string
	NotBefore time.Time
	Exponent  []byte
	Modulus   []byte
}

// Fetcher retrieves and parses the key-set document at uri.
// Implementations must not retry; retry timing belongs to the Client.
type Fetcher interface {
	FetchKeySet(ctx context.Context, uri string) ([]KeyRecord, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, uri string) ([]KeyRecord, error)

func (f FetcherFunc) FetchKeySet(ctx context.Context, uri string) ([]KeyRecord, error) {
	return f(ctx, uri)
}

// KeyBuilder turns raw RSA components into a verification key.
type KeyBuilder func(exponent, modulus []byte) (*rsa.PublicKey, error)

// BuildRSAPublicKey is the default KeyBuilder.
func BuildRSAPublicKey(exponent, modulus []byte) (*rsa.PublicKey, error) {
	if len(exponent) == 0 {
		return nil, errors.New("missing rsa exponent")
	}
	if len(exponent) > 4 {
		return nil, errors.New("rsa exponent too large")
	}
	// Convert exponent bytes (big-endian) to int.
	e := 0
	for _, b := range exponent {
		e = e<<8 | int(b)
	}
	if e < 2 {
		return nil, fmt.Errorf("invalid rsa exponent %d", e)
	}
	n := new(big.Int).SetBytes(modulus)
	if n.Sign() <= 0 {
		return nil, errors.New("invalid rsa modulus")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

// fetchEntries fetches the document and builds every key, or fails as a unit.
// It never touches a cache.
func fetchEntries(ctx context.Context, f Fetcher, build KeyBuilder, uri string) (map[string]KeyEntry, error) {
	records, err := f.FetchKeySet(ctx, uri)
	if err != nil {
		return nil, asFetchError(err)
	}
	entries := make(map[string]KeyEntry, len(records))
	for _, rec := range records {
		if rec.KeyID == "" {
			return nil, newError(KindKeyFormat, "", errors.New("key without kid"))
		}
		key, err := build(rec.Exponent, rec.Modulus)
		if err != nil {
			return nil, newError(KindKeyFormat, rec.KeyID, err)
		}
		// Later duplicates win, as with a plain map collect.
		entries[rec.KeyID] = KeyEntry{Key: key, NotBefore: rec.NotBefore}
	}
	return entries, nil
}
