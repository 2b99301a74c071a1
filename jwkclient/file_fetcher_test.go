package jwkclient

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	jwktest "github.com/PaulFidika/jwkclient/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileFetcher(t *testing.T) {
	issuer := jwktest.NewTestIssuer()
	defer issuer.Close()

	doc, err := json.Marshal(issuer.KeySet())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	records, err := FileFetcher{}.FetchKeySet(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "test-key-1", records[0].KeyID)

	records, err = NewFetcher(HTTPFetcherConfig{}).FetchKeySet(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = FileFetcher{}.FetchKeySet(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrTransport)

	require.NoError(t, os.WriteFile(path, []byte(`{"keys":`), 0o600))
	_, err = FileFetcher{}.FetchKeySet(context.Background(), path)
	assert.ErrorIs(t, err, ErrKeyFormat)
}

func TestClient_FileSource(t *testing.T) {
	issuer := jwktest.NewTestIssuer()
	defer issuer.Close()

	doc, err := json.Marshal(issuer.KeySet())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(path, doc, 0o600))

	c, err := New("file://"+path, issuer.URL(), issuer.Audience(), WithLogger(quietLogger()))
	require.NoError(t, err)

	claims, err := c.Validate(context.Background(), issuer.CreateToken("user-1"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, 0, issuer.FetchCount())
}
