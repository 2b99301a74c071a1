package authhttp

import (
	"net/http"
	"sort"

	"github.com/PaulFidika/jwkclient/jwkclient"
	jwtkit "github.com/PaulFidika/jwkclient/jwt"
)

// KeySetHandler re-publishes the keys a client currently trusts as a JWKS
// document, so sidecars and internal services can share one upstream fetch.
// Keys staged for future activation are included with their nbf.
func KeySetHandler(c *jwkclient.Client, alg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwtkit.ServeJWKS(w, r, KeySet(c.Cache(), alg))
	})
}

// KeySet renders the cache contents, sorted by kid.
func KeySet(cache *jwkclient.KeyCache, alg string) jwtkit.JWKS {
	snap := cache.Snapshot()
	kids := make([]string, 0, len(snap))
	for kid := range snap {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	ks := jwtkit.JWKS{Keys: make([]jwtkit.JWK, 0, len(kids))}
	for _, kid := range kids {
		e := snap[kid]
		ks.Keys = append(ks.Keys, jwtkit.RSAPublicToJWK(e.Key, kid, alg).WithNotBefore(e.NotBefore))
	}
	return ks
}
