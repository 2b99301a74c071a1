// Package authhttp adapts jwkclient to net/http.
package authhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/PaulFidika/jwkclient/jwkclient"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Validator is satisfied by *jwkclient.Client.
type Validator interface {
	Validate(ctx context.Context, token string) (jwt.MapClaims, error)
}

type claimsKey struct{}

// ErrNoToken is reported when the request carries no bearer token.
var ErrNoToken = errors.New("authhttp: missing bearer token")

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// validated claims in the request context.
func Middleware(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, ErrNoToken)
				return
			}
			claims, err := v.Validate(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims jwt.MapClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return claims, ok
}

// ErrorResponse is the JSON body written for rejected requests.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Status maps a validation error to an HTTP status: 503 when the key set
// could not be obtained, 401 otherwise.
func Status(err error) int {
	switch jwkclient.KindOf(err) {
	case jwkclient.KindTransport, jwkclient.KindKeyFormat:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// Response builds the RFC 6750 style body for err.
func Response(err error) ErrorResponse {
	if errors.Is(err, ErrNoToken) {
		return ErrorResponse{Error: "invalid_request", Description: "missing bearer token"}
	}
	if Status(err) == http.StatusServiceUnavailable {
		return ErrorResponse{Error: "temporarily_unavailable", Description: jwkclient.KindOf(err).String()}
	}
	return ErrorResponse{Error: "invalid_token", Description: jwkclient.KindOf(err).String()}
}

// WriteError writes the status, WWW-Authenticate challenge and JSON body for err.
func WriteError(w http.ResponseWriter, err error) {
	resp := Response(err)
	status := Status(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+resp.Error+`"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
