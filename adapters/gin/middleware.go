// Package authgin adapts jwkclient to gin.
package authgin

import (
	"net/http"
	"strings"

	authhttp "github.com/PaulFidika/jwkclient/adapters/http"
	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

// ClaimsKey is the gin context key holding validated jwt.MapClaims.
const ClaimsKey = "auth.claims"

// RequireToken aborts with 401 (or 503 when keys cannot be fetched) unless
// the request carries a valid bearer token.
func RequireToken(v authhttp.Validator) gin.HandlerFunc {
	return middleware(v, false)
}

// OptionalToken lets requests without a token through unauthenticated.
// A token that is present but invalid is still rejected.
func OptionalToken(v authhttp.Validator) gin.HandlerFunc {
	return middleware(v, true)
}

func middleware(v authhttp.Validator, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := authhttp.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			if optional && strings.TrimSpace(c.GetHeader("Authorization")) == "" {
				c.Next()
				return
			}
			abort(c, authhttp.ErrNoToken)
			return
		}
		claims, err := v.Validate(c.Request.Context(), token)
		if err != nil {
			abort(c, err)
			return
		}
		c.Set(ClaimsKey, claims)
		if sub, _ := claims.GetSubject(); sub != "" {
			c.Set("auth.sub", sub)
		}
		c.Request = c.Request.WithContext(authhttp.WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	resp := authhttp.Response(err)
	status := authhttp.Status(err)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer error="`+resp.Error+`"`)
	}
	c.AbortWithStatusJSON(status, resp)
}

// ClaimsFromGin returns the claims set by RequireToken or OptionalToken.
func ClaimsFromGin(c *gin.Context) (jwt.MapClaims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(jwt.MapClaims)
	return claims, ok
}

// Subject returns the validated token's sub claim, or "".
func Subject(c *gin.Context) string {
	return c.GetString("auth.sub")
}
