// Package middleware provides HTTP glue for protecting routes with access
// tokens. It works with any router that accepts func(http.Handler)
// http.Handler, chi included.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kvoss-dev/authcore/jwt"
)

// Verifier validates a raw access token. *authcore.Engine satisfies it.
type Verifier interface {
	VerifyAccess(raw string) (jwt.Claims, error)
}

type claimsContextKey struct{}

// ClaimsFromContext returns the verified claims that Guard attached to the
// request context.
func ClaimsFromContext(ctx context.Context) (jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(jwt.Claims)
	return claims, ok
}

// Guard rejects requests without a valid bearer access token and stores the
// verified claims in the request context for downstream handlers. Every
// rejection is a bare 401; token state never leaks to the client.
func Guard(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.VerifyAccess(raw)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
