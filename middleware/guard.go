package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hemoline/authgate/token"
)

type claimsContextKey struct{}

// Verifier checks an access token. *token.Issuer satisfies it.
type Verifier interface {
	Verify(raw string) (*token.Claims, error)
}

func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	return claims, ok
}

// RequireBearer rejects requests without a valid bearer access token with
// 401 and injects the verified claims into the request context.
func RequireBearer(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				unauthorized(w)
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, rejectionBody{Code: "UNAUTHORIZED", Message: "Unauthorized"})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	raw := strings.TrimSpace(value[len(bearer):])
	if raw == "" {
		return "", false
	}

	return raw, true
}
