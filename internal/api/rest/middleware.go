package rest

import (
	"context"
	"net/http"
	"strings"

	"github.com/takrelay/aggregator/internal/api/auth"
)

type contextKey string

const identityContextKey contextKey = "identity"

// RequireRole inspects the request's bearer token and rejects it unless
// the resolved identity carries role, mirroring the teacher's
// NewStreamAuthInterceptor shape (inspect -> inject identity into
// context -> downstream handler) adapted from a gRPC stream interceptor
// to plain HTTP middleware.
func RequireRole(authn *auth.Authenticator, role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			identity, ok := authn.Inspect(token)
			if !ok || !identity.Has(role) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// IdentityFromContext retrieves the identity RequireRole injected.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(auth.Identity)
	return identity, ok
}
