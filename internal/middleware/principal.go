package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/stackbound/varstore/internal/auth"
)

// PrincipalHeader carries the authenticated user id. Session issuance and
// verification live in front of this service; by the time a request arrives
// here the header is trusted.
const PrincipalHeader = "X-Principal-Id"

// PrincipalMiddleware places the caller's principal id into the request
// context. Requests without a parseable principal pass through
// unauthenticated and fail later at auth.RequirePrincipal.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		if raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(auth.ContextWithPrincipalID(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}
