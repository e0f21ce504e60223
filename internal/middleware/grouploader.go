package middleware

import (
	"context"
	"net/http"

	"github.com/stackbound/varstore/internal/grouploader"
	"github.com/stackbound/varstore/internal/repository"
)

type ctxKey string

const groupLoaderKey ctxKey = "groupLoader"

// GroupLoaderMiddleware attaches a request-scoped group loader to the
// context so handlers batch group lookups when decorating inherited grants.
func GroupLoaderMiddleware(repo repository.DirectoryRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := grouploader.NewGroupLoader(repo)
			ctx := context.WithValue(r.Context(), groupLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GroupLoaderFromContext retrieves the request's group loader, if present.
func GroupLoaderFromContext(ctx context.Context) *grouploader.GroupLoader {
	if l, ok := ctx.Value(groupLoaderKey).(*grouploader.GroupLoader); ok {
		return l
	}
	return nil
}
