// Package httpapi exposes the configuration store over JSON HTTP. Handlers
// parse and authenticate the request, then delegate to the service layer;
// trace error predicates decide the response status.
package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/changeset"
	"github.com/stackbound/varstore/internal/directory"
	"github.com/stackbound/varstore/internal/export"
	"github.com/stackbound/varstore/internal/permission"
	"github.com/stackbound/varstore/internal/repository"
	"github.com/stackbound/varstore/internal/store"
)

type Handler struct {
	store      *store.Store
	changesets *changeset.Manager
	perms      *permission.Engine
	directory  *directory.Directory
	export     *export.Service
	repos      repository.Repositories
	logger     *zap.Logger
}

func NewHandler(
	st *store.Store,
	changesets *changeset.Manager,
	perms *permission.Engine,
	dir *directory.Directory,
	exporter *export.Service,
	repos repository.Repositories,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		store:      st,
		changesets: changesets,
		perms:      perms,
		directory:  dir,
		export:     exporter,
		repos:      repos,
		logger:     logger.Named("httpapi"),
	}
}

// Routes wires every endpoint onto a fresh mux. Method-qualified patterns
// need Go 1.22's ServeMux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/services", h.listServices)
	mux.HandleFunc("POST /api/services", h.createService)
	mux.HandleFunc("GET /api/services/{id}", h.getEntity)
	mux.HandleFunc("PUT /api/services/{id}", h.updateEntity)
	mux.HandleFunc("GET /api/services/{id}/versions", h.listVersions)
	mux.HandleFunc("GET /api/services/{id}/features", h.listChildren)
	mux.HandleFunc("POST /api/services/{id}/features", h.createFeature)
	mux.HandleFunc("GET /api/services/name-taken/{name}", h.serviceNameTaken)
	mux.HandleFunc("GET /api/services/{id}/features/name-taken/{name}", h.childNameTaken)
	mux.HandleFunc("GET /api/services/{id}/export", h.exportService)

	mux.HandleFunc("GET /api/features/{id}", h.getEntity)
	mux.HandleFunc("PUT /api/features/{id}", h.updateEntity)
	mux.HandleFunc("GET /api/features/{id}/versions", h.listVersions)
	mux.HandleFunc("GET /api/features/{id}/keys", h.listChildren)
	mux.HandleFunc("POST /api/features/{id}/keys", h.createKey)
	mux.HandleFunc("GET /api/features/{id}/keys/name-taken/{name}", h.childNameTaken)

	mux.HandleFunc("GET /api/keys/{id}", h.getEntity)
	mux.HandleFunc("PUT /api/keys/{id}", h.updateEntity)
	mux.HandleFunc("GET /api/keys/{id}/versions", h.listVersions)
	mux.HandleFunc("GET /api/keys/{id}/values", h.listValues)
	mux.HandleFunc("PUT /api/keys/{id}/values", h.putValue)
	mux.HandleFunc("GET /api/keys/{id}/resolve", h.resolveValue)

	mux.HandleFunc("GET /api/changesets/current", h.currentChangeset)
	mux.HandleFunc("POST /api/changesets/{id}/commit", h.commitChangeset)
	mux.HandleFunc("POST /api/changesets/{id}/discard", h.discardChangeset)

	mux.HandleFunc("GET /api/membership/users", h.listUsers)
	mux.HandleFunc("POST /api/membership/users", h.createUser)
	mux.HandleFunc("GET /api/membership/groups", h.listGroups)
	mux.HandleFunc("POST /api/membership/groups", h.createGroup)
	mux.HandleFunc("GET /api/membership/groups/{id}/users", h.listGroupMembers)
	mux.HandleFunc("PUT /api/membership/groups/{id}/users", h.updateGroupMembers)

	mux.HandleFunc("GET /api/permissions", h.listPermissions)
	mux.HandleFunc("POST /api/permissions", h.grantPermission)
	mux.HandleFunc("DELETE /api/permissions/{id}", h.revokePermission)

	mux.HandleFunc("GET /api/variation-properties", h.listVariationProperties)
	mux.HandleFunc("POST /api/variation-properties", h.createVariationProperty)

	mux.HandleFunc("GET /healthz", h.healthz)

	return mux
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
