package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/auth"
	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/middleware"
)

type grantPayload struct {
	Principal       domain.PrincipalRef        `json:"principal"`
	ScopeKind       domain.ScopeKind           `json:"scopeKind"`
	ScopeID         *uuid.UUID                 `json:"scopeId"`
	Permission      domain.PermissionKind      `json:"permission"`
	VariationFilter domain.VariationAssignment `json:"variationFilter"`
}

// listPermissions returns the effective permission set for a user at a
// scope, including grants inherited through group membership.
func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	params := r.URL.Query()
	subjectID := callerID
	if raw := params.Get("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, trace.BadParameter("invalid userId: %v", err))
			return
		}
		subjectID = id
	}
	scope := domain.GlobalScope()
	if raw := params.Get("scopeKind"); raw != "" {
		scope.Kind = domain.ScopeKind(raw)
	}
	if raw := params.Get("scopeId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, trace.BadParameter("invalid scopeId: %v", err))
			return
		}
		scope.EntityID = id
	}
	query := domain.VariationAssignment{}
	for name, values := range params {
		switch name {
		case "userId", "scopeKind", "scopeId":
			continue
		}
		if len(values) > 0 {
			query[name] = values[0]
		}
	}
	permissions, err := h.perms.EffectivePermissions(r.Context(), subjectID, scope, query)
	if err != nil {
		writeError(w, err)
		return
	}
	// Group names arrive through the request-scoped dataloader so a page of
	// inherited grants costs one directory query.
	if loader := middleware.GroupLoaderFromContext(r.Context()); loader != nil {
		for i := range permissions {
			if permissions[i].GroupID == uuid.Nil {
				continue
			}
			group, err := loader.Load(r.Context(), permissions[i].GroupID)
			if err != nil {
				writeError(w, err)
				return
			}
			permissions[i].GroupName = group.Name
		}
	}
	writeJSON(w, http.StatusOK, permissions)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var payload grantPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	scope := domain.ScopeRef{Kind: payload.ScopeKind}
	if payload.ScopeID != nil {
		scope.EntityID = *payload.ScopeID
	}
	grant := domain.NewGrant(payload.Principal, scope, payload.Permission, payload.VariationFilter)
	persisted, err := h.perms.Grant(r.Context(), callerID, grant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, persisted)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	grantID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.perms.Revoke(r.Context(), callerID, grantID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
