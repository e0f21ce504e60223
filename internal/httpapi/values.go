package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/auth"
	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/variation"
)

type valuePayload struct {
	Assignment domain.VariationAssignment `json:"assignment"`
	Value      string                     `json:"value"`
}

func (h *Handler) listValues(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	keyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	key, err := h.store.Entity(r.Context(), keyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if key.Kind != domain.EntityKindKey {
		writeError(w, trace.BadParameter("entity %s is not a key", keyID))
		return
	}
	if err := h.perms.Require(r.Context(), callerID, domain.PermissionRead, domain.KeyScope(keyID), nil); err != nil {
		writeError(w, err)
		return
	}
	version, err := h.versionForCaller(r, callerID, keyID)
	if err != nil {
		writeError(w, err)
		return
	}
	values, err := h.store.ValuesForVersion(r.Context(), version.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (h *Handler) putValue(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	keyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var payload valuePayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	value, err := h.changesets.StageValue(r.Context(), callerID, keyID, payload.Assignment, payload.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// resolveValue answers "what does this key evaluate to" for the variation
// assignment given as query parameters. Published values only.
func (h *Handler) resolveValue(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	keyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	query := domain.VariationAssignment{}
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}
	if err := h.perms.Require(r.Context(), callerID, domain.PermissionRead, domain.KeyScope(keyID), query); err != nil {
		writeError(w, err)
		return
	}
	values, err := h.store.CurrentValues(r.Context(), keyID)
	if err != nil {
		writeError(w, err)
		return
	}
	value, err := variation.Resolve(values, query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// versionForCaller returns the published key version, falling back to the
// caller's own draft when nothing is published yet.
func (h *Handler) versionForCaller(r *http.Request, callerID, keyID uuid.UUID) (domain.EntityVersion, error) {
	version, err := h.store.CurrentVersion(r.Context(), keyID)
	if err == nil {
		return version, nil
	}
	if !trace.IsNotFound(err) {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	open, err := h.changesets.Current(r.Context(), callerID)
	if err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	draft, err := h.repos.Entities.GetOpenDraft(r.Context(), keyID)
	if err != nil {
		return domain.EntityVersion{}, trace.Wrap(err)
	}
	if open.ID == uuid.Nil || draft.ChangesetID != open.ID {
		return domain.EntityVersion{}, trace.NotFound("key %s has no published version", keyID)
	}
	return draft, nil
}
