package httpapi

import (
	"net/http"

	"github.com/stackbound/varstore/internal/auth"
)

func (h *Handler) currentChangeset(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	changeset, err := h.changesets.Current(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changeset)
}

func (h *Handler) commitChangeset(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	changesetID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	committed, err := h.changesets.Commit(r.Context(), callerID, changesetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, committed)
}

func (h *Handler) discardChangeset(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	changesetID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	discarded, err := h.changesets.Discard(r.Context(), callerID, changesetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, discarded)
}
