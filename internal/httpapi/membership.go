package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/stackbound/varstore/internal/auth"
)

type userPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type groupPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type membershipPayload struct {
	Add    []uuid.UUID `json:"add"`
	Remove []uuid.UUID `json:"remove"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.directory.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var payload userPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.directory.CreateUser(r.Context(), callerID, payload.Name, payload.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.directory.ListGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var payload groupPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	group, err := h.directory.CreateGroup(r.Context(), callerID, payload.Name, payload.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *Handler) listGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	members, err := h.directory.ListMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) updateGroupMembers(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	groupID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var payload membershipPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	for _, userID := range payload.Add {
		if err := h.directory.AddMember(r.Context(), callerID, groupID, userID); err != nil {
			writeError(w, err)
			return
		}
	}
	for _, userID := range payload.Remove {
		if err := h.directory.RemoveMember(r.Context(), callerID, groupID, userID); err != nil {
			writeError(w, err)
			return
		}
	}
	members, err := h.directory.ListMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}
