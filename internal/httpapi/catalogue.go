package httpapi

import (
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/auth"
	"github.com/stackbound/varstore/internal/domain"
)

type variationPropertyPayload struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

func (h *Handler) listVariationProperties(w http.ResponseWriter, r *http.Request) {
	properties, err := h.repos.Variations.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, properties)
}

func (h *Handler) createVariationProperty(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.perms.Require(r.Context(), callerID, domain.PermissionAdmin, domain.GlobalScope(), nil); err != nil {
		writeError(w, err)
		return
	}
	var payload variationPropertyPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		writeError(w, trace.BadParameter("name is required"))
		return
	}
	property, err := h.repos.Variations.Create(r.Context(), domain.NewVariationProperty(name, payload.DisplayName))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, property)
}

func (h *Handler) exportService(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	serviceID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	book, filename, err := h.export.Snapshot(r.Context(), callerID, serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := book.Write(w); err != nil {
		h.logger.Warn("streaming snapshot failed", zap.Error(err))
	}
}
