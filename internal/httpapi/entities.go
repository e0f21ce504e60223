package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/auth"
	"github.com/stackbound/varstore/internal/changeset"
	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/store"
)

// entityResponse flattens an entity identity row and one of its versions
// into the shape clients work with.
type entityResponse struct {
	ID            uuid.UUID            `json:"id"`
	Kind          domain.EntityKind    `json:"kind"`
	ParentID      uuid.UUID            `json:"parent_id,omitempty"`
	ServiceTypeID uuid.UUID            `json:"service_type_id,omitempty"`
	ValueType     domain.ValueType     `json:"value_type,omitempty"`
	Name          string               `json:"name"`
	Description   string               `json:"description,omitempty"`
	Version       int                  `json:"version"`
	Status        domain.VersionStatus `json:"status"`
	Validators    []domain.Validator   `json:"validators,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func newEntityResponse(entity domain.Entity, version domain.EntityVersion) entityResponse {
	return entityResponse{
		ID:            entity.ID,
		Kind:          entity.Kind,
		ParentID:      entity.ParentID,
		ServiceTypeID: entity.ServiceTypeID,
		ValueType:     entity.ValueType,
		Name:          version.Name,
		Description:   version.Description,
		Version:       version.Version,
		Status:        version.Status,
		Validators:    version.Validators,
		CreatedAt:     entity.CreatedAt,
		UpdatedAt:     version.UpdatedAt,
	}
}

type entityPayload struct {
	Name          *string            `json:"name"`
	Description   *string            `json:"description"`
	Validators    []domain.Validator `json:"validators"`
	ValueType     *domain.ValueType  `json:"valueType"`
	ServiceTypeID *uuid.UUID         `json:"serviceTypeId"`
}

func (p entityPayload) patch() store.DraftPatch {
	return store.DraftPatch{
		Name:        p.Name,
		Description: p.Description,
		Validators:  p.Validators,
	}
}

func readScope(entity domain.Entity) domain.ScopeRef {
	switch entity.Kind {
	case domain.EntityKindService:
		return domain.ServiceScope(entity.ID)
	case domain.EntityKindFeature:
		return domain.FeatureScope(entity.ID)
	default:
		return domain.KeyScope(entity.ID)
	}
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	services, err := h.store.ListServices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	result := make([]entityResponse, 0, len(services))
	for _, service := range services {
		ok, err := h.perms.Can(r.Context(), callerID, domain.PermissionRead, domain.ServiceScope(service.ID), nil)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			continue
		}
		response, visible, err := h.presentEntity(r, callerID, service)
		if err != nil {
			writeError(w, err)
			return
		}
		if visible {
			result = append(result, response)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listChildren(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	parentID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	parent, err := h.store.Entity(r.Context(), parentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.perms.Require(r.Context(), callerID, domain.PermissionRead, readScope(parent), nil); err != nil {
		writeError(w, err)
		return
	}
	children, err := h.store.ListChildren(r.Context(), parentID)
	if err != nil {
		writeError(w, err)
		return
	}
	result := make([]entityResponse, 0, len(children))
	for _, child := range children {
		response, visible, err := h.presentEntity(r, callerID, child)
		if err != nil {
			writeError(w, err)
			return
		}
		if visible {
			result = append(result, response)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	entityID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entity, err := h.store.Entity(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.perms.Require(r.Context(), callerID, domain.PermissionRead, readScope(entity), nil); err != nil {
		writeError(w, err)
		return
	}
	response, visible, err := h.presentEntity(r, callerID, entity)
	if err != nil {
		writeError(w, err)
		return
	}
	if !visible {
		writeError(w, trace.NotFound("entity %s has no published version", entityID))
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	h.createEntity(w, r, domain.EntityKindService, uuid.Nil)
}

func (h *Handler) createFeature(w http.ResponseWriter, r *http.Request) {
	parentID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	h.createEntity(w, r, domain.EntityKindFeature, parentID)
}

func (h *Handler) createKey(w http.ResponseWriter, r *http.Request) {
	parentID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	h.createEntity(w, r, domain.EntityKindKey, parentID)
}

func (h *Handler) createEntity(w http.ResponseWriter, r *http.Request, kind domain.EntityKind, parentID uuid.UUID) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var payload entityPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	intent := changeset.CreateIntent{
		Kind:     kind,
		ParentID: parentID,
		Patch:    payload.patch(),
	}
	if payload.ServiceTypeID != nil {
		intent.ServiceTypeID = *payload.ServiceTypeID
	}
	if payload.ValueType != nil {
		intent.ValueType = *payload.ValueType
	}
	entity, draft, err := h.changesets.StageCreate(r.Context(), callerID, intent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEntityResponse(entity, draft))
}

func (h *Handler) updateEntity(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	entityID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var payload entityPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	draft, err := h.changesets.StageUpdate(r.Context(), callerID, entityID, payload.patch(), payload.ValueType)
	if err != nil {
		writeError(w, err)
		return
	}
	entity, err := h.store.Entity(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntityResponse(entity, draft))
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	callerID, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	entityID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entity, err := h.store.Entity(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.perms.Require(r.Context(), callerID, domain.PermissionRead, readScope(entity), nil); err != nil {
		writeError(w, err)
		return
	}
	versions, err := h.store.ListVersions(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// Name probes are deliberately open: editors need them before they hold any
// write grant on the would-be parent.
func (h *Handler) serviceNameTaken(w http.ResponseWriter, r *http.Request) {
	h.nameTaken(w, r, domain.EntityKindService, uuid.Nil)
}

func (h *Handler) childNameTaken(w http.ResponseWriter, r *http.Request) {
	parentID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	parent, err := h.store.Entity(r.Context(), parentID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.nameTaken(w, r, parent.Kind.ChildKind(), parentID)
}

func (h *Handler) nameTaken(w http.ResponseWriter, r *http.Request, kind domain.EntityKind, parentID uuid.UUID) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, trace.BadParameter("name is required"))
		return
	}
	taken, err := h.store.NameTaken(r.Context(), kind, parentID, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"taken": taken})
}

// presentEntity picks the version a caller should see: the published one,
// or the caller's own draft when nothing is published yet.
func (h *Handler) presentEntity(r *http.Request, callerID uuid.UUID, entity domain.Entity) (entityResponse, bool, error) {
	version, err := h.store.CurrentVersion(r.Context(), entity.ID)
	if err == nil {
		return newEntityResponse(entity, version), true, nil
	}
	if !trace.IsNotFound(err) {
		return entityResponse{}, false, trace.Wrap(err)
	}
	open, err := h.changesets.Current(r.Context(), callerID)
	if err != nil || open.ID == uuid.Nil {
		return entityResponse{}, false, trace.Wrap(err)
	}
	draft, err := h.repos.Entities.GetOpenDraft(r.Context(), entity.ID)
	if err != nil {
		if trace.IsNotFound(err) {
			return entityResponse{}, false, nil
		}
		return entityResponse{}, false, trace.Wrap(err)
	}
	if draft.ChangesetID != open.ID {
		return entityResponse{}, false, nil
	}
	return newEntityResponse(entity, draft), true, nil
}
