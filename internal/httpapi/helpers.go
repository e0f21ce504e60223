package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case trace.IsNotFound(err):
		status = http.StatusNotFound
	case trace.IsAccessDenied(err):
		status = http.StatusForbidden
	case trace.IsCompareFailed(err), trace.IsAlreadyExists(err):
		status = http.StatusConflict
	case trace.IsBadParameter(err):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: trace.UserMessage(err)})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, trace.BadParameter("invalid %s: %v", name, err)
	}
	return id, nil
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return trace.BadParameter("invalid payload: %v", err)
	}
	return nil
}
