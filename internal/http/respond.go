package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mosaiq-software/server-manager-sub000/internal/domain"
	"github.com/mosaiq-software/server-manager-sub000/internal/repository"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/deploy"
	"github.com/mosaiq-software/server-manager-sub000/internal/service/project"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, repository.ErrInvalidArgument),
		errors.Is(err, deploy.ErrInvalidCallbackState):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStateConflict), errors.Is(err, domain.ErrDriftDetected):
		return http.StatusConflict
	case errors.Is(err, project.ErrInvalidDeploymentKey):
		return http.StatusUnauthorized
	case errors.Is(err, project.ErrCICDDisabled), errors.Is(err, deploy.ErrForeignWorker):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
