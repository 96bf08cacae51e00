package api

import (
	"errors"
	"net/http"

	"github.com/hatchery-sh/hatchery/internal/compose"
	"github.com/hatchery-sh/hatchery/internal/engine"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps domain errors onto HTTP statuses. Composition and
// validation failures are client errors (422); backend auth failures are
// a distinct upstream problem (502).
func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *engine.ValidationError
		cycleErr      *compose.DependencyCycleError
		unknownEggErr *compose.UnknownEggError
		incompatible  *compose.IncompatibleEggError
		collision     *compose.SectionCollisionError
	)

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, store.ErrActiveDeploymentExists), errors.Is(err, store.ErrNameTaken):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, engine.ErrJobTerminal), errors.Is(err, engine.ErrNotRetryable):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"})
	case maas.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "validation"})
	case errors.As(err, &cycleErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "dependency_cycle"})
	case errors.As(err, &unknownEggErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "unknown_egg"})
	case errors.As(err, &incompatible):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "incompatible_egg"})
	case errors.As(err, &collision):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "section_collision"})
	case maas.IsAuthFailure(err):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Code: "backend_auth"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Code: "internal"})
	}
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message, Code: "bad_request"})
}
