package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"hopper/pkg/document"
	"hopper/pkg/lock"
	"hopper/pkg/query"
	"hopper/pkg/refs"
)

var errBadRequest = errors.New("bad request")

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, document.ErrInvalidStatus),
		errors.Is(err, query.ErrBadDate):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrBadReference):
		return http.StatusNotFound
	case errors.Is(err, document.ErrAmbiguousReference),
		errors.Is(err, refs.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, lock.ErrLockTimeout):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func fail(w http.ResponseWriter, err error) {
	writeError(w, statusOf(err), err.Error())
}
