// Package api provides HTTP handlers for the Unfolding REST surface.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/unfolding/internal/domain"
)

// errorBody is the client-facing error shape. Causes are never included.
type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"kind":"upstream_failure","message":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a classified error with the status its kind maps to.
func Error(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	JSON(w, StatusFor(kind), errorBody{Kind: kind, Message: domain.PublicMessage(err)})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidTransition:
		return http.StatusConflict
	case domain.KindUnknownTool, domain.KindHandlerError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrInvalidInput("invalid request body")
	}
	return nil
}
