package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sbilibin2017/gw-payflow/internal/logger"
	"github.com/sbilibin2017/gw-payflow/internal/models"
)

// ErrorResponse represents an error response
// swagger:model ErrorResponse
type ErrorResponse struct {
	// Error message
	// default: amount must be greater than zero
	Error string `json:"error"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code by its kind. Infrastructure errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, err error) {
	switch models.KindOf(err) {
	case models.KindValidation:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case models.KindNotFound:
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case models.KindConflict:
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		logger.Log.Errorw("internal server error", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
