package api

import (
	"encoding/json"
	"net/http"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/logging"
	"github.com/vault-engine/internal/types"
)

// ErrorResponse is the JSON body returned for failed requests
type ErrorResponse struct {
	Error *types.ServiceError `json:"error"`
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.WithError(err).Error("Failed to encode JSON response")
	}
}

// respondError maps a service error to an HTTP response
func respondError(w http.ResponseWriter, err error) {
	catErr := errors.Categorize(err)
	respondJSON(w, catErr.StatusCode, ErrorResponse{Error: catErr.ToServiceError()})
}

// respondBadRequest writes a 400 with an invalid-parameter error
func respondBadRequest(w http.ResponseWriter, param, reason string) {
	respondError(w, errors.NewInvalidParameterError(param, reason))
}

// parseJSONBody decodes a request body into dst, rejecting unknown fields
func parseJSONBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.NewInvalidParameterError("body", err.Error())
	}
	return nil
}
