package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vault-engine/internal/types"
)

// handleStartOperation handles POST /api/vaults/{id}/operations
func (s *Server) handleStartOperation(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	var body struct {
		Requested []types.AssetTypeID `json:"requested"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if len(body.Requested) == 0 {
		respondBadRequest(w, "requested", "at least one asset type is required")
		return
	}

	borrowed, err := s.vaults.StartOperation(r.Context(), vaultID, body.Requested)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vaultId":  vaultID,
		"borrowed": borrowed,
	})
}

// handleReturnAssets handles POST /api/vaults/{id}/operations/return
func (s *Server) handleReturnAssets(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	var body struct {
		Returned []types.Holding `json:"returned"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, err)
		return
	}

	if err := s.vaults.ReturnAssets(r.Context(), vaultID, body.Returned); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"vaultId": vaultID})
}

// handleCloseOperation handles POST /api/vaults/{id}/operations/close
func (s *Server) handleCloseOperation(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	if err := s.vaults.CloseOperation(r.Context(), vaultID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"vaultId": vaultID,
		"status":  string(types.StatusNormal),
	})
}

// handleForceRelease handles POST /api/vaults/{id}/operations/force-release
func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	if err := s.vaults.ForceReleaseOperation(r.Context(), vaultID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"vaultId": vaultID,
		"status":  string(types.StatusNormal),
	})
}

// handleOperationHistory handles GET /api/vaults/{id}/operations/history
func (s *Server) handleOperationHistory(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	limit := parseIntQuery(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		respondBadRequest(w, "limit", "must be between 1 and 1000")
		return
	}

	events, err := s.audit.OperationHistory(r.Context(), vaultID, limit)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vaultId": vaultID,
		"events":  events,
	})
}
