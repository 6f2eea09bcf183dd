package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/service"
	"github.com/vault-engine/internal/types"
)

// handleCreateVault handles POST /api/vaults
func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var input service.CreateVaultInput
	if err := parseJSONBody(r, &input); err != nil {
		respondError(w, err)
		return
	}
	if input.ID == "" {
		respondBadRequest(w, "id", "vault id is required")
		return
	}
	if input.PrincipalType == "" {
		respondBadRequest(w, "principalType", "principal type is required")
		return
	}

	view, err := s.vaults.CreateVault(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, view)
}

// handleListVaults handles GET /api/vaults
func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)
	if limit < 1 || limit > 500 {
		respondBadRequest(w, "limit", "must be between 1 and 500")
		return
	}
	if offset < 0 {
		respondBadRequest(w, "offset", "must not be negative")
		return
	}

	summaries, err := s.vaults.ListVaults(r.Context(), limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vaults": summaries,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetVault handles GET /api/vaults/{id}
func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	view, err := s.vaults.GetVault(r.Context(), vaultID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleShareRatio handles GET /api/vaults/{id}/ratio
func (s *Server) handleShareRatio(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	ratio, err := s.vaults.ShareRatio(r.Context(), vaultID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vaultId":    vaultID,
		"shareRatio": ratio,
	})
}

// handleTotalValue handles GET /api/vaults/{id}/value
func (s *Server) handleTotalValue(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	total, err := s.vaults.TotalValue(r.Context(), vaultID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vaultId":       vaultID,
		"totalValueUsd": total,
	})
}

// handleRegisterAsset handles POST /api/vaults/{id}/assets
func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	var input service.RegisterAssetInput
	if err := parseJSONBody(r, &input); err != nil {
		respondError(w, err)
		return
	}
	if input.TypeID == "" {
		respondBadRequest(w, "typeId", "asset type id is required")
		return
	}
	if input.Kind == "" {
		respondBadRequest(w, "kind", "asset kind is required")
		return
	}

	if err := s.vaults.RegisterAsset(r.Context(), vaultID, input); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"vaultId": vaultID,
		"typeId":  string(input.TypeID),
	})
}

// handleDeregisterAsset handles DELETE /api/vaults/{id}/assets/{typeId}
func (s *Server) handleDeregisterAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vaultID := vars["id"]
	typeID := types.AssetTypeID(vars["typeId"])

	if err := s.vaults.DeregisterAsset(r.Context(), vaultID, typeID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"vaultId": vaultID,
		"typeId":  string(typeID),
	})
}

// handleRefreshAsset handles POST /api/vaults/{id}/assets/{typeId}/refresh
func (s *Server) handleRefreshAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vaultID := vars["id"]
	typeID := types.AssetTypeID(vars["typeId"])

	if err := s.vaults.RefreshAssetValue(r.Context(), vaultID, typeID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"vaultId": vaultID,
		"typeId":  string(typeID),
	})
}

// handleValuationHistory handles GET /api/vaults/{id}/assets/{typeId}/history
func (s *Server) handleValuationHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vaultID := vars["id"]
	typeID := types.AssetTypeID(vars["typeId"])

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondBadRequest(w, "from", "must be RFC3339")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondBadRequest(w, "to", "must be RFC3339")
			return
		}
		to = parsed
	}

	events, err := s.audit.ValuationHistory(r.Context(), vaultID, typeID, from, to)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vaultId": vaultID,
		"typeId":  typeID,
		"events":  events,
	})
}

// handleSetTolerance handles PUT /api/vaults/{id}/tolerance
func (s *Server) handleSetTolerance(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	var body struct {
		ToleranceFraction decimal.Decimal `json:"toleranceFraction"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, err)
		return
	}

	if err := s.vaults.SetLossTolerance(r.Context(), vaultID, body.ToleranceFraction); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"vaultId":           vaultID,
		"toleranceFraction": body.ToleranceFraction,
	})
}

// handleBeginEpoch handles POST /api/vaults/{id}/epoch
func (s *Server) handleBeginEpoch(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	if err := s.vaults.BeginEpoch(r.Context(), vaultID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"vaultId": vaultID})
}

// handleDisable handles POST /api/vaults/{id}/disable
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	if err := s.vaults.Disable(r.Context(), vaultID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"vaultId": vaultID,
		"status":  string(types.StatusDisabled),
	})
}

// handleEnable handles POST /api/vaults/{id}/enable
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	if err := s.vaults.Enable(r.Context(), vaultID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"vaultId": vaultID,
		"status":  string(types.StatusNormal),
	})
}

// parseIntQuery returns the integer query parameter or the default
func parseIntQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
