package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
)

// callerAccount extracts the authenticated account from the request.
// Receipt authorization follows the current holder, so every request
// buffer endpoint requires an account identity.
func callerAccount(r *http.Request) (string, error) {
	accountID := r.Header.Get("X-Account-ID")
	if accountID == "" {
		return "", errors.NewUnauthorizedError("X-Account-ID header is required")
	}
	return accountID, nil
}

// handleSubmitDeposit handles POST /api/vaults/{id}/deposits
func (s *Server) handleSubmitDeposit(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	holder, err := callerAccount(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var body struct {
		AmountUSD decimal.Decimal `json:"amountUsd"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, err)
		return
	}

	receipt, err := s.vaults.SubmitDeposit(r.Context(), vaultID, holder, body.AmountUSD)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, receipt)
}

// handleSubmitWithdraw handles POST /api/vaults/{id}/withdrawals
func (s *Server) handleSubmitWithdraw(w http.ResponseWriter, r *http.Request) {
	vaultID := mux.Vars(r)["id"]

	holder, err := callerAccount(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var body struct {
		Shares decimal.Decimal `json:"shares"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, err)
		return
	}

	receipt, err := s.vaults.SubmitWithdraw(r.Context(), vaultID, holder, body.Shares)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, receipt)
}

// handleGetReceipt handles GET /api/vaults/{id}/receipts/{receiptId}
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	receipt, err := s.vaults.GetReceipt(r.Context(), vars["id"], vars["receiptId"])
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, receipt)
}

// handleTransferReceipt handles POST /api/vaults/{id}/receipts/{receiptId}/transfer
func (s *Server) handleTransferReceipt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	presenter, err := callerAccount(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var body struct {
		NewHolder string `json:"newHolder"`
	}
	if err := parseJSONBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if body.NewHolder == "" {
		respondBadRequest(w, "newHolder", "new holder is required")
		return
	}

	if err := s.vaults.TransferReceipt(r.Context(), vars["id"], vars["receiptId"], presenter, body.NewHolder); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"receiptId": vars["receiptId"],
		"holder":    body.NewHolder,
	})
}

// handleCancelRequest handles POST /api/vaults/{id}/receipts/{receiptId}/cancel
func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	presenter, err := callerAccount(r)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.vaults.CancelRequest(r.Context(), vars["id"], vars["receiptId"], presenter); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"receiptId": vars["receiptId"],
		"status":    "cancelled",
	})
}

// handleExecuteRequest handles POST /api/vaults/{id}/receipts/{receiptId}/execute
func (s *Server) handleExecuteRequest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	presenter, err := callerAccount(r)
	if err != nil {
		respondError(w, err)
		return
	}

	result, err := s.vaults.ExecuteRequest(r.Context(), vars["id"], vars["receiptId"], presenter)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleReceiptsByHolder handles GET /api/receipts?holder=
func (s *Server) handleReceiptsByHolder(w http.ResponseWriter, r *http.Request) {
	holder := r.URL.Query().Get("holder")
	if holder == "" {
		// Default to the authenticated caller
		caller, err := callerAccount(r)
		if err != nil {
			respondBadRequest(w, "holder", "holder query parameter or X-Account-ID header is required")
			return
		}
		holder = caller
	}

	receipts, err := s.vaults.ReceiptsByHolder(r.Context(), holder)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"holder":   holder,
		"receipts": receipts,
	})
}
