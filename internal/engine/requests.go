package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/shares"
	"github.com/vault-engine/internal/types"
)

// Request buffer: pending deposit/withdraw intents held as receipts.
// Submission is allowed whenever the vault is enabled; execution only in
// normal status, so an open operation protects the buffer from running
// against a mid-revaluation share ratio.

// ExecutionResult reports what a request execution produced
type ExecutionResult struct {
	ReceiptID    string          `json:"receiptId"`
	Kind         types.ReceiptKind `json:"kind"`
	SharesMinted decimal.Decimal `json:"sharesMinted"`
	SharesBurned decimal.Decimal `json:"sharesBurned"`
	AmountOutUSD decimal.Decimal `json:"amountOutUsd"`
	ShareRatio   decimal.Decimal `json:"shareRatio"`
}

// SubmitDeposit buffers a deposit intent and returns its receipt
func (v *Vault) SubmitDeposit(holder string, amountUSD decimal.Decimal, now time.Time) (*types.Receipt, error) {
	if v.status == types.StatusDisabled {
		return nil, errors.NewInvalidStateError(v.status, "submit deposit request")
	}
	if holder == "" {
		return nil, errors.NewInvalidParameterError("holder", "must not be empty")
	}
	if !amountUSD.IsPositive() {
		return nil, errors.NewZeroAmountError("deposit request")
	}

	r := &types.Receipt{
		ID:        uuid.New().String(),
		VaultID:   v.id,
		Kind:      types.ReceiptDeposit,
		Holder:    holder,
		AmountUSD: amountUSD,
		Shares:    decimal.Zero,
		CreatedAt: now,
	}
	v.pending[r.ID] = r
	return r, nil
}

// SubmitWithdraw buffers a withdrawal intent and returns its receipt
func (v *Vault) SubmitWithdraw(holder string, shareAmount decimal.Decimal, now time.Time) (*types.Receipt, error) {
	if v.status == types.StatusDisabled {
		return nil, errors.NewInvalidStateError(v.status, "submit withdraw request")
	}
	if holder == "" {
		return nil, errors.NewInvalidParameterError("holder", "must not be empty")
	}
	if !shareAmount.IsPositive() {
		return nil, errors.NewZeroAmountError("withdraw request")
	}

	r := &types.Receipt{
		ID:        uuid.New().String(),
		VaultID:   v.id,
		Kind:      types.ReceiptWithdraw,
		Holder:    holder,
		AmountUSD: decimal.Zero,
		Shares:    shareAmount,
		CreatedAt: now,
	}
	v.pending[r.ID] = r
	return r, nil
}

// Receipt returns a copy of one pending receipt
func (v *Vault) Receipt(receiptID string) (types.Receipt, error) {
	r, ok := v.pending[receiptID]
	if !ok {
		return types.Receipt{}, errors.NewNotFoundError("receipt", receiptID)
	}
	return *r, nil
}

// Receipts returns copies of all pending receipts
func (v *Vault) Receipts() []types.Receipt {
	out := make([]types.Receipt, 0, len(v.pending))
	for _, r := range v.pending {
		out = append(out, *r)
	}
	return out
}

// TransferReceipt moves a receipt to a new holder. Authorization follows the
// token: after the transfer the original creator can no longer cancel or
// execute it.
func (v *Vault) TransferReceipt(receiptID, presenter, newHolder string) error {
	r, ok := v.pending[receiptID]
	if !ok {
		return errors.NewNotFoundError("receipt", receiptID)
	}
	if r.Holder != presenter {
		return errors.NewUnauthorizedError("receipt is not held by presenter")
	}
	if newHolder == "" {
		return errors.NewInvalidParameterError("newHolder", "must not be empty")
	}
	r.Holder = newHolder
	return nil
}

// CancelRequest deletes a pending receipt. Only the current holder may cancel;
// a recorded creator address confers nothing.
func (v *Vault) CancelRequest(receiptID, presenter string) error {
	r, ok := v.pending[receiptID]
	if !ok {
		return errors.NewNotFoundError("receipt", receiptID)
	}
	if r.Holder != presenter {
		return errors.NewUnauthorizedError("receipt is not held by presenter")
	}
	delete(v.pending, receiptID)
	return nil
}

// ExecuteRequest settles a pending receipt against the current share ratio.
// Only valid in normal status: an open operation blocks execution until the
// ledger has been reconciled.
func (v *Vault) ExecuteRequest(receiptID, presenter string, now time.Time) (*ExecutionResult, error) {
	if v.status != types.StatusNormal {
		return nil, errors.NewInvalidStateError(v.status, "execute request")
	}
	r, ok := v.pending[receiptID]
	if !ok {
		return nil, errors.NewNotFoundError("receipt", receiptID)
	}
	if r.Holder != presenter {
		return nil, errors.NewUnauthorizedError("receipt is not held by presenter")
	}

	total, err := v.ledger.TotalValue(now)
	if err != nil {
		return nil, err
	}
	supply := v.shares.TotalShares()

	// Issuance halt: a zero total with outstanding shares makes the ratio
	// itself well-defined but poisons the very next deposit conversion.
	if total.IsZero() && supply.IsPositive() {
		return nil, errors.NewInvalidStateError(v.status, "issue or redeem shares against a zero-value ledger")
	}

	ratio, err := shares.ShareRatio(total, supply)
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{
		ReceiptID:    r.ID,
		Kind:         r.Kind,
		SharesMinted: decimal.Zero,
		SharesBurned: decimal.Zero,
		AmountOutUSD: decimal.Zero,
		ShareRatio:   ratio,
	}

	switch r.Kind {
	case types.ReceiptDeposit:
		minted, err := shares.SharesForDeposit(r.AmountUSD, ratio)
		if err != nil {
			return nil, err
		}
		if err := v.creditPrincipal(r.AmountUSD, now); err != nil {
			return nil, err
		}
		v.shares.Mint(minted)
		result.SharesMinted = minted

	case types.ReceiptWithdraw:
		amount, err := shares.AmountForWithdraw(r.Shares, ratio)
		if err != nil {
			return nil, err
		}
		if err := v.debitPrincipal(amount, now); err != nil {
			return nil, err
		}
		if err := v.shares.Burn(r.Shares); err != nil {
			return nil, err
		}
		result.SharesBurned = r.Shares
		result.AmountOutUSD = amount

	default:
		return nil, errors.NewInvalidParameterError("kind", "unknown receipt kind")
	}

	delete(v.pending, receiptID)
	return result, nil
}

// creditPrincipal adds settled USD to the idle principal holding and entry
func (v *Vault) creditPrincipal(amountUSD decimal.Decimal, now time.Time) error {
	h, ok := v.holdings[v.principalType]
	if !ok {
		return errors.NewNotFoundError("holding", string(v.principalType))
	}
	entry, err := v.ledger.Entry(v.principalType)
	if err != nil {
		return err
	}
	h.Units = h.Units.Add(amountUSD)
	v.holdings[v.principalType] = h
	return v.ledger.Refresh(v.principalType, entry.ValueUSD.Add(amountUSD), now)
}

// debitPrincipal removes settled USD from the idle principal holding and entry
func (v *Vault) debitPrincipal(amountUSD decimal.Decimal, now time.Time) error {
	h, ok := v.holdings[v.principalType]
	if !ok {
		return errors.NewNotFoundError("holding", string(v.principalType))
	}
	entry, err := v.ledger.Entry(v.principalType)
	if err != nil {
		return err
	}
	if entry.ValueUSD.LessThan(amountUSD) {
		return errors.NewConflictError("insufficient idle principal for withdrawal")
	}
	h.Units = h.Units.Sub(amountUSD)
	v.holdings[v.principalType] = h
	return v.ledger.Refresh(v.principalType, entry.ValueUSD.Sub(amountUSD), now)
}
