package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/engine"
	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/types"
)

// VaultRepository persists vault snapshots in Postgres.
// The snapshot JSONB column is authoritative; the receipts table mirrors
// the snapshot's pending requests so they can be queried by holder
// without loading every vault.
type VaultRepository struct {
	db *PostgresDB
}

// NewVaultRepository creates a new vault repository
func NewVaultRepository(db *PostgresDB) *VaultRepository {
	return &VaultRepository{db: db}
}

// Save upserts a vault snapshot and rewrites its receipt mirror rows
// in one transaction
func (r *VaultRepository) Save(ctx context.Context, state engine.State) error {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal vault snapshot: %w", err)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return errors.NewDatabaseError("begin vault save", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	query := `
		INSERT INTO vaults (id, status, principal_type, total_shares, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    principal_type = EXCLUDED.principal_type,
		    total_shares = EXCLUDED.total_shares,
		    snapshot = EXCLUDED.snapshot,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = tx.Exec(ctx, query,
		state.ID,
		state.Status,
		state.PrincipalType,
		state.TotalShares.String(),
		snapshot,
		time.Now(),
	)
	if err != nil {
		return errors.NewDatabaseError("save vault", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM receipts WHERE vault_id = $1`, state.ID); err != nil {
		return errors.NewDatabaseError("clear receipt mirror", err)
	}

	for _, receipt := range state.Receipts {
		_, err := tx.Exec(ctx, `
			INSERT INTO receipts (id, vault_id, kind, holder, amount_usd, shares, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			receipt.ID,
			receipt.VaultID,
			receipt.Kind,
			receipt.Holder,
			receipt.AmountUSD.String(),
			receipt.Shares.String(),
			receipt.CreatedAt,
		)
		if err != nil {
			return errors.NewDatabaseError("save receipt mirror", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewDatabaseError("commit vault save", err)
	}

	return nil
}

// Get loads a vault snapshot by ID
func (r *VaultRepository) Get(ctx context.Context, id string) (engine.State, error) {
	var snapshot []byte

	err := r.db.Pool().QueryRow(ctx,
		`SELECT snapshot FROM vaults WHERE id = $1`, id,
	).Scan(&snapshot)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return engine.State{}, errors.NewNotFoundError("vault", id)
		}
		return engine.State{}, errors.NewDatabaseError("get vault", err)
	}

	var state engine.State
	if err := json.Unmarshal(snapshot, &state); err != nil {
		return engine.State{}, fmt.Errorf("failed to unmarshal vault snapshot %s: %w", id, err)
	}

	return state, nil
}

// Exists checks whether a vault exists
func (r *VaultRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM vaults WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, errors.NewDatabaseError("check vault existence", err)
	}
	return exists, nil
}

// VaultSummary is the list view of a vault
type VaultSummary struct {
	ID            string            `json:"id"`
	Status        types.VaultStatus `json:"status"`
	PrincipalType types.AssetTypeID `json:"principalType"`
	TotalShares   string            `json:"totalShares"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// List returns summaries for all vaults, newest first
func (r *VaultRepository) List(ctx context.Context, limit, offset int) ([]VaultSummary, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, status, principal_type, total_shares, updated_at
		FROM vaults
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, errors.NewDatabaseError("list vaults", err)
	}
	defer rows.Close()

	var summaries []VaultSummary
	for rows.Next() {
		var s VaultSummary
		if err := rows.Scan(&s.ID, &s.Status, &s.PrincipalType, &s.TotalShares, &s.UpdatedAt); err != nil {
			return nil, errors.NewDatabaseError("scan vault summary", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate vaults", err)
	}

	return summaries, nil
}

// ListIDs returns every vault ID. Used at startup to hydrate the
// in-memory vault set.
func (r *VaultRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT id FROM vaults ORDER BY id`)
	if err != nil {
		return nil, errors.NewDatabaseError("list vault ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewDatabaseError("scan vault id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate vault ids", err)
	}

	return ids, nil
}

// Delete removes a vault and its receipt mirror
func (r *VaultRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM vaults WHERE id = $1`, id)
	if err != nil {
		return errors.NewDatabaseError("delete vault", err)
	}
	if result.RowsAffected() == 0 {
		return errors.NewNotFoundError("vault", id)
	}
	return nil
}

// ReceiptsByHolder returns every pending receipt currently held by an
// account, across all vaults
func (r *VaultRepository) ReceiptsByHolder(ctx context.Context, holder string) ([]types.Receipt, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, vault_id, kind, holder, amount_usd, shares, created_at
		FROM receipts
		WHERE holder = $1
		ORDER BY created_at
	`, holder)
	if err != nil {
		return nil, errors.NewDatabaseError("list receipts by holder", err)
	}
	defer rows.Close()

	var receipts []types.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate receipts", err)
	}

	return receipts, nil
}

func scanReceipt(rows pgx.Rows) (types.Receipt, error) {
	var (
		receipt   types.Receipt
		amountUSD string
		shareAmt  string
	)
	if err := rows.Scan(
		&receipt.ID,
		&receipt.VaultID,
		&receipt.Kind,
		&receipt.Holder,
		&amountUSD,
		&shareAmt,
		&receipt.CreatedAt,
	); err != nil {
		return types.Receipt{}, errors.NewDatabaseError("scan receipt", err)
	}

	var err error
	if receipt.AmountUSD, err = parseNumeric(amountUSD); err != nil {
		return types.Receipt{}, fmt.Errorf("corrupt amount on receipt %s: %w", receipt.ID, err)
	}
	if receipt.Shares, err = parseNumeric(shareAmt); err != nil {
		return types.Receipt{}, fmt.Errorf("corrupt shares on receipt %s: %w", receipt.ID, err)
	}

	return receipt, nil
}

// parseNumeric parses a Postgres numeric scanned as text
func parseNumeric(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
