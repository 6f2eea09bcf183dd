package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vault-engine/internal/errors"
	"github.com/vault-engine/internal/types"
)

// ValuationEvent is one recorded per-asset valuation
type ValuationEvent struct {
	VaultID    string            `json:"vaultId"`
	TypeID     types.AssetTypeID `json:"typeId"`
	Kind       types.AssetKind   `json:"kind"`
	ValueUSD   decimal.Decimal   `json:"valueUsd"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// OperationEvent is one recorded lifecycle transition of an operation
type OperationEvent struct {
	VaultID     string          `json:"vaultId"`
	OperationID string          `json:"operationId"`
	Event       string          `json:"event"`
	TotalUSD    decimal.Decimal `json:"totalUsd"`
	RecordedAt  time.Time       `json:"recordedAt"`
}

// Operation lifecycle event names
const (
	EventOperationStarted  = "started"
	EventAssetsReturned    = "assets_returned"
	EventOperationClosed   = "closed"
	EventOperationReleased = "force_released"
)

// AuditRepository writes the append-only audit trail to ClickHouse.
// Valuations and operation transitions land here; the trail is never
// read on the accounting hot path.
type AuditRepository struct {
	db *ClickHouseDB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *ClickHouseDB) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordValuation appends a single valuation event
func (r *AuditRepository) RecordValuation(ctx context.Context, event ValuationEvent) error {
	query := `
		INSERT INTO valuation_events (vault_id, asset_type, kind, value_usd, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`
	err := r.db.Conn().Exec(ctx, query,
		event.VaultID,
		string(event.TypeID),
		string(event.Kind),
		event.ValueUSD.String(),
		event.RecordedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("record valuation event", err)
	}
	return nil
}

// RecordValuationBatch appends valuation events in one batch
func (r *AuditRepository) RecordValuationBatch(ctx context.Context, events []ValuationEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO valuation_events (vault_id, asset_type, kind, value_usd, recorded_at)
	`)
	if err != nil {
		return errors.NewDatabaseError("prepare valuation batch", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.VaultID,
			string(event.TypeID),
			string(event.Kind),
			event.ValueUSD.String(),
			event.RecordedAt,
		)
		if err != nil {
			return errors.NewDatabaseError("append valuation event", err)
		}
	}

	if err := batch.Send(); err != nil {
		return errors.NewDatabaseError("send valuation batch", err)
	}
	return nil
}

// RecordOperationEvent appends an operation lifecycle event
func (r *AuditRepository) RecordOperationEvent(ctx context.Context, event OperationEvent) error {
	query := `
		INSERT INTO operation_events (vault_id, operation_id, event, total_usd, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`
	err := r.db.Conn().Exec(ctx, query,
		event.VaultID,
		event.OperationID,
		event.Event,
		event.TotalUSD.String(),
		event.RecordedAt,
	)
	if err != nil {
		return errors.NewDatabaseError("record operation event", err)
	}
	return nil
}

// ValuationHistory returns the valuation trail for one asset type in a
// vault over a time range, oldest first
func (r *AuditRepository) ValuationHistory(ctx context.Context, vaultID string, typeID types.AssetTypeID, from, to time.Time) ([]ValuationEvent, error) {
	query := `
		SELECT vault_id, asset_type, kind, value_usd, recorded_at
		FROM valuation_events
		WHERE vault_id = ? AND asset_type = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at
	`

	rows, err := r.db.Conn().Query(ctx, query, vaultID, string(typeID), from, to)
	if err != nil {
		return nil, errors.NewDatabaseError("query valuation history", err)
	}
	defer rows.Close()

	var events []ValuationEvent
	for rows.Next() {
		var (
			event    ValuationEvent
			typeStr  string
			kindStr  string
			valueStr string
		)
		if err := rows.Scan(&event.VaultID, &typeStr, &kindStr, &valueStr, &event.RecordedAt); err != nil {
			return nil, errors.NewDatabaseError("scan valuation event", err)
		}
		event.TypeID = types.AssetTypeID(typeStr)
		event.Kind = types.AssetKind(kindStr)
		if event.ValueUSD, err = parseNumeric(valueStr); err != nil {
			return nil, errors.NewDatabaseError("parse valuation value", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate valuation events", err)
	}

	return events, nil
}

// OperationHistory returns the most recent operation events for a vault
func (r *AuditRepository) OperationHistory(ctx context.Context, vaultID string, limit int) ([]OperationEvent, error) {
	query := `
		SELECT vault_id, operation_id, event, total_usd, recorded_at
		FROM operation_events
		WHERE vault_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, vaultID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("query operation history", err)
	}
	defer rows.Close()

	var events []OperationEvent
	for rows.Next() {
		var (
			event    OperationEvent
			totalStr string
		)
		if err := rows.Scan(&event.VaultID, &event.OperationID, &event.Event, &totalStr, &event.RecordedAt); err != nil {
			return nil, errors.NewDatabaseError("scan operation event", err)
		}
		if event.TotalUSD, err = parseNumeric(totalStr); err != nil {
			return nil, errors.NewDatabaseError("parse operation total", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("iterate operation events", err)
	}

	return events, nil
}
