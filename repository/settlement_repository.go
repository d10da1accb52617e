// repository/settlement_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fadhlanhapp/splitbill-backend/models"
)

// SettlementRole filters settlements by the side the user is on
type SettlementRole string

const (
	SettlementRoleAny      SettlementRole = ""
	SettlementRolePayer    SettlementRole = "payer"
	SettlementRoleReceiver SettlementRole = "receiver"
)

const settlementColumns = `id, group_id, payer_id, receiver_id, amount, currency, status, notes,
          paid_at, created_at, updated_at`

// SettlementRepository handles settlement data operations
type SettlementRepository struct {
	db *DB
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

func insertSettlement(ctx context.Context, db *DB, tx *sql.Tx, s *models.Settlement) error {
	_, err := tx.ExecContext(ctx, db.Rebind(
		`INSERT INTO settlements
         (id, group_id, payer_id, receiver_id, amount, currency, status, notes,
          paid_at, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`),
		s.ID, s.GroupID, s.PayerID, s.ReceiverID, s.Amount, s.Currency, s.Status,
		nullString(s.Notes), nullTime(s.PaidAt), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func scanSettlement(row rowScanner) (*models.Settlement, error) {
	var s models.Settlement
	var notes sql.NullString
	var paidAt sql.NullTime
	if err := row.Scan(&s.ID, &s.GroupID, &s.PayerID, &s.ReceiverID, &s.Amount, &s.Currency,
		&s.Status, &notes, &paidAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Notes = notes.String
	if paidAt.Valid {
		t := paidAt.Time
		s.PaidAt = &t
	}
	return &s, nil
}

// GetSettlement retrieves a settlement by its ID
func (r *SettlementRepository) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	s, err := scanSettlement(r.db.QueryRowContext(ctx, r.db.Rebind(
		"SELECT "+settlementColumns+" FROM settlements WHERE id = $1"), settlementID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settlement %s: %w", settlementID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return s, nil
}

// ListByGroup retrieves all settlements of a group
func (r *SettlementRepository) ListByGroup(ctx context.Context, groupID string) ([]*models.Settlement, error) {
	return r.list(ctx,
		"SELECT "+settlementColumns+" FROM settlements WHERE group_id = $1 ORDER BY created_at ASC, id ASC",
		groupID)
}

// ListByUser retrieves the settlements a user pays or receives
func (r *SettlementRepository) ListByUser(ctx context.Context, userID string, role SettlementRole) ([]*models.Settlement, error) {
	switch role {
	case SettlementRolePayer:
		return r.list(ctx,
			"SELECT "+settlementColumns+" FROM settlements WHERE payer_id = $1 ORDER BY created_at DESC, id ASC",
			userID)
	case SettlementRoleReceiver:
		return r.list(ctx,
			"SELECT "+settlementColumns+" FROM settlements WHERE receiver_id = $1 ORDER BY created_at DESC, id ASC",
			userID)
	default:
		return r.list(ctx,
			"SELECT "+settlementColumns+" FROM settlements WHERE payer_id = $1 OR receiver_id = $2 ORDER BY created_at DESC, id ASC",
			userID, userID)
	}
}

func (r *SettlementRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Settlement, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	settlements := []*models.Settlement{}
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}

// UpdateStatus moves a settlement from one status to another. The write only
// applies while the row still holds from; otherwise ErrStatusChanged is returned.
func (r *SettlementRepository) UpdateStatus(ctx context.Context, settlementID string, from, to models.SettlementStatus, paidAt *time.Time, now time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE settlements SET status = $1, paid_at = $2, updated_at = $3
         WHERE id = $4 AND status = $5`),
		to, nullTime(paidAt), now, settlementID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update settlement status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("settlement %s: %w", settlementID, ErrStatusChanged)
	}
	return nil
}
