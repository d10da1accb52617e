// repository/bill_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fadhlanhapp/splitbill-backend/models"
)

const (
	adjustmentDiscount = "discount"
	adjustmentFee      = "fee"
)

// BillRepository handles database operations for bills
type BillRepository struct {
	db *DB
}

// NewBillRepository creates a new BillRepository
func NewBillRepository(db *DB) *BillRepository {
	return &BillRepository{db: db}
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// insertBill writes a bill with its items, discounts and fees inside tx
func insertBill(ctx context.Context, db *DB, tx *sql.Tx, bill *models.Bill) error {
	_, err := tx.ExecContext(ctx, db.Rebind(
		`INSERT INTO bills
         (id, merchant_name, bill_date, subtotal, service_charge, tax, total_amount,
          currency, payment_method, created_by, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`),
		bill.ID, bill.MerchantName, nullString(bill.Date), bill.Subtotal, bill.ServiceCharge,
		bill.Tax, bill.TotalAmount, bill.Currency, nullString(bill.PaymentMethod),
		bill.CreatedBy, bill.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}

	for i, item := range bill.Items {
		_, err = tx.ExecContext(ctx, db.Rebind(
			`INSERT INTO bill_items
             (id, bill_id, position, name, quantity, unit_price, total_price, category)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
			item.ID, bill.ID, i, item.Name, item.Quantity, item.UnitPrice, item.TotalPrice,
			nullString(item.Category),
		)
		if err != nil {
			return fmt.Errorf("failed to insert bill item: %w", err)
		}
	}

	position := 0
	insertAdjustment := func(id, kind, name string, amount models.Money, discountType string) error {
		_, err := tx.ExecContext(ctx, db.Rebind(
			`INSERT INTO bill_adjustments (id, bill_id, position, kind, name, amount, discount_type)
             VALUES ($1, $2, $3, $4, $5, $6, $7)`),
			id, bill.ID, position, kind, name, amount, nullString(discountType),
		)
		position++
		return err
	}
	for _, discount := range bill.Discounts {
		if err := insertAdjustment(discount.ID, adjustmentDiscount, discount.Name, discount.Amount, string(discount.Type)); err != nil {
			return fmt.Errorf("failed to insert discount: %w", err)
		}
	}
	for _, fee := range bill.AdditionalFees {
		if err := insertAdjustment(fee.ID, adjustmentFee, fee.Name, fee.Amount, ""); err != nil {
			return fmt.Errorf("failed to insert fee: %w", err)
		}
	}
	return nil
}

// GetBill retrieves a bill with its items, discounts and fees
func (r *BillRepository) GetBill(ctx context.Context, billID string) (*models.Bill, error) {
	var bill models.Bill
	var date, paymentMethod sql.NullString
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, merchant_name, bill_date, subtotal, service_charge, tax, total_amount,
          currency, payment_method, created_by, created_at
         FROM bills WHERE id = $1`), billID,
	).Scan(&bill.ID, &bill.MerchantName, &date, &bill.Subtotal, &bill.ServiceCharge,
		&bill.Tax, &bill.TotalAmount, &bill.Currency, &paymentMethod, &bill.CreatedBy, &bill.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bill %s: %w", billID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	bill.Date = date.String
	bill.PaymentMethod = paymentMethod.String

	if bill.Items, err = r.items(ctx, bill.ID); err != nil {
		return nil, err
	}
	if err := r.adjustments(ctx, &bill); err != nil {
		return nil, err
	}
	return &bill, nil
}

func (r *BillRepository) items(ctx context.Context, billID string) ([]models.BillItem, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT id, name, quantity, unit_price, total_price, category
         FROM bill_items WHERE bill_id = $1 ORDER BY position ASC`), billID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bill items: %w", err)
	}
	defer rows.Close()

	items := []models.BillItem{}
	for rows.Next() {
		var item models.BillItem
		var category sql.NullString
		if err := rows.Scan(&item.ID, &item.Name, &item.Quantity, &item.UnitPrice, &item.TotalPrice, &category); err != nil {
			return nil, fmt.Errorf("failed to scan bill item: %w", err)
		}
		item.Category = category.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *BillRepository) adjustments(ctx context.Context, bill *models.Bill) error {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT id, kind, name, amount, discount_type
         FROM bill_adjustments WHERE bill_id = $1 ORDER BY position ASC`), bill.ID)
	if err != nil {
		return fmt.Errorf("failed to get bill adjustments: %w", err)
	}
	defer rows.Close()

	bill.Discounts = []models.Discount{}
	bill.AdditionalFees = []models.Fee{}
	for rows.Next() {
		var id, kind, name string
		var amount models.Money
		var discountType sql.NullString
		if err := rows.Scan(&id, &kind, &name, &amount, &discountType); err != nil {
			return fmt.Errorf("failed to scan bill adjustment: %w", err)
		}
		switch kind {
		case adjustmentDiscount:
			bill.Discounts = append(bill.Discounts, models.Discount{
				ID: id, Name: name, Amount: amount, Type: models.DiscountType(discountType.String),
			})
		case adjustmentFee:
			bill.AdditionalFees = append(bill.AdditionalFees, models.Fee{ID: id, Name: name, Amount: amount})
		}
	}
	return rows.Err()
}

// IsVisibleTo reports whether a user created the bill or belongs to a group splitting it
func (r *BillRepository) IsVisibleTo(ctx context.Context, billID, userID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT COUNT(*) FROM bills b
         WHERE b.id = $1 AND (b.created_by = $2 OR EXISTS (
             SELECT 1 FROM groups g
             JOIN group_members m ON m.group_id = g.id
             WHERE g.bill_id = b.id AND m.user_id = $3))`),
		billID, userID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check bill visibility: %w", err)
	}
	return count > 0, nil
}
