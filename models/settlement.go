package models

import "time"

// SettlementStatus is the payment state of a settlement
type SettlementStatus string

const (
	SettlementStatusPending SettlementStatus = "pending"
	SettlementStatusPaid    SettlementStatus = "paid"
)

// Valid reports whether the status is known
func (s SettlementStatus) Valid() bool {
	return s == SettlementStatusPending || s == SettlementStatusPaid
}

// Settlement represents a payment a member owes the payment receiver
type Settlement struct {
	ID         string           `json:"id"`
	GroupID    string           `json:"groupId"`
	PayerID    string           `json:"payerId"`
	ReceiverID string           `json:"receiverId"`
	Amount     Money            `json:"amount"`
	Currency   string           `json:"currency"`
	Status     SettlementStatus `json:"status"`
	Notes      string           `json:"notes,omitempty"`
	PaidAt     *time.Time       `json:"paidAt,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Involves reports whether the user is the payer or the receiver
func (s *Settlement) Involves(userID string) bool {
	return userID != "" && (userID == s.PayerID || userID == s.ReceiverID)
}
