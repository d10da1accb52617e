// models/models.go
package models

import "time"

// Money is an amount in the smallest unit of its currency (cents, whole Rupiah).
type Money int64

// DiscountType tells how a Discount amount is applied
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// BillItem represents a single line on a bill
type BillItem struct {
	ID         string `json:"id"`
	Name       string `json:"name" binding:"required"`
	Quantity   int    `json:"quantity" binding:"min=1"`
	UnitPrice  Money  `json:"unitPrice" binding:"min=0"`
	TotalPrice Money  `json:"totalPrice" binding:"min=0"`
	Category   string `json:"category,omitempty"`
}

// Discount represents a bill level discount. For percentage discounts Amount
// holds a whole percent of the items subtotal.
type Discount struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Amount Money        `json:"amount" binding:"min=0"`
	Type   DiscountType `json:"type" binding:"omitempty,discounttype"`
}

// Fee represents an additional charge on a bill (delivery, packaging, ...)
type Fee struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount Money  `json:"amount" binding:"min=0"`
}

// Bill represents a single purchase. It is immutable once stored.
type Bill struct {
	ID             string     `json:"id"`
	MerchantName   string     `json:"merchantName"`
	Date           string     `json:"date"`
	Items          []BillItem `json:"items"`
	Subtotal       Money      `json:"subtotal"`
	Discounts      []Discount `json:"discounts"`
	ServiceCharge  Money      `json:"serviceCharge"`
	Tax            Money      `json:"tax"`
	AdditionalFees []Fee      `json:"additionalFees"`
	TotalAmount    Money      `json:"totalAmount"`
	Currency       string     `json:"currency"`
	PaymentMethod  string     `json:"paymentMethod,omitempty"`
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Item returns the bill item with the given id
func (b *Bill) Item(itemID string) (BillItem, bool) {
	for _, item := range b.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return BillItem{}, false
}

// ItemsSubtotal is the sum of every item's total price
func (b *Bill) ItemsSubtotal() Money {
	var total Money
	for _, item := range b.Items {
		total += item.TotalPrice
	}
	return total
}

// DiscountTotal resolves every discount against the items subtotal
func (b *Bill) DiscountTotal() Money {
	itemsSubtotal := b.ItemsSubtotal()
	var total Money
	for _, discount := range b.Discounts {
		if discount.Type == DiscountTypePercentage {
			total += itemsSubtotal * discount.Amount / 100
			continue
		}
		total += discount.Amount
	}
	return total
}

// FeeTotal sums every additional fee
func (b *Bill) FeeTotal() Money {
	var total Money
	for _, fee := range b.AdditionalFees {
		total += fee.Amount
	}
	return total
}

// ExpectedTotal is subtotal - discounts + service charge + tax + fees
func (b *Bill) ExpectedTotal() Money {
	return b.Subtotal - b.DiscountTotal() + b.ServiceCharge + b.Tax + b.FeeTotal()
}

// GroupStatus is the allocation state of a group
type GroupStatus string

const (
	GroupStatusOutstanding GroupStatus = "outstanding"
	GroupStatusAllocated   GroupStatus = "allocated"
)

// MemberRole is derived from the group creator, it is never stored
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Group represents the people splitting one bill
type Group struct {
	ID                string               `json:"id"`
	Name              string               `json:"name"`
	BillID            string               `json:"billId,omitempty"`
	CreatedBy         string               `json:"createdBy"`
	Status            GroupStatus          `json:"status"`
	PaymentReceiverID string               `json:"paymentReceiverId,omitempty"`
	AllocationData    *AllocationAggregate `json:"allocationData,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

// IsAdmin reports whether userID created the group
func (g *Group) IsAdmin(userID string) bool {
	return userID != "" && userID == g.CreatedBy
}

// IsOutstanding reports whether the group can still change
func (g *Group) IsOutstanding() bool {
	return g.Status == GroupStatusOutstanding
}

// RoleFor computes the role of a user in the group
func (g *Group) RoleFor(userID string) MemberRole {
	if g.IsAdmin(userID) {
		return RoleAdmin
	}
	return RoleMember
}

// GroupMember is a participant of a group. UserID references a guest user
// when the participant is not registered.
type GroupMember struct {
	ID        string     `json:"id"`
	GroupID   string     `json:"groupId"`
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone,omitempty"`
	IsGuest   bool       `json:"isGuest"`
	Role      MemberRole `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
}

// User is a guest participant record backing a GroupMember
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsGuest   bool      `json:"isGuest"`
	CreatedAt time.Time `json:"createdAt"`
}

// WithRoles fills the computed role of each member
func WithRoles(group *Group, members []*GroupMember) []*GroupMember {
	for _, member := range members {
		member.Role = group.RoleFor(member.UserID)
	}
	return members
}

// FindMember returns the member with the given id
func FindMember(members []*GroupMember, memberID string) (*GroupMember, bool) {
	for _, member := range members {
		if member.ID == memberID {
			return member, true
		}
	}
	return nil, false
}

// SlackConfig is a user's outbound Slack webhook
type SlackConfig struct {
	UserID     string    `json:"userId"`
	WebhookURL string    `json:"webhookUrl"`
	Channel    string    `json:"channel,omitempty"`
	Enabled    bool      `json:"enabled"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
