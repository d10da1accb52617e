package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrExceedsAvailableQuantity is returned when an item is assigned past its quantity
var ErrExceedsAvailableQuantity = errors.New("exceeds available quantity")

// SplitMode decides how a shared charge is distributed across members
type SplitMode string

const (
	SplitModeEqual        SplitMode = "equal"
	SplitModeProportional SplitMode = "proportional"
	SplitModeCustom       SplitMode = "custom"
)

// SplitConfig holds the split mode per shared charge category
type SplitConfig struct {
	Tax            SplitMode `json:"tax" binding:"omitempty,splitmode"`
	ServiceCharge  SplitMode `json:"serviceCharge" binding:"omitempty,splitmode"`
	Discount       SplitMode `json:"discount" binding:"omitempty,splitmode"`
	AdditionalFees SplitMode `json:"additionalFees" binding:"omitempty,splitmode"`
}

// DefaultSplitConfig splits every category proportionally
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		Tax:            SplitModeProportional,
		ServiceCharge:  SplitModeProportional,
		Discount:       SplitModeProportional,
		AdditionalFees: SplitModeProportional,
	}
}

// WithDefaults replaces empty modes with proportional
func (c SplitConfig) WithDefaults() SplitConfig {
	if c.Tax == "" {
		c.Tax = SplitModeProportional
	}
	if c.ServiceCharge == "" {
		c.ServiceCharge = SplitModeProportional
	}
	if c.Discount == "" {
		c.Discount = SplitModeProportional
	}
	if c.AdditionalFees == "" {
		c.AdditionalFees = SplitModeProportional
	}
	return c
}

// ItemAllocation maps itemId -> memberId -> quantity consumed
type ItemAllocation map[string]map[string]int

// Allocated returns how many units of an item are already assigned
func (a ItemAllocation) Allocated(itemID string) int {
	var total int
	for _, quantity := range a[itemID] {
		total += quantity
	}
	return total
}

// Assign sets the quantity a member consumes of an item. It fails when the
// sum over all members would exceed the item quantity.
func (a ItemAllocation) Assign(item BillItem, memberID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("quantity for item %q cannot be negative", item.Name)
	}
	current := a[item.ID][memberID]
	if a.Allocated(item.ID)-current+quantity > item.Quantity {
		return fmt.Errorf("item %q: %w (%d available)", item.Name, ErrExceedsAvailableQuantity, item.Quantity-a.Allocated(item.ID)+current)
	}
	if a[item.ID] == nil {
		a[item.ID] = make(map[string]int)
	}
	if quantity == 0 {
		delete(a[item.ID], memberID)
		return nil
	}
	a[item.ID][memberID] = quantity
	return nil
}

// Validate checks every item against the bill
func (a ItemAllocation) Validate(bill *Bill) error {
	for itemID, members := range a {
		item, ok := bill.Item(itemID)
		if !ok {
			return fmt.Errorf("item %s is not on the bill", itemID)
		}
		var total int
		for _, quantity := range members {
			if quantity < 0 {
				return fmt.Errorf("quantity for item %q cannot be negative", item.Name)
			}
			total += quantity
		}
		if total > item.Quantity {
			return fmt.Errorf("item %q: %w (%d of %d)", item.Name, ErrExceedsAvailableQuantity, total, item.Quantity)
		}
	}
	return nil
}

// AllocatedItem is one bill item share of a member
type AllocatedItem struct {
	ItemID     string `json:"itemId" binding:"required"`
	ItemName   string `json:"itemName"`
	Quantity   int    `json:"quantity" binding:"min=0"`
	UnitPrice  Money  `json:"unitPrice" binding:"min=0"`
	TotalPrice Money  `json:"totalPrice" binding:"min=0"`
}

// Breakdown is the cost of a member
type Breakdown struct {
	Subtotal       Money `json:"subtotal"`
	Discount       Money `json:"discount"`
	Tax            Money `json:"tax"`
	ServiceCharge  Money `json:"serviceCharge"`
	AdditionalFees Money `json:"additionalFees"`
	Total          Money `json:"total"`
}

// IsZero reports whether every field of the breakdown is zero
func (b Breakdown) IsZero() bool {
	return b == Breakdown{}
}

// MemberAllocation is the saved allocation of a single member
type MemberAllocation struct {
	MemberID    string          `json:"memberId" binding:"required"`
	MemberName  string          `json:"memberName"`
	Items       []AllocatedItem `json:"items" binding:"dive"`
	Breakdown   Breakdown       `json:"breakdown"`
	SplitConfig SplitConfig     `json:"splitConfig"`
}

// AllocationAggregate is the write-once allocation result of a group
type AllocationAggregate struct {
	GroupID     string             `json:"groupId"`
	BillID      string             `json:"billId,omitempty"`
	Allocations []MemberAllocation `json:"allocations"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Member returns the allocation of a member
func (a *AllocationAggregate) Member(memberID string) (MemberAllocation, bool) {
	for _, allocation := range a.Allocations {
		if allocation.MemberID == memberID {
			return allocation, true
		}
	}
	return MemberAllocation{}, false
}

// Total sums every member total
func (a *AllocationAggregate) Total() Money {
	var total Money
	for _, allocation := range a.Allocations {
		total += allocation.Breakdown.Total
	}
	return total
}

// Value stores the aggregate as a JSON column
func (a AllocationAggregate) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads the aggregate from a JSON column
func (a *AllocationAggregate) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into AllocationAggregate", src)
	}
}
