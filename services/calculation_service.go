package services

import (
	"fmt"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

// CalculationService turns item assignments into per-member cost breakdowns
type CalculationService struct{}

// NewCalculationService creates a new calculation service
func NewCalculationService() *CalculationService {
	return &CalculationService{}
}

// CalculateAllocations returns one allocation per member, in member order.
//
// A member's item subtotal is the sum of quantity * unit price over the items
// assigned to them. Every shared charge (discount, tax, service charge and
// additional fees) is then distributed according to its split mode:
// proportional to item subtotal over the bill's items subtotal, or equally
// among the members with a nonzero item subtotal. Shares are whole minor
// units. A bill whose items subtotal is zero yields zero breakdowns.
//
// Quantities are taken as given; callers validate them against the bill.
func (s *CalculationService) CalculateAllocations(
	bill *models.Bill,
	members []*models.GroupMember,
	allocation models.ItemAllocation,
	config models.SplitConfig,
) ([]models.MemberAllocation, error) {
	config = config.WithDefaults()
	if err := s.validateSplitConfig(config); err != nil {
		return nil, err
	}

	result := make([]models.MemberAllocation, len(members))
	subtotals := make([]models.Money, len(members))
	for i, member := range members {
		items := s.memberItems(bill, allocation, member.ID)
		for _, item := range items {
			subtotals[i] += item.TotalPrice
		}
		result[i] = models.MemberAllocation{
			MemberID:    member.ID,
			MemberName:  member.Name,
			Items:       items,
			SplitConfig: config,
		}
	}

	itemsSubtotal := bill.ItemsSubtotal()
	if itemsSubtotal == 0 {
		return result, nil
	}

	discounts := s.share(bill.DiscountTotal(), config.Discount, subtotals, itemsSubtotal)
	taxes := s.share(bill.Tax, config.Tax, subtotals, itemsSubtotal)
	serviceCharges := s.share(bill.ServiceCharge, config.ServiceCharge, subtotals, itemsSubtotal)
	fees := s.share(bill.FeeTotal(), config.AdditionalFees, subtotals, itemsSubtotal)

	for i := range result {
		breakdown := models.Breakdown{
			Subtotal:       subtotals[i],
			Discount:       discounts[i],
			Tax:            taxes[i],
			ServiceCharge:  serviceCharges[i],
			AdditionalFees: fees[i],
		}
		breakdown.Total = breakdown.Subtotal - breakdown.Discount + breakdown.Tax +
			breakdown.ServiceCharge + breakdown.AdditionalFees
		if breakdown.Total < 0 {
			breakdown.Total = 0
		}
		result[i].Breakdown = breakdown
	}

	return result, nil
}

// validateSplitConfig rejects modes without a computation path
func (s *CalculationService) validateSplitConfig(config models.SplitConfig) error {
	for _, mode := range []models.SplitMode{config.Tax, config.ServiceCharge, config.Discount, config.AdditionalFees} {
		switch mode {
		case models.SplitModeEqual, models.SplitModeProportional:
		case models.SplitModeCustom:
			return utils.NewNotImplementedError(utils.ErrCustomSplitMode)
		default:
			return utils.NewValidationError(fmt.Sprintf("unknown split mode %q", mode))
		}
	}
	return nil
}

// memberItems lists the bill items assigned to a member, in bill order
func (s *CalculationService) memberItems(bill *models.Bill, allocation models.ItemAllocation, memberID string) []models.AllocatedItem {
	items := []models.AllocatedItem{}
	for _, item := range bill.Items {
		quantity := allocation[item.ID][memberID]
		if quantity <= 0 {
			continue
		}
		items = append(items, models.AllocatedItem{
			ItemID:     item.ID,
			ItemName:   item.Name,
			Quantity:   quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: models.Money(quantity) * item.UnitPrice,
		})
	}
	return items
}

// share distributes one charge category across members
func (s *CalculationService) share(amount models.Money, mode models.SplitMode, subtotals []models.Money, itemsSubtotal models.Money) []models.Money {
	if mode == models.SplitModeEqual {
		shares := make([]models.Money, len(subtotals))
		var active []int
		for i, subtotal := range subtotals {
			if subtotal > 0 {
				active = append(active, i)
			}
		}
		for k, part := range utils.SplitEqual(amount, len(active)) {
			shares[active[k]] = part
		}
		return shares
	}
	return utils.SplitProportional(amount, subtotals, itemsSubtotal)
}

// ActiveAllocations keeps the members that consumed at least one item
func ActiveAllocations(allocations []models.MemberAllocation) []models.MemberAllocation {
	active := make([]models.MemberAllocation, 0, len(allocations))
	for _, allocation := range allocations {
		if allocation.Breakdown.Subtotal > 0 {
			active = append(active, allocation)
		}
	}
	return active
}

// ItemAllocationFromMembers rebuilds the item assignment map from saved
// member allocations
func ItemAllocationFromMembers(allocations []models.MemberAllocation) models.ItemAllocation {
	result := make(models.ItemAllocation)
	for _, allocation := range allocations {
		for _, item := range allocation.Items {
			if result[item.ItemID] == nil {
				result[item.ItemID] = make(map[string]int)
			}
			result[item.ItemID][allocation.MemberID] += item.Quantity
		}
	}
	return result
}
