package services

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

const (
	summarySheet     = "Summary"
	itemsSheet       = "Items"
	settlementsSheet = "Settlements"
)

// ExcelService handles Excel export of allocated groups
type ExcelService struct {
	groups      GroupStore
	bills       BillStore
	settlements SettlementStore
	now         func() time.Time
}

// NewExcelService creates a new Excel service
func NewExcelService(groups GroupStore, bills BillStore, settlements SettlementStore) *ExcelService {
	return &ExcelService{
		groups:      groups,
		bills:       bills,
		settlements: settlements,
		now:         time.Now,
	}
}

// groupExport is everything a workbook is built from
type groupExport struct {
	group       *models.Group
	bill        *models.Bill
	members     []*models.GroupMember
	settlements []*models.Settlement
	currency    string
}

// ExportGroup generates a workbook for an allocated group with a summary,
// an item matrix and the settlements. Only members may export.
func (s *ExcelService) ExportGroup(ctx context.Context, groupID, callerID string) (*excelize.File, string, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, "", storeError(err, utils.ErrGroupNotFound)
	}
	if err := requireMember(ctx, s.groups, group, callerID); err != nil {
		return nil, "", err
	}
	if group.AllocationData == nil {
		return nil, "", utils.NewInvalidStateError(utils.ErrNotAllocated)
	}

	data := &groupExport{group: group, currency: utils.DefaultCurrency}
	if data.members, err = s.groups.ListMembers(ctx, groupID); err != nil {
		return nil, "", storeError(err, utils.ErrGroupNotFound)
	}
	if data.settlements, err = s.settlements.ListByGroup(ctx, groupID); err != nil {
		return nil, "", storeError(err, utils.ErrSettlementNotFound)
	}
	if group.BillID != "" {
		if data.bill, err = s.bills.GetBill(ctx, group.BillID); err != nil {
			return nil, "", storeError(err, utils.ErrBillNotFound)
		}
		data.currency = data.bill.Currency
	}

	f := excelize.NewFile()
	for _, build := range []func(*excelize.File, *groupExport) error{
		s.createSummarySheet,
		s.createItemsSheet,
		s.createSettlementsSheet,
	} {
		if err := build(f, data); err != nil {
			_ = f.Close()
			return nil, "", utils.NewInternalError("Failed to build export", err)
		}
	}

	// Delete the default sheet if it exists
	if err := f.DeleteSheet("Sheet1"); err != nil {
		_ = f.Close()
		return nil, "", utils.NewInternalError("Failed to build export", err)
	}
	if index, err := f.GetSheetIndex(summarySheet); err == nil {
		f.SetActiveSheet(index)
	}

	filename := fmt.Sprintf("%s_Split_%s.xlsx", utils.CleanFileName(group.Name), s.now().Format("2006-01-02"))
	return f, filename, nil
}

// createSummarySheet lists the breakdown of every allocated member
func (s *ExcelService) createSummarySheet(f *excelize.File, data *groupExport) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	title := data.group.Name
	if data.bill != nil && data.bill.MerchantName != "" {
		title = fmt.Sprintf("%s (%s)", data.group.Name, data.bill.MerchantName)
	}
	if err := f.SetCellValue(summarySheet, "A1", title); err != nil {
		return err
	}
	if receiver, ok := models.FindMember(data.members, data.group.PaymentReceiverID); ok {
		if err := f.SetSheetRow(summarySheet, "A2", &[]interface{}{"Pay to", receiver.Name}); err != nil {
			return err
		}
	}

	headers := []interface{}{"Member", "Subtotal", "Discount", "Service Charge", "Tax", "Additional Fees", "Total"}
	if err := writeHeader(f, summarySheet, 4, headers); err != nil {
		return err
	}

	row := 5
	var grand models.Breakdown
	for _, allocation := range data.group.AllocationData.Allocations {
		b := allocation.Breakdown
		values := []interface{}{
			allocation.MemberName,
			major(b.Subtotal, data.currency),
			major(b.Discount, data.currency),
			major(b.ServiceCharge, data.currency),
			major(b.Tax, data.currency),
			major(b.AdditionalFees, data.currency),
			major(b.Total, data.currency),
		}
		if err := f.SetSheetRow(summarySheet, cell(1, row), &values); err != nil {
			return err
		}
		grand.Subtotal += b.Subtotal
		grand.Discount += b.Discount
		grand.ServiceCharge += b.ServiceCharge
		grand.Tax += b.Tax
		grand.AdditionalFees += b.AdditionalFees
		grand.Total += b.Total
		row++
	}

	totals := []interface{}{
		"Total",
		major(grand.Subtotal, data.currency),
		major(grand.Discount, data.currency),
		major(grand.ServiceCharge, data.currency),
		major(grand.Tax, data.currency),
		major(grand.AdditionalFees, data.currency),
		major(grand.Total, data.currency),
	}
	if err := f.SetSheetRow(summarySheet, cell(1, row), &totals); err != nil {
		return err
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", boldStyle); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, cell(1, row), cell(len(totals), row), boldStyle); err != nil {
		return err
	}

	return f.SetColWidth(summarySheet, "A", "G", 16)
}

// createItemsSheet is a matrix of the quantity of each item every member consumed
func (s *ExcelService) createItemsSheet(f *excelize.File, data *groupExport) error {
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return err
	}
	allocations := data.group.AllocationData.Allocations

	headers := []interface{}{"Item", "Quantity", "Unit Price", "Total Price"}
	for _, allocation := range allocations {
		headers = append(headers, allocation.MemberName)
	}
	if err := writeHeader(f, itemsSheet, 1, headers); err != nil {
		return err
	}

	consumed := make(map[string]map[string]int)
	for _, allocation := range allocations {
		for _, item := range allocation.Items {
			if consumed[item.ItemID] == nil {
				consumed[item.ItemID] = make(map[string]int)
			}
			consumed[item.ItemID][allocation.MemberID] += item.Quantity
		}
	}

	var items []models.BillItem
	if data.bill != nil {
		items = data.bill.Items
	} else {
		items = itemsFromAllocations(allocations)
	}

	for i, item := range items {
		values := []interface{}{item.Name, item.Quantity, major(item.UnitPrice, data.currency), major(item.TotalPrice, data.currency)}
		for _, allocation := range allocations {
			values = append(values, consumed[item.ID][allocation.MemberID])
		}
		if err := f.SetSheetRow(itemsSheet, cell(1, i+2), &values); err != nil {
			return err
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(itemsSheet, "A", lastCol, 12); err != nil {
		return err
	}
	return f.SetColWidth(itemsSheet, "A", "A", 24)
}

// createSettlementsSheet lists who pays whom and whether it was paid
func (s *ExcelService) createSettlementsSheet(f *excelize.File, data *groupExport) error {
	if _, err := f.NewSheet(settlementsSheet); err != nil {
		return err
	}
	if err := writeHeader(f, settlementsSheet, 1, []interface{}{"From", "To", "Amount", "Status", "Paid At"}); err != nil {
		return err
	}

	names := make(map[string]string, len(data.members))
	for _, member := range data.members {
		names[member.UserID] = member.Name
	}
	nameOf := func(userID string) string {
		if name, ok := names[userID]; ok {
			return name
		}
		return userID
	}

	for i, settlement := range data.settlements {
		paidAt := ""
		if settlement.PaidAt != nil {
			paidAt = settlement.PaidAt.Format("2006-01-02 15:04")
		}
		values := []interface{}{
			nameOf(settlement.PayerID),
			nameOf(settlement.ReceiverID),
			major(settlement.Amount, settlement.Currency),
			string(settlement.Status),
			paidAt,
		}
		if err := f.SetSheetRow(settlementsSheet, cell(1, i+2), &values); err != nil {
			return err
		}
	}

	return f.SetColWidth(settlementsSheet, "A", "E", 16)
}

// itemsFromAllocations rebuilds the item list when the group has no bill
func itemsFromAllocations(allocations []models.MemberAllocation) []models.BillItem {
	var items []models.BillItem
	index := make(map[string]int)
	for _, allocation := range allocations {
		for _, allocated := range allocation.Items {
			if i, ok := index[allocated.ItemID]; ok {
				items[i].Quantity += allocated.Quantity
				items[i].TotalPrice += allocated.TotalPrice
				continue
			}
			index[allocated.ItemID] = len(items)
			items = append(items, models.BillItem{
				ID:         allocated.ItemID,
				Name:       allocated.ItemName,
				Quantity:   allocated.Quantity,
				UnitPrice:  allocated.UnitPrice,
				TotalPrice: allocated.TotalPrice,
			})
		}
	}
	return items
}

func writeHeader(f *excelize.File, sheet string, row int, headers []interface{}) error {
	if err := f.SetSheetRow(sheet, cell(1, row), &headers); err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, cell(1, row), cell(len(headers), row), headerStyle)
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// major renders minor units as a spreadsheet number
func major(amount models.Money, currency string) float64 {
	return utils.FromMinorUnits(amount, currency).InexactFloat64()
}
