package utils

const (
	// Default currency, amounts are whole Rupiah
	DefaultCurrency = "IDR"

	// HTTP status messages
	ErrInvalidRequest      = "Invalid request"
	ErrGroupNotFound       = "Group"
	ErrBillNotFound        = "Bill"
	ErrMemberNotFound      = "Member"
	ErrSettlementNotFound  = "Settlement"
	ErrAllocationNotFound  = "Allocation"
	ErrOnlyCreator         = "Only the group creator can perform this action"
	ErrAlreadyAllocated    = "Group has already been allocated"
	ErrNotAllocated        = "Group has not been allocated yet"
	ErrNotSettlementParty  = "Only the payer or the receiver can update this settlement"
	ErrNotGroupMember      = "You are not a member of this group"
	ErrAlreadyMember       = "User is already a member of this group"
	ErrCustomSplitMode     = "Custom split mode is not implemented"
	ErrAllocationInFlight  = "Allocation for this group is already being saved"
	ErrSlackWebhookInvalid = "Slack webhook URL must start with https://hooks.slack.com/services/"

	// Multipart field carrying the receipt image
	ReceiptFormField = "receipt"
)

// currencyExponents lists currencies whose minor unit is not 1/100
var currencyExponents = map[string]int32{
	"IDR": 0,
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
}

// CurrencyExponent returns the number of decimal places of a currency's minor unit
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[NormalizeCurrency(currency)]; ok {
		return exp
	}
	return 2
}
