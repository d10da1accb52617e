package models

// CreateBillRequest creates a bill together with its group
type CreateBillRequest struct {
	GroupName      string             `json:"groupName" binding:"required"`
	MerchantName   string             `json:"merchantName" binding:"required"`
	Date           string             `json:"date"`
	Items          []BillItem         `json:"items" binding:"required,min=1,dive"`
	Subtotal       Money              `json:"subtotal" binding:"min=0"`
	Discounts      []Discount         `json:"discounts" binding:"dive"`
	ServiceCharge  Money              `json:"serviceCharge" binding:"min=0"`
	Tax            Money              `json:"tax" binding:"min=0"`
	AdditionalFees []Fee              `json:"additionalFees" binding:"dive"`
	TotalAmount    Money              `json:"totalAmount" binding:"min=0"`
	Currency       string             `json:"currency"`
	PaymentMethod  string             `json:"paymentMethod"`
	CreatorName    string             `json:"creatorName"`
	Members        []AddMemberRequest `json:"members" binding:"dive"`
}

// CreateBillResponse is returned after a bill and its group were stored
type CreateBillResponse struct {
	Bill    *Bill          `json:"bill"`
	Group   *Group         `json:"group"`
	Members []*GroupMember `json:"members"`
}

// AddMemberRequest adds a participant. Without UserID a guest user is created.
type AddMemberRequest struct {
	Name   string `json:"name" binding:"required"`
	UserID string `json:"userId"`
	Phone  string `json:"phone"`
}

// GroupDetailResponse is the full view of a group for its members
type GroupDetailResponse struct {
	Group       *Group         `json:"group"`
	Members     []*GroupMember `json:"members"`
	Bill        *Bill          `json:"bill,omitempty"`
	Settlements []*Settlement  `json:"settlements"`
}

// PreviewAllocationRequest runs the calculator without saving
type PreviewAllocationRequest struct {
	ItemAllocation ItemAllocation `json:"itemAllocation" binding:"required"`
	SplitConfig    SplitConfig    `json:"splitConfig"`
}

// PreviewAllocationResponse holds a breakdown for every member
type PreviewAllocationResponse struct {
	GroupID           string             `json:"groupId"`
	Allocations       []MemberAllocation `json:"allocations"`
	ItemsSubtotal     Money              `json:"itemsSubtotal"`
	AllocatedSubtotal Money              `json:"allocatedSubtotal"`
	Total             Money              `json:"total"`
	Currency          string             `json:"currency"`
}

// SaveAllocationRequest finalizes the allocation of a group
type SaveAllocationRequest struct {
	Allocations       []MemberAllocation `json:"allocations" binding:"required,min=1,dive"`
	BillID            string             `json:"billId"`
	PaymentReceiverID string             `json:"paymentReceiverId" binding:"required"`
}

// WhatsAppBroadcast is a prepared WhatsApp message for one member
type WhatsAppBroadcast struct {
	MemberID   string `json:"memberId"`
	MemberName string `json:"memberName"`
	Phone      string `json:"phone"`
	Amount     Money  `json:"amount"`
	Message    string `json:"message"`
	URL        string `json:"url"`
}

// SaveAllocationResponse is returned after a group was allocated
type SaveAllocationResponse struct {
	GroupID            string              `json:"groupId"`
	Saved              bool                `json:"saved"`
	SettlementsCreated int                 `json:"settlementsCreated"`
	AllocationsCount   int                 `json:"allocationsCount"`
	WhatsAppBroadcasts []WhatsAppBroadcast `json:"whatsappBroadcasts"`
	BroadcastCount     int                 `json:"broadcastCount"`
}

// GroupSummary is the public part of a group
type GroupSummary struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status GroupStatus `json:"status"`
}

// MemberAllocationResponse is the view of one member's allocation
type MemberAllocationResponse struct {
	Group           GroupSummary     `json:"group"`
	Member          MemberAllocation `json:"member"`
	PaymentReceiver *GroupMember     `json:"paymentReceiver,omitempty"`
	Settlement      *Settlement      `json:"settlement,omitempty"`
}

// UpdateSettlementStatusRequest toggles a settlement between pending and paid
type UpdateSettlementStatusRequest struct {
	Status SettlementStatus `json:"status" binding:"required,settlementstatus"`
}

// UpdateSettlementStatusResponse echoes the new status
type UpdateSettlementStatusResponse struct {
	ID     string           `json:"id"`
	Status SettlementStatus `json:"status"`
}

// PublicBillResponse is the unauthenticated share view of a group
type PublicBillResponse struct {
	Group           *Group               `json:"group"`
	Bill            *Bill                `json:"bill,omitempty"`
	Members         []*GroupMember       `json:"members"`
	PaymentReceiver *GroupMember         `json:"paymentReceiver,omitempty"`
	Allocation      *AllocationAggregate `json:"allocation,omitempty"`
}

// SlackConfigRequest stores the caller's Slack webhook
type SlackConfigRequest struct {
	WebhookURL string `json:"webhookUrl" binding:"required,url"`
	Channel    string `json:"channel"`
	Enabled    *bool  `json:"enabled"`
}

// SlackNotifyResponse reports whether Slack accepted the message
type SlackNotifyResponse struct {
	GroupID     string `json:"groupId"`
	SentToSlack bool   `json:"sentToSlack"`
}

// ExtractedBill is the normalized output of receipt extraction.
// Amounts are in minor units of Currency.
type ExtractedBill struct {
	MerchantName   string     `json:"merchantName"`
	Date           string     `json:"date"`
	Items          []BillItem `json:"items"`
	Subtotal       Money      `json:"subtotal"`
	Discounts      []Discount `json:"discounts"`
	ServiceCharge  Money      `json:"serviceCharge"`
	Tax            Money      `json:"tax"`
	AdditionalFees []Fee      `json:"additionalFees"`
	TotalAmount    Money      `json:"totalAmount"`
	PaymentMethod  string     `json:"paymentMethod,omitempty"`
	Currency       string     `json:"currency"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
