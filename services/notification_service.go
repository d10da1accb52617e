package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ttacon/libphonenumber"

	"github.com/fadhlanhapp/splitbill-backend/cache"
	"github.com/fadhlanhapp/splitbill-backend/models"
	"github.com/fadhlanhapp/splitbill-backend/utils"
)

const slackAttachmentColor = "#36a64f"

// SlackField is one field of a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackAttachment is a legacy Slack message attachment
type SlackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []SlackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

// SlackPayload is the body posted to an incoming webhook
type SlackPayload struct {
	Text        string            `json:"text"`
	Channel     string            `json:"channel,omitempty"`
	Attachments []SlackAttachment `json:"attachments"`
}

// SlackMemberMapping is one member line of a Slack summary
type SlackMemberMapping struct {
	MemberName string
	Amount     models.Money
}

// NotificationService builds WhatsApp links and Slack messages for an
// allocated group and delivers the Slack ones
type NotificationService struct {
	publicBaseURL string
	phoneRegion   string
	client        *http.Client
	limiter       cache.RateLimiter
	metrics       *Metrics
	now           func() time.Time
}

// NewNotificationService creates a new notification service. timeout bounds
// every Slack delivery.
func NewNotificationService(publicBaseURL, phoneRegion string, timeout time.Duration, limiter cache.RateLimiter, metrics *Metrics) *NotificationService {
	return &NotificationService{
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		phoneRegion:   phoneRegion,
		client:        &http.Client{Timeout: timeout},
		limiter:       limiter,
		metrics:       metrics,
		now:           time.Now,
	}
}

// MemberURL is the public page of one member's allocation
func (s *NotificationService) MemberURL(groupID, memberID string) string {
	return fmt.Sprintf("%s/groups/%s/allocations/%s", s.publicBaseURL, groupID, memberID)
}

// BuildWhatsAppMessage renders the text sent to a member
func (s *NotificationService) BuildWhatsAppMessage(memberName, groupName, merchantName, totalAmount, memberURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s!\n\n", memberName)
	if merchantName != "" {
		fmt.Fprintf(&b, "Your share of \"%s\" at %s is %s.\n\n", groupName, merchantName, totalAmount)
	} else {
		fmt.Fprintf(&b, "Your share of \"%s\" is %s.\n\n", groupName, totalAmount)
	}
	fmt.Fprintf(&b, "See the details: %s", memberURL)
	return b.String()
}

// BuildWhatsAppURL builds a wa.me deep link. Spaces are encoded as %20.
func (s *NotificationService) BuildWhatsAppURL(phone, text string) string {
	encoded := strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	return fmt.Sprintf("https://wa.me/%s?text=%s", s.NormalizePhone(phone), encoded)
}

// NormalizePhone returns the international number without '+', or the
// bare digits when the number cannot be parsed
func (s *NotificationService) NormalizePhone(phone string) string {
	parsed, err := libphonenumber.Parse(phone, s.phoneRegion)
	if err != nil {
		return utils.DigitsOnly(phone)
	}
	return strings.TrimPrefix(libphonenumber.Format(parsed, libphonenumber.E164), "+")
}

// BuildBroadcasts prepares a WhatsApp message for every member who owes the
// receiver money and has a phone number
func (s *NotificationService) BuildBroadcasts(group *models.Group, bill *models.Bill, members []*models.GroupMember, aggregate *models.AllocationAggregate) []models.WhatsAppBroadcast {
	broadcasts := []models.WhatsAppBroadcast{}
	if aggregate == nil {
		return broadcasts
	}

	currency, merchant := utils.DefaultCurrency, ""
	if bill != nil {
		currency, merchant = bill.Currency, bill.MerchantName
	}

	for _, allocation := range aggregate.Allocations {
		if allocation.Breakdown.Total <= 0 || allocation.MemberID == group.PaymentReceiverID {
			continue
		}
		member, ok := models.FindMember(members, allocation.MemberID)
		if !ok || member.Phone == "" {
			continue
		}

		message := s.BuildWhatsAppMessage(member.Name, group.Name, merchant,
			utils.FormatMoney(allocation.Breakdown.Total, currency), s.MemberURL(group.ID, member.ID))
		broadcasts = append(broadcasts, models.WhatsAppBroadcast{
			MemberID:   member.ID,
			MemberName: member.Name,
			Phone:      s.NormalizePhone(member.Phone),
			Amount:     allocation.Breakdown.Total,
			Message:    message,
			URL:        s.BuildWhatsAppURL(member.Phone, message),
		})
	}
	return broadcasts
}

// BuildSlackPayload summarizes an allocated group for Slack
func (s *NotificationService) BuildSlackPayload(group *models.Group, bill *models.Bill, receiverName string, mappings []SlackMemberMapping) SlackPayload {
	currency, title := utils.DefaultCurrency, group.Name
	var total models.Money
	if bill != nil {
		currency = bill.Currency
		total = bill.TotalAmount
		if bill.MerchantName != "" {
			title = bill.MerchantName
		}
	}

	fields := []SlackField{
		{Title: "Group", Value: group.Name, Short: true},
		{Title: "Total", Value: utils.FormatMoney(total, currency), Short: true},
	}
	if receiverName != "" {
		fields = append(fields, SlackField{Title: "Pay to", Value: receiverName, Short: true})
	}
	fields = append(fields, SlackField{Title: "Members", Value: fmt.Sprintf("%d", len(mappings)), Short: true})
	for _, mapping := range mappings {
		fields = append(fields, SlackField{
			Title: mapping.MemberName,
			Value: utils.FormatMoney(mapping.Amount, currency),
			Short: true,
		})
	}

	return SlackPayload{
		Text: fmt.Sprintf("Bill \"%s\" has been split", group.Name),
		Attachments: []SlackAttachment{{
			Color:  slackAttachmentColor,
			Title:  title,
			Fields: fields,
			Footer: "SplitBill",
			Ts:     s.now().Unix(),
		}},
	}
}

// SlackMappings lists every allocated member with the amount they owe
func SlackMappings(aggregate *models.AllocationAggregate) []SlackMemberMapping {
	if aggregate == nil {
		return nil
	}
	mappings := make([]SlackMemberMapping, 0, len(aggregate.Allocations))
	for _, allocation := range aggregate.Allocations {
		mappings = append(mappings, SlackMemberMapping{MemberName: allocation.MemberName, Amount: allocation.Breakdown.Total})
	}
	return mappings
}

// SendSlack posts a payload to a Slack incoming webhook. Slack answers a
// plain "ok" on success.
func (s *NotificationService) SendSlack(ctx context.Context, webhookURL string, payload SlackPayload) error {
	if err := utils.ValidateSlackWebhookURL(webhookURL); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return utils.NewUpstreamError("Slack webhook call failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(respBody)) != "ok" {
		return utils.NewUpstreamError(fmt.Sprintf("Slack webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}
	return nil
}

// NotifyGroup delivers the allocation summary of a group to Slack. Delivery
// problems are logged and reported as false, never returned.
func (s *NotificationService) NotifyGroup(ctx context.Context, group *models.Group, bill *models.Bill, members []*models.GroupMember, cfg *models.SlackConfig) bool {
	log := logrus.WithFields(logrus.Fields{"group_id": group.ID})
	if cfg == nil || !cfg.Enabled {
		return false
	}

	allowed, err := s.limiter.Allow(ctx, "slack:"+group.ID)
	if err != nil {
		log.WithError(err).Warn("Slack rate limiter unavailable")
		allowed = true
	}
	if !allowed {
		s.metrics.SlackNotifications.WithLabelValues("rate_limited").Inc()
		log.Warn("Slack notification rate limited")
		return false
	}

	var receiverName string
	if receiver, ok := models.FindMember(members, group.PaymentReceiverID); ok {
		receiverName = receiver.Name
	}
	payload := s.BuildSlackPayload(group, bill, receiverName, SlackMappings(group.AllocationData))
	payload.Channel = cfg.Channel

	if err := s.SendSlack(ctx, cfg.WebhookURL, payload); err != nil {
		s.metrics.SlackNotifications.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("Slack notification failed")
		return false
	}

	s.metrics.SlackNotifications.WithLabelValues("sent").Inc()
	log.Info("Slack notification sent")
	return true
}
