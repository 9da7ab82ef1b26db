package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/reminder"
)

// WebhookSender posts reminders to a push-gateway endpoint. The gateway owns
// device tokens and channel fan-out; this side only describes the message.
type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSender) Send(ctx context.Context, evt reminder.Event) error {
	if s.url == "" {
		return errors.New("push webhook url not configured")
	}
	payload, err := json.Marshal(map[string]any{
		"user_id":  evt.UserID,
		"type":     string(evt.Type),
		"priority": string(evt.Priority),
		"title":    Title(evt),
		"body":     Body(evt),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push webhook returned %d", resp.StatusCode)
	}
	return nil
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) Send(_ context.Context, _ reminder.Event) error {
	return nil
}

func Title(evt reminder.Event) string {
	switch p := evt.Payload.(type) {
	case reminder.BookingPayload:
		if p.Role == "pro" {
			return "Upcoming appointment"
		}
		return "Appointment reminder"
	case reminder.PaymentPayload:
		return "Payment due"
	case reminder.FollowUpPayload:
		return "How did it go?"
	case reminder.MarketingPayload:
		return p.Campaign
	default:
		return "Notification"
	}
}

func Body(evt reminder.Event) string {
	switch p := evt.Payload.(type) {
	case reminder.BookingPayload:
		return fmt.Sprintf("Your appointment starts at %s.", p.ScheduledStart.Format("Mon Jan 2 15:04"))
	case reminder.PaymentPayload:
		return fmt.Sprintf("%s %s is due by %s.", p.Amount.StringFixed(2), p.Currency, p.DueAt.Format("Mon Jan 2"))
	case reminder.FollowUpPayload:
		return "Leave a review for your recent appointment."
	case reminder.MarketingPayload:
		return p.Message
	case reminder.SystemPayload:
		return p.Message
	default:
		return ""
	}
}
