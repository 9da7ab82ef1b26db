package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/reminder"
)

func TestWebhookSenderPostsRenderedMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "tok")
	evt := reminder.Event{
		UserID:   "user-1",
		Type:     reminder.TypePayment,
		Priority: reminder.PriorityHigh,
		Payload: reminder.PaymentPayload{
			AppointmentID: "appt-1",
			PaymentID:     "pay-1",
			Amount:        decimal.NewFromInt(60),
			Currency:      "EUR",
			DueAt:         time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC),
		},
	}
	if err := sender.Send(context.Background(), evt); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got["user_id"] != "user-1" || got["type"] != "payment" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if got["title"] != "Payment due" {
		t.Fatalf("unexpected title: %v", got["title"])
	}
}

func TestWebhookSenderNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "")
	err := sender.Send(context.Background(), reminder.Event{Payload: reminder.SystemPayload{Message: "hi"}})
	if err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestBodyPerPayloadKind(t *testing.T) {
	start := time.Date(2026, 7, 10, 15, 30, 0, 0, time.UTC)
	booking := reminder.Event{Payload: reminder.BookingPayload{AppointmentID: "a", ScheduledStart: start, Role: "client"}}
	if Body(booking) == "" || Title(booking) != "Appointment reminder" {
		t.Fatalf("unexpected booking rendering: %q / %q", Title(booking), Body(booking))
	}

	pro := reminder.Event{Payload: reminder.BookingPayload{AppointmentID: "a", ScheduledStart: start, Role: "pro"}}
	if Title(pro) != "Upcoming appointment" {
		t.Fatalf("pro side should get its own title, got %q", Title(pro))
	}

	system := reminder.Event{Payload: reminder.SystemPayload{Message: "maintenance tonight"}}
	if Body(system) != "maintenance tonight" {
		t.Fatalf("system body should pass through, got %q", Body(system))
	}
}
