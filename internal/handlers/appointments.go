package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/appointment"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/booking"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/conflict"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/ledger"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/payments"
	"github.com/antoine13330/INKSPOT-5z-sub000/internal/storage"
)

type AppointmentHandler struct {
	svc      *booking.Service
	repo     *storage.AppointmentRepository
	checkout *payments.CheckoutProvider
	logger   *slog.Logger
}

func NewAppointmentHandler(svc *booking.Service, repo *storage.AppointmentRepository, checkout *payments.CheckoutProvider, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		svc:      svc,
		repo:     repo,
		checkout: checkout,
		logger:   logger,
	}
}

type proposeRequest struct {
	ProposerID      string                         `json:"proposer_id"`
	CounterpartyID  string                         `json:"counterparty_id"`
	ProID           string                         `json:"pro_id"`
	ClientID        string                         `json:"client_id"`
	Title           string                         `json:"title"`
	Description     string                         `json:"description"`
	DurationMinutes int                            `json:"duration_minutes"`
	Location        string                         `json:"location"`
	Currency        string                         `json:"currency"`
	Price           string                         `json:"price"`
	MaxParticipants int                            `json:"max_participants"`
	DepositRequired bool                           `json:"deposit_required"`
	DepositAmount   string                         `json:"deposit_amount"`
	CandidateTimes  []string                       `json:"candidate_times"`
	Recurrence      *appointment.RecurrencePattern `json:"recurrence,omitempty"`
}

type appointmentResponse struct {
	AppointmentID   string   `json:"appointment_id"`
	Status          string   `json:"status"`
	ScheduledStart  string   `json:"scheduled_start"`
	DurationMinutes int      `json:"duration_minutes"`
	Currency        string   `json:"currency"`
	Price           string   `json:"price"`
	DepositRequired bool     `json:"deposit_required"`
	DepositAmount   string   `json:"deposit_amount"`
	CandidateTimes  []string `json:"candidate_times,omitempty"`
	CancelledAt     string   `json:"cancelled_at,omitempty"`
	CancelReason    string   `json:"cancel_reason,omitempty"`
	Version         int      `json:"version"`
}

func toAppointmentResponse(appt appointment.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:   appt.ID,
		Status:          string(appt.Status),
		ScheduledStart:  appt.ScheduledStart.UTC().Format(time.RFC3339),
		DurationMinutes: appt.DurationMinutes,
		Currency:        appt.Currency,
		Price:           appt.Price.String(),
		DepositRequired: appt.DepositRequired,
		DepositAmount:   appt.DepositAmount.String(),
		CancelReason:    appt.CancelReason,
		Version:         appt.Version,
	}
	for _, t := range appt.CandidateTimes {
		resp.CandidateTimes = append(resp.CandidateTimes, t.UTC().Format(time.RFC3339))
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *AppointmentHandler) Propose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.ProposerID = strings.TrimSpace(req.ProposerID)
	req.CounterpartyID = strings.TrimSpace(req.CounterpartyID)
	req.ProID = strings.TrimSpace(req.ProID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.Title = strings.TrimSpace(req.Title)
	if req.ProposerID == "" || req.ProID == "" || req.ClientID == "" || req.Title == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	if req.CounterpartyID == "" {
		if req.ProposerID == req.ProID {
			req.CounterpartyID = req.ClientID
		} else {
			req.CounterpartyID = req.ProID
		}
	}

	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		http.Error(w, "invalid price", http.StatusBadRequest)
		return
	}
	deposit := decimal.Zero
	if raw := strings.TrimSpace(req.DepositAmount); raw != "" {
		if deposit, err = decimal.NewFromString(raw); err != nil {
			http.Error(w, "invalid deposit_amount", http.StatusBadRequest)
			return
		}
	}

	candidates := make([]time.Time, 0, len(req.CandidateTimes))
	for _, raw := range req.CandidateTimes {
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
		if err != nil {
			http.Error(w, "invalid candidate time", http.StatusBadRequest)
			return
		}
		candidates = append(candidates, t)
	}

	draft := appointment.Draft{
		ProposerID:      req.ProposerID,
		CounterpartyID:  req.CounterpartyID,
		ProID:           req.ProID,
		ClientID:        req.ClientID,
		Title:           req.Title,
		Description:     strings.TrimSpace(req.Description),
		DurationMinutes: req.DurationMinutes,
		Location:        strings.TrimSpace(req.Location),
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Price:           price,
		MaxParticipants: req.MaxParticipants,
		DepositRequired: req.DepositRequired,
		DepositAmount:   deposit,
		CandidateTimes:  candidates,
		Recurrence:      req.Recurrence,
	}

	ctx := r.Context()
	tx, err := h.svc.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, draft.ProposerID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	appt, err := h.svc.Propose(ctx, tx, draft, time.Now().UTC())
	if err != nil {
		h.writeError(w, err)
		return
	}

	respBody, err := json.Marshal(toAppointmentResponse(appt))
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, draft.ProposerID, idempotencyKey, appt.ID, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.touch(ctx, draft.ProposerID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

type respondRequest struct {
	AppointmentID string `json:"appointment_id"`
	ActorID       string `json:"actor_id"`
	Action        string `json:"action"` // accept | reject
	ChosenIndex   *int   `json:"chosen_index,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type respondResponse struct {
	appointmentResponse
	DerivedOccurrences int `json:"derived_occurrences,omitempty"`
}

func (h *AppointmentHandler) Respond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.Action = strings.TrimSpace(strings.ToLower(req.Action))
	if req.AppointmentID == "" || req.ActorID == "" {
		http.Error(w, "appointment_id and actor_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.svc.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var resp respondResponse
	var expand appointment.Appointment
	switch req.Action {
	case "accept":
		idx := appointment.NoChosenIndex
		if req.ChosenIndex != nil {
			idx = *req.ChosenIndex
		}
		appt, err := h.svc.Accept(ctx, tx, req.AppointmentID, req.ActorID, idx, now)
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp = respondResponse{appointmentResponse: toAppointmentResponse(appt)}
		expand = appt
	case "reject":
		appt, err := h.svc.Reject(ctx, tx, req.AppointmentID, req.ActorID, strings.TrimSpace(req.Reason), now)
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp = respondResponse{appointmentResponse: toAppointmentResponse(appt)}
	default:
		http.Error(w, "action must be accept or reject", http.StatusBadRequest)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	if expand.Recurrence != nil {
		// Occurrences are created one transaction each; a failure partway
		// through never unwinds the acceptance.
		resp.DerivedOccurrences = h.svc.ExpandSeries(ctx, expand, req.ActorID, now)
	}
	h.touch(ctx, req.ActorID)
	writeJSON(w, http.StatusOK, resp)
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	ActorID       string `json:"actor_id"`
	Reason        string `json:"reason"`
}

type cancelResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
	RefundAmount  string `json:"refund_amount"`
	RefundTier    string `json:"refund_tier"`
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AppointmentID == "" || req.ActorID == "" {
		http.Error(w, "appointment_id and actor_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.svc.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, outcome, err := h.svc.Cancel(ctx, tx, req.AppointmentID, req.ActorID, req.Reason, time.Now().UTC())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.touch(ctx, req.ActorID)
	writeJSON(w, http.StatusOK, cancelResponse{
		AppointmentID: appt.ID,
		Status:        string(appt.Status),
		CancelledAt:   appt.CancelledAt.UTC().Format(time.RFC3339),
		RefundAmount:  outcome.Amount.String(),
		RefundTier:    string(outcome.Tier),
	})
}

type recordPaymentRequest struct {
	AppointmentID string `json:"appointment_id"`
	Amount        string `json:"amount"`
	Tag           string `json:"tag"` // deposit | balance
}

func (h *AppointmentHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req recordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Tag = strings.TrimSpace(strings.ToLower(req.Tag))
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	if req.Tag != ledger.TagDeposit && req.Tag != ledger.TagBalance {
		http.Error(w, "tag must be deposit or balance", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.svc.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, rec, err := h.svc.RecordManualPayment(ctx, tx, req.AppointmentID, req.Tag, amount, time.Now().UTC())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"appointment_id": appt.ID,
		"status":         string(appt.Status),
		"payment_id":     rec.ID,
		"amount":         rec.Amount.String(),
		"tag":            rec.Tag,
	})
}

type checkoutResponse struct {
	PaymentID string `json:"payment_id"`
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Amount    string `json:"amount"`
	Tag       string `json:"tag"`
}

// Checkout opens a provider session for the next amount owed on the
// appointment: the deposit before confirmation, the balance after.
func (h *AppointmentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.checkout == nil || !h.checkout.Configured() {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	var req struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.svc.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, rec, err := h.svc.PrepareCharge(ctx, tx, req.AppointmentID, time.Now().UTC())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	// The ledger record exists before the provider call: a crashed process
	// leaves a pending record that the next settle or cancel cleans up.
	sess, err := h.checkout.Open(ctx, rec, appt.Currency, appt.Title, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err, "payment_id", rec.ID)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	tx, err = h.svc.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := h.svc.AttachSession(ctx, tx, rec.ID, sess.ID); err != nil {
		http.Error(w, "failed to persist checkout session", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		PaymentID: rec.ID,
		SessionID: sess.ID,
		URL:       sess.URL,
		Amount:    rec.Amount.String(),
		Tag:       rec.Tag,
	})
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}
	appt, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.repo.ListByUser(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toAppointmentResponse(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

type conflictItem struct {
	Type               string   `json:"type"`
	Severity           string   `json:"severity"`
	Message            string   `json:"message"`
	SuggestedSolutions []string `json:"suggested_solutions"`
}

func (h *AppointmentHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	proID := strings.TrimSpace(r.URL.Query().Get("pro_id"))
	startRaw := strings.TrimSpace(r.URL.Query().Get("start"))
	durationRaw := strings.TrimSpace(r.URL.Query().Get("duration_minutes"))
	if proID == "" || startRaw == "" || durationRaw == "" {
		http.Error(w, "pro_id, start and duration_minutes are required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	durationMinutes, err := strconv.Atoi(durationRaw)
	if err != nil || durationMinutes <= 0 {
		http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
		return
	}

	reports, err := h.svc.DetectConflicts(r.Context(), proID, start, durationMinutes)
	if err != nil {
		http.Error(w, "failed to detect conflicts", http.StatusInternalServerError)
		return
	}

	items := make([]conflictItem, 0, len(reports))
	for _, rep := range reports {
		items = append(items, conflictItem{
			Type:               string(rep.Type),
			Severity:           string(rep.Severity),
			Message:            rep.Message,
			SuggestedSolutions: rep.SuggestedSolutions,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": items,
		"blocking":  conflict.HasBlocking(reports),
	})
}

type slotRequest struct {
	ProID string `json:"pro_id"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (h *AppointmentHandler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProID = strings.TrimSpace(req.ProID)
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Start))
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(req.End))
	if err != nil {
		http.Error(w, "invalid end", http.StatusBadRequest)
		return
	}
	if req.ProID == "" || !end.After(start) {
		http.Error(w, "pro_id required and end must be after start", http.StatusBadRequest)
		return
	}

	if err := h.repo.InsertSlot(r.Context(), req.ProID, conflict.Slot{Start: start, End: end}); err != nil {
		http.Error(w, "failed to create slot", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (h *AppointmentHandler) touch(ctx context.Context, userID string) {
	if err := h.repo.Touch(ctx, userID, time.Now().UTC()); err != nil {
		h.logger.Warn("activity touch failed", "user_id", userID, "err", err)
	}
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, err error) {
	var verr *appointment.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, appointment.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, appointment.ErrAlreadyFinalized),
		errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, appointment.ErrOverpaymentRejected),
		errors.Is(err, storage.ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, appointment.ErrInvalidCandidateIndex):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("appointment operation failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
