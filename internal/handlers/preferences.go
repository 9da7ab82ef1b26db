package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/antoine13330/INKSPOT-5z-sub000/internal/reminder"
)

type preferencesBody struct {
	UserID     string              `json:"user_id"`
	Timezone   string              `json:"timezone"`
	Conditions reminder.Conditions `json:"conditions"`
}

// Preferences reads or replaces a user's reminder delivery settings.
func (h *AppointmentHandler) Preferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}
		prefs, err := h.repo.GetPreferences(r.Context(), userID)
		if err != nil {
			http.Error(w, "failed to load preferences", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, preferencesBody{
			UserID:     userID,
			Timezone:   prefs.Timezone,
			Conditions: prefs.Conditions,
		})

	case http.MethodPut, http.MethodPost:
		var req preferencesBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		req.Timezone = strings.TrimSpace(req.Timezone)
		if req.UserID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}
		if req.Timezone == "" {
			req.Timezone = "UTC"
		}
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			http.Error(w, "invalid timezone", http.StatusBadRequest)
			return
		}
		for _, win := range req.Conditions.Windows {
			if _, err := time.Parse("15:04", win.From); err != nil {
				http.Error(w, "invalid window from", http.StatusBadRequest)
				return
			}
			if _, err := time.Parse("15:04", win.To); err != nil {
				http.Error(w, "invalid window to", http.StatusBadRequest)
				return
			}
		}

		if err := h.repo.SavePreferences(r.Context(), req.UserID, reminder.Preferences{
			Timezone:   req.Timezone,
			Conditions: req.Conditions,
		}); err != nil {
			http.Error(w, "failed to save preferences", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
