package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/store"
)

const (
	defaultInterestLevel     = "faible"
	defaultPreferredNextStep = "juste_exploration"
)

type leadRequest struct {
	Name              string   `json:"lead_name" validate:"max=200"`
	Role              string   `json:"lead_role" validate:"max=200"`
	Company           string   `json:"lead_company" validate:"max=200"`
	CompanySize       string   `json:"lead_company_size" validate:"max=100"`
	Sector            string   `json:"lead_sector" validate:"max=200"`
	Email             string   `json:"lead_email" validate:"omitempty,email"`
	Phone             string   `json:"lead_phone" validate:"max=50"`
	ContextSummary    string   `json:"context_summary" validate:"max=5000"`
	PainPoints        []string `json:"main_pain_points" validate:"max=20,dive,max=500"`
	TasksToAutomate   []string `json:"tasks_to_automate" validate:"max=20,dive,max=500"`
	HoursPerWeek      float64  `json:"estimated_time_spent_per_week_hours" validate:"gte=0,lte=168"`
	MaturityLevel     int      `json:"iai_maturity_level" validate:"gte=0,lte=3"`
	InterestLevel     string   `json:"interest_level" validate:"max=50"`
	PreferredNextStep string   `json:"preferred_next_step" validate:"max=50"`
	CalcomLinkClicked bool     `json:"calcom_link_clicked"`
	ConversationID    string   `json:"conversation_id" validate:"omitempty,uuid"`
}

// handleSaveLead serves POST /api/leads.
func (s *Server) handleSaveLead(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid lead: "+err.Error())
		return
	}

	lead := store.Lead{
		Name:              req.Name,
		Role:              req.Role,
		Company:           req.Company,
		CompanySize:       req.CompanySize,
		Sector:            req.Sector,
		Email:             req.Email,
		Phone:             req.Phone,
		ContextSummary:    req.ContextSummary,
		PainPoints:        req.PainPoints,
		TasksToAutomate:   req.TasksToAutomate,
		HoursPerWeek:      req.HoursPerWeek,
		MaturityLevel:     req.MaturityLevel,
		InterestLevel:     req.InterestLevel,
		PreferredNextStep: req.PreferredNextStep,
		CalcomLinkClicked: req.CalcomLinkClicked,
	}
	if lead.InterestLevel == "" {
		lead.InterestLevel = defaultInterestLevel
	}
	if lead.PreferredNextStep == "" {
		lead.PreferredNextStep = defaultPreferredNextStep
	}

	id, err := s.chat.SaveLead(r.Context(), lead, req.ConversationID)
	switch {
	case errors.Is(err, store.ErrLeadExists):
		writeError(w, http.StatusConflict, "lead already saved for this conversation")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.logger.Error("save lead", "conversation_id", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "lead_id": id.String()})
}
