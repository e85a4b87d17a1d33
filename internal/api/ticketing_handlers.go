package api

import (
	"net/http"
	"strconv"

	"github.com/voicedesk/voicedesk/internal/ticketing"
)

func validateTicketingConfig(cfg ticketing.Config) string {
	switch {
	case cfg.BaseURL == "":
		return "baseUrl is required"
	case cfg.APIKey == "":
		return "apiKey is required"
	}
	return ""
}

// handleTicketingTest probes the gateway without touching session state.
func (s *Server) handleTicketingTest(w http.ResponseWriter, r *http.Request) {
	var cfg ticketing.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateTicketingConfig(cfg); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	version, err := s.ticketing.TestConnection(r.Context(), cfg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"version": version})
}

func (s *Server) handleTicketingConnect(w http.ResponseWriter, r *http.Request) {
	var cfg ticketing.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateTicketingConfig(cfg); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.ticketing.Connect(r.Context(), cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"status": s.ticketing.GetStatus()})
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var data ticketing.TicketData
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if data.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if data.CustomerName == "" {
		writeError(w, http.StatusBadRequest, "customerName is required")
		return
	}

	ticketID, err := s.ticketing.CreateTicket(r.Context(), data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"ticketId": ticketID})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	tickets, err := s.ticketing.ListTickets(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (s *Server) handleTicketingStatus(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, map[string]any{"status": s.ticketing.GetStatus()})
}
