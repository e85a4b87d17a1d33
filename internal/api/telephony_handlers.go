package api

import (
	"net/http"

	"github.com/voicedesk/voicedesk/internal/telephony"
)

// validateTelephonyConfig returns an error message for a missing or
// out-of-range field, or "" when the config is complete.
func validateTelephonyConfig(cfg telephony.Config) string {
	switch {
	case cfg.Server == "":
		return "server is required"
	case cfg.Port < 1 || cfg.Port > 65535:
		return "port must be between 1 and 65535"
	case cfg.Username == "":
		return "username is required"
	case cfg.Password == "":
		return "password is required"
	}
	return ""
}

// handleTelephonyTest probes the configured server without touching
// session state.
func (s *Server) handleTelephonyTest(w http.ResponseWriter, r *http.Request) {
	var cfg telephony.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateTelephonyConfig(cfg); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.telephony.Probe(r.Context(), cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

// handleTelephonyRegister establishes the telephony session.
func (s *Server) handleTelephonyRegister(w http.ResponseWriter, r *http.Request) {
	var cfg telephony.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateTelephonyConfig(cfg); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.telephony.Register(r.Context(), cfg); err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"status": s.telephony.GetStatus()})
}

func (s *Server) handleTelephonyUnregister(w http.ResponseWriter, r *http.Request) {
	s.telephony.Unregister()
	writeSuccess(w)
}

func (s *Server) handleTelephonyStatus(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, map[string]any{"status": s.telephony.GetStatus()})
}

// handleSimulateCall injects a synthetic incoming call.
func (s *Server) handleSimulateCall(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallerID string `json:"callerId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.CallerID == "" {
		writeError(w, http.StatusBadRequest, "callerId is required")
		return
	}

	s.telephony.SimulateIncomingCall(body.CallerID)
	writeSuccess(w)
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	s.telephony.EndCall()
	writeSuccess(w)
}
