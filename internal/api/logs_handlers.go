package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicedesk/voicedesk/internal/database"
	"github.com/voicedesk/voicedesk/internal/database/models"
)

var callStatuses = map[string]bool{
	models.CallStatusActive:    true,
	models.CallStatusCompleted: true,
	models.CallStatusFailed:    true,
}

type callLogResponse struct {
	ID           int64    `json:"id"`
	CallID       string   `json:"callId"`
	CallerNumber string   `json:"callerNumber"`
	StartTime    string   `json:"startTime"`
	EndTime      *string  `json:"endTime,omitempty"`
	Duration     *int     `json:"duration,omitempty"`
	Transcript   *string  `json:"transcript,omitempty"`
	Intent       *string  `json:"intent,omitempty"`
	Resolution   *string  `json:"resolution,omitempty"`
	TicketID     *string  `json:"ticketId,omitempty"`
	Status       string   `json:"status"`
	Recordings   []string `json:"recordings"`
}

func callLogToResponse(cl *models.CallLog) callLogResponse {
	resp := callLogResponse{
		ID:           cl.ID,
		CallID:       cl.CallID,
		CallerNumber: cl.CallerNumber,
		StartTime:    cl.StartTime.UTC().Format(time.RFC3339Nano),
		Duration:     cl.Duration,
		Transcript:   cl.Transcript,
		Intent:       cl.Intent,
		Resolution:   cl.Resolution,
		TicketID:     cl.TicketID,
		Status:       cl.Status,
		Recordings:   cl.Recordings,
	}
	if resp.Recordings == nil {
		resp.Recordings = []string{}
	}
	if cl.EndTime != nil {
		s := cl.EndTime.UTC().Format(time.RFC3339Nano)
		resp.EndTime = &s
	}
	return resp
}

func (s *Server) handleListCallLogs(w http.ResponseWriter, r *http.Request) {
	filter := database.CallLogListFilter{Limit: 50}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}
	if v := r.URL.Query().Get("status"); v != "" {
		if !callStatuses[v] {
			writeError(w, http.StatusBadRequest, "status must be one of active, completed, failed")
			return
		}
		filter.Status = v
	}

	logs, err := s.calls.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]callLogResponse, 0, len(logs))
	for i := range logs {
		out = append(out, callLogToResponse(&logs[i]))
	}
	writeResult(w, http.StatusOK, map[string]any{"logs": out})
}

func (s *Server) handleCreateCallLog(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallID       string   `json:"callId"`
		CallerNumber string   `json:"callerNumber"`
		StartTime    string   `json:"startTime"`
		Status       string   `json:"status"`
		Recordings   []string `json:"recordings"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.CallID == "" {
		writeError(w, http.StatusBadRequest, "callId is required")
		return
	}
	if body.CallerNumber == "" {
		writeError(w, http.StatusBadRequest, "callerNumber is required")
		return
	}
	start, err := time.Parse(time.RFC3339Nano, body.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "startTime must be an RFC 3339 timestamp")
		return
	}
	status := body.Status
	if status == "" {
		status = models.CallStatusActive
	} else if !callStatuses[status] {
		writeError(w, http.StatusBadRequest, "status must be one of active, completed, failed")
		return
	}

	cl := &models.CallLog{
		CallID:       body.CallID,
		CallerNumber: body.CallerNumber,
		StartTime:    start,
		Status:       status,
		Recordings:   body.Recordings,
	}
	if err := s.calls.Create(r.Context(), cl); err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, map[string]any{"id": cl.ID})
}

func (s *Server) handleUpdateCallLog(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	var body struct {
		EndTime    *string  `json:"endTime"`
		Duration   *int     `json:"duration"`
		Transcript *string  `json:"transcript"`
		Intent     *string  `json:"intent"`
		Resolution *string  `json:"resolution"`
		TicketID   *string  `json:"ticketId"`
		Status     *string  `json:"status"`
		Recordings []string `json:"recordings"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upd := database.CallLogUpdate{
		Duration:   body.Duration,
		Transcript: body.Transcript,
		Intent:     body.Intent,
		Resolution: body.Resolution,
		TicketID:   body.TicketID,
		Recordings: body.Recordings,
	}
	if body.EndTime != nil {
		end, err := time.Parse(time.RFC3339Nano, *body.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "endTime must be an RFC 3339 timestamp")
			return
		}
		upd.EndTime = &end
	}
	if body.Status != nil {
		if !callStatuses[*body.Status] {
			writeError(w, http.StatusBadRequest, "status must be one of active, completed, failed")
			return
		}
		upd.Status = body.Status
	}

	if err := s.calls.UpdateByCallID(r.Context(), callID, upd); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.calls.DashboardStats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"stats": stats})
}

type metricsSampleResponse struct {
	ID                  int64   `json:"id"`
	Timestamp           string  `json:"timestamp"`
	SIPStatus           bool    `json:"sipStatus"`
	OneCStatus          bool    `json:"oneCStatus"`
	VoiceStatus         bool    `json:"voiceStatus"`
	ActiveCalls         int     `json:"activeCalls"`
	TotalCalls          int     `json:"totalCalls"`
	AvgCallDuration     float64 `json:"avgCallDuration"`
	RecognitionAccuracy float64 `json:"recognitionAccuracy"`
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}

	samples, err := s.metrics.ListSince(r.Context(), hours)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]metricsSampleResponse, 0, len(samples))
	for _, m := range samples {
		out = append(out, metricsSampleResponse{
			ID:                  m.ID,
			Timestamp:           m.Timestamp.UTC().Format(time.RFC3339Nano),
			SIPStatus:           m.SIPStatus,
			OneCStatus:          m.OneCStatus,
			VoiceStatus:         m.VoiceStatus,
			ActiveCalls:         m.ActiveCalls,
			TotalCalls:          m.TotalCalls,
			AvgCallDuration:     m.AvgCallDuration,
			RecognitionAccuracy: m.RecognitionAccuracy,
		})
	}
	writeResult(w, http.StatusOK, map[string]any{"metrics": out})
}

func (s *Server) handleInsertMetrics(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Timestamp           string  `json:"timestamp"`
		SIPStatus           bool    `json:"sipStatus"`
		OneCStatus          bool    `json:"oneCStatus"`
		VoiceStatus         bool    `json:"voiceStatus"`
		ActiveCalls         int     `json:"activeCalls"`
		TotalCalls          int     `json:"totalCalls"`
		AvgCallDuration     float64 `json:"avgCallDuration"`
		RecognitionAccuracy float64 `json:"recognitionAccuracy"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ts := time.Now()
	if body.Timestamp != "" {
		var err error
		ts, err = time.Parse(time.RFC3339Nano, body.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be an RFC 3339 timestamp")
			return
		}
	}

	sample := &models.MetricsSample{
		Timestamp:           ts,
		SIPStatus:           body.SIPStatus,
		OneCStatus:          body.OneCStatus,
		VoiceStatus:         body.VoiceStatus,
		ActiveCalls:         body.ActiveCalls,
		TotalCalls:          body.TotalCalls,
		AvgCallDuration:     body.AvgCallDuration,
		RecognitionAccuracy: body.RecognitionAccuracy,
	}
	if err := s.metrics.Insert(r.Context(), sample); err != nil {
		writeServiceError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, map[string]any{"id": sample.ID})
}
