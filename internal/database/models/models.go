package models

import "time"

// Call log statuses.
const (
	CallStatusActive    = "active"
	CallStatusCompleted = "completed"
	CallStatusFailed    = "failed"
)

// CallLog is one persisted support interaction, keyed by the caller-supplied
// call_id correlation key.
type CallLog struct {
	ID           int64
	CallID       string
	CallerNumber string
	StartTime    time.Time
	EndTime      *time.Time
	Duration     *int // seconds
	Transcript   *string
	Intent       *string
	Resolution   *string
	TicketID     *string
	Status       string
	Recordings   []string
}

// MetricsSample is a periodic, append-only snapshot of aggregate system health.
type MetricsSample struct {
	ID                  int64
	Timestamp           time.Time
	SIPStatus           bool
	OneCStatus          bool
	VoiceStatus         bool
	ActiveCalls         int
	TotalCalls          int
	AvgCallDuration     float64
	RecognitionAccuracy float64
}

// DashboardStats is the derived aggregate served by /api/dashboard/stats.
type DashboardStats struct {
	TotalCallsToday     int     `json:"totalCallsToday"`
	ActiveCallsNow      int     `json:"activeCallsNow"`
	AvgCallDuration     float64 `json:"avgCallDuration"`
	RecognitionAccuracy float64 `json:"recognitionAccuracy"`
	RecentTickets       int     `json:"recentTickets"`
}

// CallAggregates summarizes the call_logs table for metrics samples.
type CallAggregates struct {
	TotalCalls      int
	AvgCallDuration float64
}
