package database

import (
	"context"
	"errors"
	"time"

	"github.com/voicedesk/voicedesk/internal/database/models"
)

// ErrDuplicateCallID is returned when inserting a call log whose call_id
// already exists.
var ErrDuplicateCallID = errors.New("call_id already exists")

// ErrNoFields is returned when a partial update supplies no fields.
var ErrNoFields = errors.New("no fields to update")

// CallLogUpdate is the allowlisted set of fields a partial call-log update may
// touch. Nil pointers (and a nil Recordings slice) leave the column untouched.
type CallLogUpdate struct {
	EndTime    *time.Time
	Duration   *int
	Transcript *string
	Intent     *string
	Resolution *string
	TicketID   *string
	Status     *string
	Recordings []string
}

// CallLogListFilter specifies filtering and pagination for call-log queries.
type CallLogListFilter struct {
	Limit  int
	Offset int
	Status string // "active", "completed", "failed", or "" for all
}

// CallLogRepository manages persisted call logs.
type CallLogRepository interface {
	Create(ctx context.Context, log *models.CallLog) error
	GetByCallID(ctx context.Context, callID string) (*models.CallLog, error)
	UpdateByCallID(ctx context.Context, callID string, upd CallLogUpdate) error
	List(ctx context.Context, filter CallLogListFilter) ([]models.CallLog, error)
	Aggregates(ctx context.Context) (models.CallAggregates, error)
	DashboardStats(ctx context.Context) (models.DashboardStats, error)
}

// MetricsRepository manages append-only system metrics samples.
type MetricsRepository interface {
	Insert(ctx context.Context, sample *models.MetricsSample) error
	ListSince(ctx context.Context, hoursBack int) ([]models.MetricsSample, error)
	LatestAccuracy(ctx context.Context) (float64, bool, error)
}
