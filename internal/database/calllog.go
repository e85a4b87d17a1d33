package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voicedesk/voicedesk/internal/database/models"
)

// callLogRepo implements CallLogRepository.
type callLogRepo struct {
	db *DB
}

// NewCallLogRepository creates a new CallLogRepository.
func NewCallLogRepository(db *DB) CallLogRepository {
	return &callLogRepo{db: db}
}

// defaultAccuracy is reported when no metrics sample exists yet.
const defaultAccuracy = 0.92

// Create inserts a new call log. The call_id uniqueness constraint is
// enforced by the store; violations surface as ErrDuplicateCallID.
func (r *callLogRepo) Create(ctx context.Context, log *models.CallLog) error {
	recordings, err := encodeRecordings(log.Recordings)
	if err != nil {
		return fmt.Errorf("encoding recordings: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO call_logs (call_id, caller_number, start_time, end_time,
		 duration, transcript, intent, resolution, ticket_id, status, recordings)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.CallID, log.CallerNumber, formatTime(log.StartTime),
		formatTimePtr(log.EndTime), log.Duration, log.Transcript, log.Intent,
		log.Resolution, log.TicketID, log.Status, recordings,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("inserting call log %q: %w", log.CallID, ErrDuplicateCallID)
		}
		return fmt.Errorf("inserting call log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	log.ID = id
	return nil
}

// GetByCallID returns a call log by its correlation key, or nil if absent.
func (r *callLogRepo) GetByCallID(ctx context.Context, callID string) (*models.CallLog, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, call_id, caller_number, start_time, end_time, duration,
		 transcript, intent, resolution, ticket_id, status, recordings
		 FROM call_logs WHERE call_id = ?`, callID,
	)

	log, err := scanCallLog(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call log: %w", err)
	}
	return log, nil
}

// UpdateByCallID applies a partial update to the row matching callID. Only
// the fields set on upd are touched; the column list is a fixed allowlist.
// A zero-row match is not an error.
func (r *callLogRepo) UpdateByCallID(ctx context.Context, callID string, upd CallLogUpdate) error {
	var sets []string
	var args []any

	if upd.EndTime != nil {
		sets = append(sets, "end_time = ?")
		args = append(args, formatTime(*upd.EndTime))
	}
	if upd.Duration != nil {
		sets = append(sets, "duration = ?")
		args = append(args, *upd.Duration)
	}
	if upd.Transcript != nil {
		sets = append(sets, "transcript = ?")
		args = append(args, *upd.Transcript)
	}
	if upd.Intent != nil {
		sets = append(sets, "intent = ?")
		args = append(args, *upd.Intent)
	}
	if upd.Resolution != nil {
		sets = append(sets, "resolution = ?")
		args = append(args, *upd.Resolution)
	}
	if upd.TicketID != nil {
		sets = append(sets, "ticket_id = ?")
		args = append(args, *upd.TicketID)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.Recordings != nil {
		recordings, err := encodeRecordings(upd.Recordings)
		if err != nil {
			return fmt.Errorf("encoding recordings: %w", err)
		}
		sets = append(sets, "recordings = ?")
		args = append(args, recordings)
	}

	if len(sets) == 0 {
		return ErrNoFields
	}

	args = append(args, callID)
	query := "UPDATE call_logs SET " + strings.Join(sets, ", ") + " WHERE call_id = ?"
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating call log %q: %w", callID, err)
	}
	return nil
}

// List returns call logs ordered by start time descending, optionally
// filtered by status.
func (r *callLogRepo) List(ctx context.Context, filter CallLogListFilter) ([]models.CallLog, error) {
	where := "1=1"
	args := []any{}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	query := `SELECT id, call_id, caller_number, start_time, end_time, duration,
		 transcript, intent, resolution, ticket_id, status, recordings
		 FROM call_logs WHERE ` + where + ` ORDER BY start_time DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing call logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CallLog
	for rows.Next() {
		log, err := scanCallLog(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning call log row: %w", err)
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call log rows: %w", err)
	}

	return logs, nil
}

// Aggregates returns the total call count and average duration across rows
// with a recorded duration. Feeds the periodic metrics sample.
func (r *callLogRepo) Aggregates(ctx context.Context) (models.CallAggregates, error) {
	var agg models.CallAggregates
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(CASE WHEN duration IS NOT NULL THEN duration END)
		 FROM call_logs`).Scan(&agg.TotalCalls, &avg)
	if err != nil {
		return models.CallAggregates{}, fmt.Errorf("aggregating call logs: %w", err)
	}
	if avg.Valid {
		agg.AvgCallDuration = avg.Float64
	}
	return agg, nil
}

// DashboardStats computes the trailing-7-day dashboard aggregate joined with
// the most recent recognition accuracy sample (0.92 when none exists).
func (r *callLogRepo) DashboardStats(ctx context.Context) (models.DashboardStats, error) {
	var stats models.DashboardStats
	var avg sql.NullFloat64

	err := r.db.QueryRowContext(ctx, `
		SELECT
		  COUNT(CASE WHEN date(start_time) = date('now') THEN 1 END),
		  COUNT(CASE WHEN status = 'active' THEN 1 END),
		  AVG(CASE WHEN duration IS NOT NULL THEN duration END),
		  COUNT(CASE WHEN date(start_time) = date('now') AND ticket_id IS NOT NULL THEN 1 END)
		FROM call_logs
		WHERE datetime(start_time) > datetime('now', '-7 days')`,
	).Scan(&stats.TotalCallsToday, &stats.ActiveCallsNow, &avg, &stats.RecentTickets)
	if err != nil {
		return models.DashboardStats{}, fmt.Errorf("aggregating dashboard stats: %w", err)
	}
	if avg.Valid {
		stats.AvgCallDuration = avg.Float64
	}

	var accuracy sql.NullFloat64
	err = r.db.QueryRowContext(ctx,
		`SELECT recognition_accuracy FROM system_metrics ORDER BY timestamp DESC LIMIT 1`,
	).Scan(&accuracy)
	switch {
	case err == sql.ErrNoRows:
		stats.RecognitionAccuracy = defaultAccuracy
	case err != nil:
		return models.DashboardStats{}, fmt.Errorf("reading latest accuracy: %w", err)
	case accuracy.Valid:
		stats.RecognitionAccuracy = accuracy.Float64
	default:
		stats.RecognitionAccuracy = defaultAccuracy
	}

	return stats, nil
}

// scanCallLog reads one call_logs row via the given scan function.
func scanCallLog(scan func(dest ...any) error) (*models.CallLog, error) {
	var c models.CallLog
	var startTime string
	var endTime, recordings sql.NullString

	err := scan(&c.ID, &c.CallID, &c.CallerNumber, &startTime, &endTime,
		&c.Duration, &c.Transcript, &c.Intent, &c.Resolution, &c.TicketID,
		&c.Status, &recordings)
	if err != nil {
		return nil, err
	}

	c.StartTime, err = parseTime(startTime)
	if err != nil {
		return nil, fmt.Errorf("parsing start_time: %w", err)
	}
	if endTime.Valid {
		t, err := parseTime(endTime.String)
		if err != nil {
			return nil, fmt.Errorf("parsing end_time: %w", err)
		}
		c.EndTime = &t
	}
	if recordings.Valid && recordings.String != "" {
		if err := json.Unmarshal([]byte(recordings.String), &c.Recordings); err != nil {
			return nil, fmt.Errorf("decoding recordings: %w", err)
		}
	}
	if c.Recordings == nil {
		c.Recordings = []string{}
	}
	return &c, nil
}

// encodeRecordings serializes the recording path list as JSON.
func encodeRecordings(paths []string) (string, error) {
	if paths == nil {
		paths = []string{}
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// formatTime renders a timestamp in the canonical storage layout (UTC,
// millisecond precision).
func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime reads a stored timestamp back. Accepts any RFC3339 variant so
// rows written by other tooling still load.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
