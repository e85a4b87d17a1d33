package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voicedesk/voicedesk/internal/database/models"
)

// metricsRepo implements MetricsRepository.
type metricsRepo struct {
	db *DB
}

// NewMetricsRepository creates a new MetricsRepository.
func NewMetricsRepository(db *DB) MetricsRepository {
	return &metricsRepo{db: db}
}

// Insert appends a metrics sample. Samples are never updated or deleted.
func (r *metricsRepo) Insert(ctx context.Context, sample *models.MetricsSample) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO system_metrics (timestamp, sip_status, onec_status,
		 voice_status, active_calls, total_calls, avg_call_duration,
		 recognition_accuracy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(sample.Timestamp), sample.SIPStatus, sample.OneCStatus,
		sample.VoiceStatus, sample.ActiveCalls, sample.TotalCalls,
		sample.AvgCallDuration, sample.RecognitionAccuracy,
	)
	if err != nil {
		return fmt.Errorf("inserting metrics sample: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	sample.ID = id
	return nil
}

// ListSince returns all samples within the trailing window, newest first.
func (r *metricsRepo) ListSince(ctx context.Context, hoursBack int) ([]models.MetricsSample, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, timestamp, sip_status, onec_status, voice_status,
		 active_calls, total_calls, avg_call_duration, recognition_accuracy
		 FROM system_metrics
		 WHERE datetime(timestamp) > datetime('now', '-' || ? || ' hours')
		 ORDER BY timestamp DESC`, hoursBack,
	)
	if err != nil {
		return nil, fmt.Errorf("listing metrics: %w", err)
	}
	defer rows.Close()

	var samples []models.MetricsSample
	for rows.Next() {
		var m models.MetricsSample
		var ts string
		if err := rows.Scan(&m.ID, &ts, &m.SIPStatus, &m.OneCStatus,
			&m.VoiceStatus, &m.ActiveCalls, &m.TotalCalls,
			&m.AvgCallDuration, &m.RecognitionAccuracy); err != nil {
			return nil, fmt.Errorf("scanning metrics row: %w", err)
		}
		m.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parsing metrics timestamp: %w", err)
		}
		samples = append(samples, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metrics rows: %w", err)
	}

	return samples, nil
}

// LatestAccuracy returns the most recent sample's recognition accuracy.
// The second return value is false when no sample exists.
func (r *metricsRepo) LatestAccuracy(ctx context.Context) (float64, bool, error) {
	var accuracy float64
	err := r.db.QueryRowContext(ctx,
		`SELECT recognition_accuracy FROM system_metrics ORDER BY timestamp DESC LIMIT 1`,
	).Scan(&accuracy)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading latest accuracy: %w", err)
	}
	return accuracy, true, nil
}
