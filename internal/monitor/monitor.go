package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voicedesk/voicedesk/internal/database"
	"github.com/voicedesk/voicedesk/internal/database/models"
	"github.com/voicedesk/voicedesk/internal/telephony"
	"github.com/voicedesk/voicedesk/internal/ticketing"
	"github.com/voicedesk/voicedesk/internal/voice"
)

const defaultInterval = 60 * time.Second

// Monitor is the single scheduled metrics writer: each tick it snapshots
// the three services, pulls call aggregates from the store and appends
// one system_metrics row. It also relays telephony events into the
// call log.
type Monitor struct {
	logger   *slog.Logger
	interval time.Duration

	telephony *telephony.Service
	ticketing *ticketing.Service
	voice     *voice.Service
	calls     database.CallLogRepository
	metrics   database.MetricsRepository
}

// New creates a monitor and wires the telephony event relay. A zero
// interval falls back to 60s.
func New(
	logger *slog.Logger,
	interval time.Duration,
	tel *telephony.Service,
	tick *ticketing.Service,
	speech *voice.Service,
	calls database.CallLogRepository,
	metrics database.MetricsRepository,
) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	m := &Monitor{
		logger:    logger.With("subsystem", "monitor"),
		interval:  interval,
		telephony: tel,
		ticketing: tick,
		voice:     speech,
		calls:     calls,
		metrics:   metrics,
	}

	tel.Subscribe(telephony.EventIncomingCall, m.onIncomingCall)
	tel.Subscribe(telephony.EventCallEnded, func(ev telephony.Event) {
		m.logger.Info("call ended", "active_calls", ev.Status.ActiveCalls)
	})
	tel.Subscribe(telephony.EventRegistered, func(ev telephony.Event) {
		m.logger.Info("telephony registered")
	})
	tel.Subscribe(telephony.EventConnectionLost, func(ev telephony.Event) {
		m.logger.Warn("telephony connection lost", "error", ev.Status.LastError)
	})

	return m
}

// Start runs the collection loop until the context is canceled.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	m.logger.Info("metrics collection started", "interval", m.interval.String())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("metrics collection stopped")
			return
		case <-ticker.C:
			if err := m.Collect(ctx); err != nil {
				m.logger.Error("metrics collection failed", "error", err)
			}
		}
	}
}

// Collect takes one snapshot and appends a metrics row.
func (m *Monitor) Collect(ctx context.Context) error {
	telStatus := m.telephony.GetStatus()
	tickStatus := m.ticketing.GetStatus()
	voiceStatus := m.voice.GetStatus()

	agg, err := m.calls.Aggregates(ctx)
	if err != nil {
		return fmt.Errorf("reading call aggregates: %w", err)
	}

	sample := models.MetricsSample{
		Timestamp:           time.Now().UTC(),
		SIPStatus:           telStatus.Connected,
		OneCStatus:          tickStatus.Connected,
		VoiceStatus:         voiceStatus.TTSReady && voiceStatus.STTReady,
		ActiveCalls:         telStatus.ActiveCalls,
		TotalCalls:          agg.TotalCalls,
		AvgCallDuration:     agg.AvgCallDuration,
		RecognitionAccuracy: voiceStatus.Accuracy,
	}

	if err := m.metrics.Insert(ctx, &sample); err != nil {
		return fmt.Errorf("inserting metrics sample: %w", err)
	}

	m.logger.Debug("metrics sample recorded",
		"sip", sample.SIPStatus,
		"onec", sample.OneCStatus,
		"voice", sample.VoiceStatus,
		"active_calls", sample.ActiveCalls,
		"total_calls", sample.TotalCalls,
	)
	return nil
}

// onIncomingCall persists a new active call-log row for a synthetic call.
func (m *Monitor) onIncomingCall(ev telephony.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := models.CallLog{
		CallID:       fmt.Sprintf("call-%d", ev.Timestamp.UnixMilli()),
		CallerNumber: ev.CallerID,
		StartTime:    ev.Timestamp,
		Status:       models.CallStatusActive,
	}
	if err := m.calls.Create(ctx, &entry); err != nil {
		m.logger.Error("persisting incoming call", "call_id", entry.CallID, "error", err)
		return
	}
	m.logger.Info("incoming call logged", "call_id", entry.CallID, "caller", ev.CallerID)
}
