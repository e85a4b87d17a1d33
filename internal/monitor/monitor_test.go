package monitor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/voicedesk/voicedesk/internal/database"
	"github.com/voicedesk/voicedesk/internal/database/models"
	"github.com/voicedesk/voicedesk/internal/telephony"
	"github.com/voicedesk/voicedesk/internal/ticketing"
	"github.com/voicedesk/voicedesk/internal/voice"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testMonitor(t *testing.T) (*Monitor, *telephony.Service, database.CallLogRepository, database.MetricsRepository) {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	tel := telephony.NewService(logger, time.Second, time.Hour)
	tick := ticketing.NewService(logger, time.Second)
	speech := voice.NewService(logger, time.Second, t.TempDir(), t.TempDir(), t.TempDir())
	calls := database.NewCallLogRepository(db)
	metrics := database.NewMetricsRepository(db)

	return New(logger, time.Hour, tel, tick, speech, calls, metrics), tel, calls, metrics
}

func TestCollectWritesSample(t *testing.T) {
	m, tel, calls, metrics := testMonitor(t)
	ctx := context.Background()

	duration := 80
	if err := calls.Create(ctx, &models.CallLog{
		CallID:       "call-1",
		CallerNumber: "+7-495-000-1111",
		StartTime:    time.Now().UTC(),
		Duration:     &duration,
		Status:       models.CallStatusCompleted,
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	tel.SimulateIncomingCall("+7-495-000-2222")

	if err := m.Collect(ctx); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}

	samples, err := metrics.ListSince(ctx, 1)
	if err != nil {
		t.Fatalf("ListSince() error: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}

	sample := samples[0]
	if sample.SIPStatus || sample.OneCStatus || sample.VoiceStatus {
		t.Errorf("status flags = %+v, want all down", sample)
	}
	if sample.ActiveCalls != 1 {
		t.Errorf("ActiveCalls = %d, want 1", sample.ActiveCalls)
	}
	// Totals and averages come from the call-log table, including the
	// event-relayed row for the simulated call.
	if sample.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d, want 2", sample.TotalCalls)
	}
	if sample.AvgCallDuration != 80 {
		t.Errorf("AvgCallDuration = %v, want 80", sample.AvgCallDuration)
	}
	if sample.RecognitionAccuracy != 0.92 {
		t.Errorf("RecognitionAccuracy = %v, want 0.92", sample.RecognitionAccuracy)
	}
}

func TestIncomingCallRelay(t *testing.T) {
	_, tel, calls, _ := testMonitor(t)

	tel.SimulateIncomingCall("+1-555-0100")

	logs, err := calls.List(context.Background(), database.CallLogListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d call logs, want 1", len(logs))
	}
	entry := logs[0]
	if entry.CallerNumber != "+1-555-0100" {
		t.Errorf("CallerNumber = %q, want +1-555-0100", entry.CallerNumber)
	}
	if entry.Status != models.CallStatusActive {
		t.Errorf("Status = %q, want active", entry.Status)
	}
	if len(entry.CallID) == 0 || entry.CallID[:5] != "call-" {
		t.Errorf("CallID = %q, want call-<millis>", entry.CallID)
	}
}

func TestStartStops(t *testing.T) {
	m, _, _, _ := testMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	// The loop must exit on cancellation without writing anything.
	time.Sleep(50 * time.Millisecond)
}
