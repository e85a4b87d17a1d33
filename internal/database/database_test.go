package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voicedesk/voicedesk/internal/database/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	// Verify database file was created.
	dbPath := filepath.Join(dir, "voicedesk.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	// Verify WAL mode is active.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	// Verify all tables exist.
	for _, table := range []string{"schema_migrations", "call_logs", "system_metrics"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	// Open twice to verify migrations don't fail on re-run.
	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func TestCallLogRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallLogRepository(db)
	ctx := context.Background()

	start := time.Date(2026, 8, 29, 9, 15, 42, 123_000_000, time.UTC)
	end := start.Add(150 * time.Second)
	duration := 150
	transcript := "не работает сервер"
	ticketID := "IT-2026-001"

	in := &models.CallLog{
		CallID:       "call-roundtrip",
		CallerNumber: "+7-495-123-4567",
		StartTime:    start,
		EndTime:      &end,
		Duration:     &duration,
		Transcript:   &transcript,
		TicketID:     &ticketID,
		Status:       models.CallStatusCompleted,
		Recordings:   []string{"/rec/a.wav", "/rec/b.wav"},
	}
	if err := repo.Create(ctx, in); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if in.ID == 0 {
		t.Error("Create() did not assign an id")
	}

	logs, err := repo.List(ctx, CallLogListFilter{Limit: 10})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("List() returned %d rows, want 1", len(logs))
	}

	got := logs[0]
	if got.CallID != in.CallID || got.CallerNumber != in.CallerNumber {
		t.Errorf("identity fields mismatch: %+v", got)
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, start)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("EndTime = %v, want %v", got.EndTime, end)
	}
	if got.Duration == nil || *got.Duration != duration {
		t.Errorf("Duration = %v, want %d", got.Duration, duration)
	}
	if got.Transcript == nil || *got.Transcript != transcript {
		t.Errorf("Transcript = %v, want %q", got.Transcript, transcript)
	}
	if got.Intent != nil {
		t.Errorf("Intent = %v, want nil", got.Intent)
	}
	if len(got.Recordings) != 2 || got.Recordings[0] != "/rec/a.wav" || got.Recordings[1] != "/rec/b.wav" {
		t.Errorf("Recordings = %v, want ordered pair", got.Recordings)
	}
}

func TestCallLogDuplicateCallID(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallLogRepository(db)
	ctx := context.Background()

	first := &models.CallLog{
		CallID:       "call-dup",
		CallerNumber: "+7-495-111-2233",
		StartTime:    time.Now().UTC(),
		Status:       models.CallStatusActive,
	}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("first Create() error: %v", err)
	}

	second := &models.CallLog{
		CallID:       "call-dup",
		CallerNumber: "+7-495-999-0000",
		StartTime:    time.Now().UTC(),
		Status:       models.CallStatusActive,
	}
	err := repo.Create(ctx, second)
	if err == nil {
		t.Fatal("duplicate Create() succeeded, want error")
	}
	if !errors.Is(err, ErrDuplicateCallID) {
		t.Errorf("duplicate Create() error = %v, want ErrDuplicateCallID", err)
	}

	// The existing row must be untouched.
	existing, err := repo.GetByCallID(ctx, "call-dup")
	if err != nil {
		t.Fatalf("GetByCallID() error: %v", err)
	}
	if existing == nil || existing.CallerNumber != "+7-495-111-2233" {
		t.Errorf("existing row mutated: %+v", existing)
	}
}

func TestCallLogPartialUpdate(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallLogRepository(db)
	ctx := context.Background()

	start := time.Now().UTC().Add(-2 * time.Minute)
	if err := repo.Create(ctx, &models.CallLog{
		CallID:       "call-upd",
		CallerNumber: "+7-495-555-0123",
		StartTime:    start,
		Status:       models.CallStatusActive,
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	end := start.Add(90 * time.Second)
	duration := 90
	status := models.CallStatusCompleted
	if err := repo.UpdateByCallID(ctx, "call-upd", CallLogUpdate{
		EndTime:  &end,
		Duration: &duration,
		Status:   &status,
	}); err != nil {
		t.Fatalf("UpdateByCallID() error: %v", err)
	}

	got, err := repo.GetByCallID(ctx, "call-upd")
	if err != nil {
		t.Fatalf("GetByCallID() error: %v", err)
	}
	if got.Status != models.CallStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Duration == nil || *got.Duration != 90 {
		t.Errorf("Duration = %v, want 90", got.Duration)
	}
	// Unspecified fields retain prior values.
	if got.CallerNumber != "+7-495-555-0123" {
		t.Errorf("CallerNumber = %q, want unchanged", got.CallerNumber)
	}
	if !got.StartTime.Equal(start.Truncate(time.Millisecond)) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, start)
	}
	if got.Transcript != nil {
		t.Errorf("Transcript = %v, want nil", got.Transcript)
	}
}

func TestCallLogUpdateNoFields(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallLogRepository(db)

	err := repo.UpdateByCallID(context.Background(), "whatever", CallLogUpdate{})
	if !errors.Is(err, ErrNoFields) {
		t.Errorf("empty update error = %v, want ErrNoFields", err)
	}
}

func TestCallLogUpdateMissingRowSucceeds(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallLogRepository(db)

	status := models.CallStatusFailed
	if err := repo.UpdateByCallID(context.Background(), "no-such-call", CallLogUpdate{Status: &status}); err != nil {
		t.Errorf("update of missing row error = %v, want nil", err)
	}
}

func TestCallLogListStatusFilterAndOrder(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallLogRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, entry := range []struct {
		id     string
		status string
		offset time.Duration
	}{
		{"call-a", models.CallStatusCompleted, -3 * time.Hour},
		{"call-b", models.CallStatusActive, -2 * time.Hour},
		{"call-c", models.CallStatusActive, -1 * time.Hour},
	} {
		if err := repo.Create(ctx, &models.CallLog{
			CallID:       entry.id,
			CallerNumber: "+7-495-000-0000",
			StartTime:    now.Add(entry.offset),
			Status:       entry.status,
		}); err != nil {
			t.Fatalf("Create() %d error: %v", i, err)
		}
	}

	active, err := repo.List(ctx, CallLogListFilter{Limit: 10, Status: models.CallStatusActive})
	if err != nil {
		t.Fatalf("List(active) error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("List(active) returned %d rows, want 2", len(active))
	}
	// Newest first.
	if active[0].CallID != "call-c" || active[1].CallID != "call-b" {
		t.Errorf("order = [%s %s], want [call-c call-b]", active[0].CallID, active[1].CallID)
	}

	// Pagination.
	page, err := repo.List(ctx, CallLogListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List(page) error: %v", err)
	}
	if len(page) != 1 || page[0].CallID != "call-b" {
		t.Errorf("page = %+v, want call-b", page)
	}
}

func TestDashboardStatsEmptyStore(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallLogRepository(db)

	stats, err := repo.DashboardStats(context.Background())
	if err != nil {
		t.Fatalf("DashboardStats() error: %v", err)
	}
	if stats.TotalCallsToday != 0 || stats.ActiveCallsNow != 0 || stats.RecentTickets != 0 {
		t.Errorf("counts = %+v, want all zero", stats)
	}
	if stats.AvgCallDuration != 0 {
		t.Errorf("AvgCallDuration = %v, want 0", stats.AvgCallDuration)
	}
	if stats.RecognitionAccuracy != defaultAccuracy {
		t.Errorf("RecognitionAccuracy = %v, want %v", stats.RecognitionAccuracy, defaultAccuracy)
	}
}

func TestDashboardStatsAggregates(t *testing.T) {
	db := openTestDB(t)
	calls := NewCallLogRepository(db)
	metrics := NewMetricsRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	duration := 120
	ticketID := "IT-2026-007"
	if err := calls.Create(ctx, &models.CallLog{
		CallID:       "call-today-1",
		CallerNumber: "+7-495-123-4567",
		StartTime:    now.Add(-10 * time.Minute),
		Duration:     &duration,
		TicketID:     &ticketID,
		Status:       models.CallStatusCompleted,
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := calls.Create(ctx, &models.CallLog{
		CallID:       "call-today-2",
		CallerNumber: "+7-495-987-6543",
		StartTime:    now.Add(-1 * time.Minute),
		Status:       models.CallStatusActive,
	}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := metrics.Insert(ctx, &models.MetricsSample{
		Timestamp:           now,
		RecognitionAccuracy: 0.87,
	}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	stats, err := calls.DashboardStats(ctx)
	if err != nil {
		t.Fatalf("DashboardStats() error: %v", err)
	}
	if stats.TotalCallsToday != 2 {
		t.Errorf("TotalCallsToday = %d, want 2", stats.TotalCallsToday)
	}
	if stats.ActiveCallsNow != 1 {
		t.Errorf("ActiveCallsNow = %d, want 1", stats.ActiveCallsNow)
	}
	if stats.AvgCallDuration != 120 {
		t.Errorf("AvgCallDuration = %v, want 120", stats.AvgCallDuration)
	}
	if stats.RecentTickets != 1 {
		t.Errorf("RecentTickets = %d, want 1", stats.RecentTickets)
	}
	if stats.RecognitionAccuracy != 0.87 {
		t.Errorf("RecognitionAccuracy = %v, want 0.87", stats.RecognitionAccuracy)
	}
}

func TestMetricsInsertAndWindow(t *testing.T) {
	db := openTestDB(t)
	repo := NewMetricsRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	recent := &models.MetricsSample{
		Timestamp:           now.Add(-30 * time.Minute),
		SIPStatus:           true,
		VoiceStatus:         true,
		ActiveCalls:         2,
		TotalCalls:          14,
		AvgCallDuration:     96.5,
		RecognitionAccuracy: 0.91,
	}
	old := &models.MetricsSample{
		Timestamp:           now.Add(-48 * time.Hour),
		RecognitionAccuracy: 0.80,
	}
	if err := repo.Insert(ctx, recent); err != nil {
		t.Fatalf("Insert(recent) error: %v", err)
	}
	if err := repo.Insert(ctx, old); err != nil {
		t.Fatalf("Insert(old) error: %v", err)
	}

	samples, err := repo.ListSince(ctx, 24)
	if err != nil {
		t.Fatalf("ListSince() error: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("ListSince(24) returned %d samples, want 1", len(samples))
	}
	got := samples[0]
	if !got.SIPStatus || got.OneCStatus || !got.VoiceStatus {
		t.Errorf("status flags = %+v, want sip+voice only", got)
	}
	if got.ActiveCalls != 2 || got.TotalCalls != 14 {
		t.Errorf("counters = %+v", got)
	}
	if got.AvgCallDuration != 96.5 || got.RecognitionAccuracy != 0.91 {
		t.Errorf("gauges = %+v", got)
	}

	accuracy, ok, err := repo.LatestAccuracy(ctx)
	if err != nil {
		t.Fatalf("LatestAccuracy() error: %v", err)
	}
	if !ok || accuracy != 0.91 {
		t.Errorf("LatestAccuracy() = (%v, %v), want (0.91, true)", accuracy, ok)
	}
}

func TestLatestAccuracyEmpty(t *testing.T) {
	db := openTestDB(t)
	repo := NewMetricsRepository(db)

	_, ok, err := repo.LatestAccuracy(context.Background())
	if err != nil {
		t.Fatalf("LatestAccuracy() error: %v", err)
	}
	if ok {
		t.Error("LatestAccuracy() ok = true on empty store, want false")
	}
}
