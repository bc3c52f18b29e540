package audit

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/lukeeterna/fluxion-core/domain/audit"
	"github.com/lukeeterna/fluxion-core/infrastructure/auditstore"
	"github.com/lukeeterna/fluxion-core/infrastructure/storage"
)

func newTestService(t *testing.T, now time.Time) *Service {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	engine, err := storage.Open(ctx, filepath.Join(dir, "fluxion.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	store := auditstore.New(engine.DB())
	return New(store, WithClock(func() time.Time { return now }))
}

func baseInput() BuilderInput {
	userID := "operator1"
	return BuilderInput{
		UserID:   &userID,
		UserRole: audit.RoleOperator,
		EntityType: "client",
		EntityID:   "client-1",
		Source:     audit.SourceWeb,
		Category:   audit.CategoryPersonalData,
	}
}

type clientRecord struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

func TestLogCreateSetsDataAfterOnly(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	entry, err := svc.LogCreate(ctx, baseInput(), clientRecord{Name: "Mario", Email: "m@x"})
	if err != nil {
		t.Fatalf("LogCreate() error = %v", err)
	}
	if entry.Action != audit.ActionCreate {
		t.Errorf("Action = %v, want Create", entry.Action)
	}
	if entry.DataBefore != nil {
		t.Error("expected nil DataBefore on create")
	}
	if entry.DataAfter == nil {
		t.Error("expected DataAfter set on create")
	}
	wantRetention := now.AddDate(DefaultRetentionYears, 0, 0)
	if !entry.RetentionUntil.Equal(wantRetention) {
		t.Errorf("RetentionUntil = %v, want %v", entry.RetentionUntil, wantRetention)
	}
}

// S7 — before={"name":"Mario","email":"m@x"}, after={"name":"Mario",
// "email":"m@y","phone":"123"} → changed_fields={"email","phone"}.
func TestLogUpdateComputesChangedFields(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	before := clientRecord{Name: "Mario", Email: "m@x"}
	after := clientRecord{Name: "Mario", Email: "m@y", Phone: "123"}

	entry, err := svc.LogUpdate(ctx, baseInput(), before, after)
	if err != nil {
		t.Fatalf("LogUpdate() error = %v", err)
	}

	fields := append([]string(nil), entry.ChangedFields...)
	sort.Strings(fields)
	want := []string{"email", "phone"}
	if len(fields) != len(want) {
		t.Fatalf("ChangedFields = %v, want %v", fields, want)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("ChangedFields = %v, want %v", fields, want)
		}
	}
}

func TestLogDeleteSetsDataBeforeOnly(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	entry, err := svc.LogDelete(ctx, baseInput(), clientRecord{Name: "Mario", Email: "m@x"})
	if err != nil {
		t.Fatalf("LogDelete() error = %v", err)
	}
	if entry.DataBefore == nil {
		t.Error("expected DataBefore set on delete")
	}
	if entry.DataAfter != nil {
		t.Error("expected nil DataAfter on delete")
	}
}

func TestLogCreateRejectsMissingRequiredField(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	in := baseInput()
	in.Source = ""
	if _, err := svc.LogCreate(ctx, in, clientRecord{Name: "Mario"}); err == nil {
		t.Fatal("expected error for missing source field")
	}
}

func TestRunGDPRAnonymizationAnonymizesDueEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	// Retention already elapsed: retention_years=0 puts RetentionUntil at now.
	svc.retentionYears = 0
	entry, err := svc.LogCreate(ctx, baseInput(), clientRecord{Name: "Mario"})
	if err != nil {
		t.Fatalf("LogCreate() error = %v", err)
	}

	count, err := svc.RunGDPRAnonymization(ctx)
	if err != nil {
		t.Fatalf("RunGDPRAnonymization() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("RunGDPRAnonymization() = %d, want 1", count)
	}

	history, err := svc.GetEntityHistory(ctx, entry.EntityType, entry.EntityID)
	if err != nil {
		t.Fatalf("GetEntityHistory() error = %v", err)
	}
	if len(history) != 1 || !history[0].IsAnonymized() {
		t.Fatalf("expected the sole entity history entry to be anonymized, got %+v", history)
	}
}

func TestCleanupExpiredLogsRequiresAnonymizedAndBuffer(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	ctx := context.Background()
	engine, err := storage.Open(ctx, filepath.Join(dir, "fluxion.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	store := auditstore.New(engine.DB())

	clock := start
	svc := New(store, WithClock(func() time.Time { return clock }), WithRetentionYears(0))

	if _, err := svc.LogCreate(ctx, baseInput(), clientRecord{Name: "Mario"}); err != nil {
		t.Fatalf("LogCreate() error = %v", err)
	}
	if _, err := svc.RunGDPRAnonymization(ctx); err != nil {
		t.Fatalf("RunGDPRAnonymization() error = %v", err)
	}

	// Not yet past the buffer window: nothing eligible for deletion.
	deleted, err := svc.CleanupExpiredLogs(ctx, 7)
	if err != nil {
		t.Fatalf("CleanupExpiredLogs() error = %v", err)
	}
	if deleted != 0 {
		t.Fatalf("CleanupExpiredLogs() = %d, want 0 before buffer elapses", deleted)
	}

	clock = start.AddDate(0, 0, 8)
	deleted, err = svc.CleanupExpiredLogs(ctx, 7)
	if err != nil {
		t.Fatalf("CleanupExpiredLogs() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("CleanupExpiredLogs() = %d, want 1 after buffer elapses", deleted)
	}
}

func TestGetStatisticsTalliesAcrossDimensions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	if _, err := svc.LogCreate(ctx, baseInput(), clientRecord{Name: "Mario"}); err != nil {
		t.Fatalf("LogCreate() error = %v", err)
	}
	updateInput := baseInput()
	if _, err := svc.LogUpdate(ctx, updateInput, clientRecord{Name: "Mario"}, clientRecord{Name: "Marietto"}); err != nil {
		t.Fatalf("LogUpdate() error = %v", err)
	}

	stats, err := svc.GetStatistics(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetStatistics() error = %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.ByAction[audit.ActionCreate] != 1 || stats.ByAction[audit.ActionUpdate] != 1 {
		t.Errorf("ByAction = %+v", stats.ByAction)
	}
}

func TestReconstructEntityHistoryFiltersByPointInTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, now)
	ctx := context.Background()

	if _, err := svc.LogCreate(ctx, baseInput(), clientRecord{Name: "Mario"}); err != nil {
		t.Fatalf("LogCreate() error = %v", err)
	}

	history, err := svc.ReconstructEntityHistory(ctx, "client", "client-1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReconstructEntityHistory() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected no entries before capture instant, got %d", len(history))
	}

	history, err = svc.ReconstructEntityHistory(ctx, "client", "client-1", now)
	if err != nil {
		t.Fatalf("ReconstructEntityHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected 1 entry at capture instant, got %d", len(history))
	}
}
