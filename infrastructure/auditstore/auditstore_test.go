package auditstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lukeeterna/fluxion-core/domain/audit"
	"github.com/lukeeterna/fluxion-core/infrastructure/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	engine, err := storage.Open(ctx, filepath.Join(dir, "fluxion.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return New(engine.DB())
}

func sampleEntry(now time.Time) audit.Entry {
	user := "operator1"
	return audit.Entry{
		ID:             uuid.New().String(),
		CapturedAt:     now,
		UserID:         &user,
		UserRole:       audit.RoleOperator,
		Action:         audit.ActionUpdate,
		EntityType:     "appointment",
		EntityID:       "appt-1",
		ChangedFields:  []string{"email", "phone"},
		Category:       audit.CategoryBooking,
		Source:         audit.SourceWeb,
		RetentionUntil: now.AddDate(7, 0, 0),
		Request:        &audit.RequestContext{IPAddress: "127.0.0.1", UserAgent: "test", RequestID: "req-1"},
	}
}

func TestSaveAndFindByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	entry := sampleEntry(now)
	if err := store.Save(ctx, entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	found, err := store.FindByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if found.EntityID != "appt-1" || found.Action != audit.ActionUpdate {
		t.Errorf("unexpected round-tripped entry: %+v", found)
	}
	if len(found.ChangedFields) != 2 {
		t.Errorf("ChangedFields = %+v, want 2 entries", found.ChangedFields)
	}
	if found.Request == nil || found.Request.RequestID != "req-1" {
		t.Errorf("RequestContext did not round-trip: %+v", found.Request)
	}
}

// P2 — idempotent anonymization.
func TestMarkAnonymizedIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	entry := sampleEntry(now)
	if err := store.Save(ctx, entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.MarkAnonymized(ctx, entry.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("MarkAnonymized() error = %v", err)
	}
	first, err := store.FindByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if first.UserID == nil || *first.UserID != audit.AnonymizedSentinel {
		t.Errorf("expected user_id sentinel, got %+v", first.UserID)
	}
	if first.AnonymizedAt == nil {
		t.Fatal("expected anonymized_at to be set")
	}

	// Second call must be a no-op.
	if err := store.MarkAnonymized(ctx, entry.ID, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("second MarkAnonymized() error = %v", err)
	}
	second, err := store.FindByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if !first.AnonymizedAt.Equal(*second.AnonymizedAt) {
		t.Error("mark_anonymized must be idempotent: anonymized_at changed on second call")
	}
}

func TestQueryOrdersByCapturedAtDescending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)

	e1 := sampleEntry(t1)
	e2 := sampleEntry(t2)
	store.Save(ctx, e1)
	store.Save(ctx, e2)

	entityType := "appointment"
	results, err := store.Query(ctx, audit.Filter{EntityType: &entityType})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != e2.ID {
		t.Error("expected newest-first ordering")
	}
}

func TestDeleteExpiredRequiresAnonymized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	entry := sampleEntry(now)
	entry.RetentionUntil = now
	store.Save(ctx, entry)

	// Not yet anonymized: must not be deleted.
	count, err := store.DeleteExpired(ctx, now.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 deleted (not anonymized), got %d", count)
	}

	if err := store.MarkAnonymized(ctx, entry.ID, now); err != nil {
		t.Fatalf("MarkAnonymized() error = %v", err)
	}

	count, err = store.DeleteExpired(ctx, now.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 deleted, got %d", count)
	}
}
