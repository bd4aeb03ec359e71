package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"llcstack/internal/db"
	"llcstack/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================
// Mock: ClaimStore
// ============================================================

type mockClaimStore struct {
	pending    []db.DeferredSubscriptionClaim
	listErr    error
	listBefore time.Time
	listLimit  int

	markResult map[string]bool
	markErr    error
	marked     []string

	purged      int64
	purgeErr    error
	purgeBefore time.Time
}

func (m *mockClaimStore) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]db.DeferredSubscriptionClaim, error) {
	m.listBefore, m.listLimit = before, limit
	return m.pending, m.listErr
}

func (m *mockClaimStore) MarkAbandoned(_ context.Context, sessionID string, _ types.DeferredKind) (bool, error) {
	if m.markErr != nil {
		return false, m.markErr
	}
	m.marked = append(m.marked, sessionID)
	if ok, set := m.markResult[sessionID]; set {
		return ok, nil
	}
	return true, nil
}

func (m *mockClaimStore) PurgeSettledBefore(_ context.Context, before time.Time, _ int) (int64, error) {
	m.purgeBefore = before
	return m.purged, m.purgeErr
}

// ============================================================
// Mock: FailureSink
// ============================================================

type mockSink struct {
	failOn    map[string]bool
	published []types.ReconcileFailure
}

func (m *mockSink) PublishReconcileFailure(_ context.Context, f types.ReconcileFailure) error {
	if m.failOn[f.SessionID] {
		return errors.New("sqs unavailable")
	}
	m.published = append(m.published, f)
	return nil
}

func claim(sessionID string, kind types.DeferredKind) db.DeferredSubscriptionClaim {
	return db.DeferredSubscriptionClaim{
		SessionID: sessionID,
		Kind:      kind,
		EventID:   "evt_" + sessionID,
		Status:    "pending",
		UpdatedAt: time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC),
	}
}

var refNow = time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

// ============================================================
// SweepAbandoned
// ============================================================

func TestSweepAbandoned_ParksAndMarks(t *testing.T) {
	store := &mockClaimStore{pending: []db.DeferredSubscriptionClaim{
		claim("cs_1", types.DeferredMail),
		claim("cs_2", types.DeferredRegisteredAgent),
	}}
	sink := &mockSink{}
	svc := NewLedgerMaintenance(store, sink, testLogger())

	n, err := svc.SweepAbandoned(context.Background(), refNow, 72*time.Hour, 100)
	if err != nil {
		t.Fatalf("SweepAbandoned: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 abandoned, got %d", n)
	}
	if want := refNow.Add(-72 * time.Hour); !store.listBefore.Equal(want) || store.listLimit != 100 {
		t.Errorf("unexpected list args %v %d", store.listBefore, store.listLimit)
	}

	if len(sink.published) != 2 {
		t.Fatalf("expected 2 parked, got %d", len(sink.published))
	}
	f := sink.published[1]
	if f.SessionID != "cs_2" || f.Kind != types.DeferredRegisteredAgent || f.EventID != "evt_cs_2" {
		t.Errorf("unexpected failure %+v", f)
	}
	if f.ErrorCode != types.ErrCodeInternalAbandonedClaim || f.Retryable || f.MessageID == "" || !f.OccurredAt.Equal(refNow) {
		t.Errorf("unexpected failure metadata %+v", f)
	}
}

func TestSweepAbandoned_ParkFailureLeavesClaimPending(t *testing.T) {
	store := &mockClaimStore{pending: []db.DeferredSubscriptionClaim{
		claim("cs_1", types.DeferredMail),
		claim("cs_2", types.DeferredMail),
	}}
	sink := &mockSink{failOn: map[string]bool{"cs_1": true}}
	svc := NewLedgerMaintenance(store, sink, testLogger())

	n, err := svc.SweepAbandoned(context.Background(), refNow, 72*time.Hour, 100)
	if err != nil {
		t.Fatalf("SweepAbandoned: %v", err)
	}
	if n != 1 || len(store.marked) != 1 || store.marked[0] != "cs_2" {
		t.Errorf("expected only cs_2 marked, got %d %v", n, store.marked)
	}
}

func TestSweepAbandoned_NoSinkStillMarks(t *testing.T) {
	store := &mockClaimStore{pending: []db.DeferredSubscriptionClaim{claim("cs_1", types.DeferredMail)}}
	svc := NewLedgerMaintenance(store, nil, testLogger())

	n, err := svc.SweepAbandoned(context.Background(), refNow, 72*time.Hour, 100)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 marked, got %d, %v", n, err)
	}
}

func TestSweepAbandoned_RaceWithRedelivery(t *testing.T) {
	store := &mockClaimStore{
		pending:    []db.DeferredSubscriptionClaim{claim("cs_1", types.DeferredMail)},
		markResult: map[string]bool{"cs_1": false},
	}
	svc := NewLedgerMaintenance(store, &mockSink{}, testLogger())

	n, err := svc.SweepAbandoned(context.Background(), refNow, 72*time.Hour, 100)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 marked, got %d, %v", n, err)
	}
}

func TestSweepAbandoned_Errors(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		svc := NewLedgerMaintenance(&mockClaimStore{listErr: errors.New("db down")}, nil, testLogger())
		if _, err := svc.SweepAbandoned(context.Background(), refNow, time.Hour, 10); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("mark", func(t *testing.T) {
		store := &mockClaimStore{
			pending: []db.DeferredSubscriptionClaim{claim("cs_1", types.DeferredMail)},
			markErr: errors.New("db down"),
		}
		svc := NewLedgerMaintenance(store, &mockSink{}, testLogger())
		if _, err := svc.SweepAbandoned(context.Background(), refNow, time.Hour, 10); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestSweepAbandoned_Empty(t *testing.T) {
	sink := &mockSink{}
	svc := NewLedgerMaintenance(&mockClaimStore{}, sink, testLogger())

	n, err := svc.SweepAbandoned(context.Background(), refNow, time.Hour, 10)
	if err != nil || n != 0 || len(sink.published) != 0 {
		t.Errorf("expected no-op, got %d %v %d", n, err, len(sink.published))
	}
}

// ============================================================
// PurgeSettled
// ============================================================

func TestPurgeSettled(t *testing.T) {
	store := &mockClaimStore{purged: 7}
	svc := NewLedgerMaintenance(store, nil, testLogger())

	n, err := svc.PurgeSettled(context.Background(), refNow, 90*24*time.Hour, 500)
	if err != nil || n != 7 {
		t.Fatalf("expected 7, got %d, %v", n, err)
	}
	if want := refNow.Add(-90 * 24 * time.Hour); !store.purgeBefore.Equal(want) {
		t.Errorf("unexpected cutoff %v", store.purgeBefore)
	}
}

func TestPurgeSettled_Error(t *testing.T) {
	svc := NewLedgerMaintenance(&mockClaimStore{purgeErr: errors.New("boom")}, nil, testLogger())
	if _, err := svc.PurgeSettled(context.Background(), refNow, time.Hour, 10); err == nil {
		t.Fatal("expected error")
	}
}
