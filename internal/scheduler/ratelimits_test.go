package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockCounterStore struct {
	cutoff time.Time
	purged int64
	err    error
}

func (m *mockCounterStore) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoff = cutoff
	return m.purged, m.err
}

func TestCounterCleanup_PurgeExpired(t *testing.T) {
	store := &mockCounterStore{purged: 12}
	n, err := NewCounterCleanup(store, testLogger()).PurgeExpired(context.Background(), refNow, time.Hour)
	if err != nil || n != 12 {
		t.Fatalf("expected 12, got %d, %v", n, err)
	}
	if want := refNow.Add(-time.Hour); !store.cutoff.Equal(want) {
		t.Errorf("unexpected cutoff %v", store.cutoff)
	}
}

func TestCounterCleanup_PurgeExpired_Error(t *testing.T) {
	store := &mockCounterStore{err: errors.New("db down")}
	if _, err := NewCounterCleanup(store, testLogger()).PurgeExpired(context.Background(), refNow, time.Hour); err == nil {
		t.Fatal("expected error")
	}
}
