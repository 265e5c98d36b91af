package core

import (
	"context"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"go.uber.org/zap"

	"github.com/baluhost/baluhost/internal/eventbus"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/raid"
)

type recordedSnapshot struct {
	arrayName string
	level     model.RaidLevel
	devices   []string
	spares    []string
	chunkKB   int
}

type fakeSnapshotStore struct {
	mu   sync.Mutex
	recs []recordedSnapshot
}

func (s *fakeSnapshotStore) RecordSnapshot(ctx context.Context, arrayName string, level model.RaidLevel, devices, spares []string, chunkKB int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, recordedSnapshot{arrayName, level, devices, spares, chunkKB})
	return nil
}

func newTestController(t *testing.T) (raid.Controller, *fakeSnapshotStore) {
	t.Helper()
	bus := eventbus.New(zap.NewNop().Sugar())
	sim := raid.NewSimulatorController(bus, logr.Discard(), map[string]int64{
		"sda1": 1 << 30, "sdb1": 1 << 30, "sdc1": 1 << 30,
	})
	store := &fakeSnapshotStore{}
	return newSnapshottingController(sim, store, zap.NewNop().Sugar()), store
}

func TestSnapshottingControllerRecordsOnCreate(t *testing.T) {
	ctrl, store := newTestController(t)
	ctx := context.Background()

	if err := ctrl.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda1", "sdb1"}, nil, 512); err != nil {
		t.Fatalf("CreateArray: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.recs) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(store.recs))
	}
	rec := store.recs[0]
	if rec.arrayName != "md0" || len(rec.devices) != 2 {
		t.Errorf("unexpected snapshot: %+v", rec)
	}
}

func TestSnapshottingControllerRecordsEmptyMembershipOnDelete(t *testing.T) {
	ctrl, store := newTestController(t)
	ctx := context.Background()

	if err := ctrl.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda1", "sdb1"}, nil, 512); err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	if err := ctrl.FinalizeRebuild(ctx, "md0"); err != nil {
		t.Fatalf("FinalizeRebuild: %v", err)
	}
	if err := ctrl.DeleteArray(ctx, "md0"); err != nil {
		t.Fatalf("DeleteArray: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.recs) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(store.recs))
	}
	last := store.recs[1]
	if len(last.devices) != 0 {
		t.Errorf("expected empty device list after delete, got %v", last.devices)
	}
}

func TestSnapshottingControllerSkipsRecordOnFailedCall(t *testing.T) {
	ctrl, store := newTestController(t)
	ctx := context.Background()

	if err := ctrl.DeleteArray(ctx, "does-not-exist"); err == nil {
		t.Fatal("expected error deleting a nonexistent array")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.recs) != 0 {
		t.Errorf("expected no snapshot recorded on failed call, got %d", len(store.recs))
	}
}
