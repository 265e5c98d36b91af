package raid

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/baluhost/baluhost/internal/model"
)

func newTestSimulator() *SimulatorController {
	return NewSimulatorController(nil, logr.Discard(), map[string]int64{
		"sda": 1 << 40, "sdb": 1 << 40, "sdc": 1 << 40, "sdd": 1 << 40, "sde": 1 << 40,
	})
}

func TestCreateArrayStartsRebuilding(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()

	if err := c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512); err != nil {
		t.Fatalf("CreateArray: %v", err)
	}

	arrays := c.List()
	if len(arrays) != 1 {
		t.Fatalf("arrays = %d, want 1", len(arrays))
	}
	if arrays[0].Status != model.StatusRebuilding {
		t.Errorf("Status = %v, want rebuilding", arrays[0].Status)
	}
	if arrays[0].SyncProgress == nil || *arrays[0].SyncProgress != 0 {
		t.Errorf("expected zeroed sync progress, got %v", arrays[0].SyncProgress)
	}
}

func TestCreateArrayRejectsDeviceAlreadyInUse(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)

	err := c.CreateArray(ctx, "md1", model.RaidLevel1, []string{"sda", "sdc"}, nil, 512)
	if err == nil {
		t.Fatal("expected error reusing a device already in an array")
	}
}

func TestFailDeviceDegradesRaid1(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)
	c.FinalizeRebuild(ctx, "md0") //nolint:errcheck

	if err := c.FailDevice(ctx, "md0", "sda"); err != nil {
		t.Fatalf("FailDevice: %v", err)
	}
	arrays := c.List()
	if arrays[0].Status != model.StatusDegraded {
		t.Errorf("Status = %v, want degraded", arrays[0].Status)
	}
}

func TestFailDeviceRejectsNonActiveDevice(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)
	_ = c.FailDevice(ctx, "md0", "sda")

	if err := c.FailDevice(ctx, "md0", "sda"); err == nil {
		t.Fatal("expected error failing an already-faulty device")
	}
}

func TestDeleteArrayRejectsFailedArray(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)
	_ = c.FailDevice(ctx, "md0", "sda")
	_ = c.FailDevice(ctx, "md0", "sdb")

	if err := c.DeleteArray(ctx, "md0"); err == nil {
		t.Fatal("expected error deleting a failed array")
	}
}

func TestDeleteArrayReturnsDevicesToFreePool(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)
	_ = c.FinalizeRebuild(ctx, "md0")
	if err := c.DeleteArray(ctx, "md0"); err != nil {
		t.Fatalf("DeleteArray: %v", err)
	}

	if err := c.CreateArray(ctx, "md1", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512); err != nil {
		t.Fatalf("expected devices to be reusable after delete, got: %v", err)
	}
}

func TestAddSparePromotesDegradedToRebuilding(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)
	c.FinalizeRebuild(ctx, "md0") //nolint:errcheck
	_ = c.FailDevice(ctx, "md0", "sda")

	if err := c.AddSpare(ctx, "md0", "sdc", 1<<30); err != nil {
		t.Fatalf("AddSpare: %v", err)
	}
	arrays := c.List()
	if arrays[0].Status != model.StatusRebuilding {
		t.Errorf("Status = %v, want rebuilding after spare added to degraded array", arrays[0].Status)
	}
}

func TestAddSpareThenTickRetiresFailedDeviceAndReturnsOptimal(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)
	c.FinalizeRebuild(ctx, "md0") //nolint:errcheck
	_ = c.FailDevice(ctx, "md0", "sda")

	if err := c.AddSpare(ctx, "md0", "sdc", 1<<30); err != nil {
		t.Fatalf("AddSpare: %v", err)
	}
	c.Tick(24 * time.Hour)

	arrays := c.List()
	if arrays[0].Status != model.StatusOptimal {
		t.Fatalf("Status = %v, want optimal once the spare finishes rebuilding", arrays[0].Status)
	}
	for _, d := range arrays[0].Devices {
		if d.Name == "sda" {
			t.Errorf("failed device sda should no longer be listed, found: %+v", d)
		}
	}

	if err := c.CreateArray(ctx, "md1", model.RaidLevel1, []string{"sda", "sdd"}, nil, 512); err != nil {
		t.Fatalf("expected sda to be back in the free pool, got: %v", err)
	}
}

func TestSetWriteMostlyRejectedOutsideRaid1(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel5, []string{"sda", "sdb", "sdc"}, nil, 512)

	if err := c.SetWriteMostly(ctx, "md0", "sda", true); err == nil {
		t.Fatal("expected error setting write-mostly on a non-RAID1 array")
	}
}

func TestTickAdvancesProgressDeterministically(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)

	c.Tick(1 * time.Second)
	arrays := c.List()
	if arrays[0].SyncProgress == nil || *arrays[0].SyncProgress <= 0 {
		t.Fatalf("expected progress to advance after a tick, got %v", arrays[0].SyncProgress)
	}
}

func TestTickCompletesRebuildAndClearsSyncState(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)

	// MaxSyncKB default (200000) * a long enough tick guarantees completion
	// regardless of the array's derived size.
	c.Tick(24 * time.Hour)

	arrays := c.List()
	if arrays[0].SyncProgress != nil {
		t.Errorf("expected sync progress cleared after completion, got %v", arrays[0].SyncProgress)
	}
	if arrays[0].Status != model.StatusOptimal {
		t.Errorf("Status = %v, want optimal after rebuild completes", arrays[0].Status)
	}
}

func TestFinalizeRebuildRejectsIdleArray(t *testing.T) {
	c := newTestSimulator()
	ctx := context.Background()
	_ = c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"sda", "sdb"}, nil, 512)
	_ = c.FinalizeRebuild(ctx, "md0")

	if err := c.FinalizeRebuild(ctx, "md0"); err == nil {
		t.Fatal("expected error finalizing an already-idle array")
	}
}
