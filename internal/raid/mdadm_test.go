package raid

import (
	"context"
	"testing"

	"github.com/go-logr/logr"

	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
)

const mdstatOneArray = `Personalities : [raid1]
md0 : active raid1 sdb1[1] sda1[0]
      102400000 blocks super 1.2 [2/2] [UU]

unused devices: <none>
`

const detailHealthyRaid1 = `/dev/md0:
        Raid Level : raid1
        Array Size : 102400000 (97.66 GiB)
             State : clean
    Active Devices : 2
   Working Devices : 2
    Failed Devices : 0
     Spare Devices : 0

    Number   Major   Minor   RaidDevice State
       0       8        1        0      active sync   /dev/sda1
       1       8       17        1      active sync   /dev/sdb1`

func newTestMdadmController(t *testing.T) (*MdadmController, *procadapter.FakeAdapter) {
	t.Helper()
	fake := procadapter.NewFakeAdapter().
		SeedFile("/proc/mdstat", []byte(mdstatOneArray)).
		SeedRun("mdadm", func(args []string) (*procadapter.CommandResult, error) {
			if len(args) > 0 && args[0] == "--detail" {
				return &procadapter.CommandResult{ExitCode: 0, Stdout: detailHealthyRaid1}, nil
			}
			return &procadapter.CommandResult{ExitCode: 0}, nil
		})
	return NewMdadmController(fake, nil, logr.Discard()), fake
}

func TestMdadmControllerListReparsesEveryCall(t *testing.T) {
	c, _ := newTestMdadmController(t)
	arrays := c.List()
	if len(arrays) != 1 {
		t.Fatalf("arrays = %d, want 1", len(arrays))
	}
	if arrays[0].Status != model.StatusOptimal {
		t.Errorf("Status = %v, want optimal", arrays[0].Status)
	}
}

func TestMdadmControllerCreateArrayInvokesMdadmCreate(t *testing.T) {
	c, fake := newTestMdadmController(t)
	ctx := context.Background()

	if err := c.CreateArray(ctx, "md0", model.RaidLevel1, []string{"/dev/sda1", "/dev/sdb1"}, nil, 0); err != nil {
		t.Fatalf("CreateArray: %v", err)
	}
	calls := fake.Calls()
	found := false
	for _, call := range calls {
		if call == "mdadm [--create /dev/md0 --run --level=1 --raid-devices=2 /dev/sda1 /dev/sdb1]" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a --create invocation, got calls: %v", calls)
	}
}

func TestMdadmControllerRunFailureSurfacesControllerFailed(t *testing.T) {
	fake := procadapter.NewFakeAdapter().
		SeedFile("/proc/mdstat", []byte(mdstatOneArray)).
		SeedRun("mdadm", func(args []string) (*procadapter.CommandResult, error) {
			if len(args) > 0 && args[0] == "--detail" {
				return &procadapter.CommandResult{ExitCode: 0, Stdout: detailHealthyRaid1}, nil
			}
			return &procadapter.CommandResult{ExitCode: 1, Stderr: "mdadm: device busy"}, nil
		})
	c := NewMdadmController(fake, nil, logr.Discard())

	err := c.FailDevice(context.Background(), "md0", "sda1")
	if err == nil {
		t.Fatal("expected error from a non-zero mdadm exit")
	}
}

func TestMdadmControllerSetWriteMostlyRejectsNonRaid1(t *testing.T) {
	fake := procadapter.NewFakeAdapter().
		SeedFile("/proc/mdstat", []byte(`md0 : active raid5 sda1[0] sdb1[1] sdc1[2]
`)).
		SeedRun("mdadm", func(args []string) (*procadapter.CommandResult, error) {
			return &procadapter.CommandResult{ExitCode: 0, Stdout: `/dev/md0:
        Raid Level : raid5
        Array Size : 204800000 (195.31 GiB)
             State : clean
    Active Devices : 3
   Working Devices : 3
    Failed Devices : 0
     Spare Devices : 0

    Number   Major   Minor   RaidDevice State
       0       8        1        0      active sync   /dev/sda1
       1       8       17        1      active sync   /dev/sdb1
       2       8       33        2      active sync   /dev/sdc1`}, nil
		})
	c := NewMdadmController(fake, nil, logr.Discard())

	if err := c.SetWriteMostly(context.Background(), "md0", "sda1", true); err == nil {
		t.Fatal("expected error setting write-mostly on a non-RAID1 array")
	}
}

func TestMdadmControllerFinalizeRebuildUnsupported(t *testing.T) {
	c, _ := newTestMdadmController(t)
	if err := c.FinalizeRebuild(context.Background(), "md0"); err == nil {
		t.Fatal("expected kUnsupportedOp from the mdadm backend")
	}
}

func TestMdadmControllerSetSyncLimitsWritesSysctlFiles(t *testing.T) {
	c, fake := newTestMdadmController(t)
	if err := c.SetSyncLimits(context.Background(), "md0", 1000, 200000); err != nil {
		t.Fatalf("SetSyncLimits: %v", err)
	}
	got, err := fake.ReadFile("/proc/sys/dev/raid/speed_limit_min")
	if err != nil {
		t.Fatalf("speed_limit_min not written: %v", err)
	}
	if string(got) != "1000" {
		t.Errorf("speed_limit_min = %q, want 1000", got)
	}
}

func TestMdadmControllerSetSyncLimitsRejectsInvalidRange(t *testing.T) {
	c, _ := newTestMdadmController(t)
	if err := c.SetSyncLimits(context.Background(), "md0", 0, 100); err == nil {
		t.Fatal("expected error for non-positive min")
	}
	if err := c.SetSyncLimits(context.Background(), "md0", 500, 100); err == nil {
		t.Fatal("expected error for min > max")
	}
}

func TestMdadmControllerListFreeDevicesExcludesArrayMembersAndPseudoDevices(t *testing.T) {
	c, fake := newTestMdadmController(t)
	fake.SeedGlob("/sys/block/*", []string{
		"/sys/block/sda", "/sys/block/sda1", "/sys/block/sdb1",
		"/sys/block/sdc1", "/sys/block/loop0", "/sys/block/md0",
	})

	free, err := c.ListFreeDevices(context.Background())
	if err != nil {
		t.Fatalf("ListFreeDevices: %v", err)
	}
	want := map[string]bool{"sda": true, "sdc1": true}
	if len(free) != len(want) {
		t.Fatalf("free = %v, want keys of %v", free, want)
	}
	for _, d := range free {
		if !want[d] {
			t.Errorf("unexpected free device %q", d)
		}
	}
}
