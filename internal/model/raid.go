// Package model defines the data types shared by the RAID, monitoring,
// scheduler, token, and file-metadata components. Schema version: 1.0.0
package model

import "time"

// RaidLevel is one of the redundancy levels BaluHost manages.
type RaidLevel int

const (
	RaidLevel0 RaidLevel = iota
	RaidLevel1
	RaidLevel5
	RaidLevel6
	RaidLevel10
)

func (l RaidLevel) String() string {
	switch l {
	case RaidLevel0:
		return "raid0"
	case RaidLevel1:
		return "raid1"
	case RaidLevel5:
		return "raid5"
	case RaidLevel6:
		return "raid6"
	case RaidLevel10:
		return "raid10"
	default:
		return "unknown"
	}
}

// MinDevices returns the minimum member count for the level.
func (l RaidLevel) MinDevices() int {
	switch l {
	case RaidLevel0:
		return 2
	case RaidLevel1:
		return 2
	case RaidLevel5:
		return 3
	case RaidLevel6:
		return 4
	case RaidLevel10:
		return 4
	default:
		return 0
	}
}

// ParityDevices returns how many members' worth of capacity the level
// spends on parity: 1 for RAID5, 2 for RAID6, and 0 for every other
// level. Mirroring (RAID1, RAID10) is not counted here.
func (l RaidLevel) ParityDevices() int {
	switch l {
	case RaidLevel5:
		return 1
	case RaidLevel6:
		return 2
	default:
		return 0
	}
}

// Bitmap is the on-disk dirty-region log mode.
type Bitmap int

const (
	BitmapNone Bitmap = iota
	BitmapInternal
)

func (b Bitmap) String() string {
	if b == BitmapInternal {
		return "internal"
	}
	return "none"
}

// SyncAction is the array's current background activity.
type SyncAction int

const (
	SyncIdle SyncAction = iota
	SyncCheck
	SyncRepair
	SyncResync
	SyncRecover
)

func (a SyncAction) String() string {
	switch a {
	case SyncCheck:
		return "check"
	case SyncRepair:
		return "repair"
	case SyncResync:
		return "resync"
	case SyncRecover:
		return "recover"
	default:
		return "idle"
	}
}

// ArrayStatus is the array's overall health.
type ArrayStatus int

const (
	StatusOptimal ArrayStatus = iota
	StatusDegraded
	StatusRebuilding
	StatusInactive
	StatusFailed
)

func (s ArrayStatus) String() string {
	switch s {
	case StatusDegraded:
		return "degraded"
	case StatusRebuilding:
		return "rebuilding"
	case StatusInactive:
		return "inactive"
	case StatusFailed:
		return "failed"
	default:
		return "optimal"
	}
}

// DeviceRole is the function a member plays in its array.
type DeviceRole int

const (
	RoleActive DeviceRole = iota
	RoleSpare
	RoleWriteMostly
	RoleJournal
)

func (r DeviceRole) String() string {
	switch r {
	case RoleSpare:
		return "spare"
	case RoleWriteMostly:
		return "write-mostly"
	case RoleJournal:
		return "journal"
	default:
		return "active"
	}
}

// DeviceState is the member device's current condition.
type DeviceState int

const (
	DeviceActive DeviceState = iota
	DeviceFaulty
	DeviceMissing
	DeviceRebuilding
	DeviceSpare
	DeviceWriteMostly
)

func (s DeviceState) String() string {
	switch s {
	case DeviceFaulty:
		return "faulty"
	case DeviceMissing:
		return "missing"
	case DeviceRebuilding:
		return "rebuilding"
	case DeviceSpare:
		return "spare"
	case DeviceWriteMostly:
		return "write-mostly"
	default:
		return "active"
	}
}

// RaidDevice is one member of a RaidArray. Devices carry a back-reference
// to their array by name (ArrayName), never by ownership handle — the
// array is the unique owner and rebuilds both sides from parser output.
type RaidDevice struct {
	Name      string
	ArrayName string
	Role      DeviceRole
	State     DeviceState
	Slot      int // -1 when the device has no RaidDevice slot (spare/faulty/removed)
	Events    int64
}

// RaidArray is a virtual block device composed of ordered member devices.
// Device order is significant for RAID0/10 (stripe/mirror-pair layout).
type RaidArray struct {
	Name         string
	Level        RaidLevel
	SizeBytes    int64
	ChunkKB      int
	Bitmap       Bitmap
	SyncAction   SyncAction
	SyncProgress *float64 // nil unless SyncAction != Idle
	SyncSpeedKB  int64    // observed resync/recover throughput, 0 when idle
	Status       ArrayStatus
	MinSyncKB    int64
	MaxSyncKB    int64
	Devices      []RaidDevice
	CreatedAt    time.Time
}

// ActiveCount returns the number of members in DeviceActive or
// DeviceWriteMostly state (i.e. contributing to redundancy right now).
func (a *RaidArray) ActiveCount() int {
	n := 0
	for _, d := range a.Devices {
		if d.State == DeviceActive || d.State == DeviceWriteMostly {
			n++
		}
	}
	return n
}

// FailedCount returns the number of members in DeviceFaulty or
// DeviceMissing state.
func (a *RaidArray) FailedCount() int {
	n := 0
	for _, d := range a.Devices {
		if d.State == DeviceFaulty || d.State == DeviceMissing {
			n++
		}
	}
	return n
}

// DeriveStatus computes the array's status from its current device
// states and level, per the redundancy predicate in §4.7 of the
// specification. RAID10 uses mirrorPairDead to report whether any mirror
// pair in the device list has zero live members; pass nil for non-RAID10
// levels.
func DeriveStatus(level RaidLevel, devices []RaidDevice, mirrorPairDead func([]RaidDevice) bool) ArrayStatus {
	if len(devices) == 0 {
		return StatusInactive
	}

	failed := 0
	for _, d := range devices {
		if d.State == DeviceFaulty || d.State == DeviceMissing {
			failed++
		}
	}
	if failed == 0 {
		return StatusOptimal
	}

	switch level {
	case RaidLevel0:
		// No redundancy at all: any failure is fatal.
		return StatusFailed
	case RaidLevel1:
		// Degrades with one failure; fails only once every member is gone.
		alive := 0
		for _, d := range devices {
			if d.State != DeviceFaulty && d.State != DeviceMissing {
				alive++
			}
		}
		if alive == 0 {
			return StatusFailed
		}
		return StatusDegraded
	case RaidLevel5:
		if failed >= 2 {
			return StatusFailed
		}
		return StatusDegraded
	case RaidLevel6:
		if failed >= 3 {
			return StatusFailed
		}
		return StatusDegraded
	case RaidLevel10:
		if mirrorPairDead != nil && mirrorPairDead(devices) {
			return StatusFailed
		}
		return StatusDegraded
	default:
		return StatusDegraded
	}
}
