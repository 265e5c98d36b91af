// Package raid implements the RAID Control Engine (C7): a strategy-
// pattern Controller with two backends — an mdadm-backed implementation
// for production hosts and a deterministic in-memory simulator for dev
// mode and tests — selected once at process start per configuration.
package raid

import (
	"context"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// Controller is the single interface every caller (files, scheduler,
// cmd/baluhostctl) programs against; neither backend is referenced by
// name outside this package and its constructors.
type Controller interface {
	List() []model.RaidArray
	// ListFreeDevices returns block devices not currently a member of
	// any array, in the collaborator interface's listFreeDevices().
	ListFreeDevices(ctx context.Context) ([]string, error)
	CreateArray(ctx context.Context, name string, level model.RaidLevel, devices, spares []string, chunkKB int) error
	DeleteArray(ctx context.Context, name string) error
	FailDevice(ctx context.Context, name, dev string) error
	RemoveDevice(ctx context.Context, name, dev string) error
	AddSpare(ctx context.Context, name, dev string, sizeBytes int64) error
	SetWriteMostly(ctx context.Context, name, dev string, on bool) error
	SetBitmap(ctx context.Context, name string, mode model.Bitmap) error
	SetSyncLimits(ctx context.Context, name string, minKB, maxKB int64) error
	StartScrub(ctx context.Context, name string, action model.SyncAction) error
	// FinalizeRebuild is simulator-only; the mdadm backend always
	// returns kUnsupportedOp since real rebuilds complete on their own.
	FinalizeRebuild(ctx context.Context, name string) error
}

func errControllerFailed(op, stderr string) error {
	return baluerr.New(baluerr.KindControllerFailed, op, stderr)
}

func errNotFound(op, what string) error {
	return baluerr.New(baluerr.KindNotFound, op, what+" not found")
}

func errPrecondition(op, msg string) error {
	return baluerr.New(baluerr.KindPreconditionFailed, op, msg)
}

func errInvalidArg(op, msg string) error {
	return baluerr.New(baluerr.KindInvalidArg, op, msg)
}

func errUnsupportedOp(op string) error {
	return baluerr.New(baluerr.KindUnsupportedOp, op, "not supported by this backend")
}

// mirrorPairDead implements RAID10's tie-break: devices are stored in
// mirror-pair order (0,1), (2,3), ...; a pair is dead once both its
// members are faulty or missing.
func mirrorPairDead(devices []model.RaidDevice) bool {
	for i := 0; i+1 < len(devices); i += 2 {
		a, b := devices[i], devices[i+1]
		aDead := a.State == model.DeviceFaulty || a.State == model.DeviceMissing
		bDead := b.State == model.DeviceFaulty || b.State == model.DeviceMissing
		if aDead && bDead {
			return true
		}
	}
	return false
}
