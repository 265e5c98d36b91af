package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/raid"
)

// snapshotStore is the narrow persistence surface this decorator needs;
// storage.RaidSnapshotRepository satisfies it.
type snapshotStore interface {
	RecordSnapshot(ctx context.Context, arrayName string, level model.RaidLevel, devices, spares []string, chunkKB int) error
}

// snapshottingController wraps a raid.Controller and appends a row to the
// topology audit trail after every call that changes an array's member
// devices or removes the array entirely. Read-only calls and calls that
// only tune runtime knobs (write-mostly, bitmap, sync limits, scrub) pass
// straight through; mdadm's own state remains the source of truth for
// "what does the array look like now" and the snapshot table exists only
// to answer "what changed, and when".
type snapshottingController struct {
	raid.Controller
	snapshots snapshotStore
	log       *zap.SugaredLogger
}

func newSnapshottingController(inner raid.Controller, snapshots snapshotStore, log *zap.SugaredLogger) raid.Controller {
	return &snapshottingController{Controller: inner, snapshots: snapshots, log: log}
}

func (c *snapshottingController) record(ctx context.Context, name string) {
	// If the array no longer exists (e.g. it was just deleted), level and
	// the device lists stay at their zero values: the audit trail still
	// gets a row recording that the array went away at this time.
	var (
		level   model.RaidLevel
		devices []string
		spares  []string
		chunkKB int
	)
	for _, a := range c.Controller.List() {
		if a.Name != name {
			continue
		}
		level = a.Level
		chunkKB = a.ChunkKB
		for _, d := range a.Devices {
			if d.Role == model.RoleSpare {
				spares = append(spares, d.Name)
			} else {
				devices = append(devices, d.Name)
			}
		}
	}
	if err := c.snapshots.RecordSnapshot(ctx, name, level, devices, spares, chunkKB); err != nil {
		c.log.Errorw("failed to record raid topology snapshot", "array", name, "err", err)
	}
}

func (c *snapshottingController) CreateArray(ctx context.Context, name string, level model.RaidLevel, devices, spares []string, chunkKB int) error {
	if err := c.Controller.CreateArray(ctx, name, level, devices, spares, chunkKB); err != nil {
		return err
	}
	c.record(ctx, name)
	return nil
}

func (c *snapshottingController) DeleteArray(ctx context.Context, name string) error {
	if err := c.Controller.DeleteArray(ctx, name); err != nil {
		return err
	}
	c.record(ctx, name)
	return nil
}

func (c *snapshottingController) FailDevice(ctx context.Context, name, dev string) error {
	if err := c.Controller.FailDevice(ctx, name, dev); err != nil {
		return err
	}
	c.record(ctx, name)
	return nil
}

func (c *snapshottingController) RemoveDevice(ctx context.Context, name, dev string) error {
	if err := c.Controller.RemoveDevice(ctx, name, dev); err != nil {
		return err
	}
	c.record(ctx, name)
	return nil
}

func (c *snapshottingController) AddSpare(ctx context.Context, name, dev string, sizeBytes int64) error {
	if err := c.Controller.AddSpare(ctx, name, dev, sizeBytes); err != nil {
		return err
	}
	c.record(ctx, name)
	return nil
}
