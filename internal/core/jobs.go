package core

import (
	"context"
	"time"

	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/scheduler"
)

const (
	defaultSyncTriggerInterval      = time.Hour
	defaultUploadCleanupInterval    = 6 * time.Hour
	defaultNotificationCheckInterval = 15 * time.Minute
	defaultTokenCleanupDailyHour     = 3
)

// registerJobs wires the standing jobs named in the scheduler's design:
// raid-scrub, smart-scan, auto-backup, sync-trigger, upload-cleanup,
// notification-check, and token-cleanup. Each runs through the same
// retry/backoff machinery as any job a caller registers by hand.
func (c *Core) registerJobs() error {
	retry := model.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 30, MaxBackoffSeconds: 600}

	jobs := []struct {
		name    string
		trigger model.Trigger
		fn      scheduler.JobFunc
	}{
		{
			name:    "raid-scrub",
			trigger: intervalTrigger(c.Config.Scheduler.ScrubInterval, 7*24*time.Hour),
			fn:      c.runRaidScrub,
		},
		{
			name:    "smart-scan",
			trigger: intervalTrigger(c.Config.Scheduler.SmartInterval, time.Hour),
			fn:      c.runSmartScan,
		},
		{
			name:    "auto-backup",
			trigger: intervalTrigger(c.Config.Scheduler.AutoBackupInterval, 24*time.Hour),
			fn:      c.runAutoBackup,
		},
		{
			name:    "sync-trigger",
			trigger: intervalTrigger(0, defaultSyncTriggerInterval),
			fn:      c.runSyncTrigger,
		},
		{
			name:    "upload-cleanup",
			trigger: intervalTrigger(0, defaultUploadCleanupInterval),
			fn:      c.runUploadCleanup,
		},
		{
			name:    "notification-check",
			trigger: intervalTrigger(0, defaultNotificationCheckInterval),
			fn:      c.runNotificationCheck,
		},
		{
			name:    "token-cleanup",
			trigger: model.Trigger{Kind: model.TriggerDaily, DailyHour: defaultTokenCleanupDailyHour, DailyTZ: "UTC"},
			fn:      c.runTokenCleanup,
		},
	}

	for _, j := range jobs {
		if err := c.Scheduler.Register(j.name, j.trigger, retry, j.fn); err != nil {
			return err
		}
	}
	return nil
}

func intervalTrigger(configured, fallback time.Duration) model.Trigger {
	d := configured
	if d <= 0 {
		d = fallback
	}
	return model.Trigger{Kind: model.TriggerInterval, IntervalSeconds: int64(d.Seconds())}
}

// runRaidScrub kicks a data-integrity check on every array the
// controller currently knows about; arrays that are not optimal are
// skipped since starting a check on them would just fail immediately.
func (c *Core) runRaidScrub(ctx context.Context) error {
	for _, a := range c.Raid.List() {
		if a.Status != model.StatusOptimal {
			continue
		}
		if err := c.Raid.StartScrub(ctx, a.Name, model.SyncCheck); err != nil {
			return err
		}
	}
	return nil
}

// runSmartScan samples SMART attributes for every device participating
// in a known array. Standalone disks outside any array are out of
// scope: nothing in the data model names them.
func (c *Core) runSmartScan(ctx context.Context) error {
	seen := make(map[string]bool)
	var devices []string
	for _, a := range c.Raid.List() {
		for _, d := range a.Devices {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			devices = append(devices, d.Name)
		}
	}
	c.Monitor.SampleSmart(ctx, devices, time.Now())
	return nil
}

// runAutoBackup is a placeholder hook for an eventual backup target:
// nothing in this module's scope names a concrete destination, so it
// only confirms the storage layer is reachable.
func (c *Core) runAutoBackup(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// runSyncTrigger re-derives the mountpoint list from the RAID
// controller's current view, picking up arrays created or removed since
// the last run.
func (c *Core) runSyncTrigger(ctx context.Context) error {
	return c.Files.RefreshMountpoints(ctx)
}

// runUploadCleanup is a placeholder for expiring partial/abandoned
// uploads; no upload staging area exists in this module's scope, so it
// is a no-op kept as a named job so its schedule and history are
// visible through the same History API as every other job.
func (c *Core) runUploadCleanup(ctx context.Context) error {
	return nil
}

// runNotificationCheck is a placeholder for an eventual alerting
// backend; no notification transport exists in this module's scope.
func (c *Core) runNotificationCheck(ctx context.Context) error {
	return nil
}

// runTokenCleanup deletes expired refresh tokens past their grace
// period; it is the body of the token-cleanup scheduled job. The
// `baluhostctl tokens cleanup` command also calls tokenstore.Cleanup
// directly.
func (c *Core) runTokenCleanup(ctx context.Context) error {
	_, err := c.Tokens.Cleanup(ctx)
	return err
}
