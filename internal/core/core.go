// Package core wires every other package into one running process: it
// owns the logger, the storage pool, the event bus, the RAID
// controller, the monitoring orchestrator, the scheduler (with its
// standing jobs registered), the token store, and the file-metadata
// manager. cmd/baluhostctl and any future front end are built against
// Core, never against the individual packages directly.
package core

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/baluhost/baluhost/internal/config"
	"github.com/baluhost/baluhost/internal/eventbus"
	"github.com/baluhost/baluhost/internal/files"
	"github.com/baluhost/baluhost/internal/logging"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/monitor"
	"github.com/baluhost/baluhost/internal/procadapter"
	"github.com/baluhost/baluhost/internal/raid"
	"github.com/baluhost/baluhost/internal/scheduler"
	"github.com/baluhost/baluhost/internal/storage"
	"github.com/baluhost/baluhost/internal/tokenstore"
)

// Core aggregates every live component for one BaluHost process.
type Core struct {
	Config *config.Config
	Logger *zap.Logger

	DB  *sqlx.DB
	Bus *eventbus.Bus

	Raid      raid.Controller
	Monitor   *monitor.Orchestrator
	Scheduler *scheduler.Scheduler
	Tokens    *tokenstore.TokenStore
	Files     *files.Manager

	selfPID int
}

// New builds every component described above but does not start any
// background goroutine; call Start to begin the monitor tick loop and
// the scheduler.
func New(ctx context.Context, cfg *config.Config, selfPID int) (*Core, error) {
	zlog, err := logging.New(string(cfg.Mode))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	sugar := zlog.Sugar()

	db, err := storage.Open(ctx, storage.Config{
		DSN:           cfg.Database.DSN,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
		MigrationsDir: "internal/storage/migrations",
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	bus := eventbus.New(sugar)

	raidSnapshots := storage.NewRaidSnapshotRepository(db)
	baseRaid := newRaidController(cfg, bus, zlog, sugar)
	raidCtrl := newSnapshottingController(baseRaid, raidSnapshots, sugar)

	sampleRepo := storage.NewSampleRepository(db)
	mon := monitor.New(monitor.Config{
		Adapter: adapterForMonitor(cfg, sugar),
		Bus:     bus,
		Writer:  sampleRepo,
		History: sampleRepo,
		Raid:    raidCtrl,
		Log:     sugar,
		SelfPID: selfPID,
	})

	jobRepo := storage.NewJobExecutionRepository(db)
	sched := scheduler.New(scheduler.Config{
		Store:       jobRepo,
		Bus:         bus,
		Log:         logging.Logr(zlog),
		GracePeriod: cfg.Scheduler.GracePeriod,
	})

	tokenRepo := storage.NewTokenRepository(db)
	tokens := tokenstore.New(tokenRepo, cfg.Tokens.TTL, cfg.Tokens.GracePeriod)

	fileRepo := storage.NewFileRepository(db)
	fileMgr := files.New(files.Config{Store: fileRepo, Raid: raidCtrl})
	if err := fileMgr.RefreshMountpoints(ctx); err != nil {
		sugar.Errorw("initial mountpoint refresh failed", "err", err)
	}

	c := &Core{
		Config:    cfg,
		Logger:    zlog,
		DB:        db,
		Bus:       bus,
		Raid:      raidCtrl,
		Monitor:   mon,
		Scheduler: sched,
		Tokens:    tokens,
		Files:     fileMgr,
		selfPID:   selfPID,
	}

	if err := c.registerJobs(); err != nil {
		return nil, fmt.Errorf("registering scheduled jobs: %w", err)
	}
	return c, nil
}

func newRaidController(cfg *config.Config, bus *eventbus.Bus, zlog *zap.Logger, sugar *zap.SugaredLogger) raid.Controller {
	log := logging.Logr(zlog)
	if cfg.Mode == config.ModeProd {
		adapter := procadapter.NewRealAdapter("/proc", "/sys", sugar)
		return raid.NewMdadmController(adapter, bus, log)
	}
	return raid.NewSimulatorController(bus, log, map[string]int64{})
}

func adapterForMonitor(cfg *config.Config, sugar *zap.SugaredLogger) procadapter.Adapter {
	if cfg.Mode == config.ModeProd {
		return procadapter.NewRealAdapter("/proc", "/sys", sugar)
	}
	return procadapter.NewFakeAdapter()
}

// Start begins the monitor tick loop and the scheduler's loop. Both
// stop when ctx is cancelled; Stop additionally waits for their
// in-flight work to wind down.
func (c *Core) Start(ctx context.Context) {
	c.Monitor.Start(ctx, c.Config.Monitoring.TickInterval)
	c.Scheduler.Start(ctx)
}

// Stop drains the monitor and scheduler and closes the storage pool.
// Callers should have already cancelled the context passed to Start.
func (c *Core) Stop() error {
	c.Monitor.Stop()
	c.Scheduler.Stop()
	return c.DB.Close()
}
