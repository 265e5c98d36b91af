package raid

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/baluhost/baluhost/internal/eventbus"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
	"github.com/baluhost/baluhost/internal/raidparser"
)

const defaultMdadmTimeout = 30 * time.Second

// MdadmController drives real arrays through mdadm. When mdadm exits
// non-zero, the controller re-parses to reconcile its view with whatever
// mdadm actually did, then surfaces kControllerFailed carrying stderr,
// per §4.8's failure semantics.
type MdadmController struct {
	adapter procadapter.Adapter
	bus     *eventbus.Bus
	log     logr.Logger

	mu sync.RWMutex
}

func NewMdadmController(adapter procadapter.Adapter, bus *eventbus.Bus, log logr.Logger) *MdadmController {
	return &MdadmController{adapter: adapter, bus: bus, log: log}
}

// List re-parses /proc/mdstat plus `mdadm --detail` for every array on
// every call — there is no cached model for the prod backend, since the
// kernel and mdadm are the sole source of truth.
func (c *MdadmController) List() []model.RaidArray {
	arrays, err := c.reparse(context.Background())
	if err != nil {
		c.log.Error(err, "raid list reparse failed")
		return nil
	}
	return arrays
}

// ListFreeDevices globs every /sys/block entry and excludes loop/ram/md
// pseudo-devices and anything currently a member of a parsed array.
func (c *MdadmController) ListFreeDevices(ctx context.Context) ([]string, error) {
	entries, err := c.adapter.Glob("/sys/block/*")
	if err != nil {
		return nil, err
	}
	arrays, err := c.reparse(ctx)
	if err != nil {
		return nil, err
	}
	members := make(map[string]bool)
	for _, a := range arrays {
		for _, d := range a.Devices {
			name := d.Name
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				name = name[idx+1:]
			}
			members[name] = true
		}
	}

	var free []string
	for _, e := range entries {
		name := e
		if idx := strings.LastIndex(e, "/"); idx >= 0 {
			name = e[idx+1:]
		}
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") || strings.HasPrefix(name, "md") {
			continue
		}
		if members[name] {
			continue
		}
		free = append(free, name)
	}
	sort.Strings(free)
	return free, nil
}

func (c *MdadmController) reparse(ctx context.Context) ([]model.RaidArray, error) {
	mdstatData, err := c.adapter.ReadFile("/proc/mdstat")
	if err != nil {
		return nil, err
	}
	mdstatArrays, err := raidparser.ParseMdstat(mdstatData)
	if err != nil {
		return nil, err
	}

	out := make([]model.RaidArray, 0, len(mdstatArrays))
	for _, ms := range mdstatArrays {
		res, runErr := c.adapter.SpawnMdadm(ctx, []string{"--detail", "/dev/" + ms.Name}, defaultMdadmTimeout)
		if runErr != nil {
			return nil, runErr
		}
		if res.ExitCode != 0 {
			return nil, errControllerFailed("raid.reparse", res.Stderr)
		}
		speed := raidparser.RebuildSpeedKB(mdstatArrays, ms.Name)
		array, parseErr := raidparser.ParseDetail(ms.Name, []byte(res.Stdout), speed, mirrorPairDead)
		if parseErr != nil {
			return nil, parseErr
		}
		out = append(out, array)
	}
	return out, nil
}

func (c *MdadmController) run(ctx context.Context, op string, args []string) error {
	res, err := c.adapter.SpawnMdadm(ctx, args, defaultMdadmTimeout)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if _, reparseErr := c.reparse(ctx); reparseErr != nil {
			c.log.Error(reparseErr, "reconciliation reparse failed after mdadm error", "op", op)
		}
		return errControllerFailed(op, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (c *MdadmController) findArray(ctx context.Context, name string) (*model.RaidArray, error) {
	arrays, err := c.reparse(ctx)
	if err != nil {
		return nil, err
	}
	for i := range arrays {
		if arrays[i].Name == name {
			return &arrays[i], nil
		}
	}
	return nil, errNotFound("raid.findArray", "array "+name)
}

func (c *MdadmController) CreateArray(ctx context.Context, name string, level model.RaidLevel, devices, spares []string, chunkKB int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(devices) < level.MinDevices() {
		return errInvalidArg("raid.createArray", "too few devices for level")
	}

	args := []string{"--create", "/dev/" + name, "--run",
		"--level=" + strings.TrimPrefix(level.String(), "raid"),
		"--raid-devices=" + strconv.Itoa(len(devices))}
	if chunkKB > 0 {
		args = append(args, "--chunk="+strconv.Itoa(chunkKB))
	}
	args = append(args, devices...)
	if len(spares) > 0 {
		args = append(args, "--spare-devices="+strconv.Itoa(len(spares)))
		args = append(args, spares...)
	}
	return c.run(ctx, "raid.createArray", args)
}

func (c *MdadmController) DeleteArray(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, err := c.findArray(ctx, name)
	if err != nil {
		return err
	}
	if array.Status != model.StatusOptimal && array.Status != model.StatusDegraded {
		return errPrecondition("raid.deleteArray", "array must be optimal or degraded to delete")
	}
	if err := c.run(ctx, "raid.deleteArray", []string{"--stop", "/dev/" + name}); err != nil {
		return err
	}
	return c.run(ctx, "raid.deleteArray", []string{"--zero-superblock"})
}

func (c *MdadmController) FailDevice(ctx context.Context, name, dev string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(ctx, "raid.failDevice", []string{"/dev/" + name, "--fail", devicePath(dev)})
}

func (c *MdadmController) RemoveDevice(ctx context.Context, name, dev string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(ctx, "raid.removeDevice", []string{"/dev/" + name, "--remove", devicePath(dev)})
}

func (c *MdadmController) AddSpare(ctx context.Context, name, dev string, sizeBytes int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(ctx, "raid.addSpare", []string{"/dev/" + name, "--add", devicePath(dev)})
}

func (c *MdadmController) SetWriteMostly(ctx context.Context, name, dev string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, err := c.findArray(ctx, name)
	if err != nil {
		return err
	}
	if array.Level != model.RaidLevel1 {
		return errUnsupportedOp("raid.setWriteMostly")
	}
	flag := "writemostly"
	if !on {
		flag = "-writemostly"
	}
	return c.run(ctx, "raid.setWriteMostly", []string{"/dev/" + name, "--re-add", devicePath(dev), "--" + flag})
}

func (c *MdadmController) SetBitmap(ctx context.Context, name string, mode model.Bitmap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(ctx, "raid.setBitmap", []string{"--grow", "/dev/" + name, "--bitmap=" + mode.String()})
}

func (c *MdadmController) SetSyncLimits(ctx context.Context, name string, minKB, maxKB int64) error {
	if minKB <= 0 || minKB > maxKB {
		return errInvalidArg("raid.setSyncLimits", "require 0 < min <= max")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.adapter.WriteFile("/proc/sys/dev/raid/speed_limit_min", []byte(strconv.FormatInt(minKB, 10))); err != nil {
		return err
	}
	return c.adapter.WriteFile("/proc/sys/dev/raid/speed_limit_max", []byte(strconv.FormatInt(maxKB, 10)))
}

func (c *MdadmController) StartScrub(ctx context.Context, name string, action model.SyncAction) error {
	if action != model.SyncCheck && action != model.SyncRepair {
		return errInvalidArg("raid.startScrub", "action must be check or repair")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	array, err := c.findArray(ctx, name)
	if err != nil {
		return err
	}
	if array.Status != model.StatusOptimal {
		return errPrecondition("raid.startScrub", "array must be optimal to scrub")
	}

	path := fmt.Sprintf("/sys/block/%s/md/sync_action", name)
	return c.adapter.WriteFile(path, []byte(action.String()))
}

// FinalizeRebuild is simulator-only: real rebuilds are driven by the
// kernel's own sync thread and finish on their own schedule.
func (c *MdadmController) FinalizeRebuild(ctx context.Context, name string) error {
	return errUnsupportedOp("raid.finalizeRebuild")
}

func devicePath(dev string) string {
	if strings.HasPrefix(dev, "/dev/") {
		return dev
	}
	return "/dev/" + dev
}

