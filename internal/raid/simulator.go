package raid

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/baluhost/baluhost/internal/eventbus"
	"github.com/baluhost/baluhost/internal/model"
)

// SimulatorController is a deterministic, in-memory RAID backend for dev
// mode: every operation mutates the model directly with no subprocess
// involved, and syncProgress advances only when Tick is called — never
// on a wall-clock timer of its own, so runs are reproducible. Within this
// module only the tests call Tick; no scheduler job drives it.
type SimulatorController struct {
	mu  sync.Mutex
	bus *eventbus.Bus
	log logr.Logger

	deviceSize map[string]int64 // every known device's size, regardless of membership
	free       map[string]bool  // device name -> currently unassigned to any array
	arrays     map[string]*model.RaidArray

	// retiring maps an array name to the faulty/missing member a
	// just-added spare is rebuilding to replace. The member stays listed
	// (degraded) until the rebuild finishes, matching mdadm, then is
	// dropped and its device name (if any) returned to the free pool.
	retiring map[string]string
}

func NewSimulatorController(bus *eventbus.Bus, log logr.Logger, freeDevices map[string]int64) *SimulatorController {
	sizes := make(map[string]int64, len(freeDevices))
	free := make(map[string]bool, len(freeDevices))
	for k, v := range freeDevices {
		sizes[k] = v
		free[k] = true
	}
	return &SimulatorController{
		bus:        bus,
		log:        log,
		deviceSize: sizes,
		free:       free,
		arrays:     make(map[string]*model.RaidArray),
		retiring:   make(map[string]string),
	}
}

func (c *SimulatorController) List() []model.RaidArray {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.RaidArray, 0, len(c.arrays))
	for _, a := range c.arrays {
		out = append(out, *a)
	}
	return out
}

// ListFreeDevices returns every known device currently unassigned to an
// array, sorted for deterministic output.
func (c *SimulatorController) ListFreeDevices(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.free))
	for dev, free := range c.free {
		if free {
			out = append(out, dev)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *SimulatorController) CreateArray(ctx context.Context, name string, level model.RaidLevel, devices, spares []string, chunkKB int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.arrays[name]; exists {
		return errPrecondition("raid.createArray", "array "+name+" already exists")
	}
	if len(devices) < level.MinDevices() {
		return errInvalidArg("raid.createArray", "too few devices for level")
	}

	var sizeBytes int64 = -1
	for _, dev := range append(append([]string{}, devices...), spares...) {
		if !c.free[dev] {
			return errPrecondition("raid.createArray", "device "+dev+" is not free")
		}
		size := c.deviceSize[dev]
		if sizeBytes == -1 {
			sizeBytes = size
		} else if size < sizeBytes {
			sizeBytes = size
		}
	}

	array := &model.RaidArray{
		Name:       name,
		Level:      level,
		SizeBytes:  sizeBytes * int64(len(devices)-level.ParityDevices()),
		ChunkKB:    chunkKB,
		Bitmap:     model.BitmapNone,
		SyncAction: model.SyncResync,
		MinSyncKB:  1000,
		MaxSyncKB:  200000,
		CreatedAt:  time.Time{},
	}
	progress := 0.0
	array.SyncProgress = &progress

	for i, dev := range devices {
		array.Devices = append(array.Devices, model.RaidDevice{
			Name: dev, ArrayName: name, Role: model.RoleActive, State: model.DeviceActive, Slot: i,
		})
		c.free[dev] = false
	}
	for _, dev := range spares {
		array.Devices = append(array.Devices, model.RaidDevice{
			Name: dev, ArrayName: name, Role: model.RoleSpare, State: model.DeviceSpare, Slot: -1,
		})
		c.free[dev] = false
	}

	array.Status = model.StatusRebuilding
	c.arrays[name] = array
	return nil
}

func (c *SimulatorController) DeleteArray(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.deleteArray", "array "+name)
	}
	if array.Status != model.StatusOptimal && array.Status != model.StatusDegraded {
		return errPrecondition("raid.deleteArray", "array must be optimal or degraded to delete")
	}

	for _, dev := range array.Devices {
		c.free[dev.Name] = true
	}
	delete(c.arrays, name)
	return nil
}

func (c *SimulatorController) FailDevice(ctx context.Context, name, dev string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.failDevice", "array "+name)
	}
	idx := findDevice(array, dev)
	if idx < 0 {
		return errNotFound("raid.failDevice", "device "+dev)
	}
	if array.Devices[idx].State != model.DeviceActive {
		return errPrecondition("raid.failDevice", "device is not active")
	}

	array.Devices[idx].State = model.DeviceFaulty
	c.recompute(array)
	if c.bus != nil {
		topic := eventbus.TopicArrayDegraded
		if array.Status == model.StatusFailed {
			topic = eventbus.TopicArrayFailed
		}
		c.bus.Publish(eventbus.Event{Topic: topic, Payload: name})
	}
	return nil
}

func (c *SimulatorController) RemoveDevice(ctx context.Context, name, dev string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.removeDevice", "array "+name)
	}
	idx := findDevice(array, dev)
	if idx < 0 {
		return errNotFound("raid.removeDevice", "device "+dev)
	}
	state := array.Devices[idx].State
	if state != model.DeviceFaulty && state != model.DeviceSpare {
		return errPrecondition("raid.removeDevice", "device must be faulty or spare to remove")
	}

	array.Devices = append(array.Devices[:idx], array.Devices[idx+1:]...)
	c.free[dev] = true
	c.recompute(array)
	return nil
}

func (c *SimulatorController) AddSpare(ctx context.Context, name, dev string, sizeBytes int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.addSpare", "array "+name)
	}
	if !c.free[dev] {
		return errPrecondition("raid.addSpare", "device "+dev+" is not free")
	}
	if c.deviceSize[dev] < sizeBytes {
		return errPrecondition("raid.addSpare", "device is smaller than array member size")
	}

	array.Devices = append(array.Devices, model.RaidDevice{
		Name: dev, ArrayName: name, Role: model.RoleSpare, State: model.DeviceSpare, Slot: -1,
	})
	c.free[dev] = false

	if array.Status == model.StatusDegraded {
		if retiring := findFailedDevice(array); retiring != "" {
			c.retiring[name] = retiring
		}
		array.Status = model.StatusRebuilding
		array.SyncAction = model.SyncRecover
		progress := 0.0
		array.SyncProgress = &progress
	}
	return nil
}

// findFailedDevice returns the name of the array's first faulty or
// missing member, or "" if none has a name (a missing slot with no
// device attached retires on its own with nothing to return to the
// free pool).
func findFailedDevice(array *model.RaidArray) string {
	for _, d := range array.Devices {
		if (d.State == model.DeviceFaulty || d.State == model.DeviceMissing) && d.Name != "" {
			return d.Name
		}
	}
	return ""
}

func (c *SimulatorController) SetWriteMostly(ctx context.Context, name, dev string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.setWriteMostly", "array "+name)
	}
	if array.Level != model.RaidLevel1 {
		return errUnsupportedOp("raid.setWriteMostly")
	}
	idx := findDevice(array, dev)
	if idx < 0 {
		return errNotFound("raid.setWriteMostly", "device "+dev)
	}
	if on {
		array.Devices[idx].Role = model.RoleWriteMostly
		array.Devices[idx].State = model.DeviceWriteMostly
	} else {
		array.Devices[idx].Role = model.RoleActive
		array.Devices[idx].State = model.DeviceActive
	}
	return nil
}

func (c *SimulatorController) SetBitmap(ctx context.Context, name string, mode model.Bitmap) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.setBitmap", "array "+name)
	}
	array.Bitmap = mode
	return nil
}

func (c *SimulatorController) SetSyncLimits(ctx context.Context, name string, minKB, maxKB int64) error {
	if minKB <= 0 || minKB > maxKB {
		return errInvalidArg("raid.setSyncLimits", "require 0 < min <= max")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.setSyncLimits", "array "+name)
	}
	array.MinSyncKB = minKB
	array.MaxSyncKB = maxKB
	return nil
}

func (c *SimulatorController) StartScrub(ctx context.Context, name string, action model.SyncAction) error {
	if action != model.SyncCheck && action != model.SyncRepair {
		return errInvalidArg("raid.startScrub", "action must be check or repair")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.startScrub", "array "+name)
	}
	if array.Status != model.StatusOptimal {
		return errPrecondition("raid.startScrub", "array must be optimal to scrub")
	}
	array.SyncAction = action
	progress := 0.0
	array.SyncProgress = &progress
	return nil
}

func (c *SimulatorController) FinalizeRebuild(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	array, ok := c.arrays[name]
	if !ok {
		return errNotFound("raid.finalizeRebuild", "array "+name)
	}
	if array.SyncAction == model.SyncIdle {
		return errPrecondition("raid.finalizeRebuild", "array is not syncing")
	}

	for i := range array.Devices {
		if array.Devices[i].State == model.DeviceSpare || array.Devices[i].State == model.DeviceRebuilding {
			array.Devices[i].State = model.DeviceActive
			array.Devices[i].Role = model.RoleActive
		}
	}
	array.SyncAction = model.SyncIdle
	array.SyncProgress = nil
	array.SyncSpeedKB = 0
	c.retireCompletedRebuild(array)
	c.recompute(array)
	if array.Status == model.StatusOptimal && c.bus != nil {
		c.bus.Publish(eventbus.Event{Topic: eventbus.TopicArrayRebuildDone, Payload: name})
	}
	return nil
}

// retireCompletedRebuild drops the faulty/missing member a just-finished
// rebuild replaced, crediting its device name back to the free pool, per
// the "failed member no longer listed" completion behaviour.
func (c *SimulatorController) retireCompletedRebuild(array *model.RaidArray) {
	dev, ok := c.retiring[array.Name]
	if !ok {
		return
	}
	delete(c.retiring, array.Name)
	for i, d := range array.Devices {
		if (d.State == model.DeviceFaulty || d.State == model.DeviceMissing) && d.Name == dev {
			array.Devices = append(array.Devices[:i], array.Devices[i+1:]...)
			c.free[dev] = true
			return
		}
	}
}

// Tick advances every currently-syncing array's progress deterministically:
// progress += min(maxSyncKB*Δt, (1-progress)*sizeKB) / sizeKB, per §4.8.
// It never fires automatically — callers (within this module, only the
// tests) drive it explicitly so runs stay reproducible.
func (c *SimulatorController) Tick(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, array := range c.arrays {
		if array.SyncProgress == nil || array.SizeBytes <= 0 {
			continue
		}
		sizeKB := float64(array.SizeBytes) / 1024
		remainingKB := (1 - *array.SyncProgress) * sizeKB
		advanceKB := float64(array.MaxSyncKB) * delta.Seconds()
		if advanceKB > remainingKB {
			advanceKB = remainingKB
		}
		newProgress := *array.SyncProgress + advanceKB/sizeKB
		if newProgress >= 1 {
			newProgress = 1
		}
		array.SyncProgress = &newProgress
		array.SyncSpeedKB = int64(array.MaxSyncKB)

		if newProgress >= 1 {
			for i := range array.Devices {
				if array.Devices[i].State == model.DeviceSpare || array.Devices[i].State == model.DeviceRebuilding {
					array.Devices[i].State = model.DeviceActive
					array.Devices[i].Role = model.RoleActive
				}
			}
			array.SyncAction = model.SyncIdle
			array.SyncProgress = nil
			array.SyncSpeedKB = 0
			c.retireCompletedRebuild(array)
			c.recompute(array)
		}
	}
}

func (c *SimulatorController) recompute(array *model.RaidArray) {
	array.Status = model.DeriveStatus(array.Level, array.Devices, mirrorPairDead)
	if array.Status == model.StatusOptimal && array.SyncProgress != nil {
		array.Status = model.StatusRebuilding
	}
}

func findDevice(array *model.RaidArray, dev string) int {
	for i, d := range array.Devices {
		if d.Name == dev {
			return i
		}
	}
	return -1
}
