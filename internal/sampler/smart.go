package sampler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/baluhost/baluhost/internal/eventbus"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
)

// smartctlJSON is the subset of `smartctl -A -H -j` output this sampler
// relies on, per §6.
type smartctlJSON struct {
	SmartStatus struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	Temperature struct {
		Current float64 `json:"current"`
	} `json:"temperature"`
	PowerOnTime struct {
		Hours int64 `json:"hours"`
	} `json:"power_on_time"`
	AtaSmartAttributes struct {
		Table []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
			Raw  struct {
				Value int64 `json:"value"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
}

const (
	attrReallocatedSectorCt = 5
	attrCurrentPendingSector = 197
)

// SmartSampler issues `smartctl -H -A -j <device>` and normalizes the
// result. A parse failure never aborts the monitor tick — it degrades to
// an unknown-health record with an empty attribute map, per §4.4.
type SmartSampler struct {
	adapter procadapter.Adapter
	bus     *eventbus.Bus
	timeout time.Duration

	mu       sync.Mutex
	failing  map[string]bool
}

func NewSmartSampler(adapter procadapter.Adapter, bus *eventbus.Bus) *SmartSampler {
	return &SmartSampler{adapter: adapter, bus: bus, timeout: 60 * time.Second, failing: make(map[string]bool)}
}

func (s *SmartSampler) Sample(ctx context.Context, deviceName string, now time.Time) model.SmartRecord {
	res, err := s.adapter.SpawnSmartctl(ctx, deviceName, s.timeout)
	if err != nil {
		return model.SmartRecord{DeviceName: deviceName, TMillis: now.UnixMilli(), Health: model.SmartUnknown, Attributes: map[int]int64{}}
	}

	var parsed smartctlJSON
	if jsonErr := json.Unmarshal([]byte(res.Stdout), &parsed); jsonErr != nil {
		return model.SmartRecord{DeviceName: deviceName, TMillis: now.UnixMilli(), Health: model.SmartUnknown, Attributes: map[int]int64{}}
	}

	record := model.SmartRecord{
		DeviceName: deviceName,
		TMillis:    now.UnixMilli(),
		TempC:      parsed.Temperature.Current,
		PowerOnHours: parsed.PowerOnTime.Hours,
		Attributes: make(map[int]int64, len(parsed.AtaSmartAttributes.Table)),
	}
	if parsed.SmartStatus.Passed {
		record.Health = model.SmartPassed
	} else {
		record.Health = model.SmartFailed
	}

	for _, attr := range parsed.AtaSmartAttributes.Table {
		record.Attributes[attr.ID] = attr.Raw.Value
		switch attr.ID {
		case attrReallocatedSectorCt:
			record.ReallocatedSectors = attr.Raw.Value
		case attrCurrentPendingSector:
			record.PendingSectors = attr.Raw.Value
		}
	}

	s.publishTransition(deviceName, record.Health)
	return record
}

// publishTransition emits diskSmartFailing exactly once per passed→failed
// transition; it resets on recovery so a later failure fires again.
func (s *SmartSampler) publishTransition(deviceName string, health model.SmartHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasFailing := s.failing[deviceName]
	isFailing := health == model.SmartFailed
	s.failing[deviceName] = isFailing

	if isFailing && !wasFailing && s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Topic: eventbus.TopicDiskSmartFailing,
			Payload: map[string]any{"deviceName": deviceName},
		})
	}
}
