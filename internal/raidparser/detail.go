package raidparser

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// detailTableHeader marks the start of the "Number Major Minor RaidDevice
// State" device table in `mdadm --detail` text output.
const detailTableHeader = "Number"

// ParseDetail parses the text output of `mdadm --detail <device>` into a
// model.RaidArray. speedKB should come from the matching /proc/mdstat
// entry (see RebuildSpeedKB) since --detail never reports a speed field.
// The State: line is descriptive only and is never used to derive
// Status — Status is always recomputed from device state counts via
// model.DeriveStatus, per §4.7.
func ParseDetail(name string, data []byte, speedKB int64, mirrorPairDead func([]model.RaidDevice) bool) (model.RaidArray, error) {
	array := model.RaidArray{Name: name, CreatedAt: time.Time{}}

	var (
		chunkKB      int
		sizeKB       int64
		syncProgress *float64
		level        model.RaidLevel
		haveLevel    bool
		inTable      bool
		rows         []detailDeviceRow
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, detailTableHeader) && strings.Contains(trimmed, "RaidDevice") {
			inTable = true
			continue
		}

		if inTable {
			row, ok, err := parseDetailDeviceLine(line)
			if err != nil {
				return model.RaidArray{}, err
			}
			if ok {
				rows = append(rows, row)
			}
			continue
		}

		key, val, ok := splitDetailField(trimmed)
		if !ok {
			continue
		}

		switch key {
		case "Raid Level":
			lvl, err := parseRaidLevel(val)
			if err != nil {
				return model.RaidArray{}, err
			}
			level = lvl
			haveLevel = true
		case "Array Size":
			sizeKB = parseLeadingInt(val)
		case "Chunk Size":
			chunkKB = int(parseLeadingInt(val))
		case "Rebuild Status", "Reshape Status":
			pct := parsePercent(val)
			syncProgress = &pct
		}
	}

	if !haveLevel {
		return model.RaidArray{}, baluerr.New(baluerr.KindParse, "raidparser.parseDetail", "missing Raid Level field")
	}

	devices, err := reconcileDeviceRows(rows)
	if err != nil {
		return model.RaidArray{}, err
	}
	for i := range devices {
		devices[i].ArrayName = name
	}
	array.Devices = devices

	array.Level = level
	array.SizeBytes = sizeKB * 1024
	array.ChunkKB = chunkKB
	array.SyncProgress = syncProgress
	array.SyncSpeedKB = speedKB
	if syncProgress != nil {
		array.SyncAction = model.SyncResync
	} else {
		array.SyncAction = model.SyncIdle
	}
	status := model.DeriveStatus(level, array.Devices, mirrorPairDead)
	if status == model.StatusOptimal && syncProgress != nil {
		// No failed members but actively resyncing/reshaping: the array
		// is healthy-but-not-yet-settled, distinct from steady-state optimal.
		status = model.StatusRebuilding
	}
	array.Status = status
	return array, nil
}

func splitDetailField(line string) (key, val string, ok bool) {
	idx := strings.Index(line, " : ")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+3:]), true
}

func parseRaidLevel(val string) (model.RaidLevel, error) {
	switch strings.ToLower(val) {
	case "raid0":
		return model.RaidLevel0, nil
	case "raid1":
		return model.RaidLevel1, nil
	case "raid5":
		return model.RaidLevel5, nil
	case "raid6":
		return model.RaidLevel6, nil
	case "raid10":
		return model.RaidLevel10, nil
	default:
		return 0, baluerr.New(baluerr.KindParse, "raidparser.parseRaidLevel", "unrecognised raid level: "+val)
	}
}

func parseLeadingInt(val string) int64 {
	fields := strings.Fields(val)
	if len(fields) == 0 {
		return 0
	}
	n, _ := strconv.ParseInt(fields[0], 10, 64)
	return n
}

func parsePercent(val string) float64 {
	idx := strings.Index(val, "%")
	if idx < 0 {
		return 0
	}
	n, _ := strconv.ParseFloat(strings.TrimSpace(val[:idx]), 64)
	return n
}

// detailDeviceRow is one raw row of the device table, before the
// removed/faulty reconciliation reconcileDeviceRows performs.
type detailDeviceRow struct {
	slot      int
	name      string
	stateDesc string
}

// parseDetailDeviceLine parses one row of the device table. A "-" in
// Major/Minor/RaidDevice maps to slot=-1, matching mdadm's convention
// for a device that no longer occupies a RaidDevice slot.
func parseDetailDeviceLine(line string) (detailDeviceRow, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return detailDeviceRow{}, false, nil
	}

	slot := -1
	if fields[3] != "-" {
		n, err := strconv.Atoi(fields[3])
		if err != nil {
			return detailDeviceRow{}, false, baluerr.Wrap(baluerr.KindParse, "raidparser.parseDetailDeviceLine", err)
		}
		slot = n
	}

	// Remaining fields form the state description, and the last field
	// that looks like a device path (leading "/") is the device name;
	// a bare "removed" row has no device name at all.
	stateFields := fields[4:]
	devName := ""
	if len(stateFields) > 0 && strings.HasPrefix(stateFields[len(stateFields)-1], "/") {
		devName = stateFields[len(stateFields)-1]
		stateFields = stateFields[:len(stateFields)-1]
	}

	return detailDeviceRow{slot: slot, name: devName, stateDesc: strings.Join(stateFields, " ")}, true, nil
}

// reconcileDeviceRows turns the raw device-table rows into model.RaidDevice
// values, merging a nameless "removed" placeholder row with its matching
// nameless-slot "faulty" row below the table: mdadm emits both for the
// same physical failure (the placeholder marks the vacated RaidDevice
// slot, the faulty row — listed separately, with dashes in Number and
// RaidDevice — carries the device name), and counting them as two
// members would double a single failure in DeriveStatus's tally.
func reconcileDeviceRows(rows []detailDeviceRow) ([]model.RaidDevice, error) {
	matchedFaulty := make([]bool, len(rows))
	devices := make([]model.RaidDevice, 0, len(rows))

	for i, row := range rows {
		if row.stateDesc != "removed" || row.name != "" {
			continue
		}
		merged := false
		for j, other := range rows {
			if matchedFaulty[j] || j == i {
				continue
			}
			if other.slot == -1 && other.name != "" && strings.Contains(other.stateDesc, "faulty") {
				matchedFaulty[j] = true
				devices = append(devices, model.RaidDevice{
					Name:  other.name,
					Slot:  row.slot,
					State: model.DeviceFaulty,
					Role:  model.RoleActive,
				})
				merged = true
				break
			}
		}
		if !merged {
			devices = append(devices, model.RaidDevice{Slot: row.slot, State: model.DeviceMissing, Role: model.RoleActive})
		}
	}

	for i, row := range rows {
		if matchedFaulty[i] || (row.stateDesc == "removed" && row.name == "") {
			continue
		}
		dev, err := classifyDetailDeviceRow(row)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func classifyDetailDeviceRow(row detailDeviceRow) (model.RaidDevice, error) {
	dev := model.RaidDevice{Name: row.name, Slot: row.slot}
	switch {
	case strings.Contains(row.stateDesc, "faulty"):
		dev.State = model.DeviceFaulty
		dev.Role = model.RoleActive
	case strings.Contains(row.stateDesc, "spare") && strings.Contains(row.stateDesc, "rebuilding"):
		dev.State = model.DeviceRebuilding
		dev.Role = model.RoleSpare
	case strings.Contains(row.stateDesc, "spare"):
		dev.State = model.DeviceSpare
		dev.Role = model.RoleSpare
	case strings.Contains(row.stateDesc, "write-mostly"):
		dev.State = model.DeviceWriteMostly
		dev.Role = model.RoleWriteMostly
	case strings.Contains(row.stateDesc, "active"):
		dev.State = model.DeviceActive
		dev.Role = model.RoleActive
	default:
		return model.RaidDevice{}, baluerr.New(baluerr.KindParse, "raidparser.parseDetailDeviceLine", "unrecognised device state: "+row.stateDesc)
	}
	return dev, nil
}
