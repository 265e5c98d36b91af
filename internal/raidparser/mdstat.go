// Package raidparser turns /proc/mdstat text and `mdadm --detail` text
// output into model.RaidArray/model.RaidDevice values (C6). Ambiguous
// input is reported as a kParse error rather than guessed at.
package raidparser

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/baluhost/baluhost/internal/baluerr"
)

// mdstatDeviceRe matches one device token in an mdstat array line, e.g.
// "sda1[0]", "sdb1[1](F)", "sdc1[2](S)", "sdd1[3](W)".
var mdstatDeviceRe = regexp.MustCompile(`^([a-zA-Z0-9_]+)\[(\d+)\](\([A-Z]\))?$`)

// mdstatHeaderRe matches "mdX : active raid1 ..." / "mdX : inactive ...".
var mdstatHeaderRe = regexp.MustCompile(`^(md\d+)\s*:\s*(active|inactive)\s+(raid\d+|\S+)\s*(.*)$`)

// progressRe matches the resync/recovery/check/reshape progress line,
// e.g. "[===>.............] resync = 24.3% (1234567/5000000) finish=1.2min speed=10240K/sec".
var progressRe = regexp.MustCompile(`(resync|recovery|check|reshape)\s*=\s*([\d.]+)%(?:.*speed=(\d+)K/sec)?`)

// MdstatDevice is one device token parsed from an array's device list.
type MdstatDevice struct {
	Name        string
	Slot        int
	Faulty      bool
	Spare       bool
	WriteMostly bool
}

// MdstatArray is one array block parsed out of /proc/mdstat.
type MdstatArray struct {
	Name       string
	Active     bool
	Level      string
	Devices    []MdstatDevice
	SyncAction string // "", "resync", "recovery", "check", "reshape"
	Progress   float64
	SpeedKB    int64
}

// ParseMdstat parses the full contents of /proc/mdstat.
func ParseMdstat(data []byte) ([]MdstatArray, error) {
	var arrays []MdstatArray
	var current *MdstatArray

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" {
			current = nil
			continue
		}
		if strings.HasPrefix(line, "Personalities") || strings.HasPrefix(line, "unused devices") {
			continue
		}

		if m := mdstatHeaderRe.FindStringSubmatch(line); m != nil {
			arr := MdstatArray{Name: m[1], Active: m[2] == "active", Level: m[3]}
			devices, err := parseMdstatDevices(m[4])
			if err != nil {
				return nil, baluerr.Wrap(baluerr.KindParse, "raidparser.parseMdstat", err)
			}
			arr.Devices = devices
			arrays = append(arrays, arr)
			current = &arrays[len(arrays)-1]
			continue
		}

		if current == nil {
			continue
		}
		if m := progressRe.FindStringSubmatch(line); m != nil {
			current.SyncAction = m[1]
			progress, _ := strconv.ParseFloat(m[2], 64)
			current.Progress = progress
			if m[3] != "" {
				speed, _ := strconv.ParseInt(m[3], 10, 64)
				current.SpeedKB = speed
			}
		}
	}

	return arrays, nil
}

func parseMdstatDevices(rest string) ([]MdstatDevice, error) {
	fields := strings.Fields(rest)
	devices := make([]MdstatDevice, 0, len(fields))
	for _, f := range fields {
		m := mdstatDeviceRe.FindStringSubmatch(f)
		if m == nil {
			return nil, baluerr.New(baluerr.KindParse, "raidparser.parseMdstatDevices", "unrecognised device token: "+f)
		}
		slot, _ := strconv.Atoi(m[2])
		dev := MdstatDevice{Name: m[1], Slot: slot}
		switch m[3] {
		case "(F)":
			dev.Faulty = true
		case "(S)":
			dev.Spare = true
		case "(W)":
			dev.WriteMostly = true
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// RebuildSpeedKB returns the speed= field of the named array's progress
// line, or 0 if the array isn't currently syncing. mdadm --detail does
// not carry a speed field at all — it only lives in /proc/mdstat.
func RebuildSpeedKB(arrays []MdstatArray, name string) int64 {
	for _, a := range arrays {
		if a.Name == name {
			return a.SpeedKB
		}
	}
	return 0
}
