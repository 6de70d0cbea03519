package efi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

// Device is a whole block device reported by the host.
type Device struct {
	Name      string // device node, e.g. /dev/vdb
	SizeBytes int64
	MTime     int64 // device node modification time, used as an attach time proxy
}

// Partition is one row of lsblk -P output.
type Partition struct {
	Name     string
	Type     string
	PartUUID string
}

// Number returns the partition number parsed from the device node name.
func (p Partition) Number() (int, error) {
	m := trailingDigits.FindString(p.Name)
	if m == "" {
		return 0, fmt.Errorf("no partition number in %q", p.Name)
	}
	return strconv.Atoi(m)
}

// BootEntry is a firmware boot entry as listed by efibootmgr -v.
type BootEntry struct {
	Num      uint16 `json:"num"`
	Label    string `json:"label"`
	Active   bool   `json:"active"`
	PartUUID string `json:"partuuid,omitempty"` // empty for entries not tied to a GPT partition
	Path     string `json:"path,omitempty"`
}

// BootNum returns the four digit hex form used by efibootmgr.
func (e BootEntry) BootNum() string {
	return fmt.Sprintf("%04X", e.Num)
}

// BootTable is the firmware boot configuration of a host.
type BootTable struct {
	Current string      `json:"current"`
	Next    string      `json:"next,omitempty"`
	Order   []string    `json:"order"`
	Entries []BootEntry `json:"entries"`
}

var (
	trailingDigits = regexp.MustCompile(`\d+$`)
	bootLine       = regexp.MustCompile(`^Boot([0-9A-Fa-f]{4})(\*?)\s+(.*)$`)
	partUUIDRef    = regexp.MustCompile(`HD\(\d+,GPT,([0-9a-fA-F-]{36})`)
	devicePathHead = regexp.MustCompile(`\s+(HD|PciRoot|Pci|FvVol|FvFile|VenHw|VenMsg|VenMedia|BBS|MemoryMapped|Acpi|File)\(`)
	unsafeLabel    = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// parseKV splits a line of KEY=value or KEY="value" pairs.
func parseKV(line string) (map[string]string, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		kv[strings.ToUpper(k)] = v
	}
	return kv, nil
}

// ParseDevices parses the output of the device listing command, one
// NAME= SIZE= MTIME= line per device. Malformed lines are skipped.
func ParseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kv, err := parseKV(line)
		if err != nil || kv["NAME"] == "" {
			continue
		}
		size, err := strconv.ParseInt(kv["SIZE"], 10, 64)
		if err != nil {
			continue
		}
		mtime, err := strconv.ParseInt(kv["MTIME"], 10, 64)
		if err != nil {
			continue
		}
		devices = append(devices, Device{Name: kv["NAME"], SizeBytes: size, MTime: mtime})
	}
	return devices
}

// SelectDevice picks the most recently attached device whose size is within
// tolerance of expected. On equal attach times the later listed device wins.
func SelectDevice(devices []Device, expected, tolerance int64) (Device, bool) {
	var best Device
	found := false
	for _, d := range devices {
		diff := d.SizeBytes - expected
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			continue
		}
		if !found || d.MTime >= best.MTime {
			best = d
			found = true
		}
	}
	return best, found
}

// ParsePartitions parses lsblk -P output.
func ParsePartitions(out string) ([]Partition, error) {
	var parts []Partition
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kv, err := parseKV(line)
		if err != nil {
			return nil, fmt.Errorf("parse lsblk line %q: %w", line, err)
		}
		parts = append(parts, Partition{Name: kv["NAME"], Type: kv["TYPE"], PartUUID: strings.ToLower(kv["PARTUUID"])})
	}
	return parts, nil
}

// FirstPartition returns the first row of type part.
func FirstPartition(parts []Partition) (Partition, bool) {
	for _, p := range parts {
		if p.Type == "part" {
			return p, true
		}
	}
	return Partition{}, false
}

// LivePartUUIDs returns the set of non-empty partition identifiers in lsblk
// -P output, lower-cased.
func LivePartUUIDs(out string) (map[string]struct{}, error) {
	parts, err := ParsePartitions(out)
	if err != nil {
		return nil, err
	}
	live := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p.PartUUID != "" {
			live[p.PartUUID] = struct{}{}
		}
	}
	return live, nil
}

// ParseBootEntries parses efibootmgr -v output.
func ParseBootEntries(out string) BootTable {
	var table BootTable
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r ")
		switch {
		case strings.HasPrefix(line, "BootCurrent:"):
			table.Current = strings.TrimSpace(strings.TrimPrefix(line, "BootCurrent:"))
		case strings.HasPrefix(line, "BootNext:"):
			table.Next = strings.TrimSpace(strings.TrimPrefix(line, "BootNext:"))
		case strings.HasPrefix(line, "BootOrder:"):
			order := strings.TrimSpace(strings.TrimPrefix(line, "BootOrder:"))
			if order != "" {
				table.Order = strings.Split(order, ",")
			}
		default:
			if e, ok := parseBootLine(line); ok {
				table.Entries = append(table.Entries, e)
			}
		}
	}
	return table
}

func parseBootLine(line string) (BootEntry, bool) {
	m := bootLine.FindStringSubmatch(line)
	if m == nil {
		return BootEntry{}, false
	}
	num, err := strconv.ParseUint(m[1], 16, 16)
	if err != nil {
		return BootEntry{}, false
	}
	e := BootEntry{Num: uint16(num), Active: m[2] == "*"}

	rest := m[3]
	if label, path, ok := strings.Cut(rest, "\t"); ok {
		e.Label, e.Path = strings.TrimSpace(label), strings.TrimSpace(path)
	} else if loc := devicePathHead.FindStringIndex(rest); loc != nil {
		e.Label, e.Path = strings.TrimSpace(rest[:loc[0]]), strings.TrimSpace(rest[loc[0]:])
	} else {
		e.Label = strings.TrimSpace(rest)
	}
	if ref := partUUIDRef.FindStringSubmatch(rest); ref != nil {
		e.PartUUID = strings.ToLower(ref[1])
	}
	return e, true
}

// FindOrphans returns the entries that reference a partition missing from
// live. Entries without a partition reference are never returned.
func FindOrphans(entries []BootEntry, live map[string]struct{}) []BootEntry {
	var orphans []BootEntry
	for _, e := range entries {
		if e.PartUUID == "" {
			continue
		}
		if _, ok := live[strings.ToLower(e.PartUUID)]; !ok {
			orphans = append(orphans, e)
		}
	}
	return orphans
}

// FindByPartUUID returns the first entry referencing partUUID.
func FindByPartUUID(entries []BootEntry, partUUID string) (BootEntry, bool) {
	for _, e := range entries {
		if e.PartUUID != "" && strings.EqualFold(e.PartUUID, partUUID) {
			return e, true
		}
	}
	return BootEntry{}, false
}

// EntryLabel builds a boot entry label from an image name and the first
// eight characters of the disk id.
func EntryLabel(imageName, diskID string) string {
	name := strings.Trim(unsafeLabel.ReplaceAllString(imageName, "_"), "_")
	if name == "" {
		name = "disk"
	}
	if len(name) > 24 {
		name = name[:24]
	}
	suffix := strings.ReplaceAll(diskID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	if suffix == "" {
		return name
	}
	return name + "-" + suffix
}
