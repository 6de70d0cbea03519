package efi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gib = int64(1) << 30

const sampleBootOutput = `BootCurrent: 0001
Timeout: 1 seconds
BootNext: 0003
BootOrder: 0001,0000,0002,0003
Boot0000* UiApp	FvVol(7cb8bdc9-f8eb-4f34-aaea-3ee4af6516a1)/FvFile(462caa21-7614-4503-836e-8ab6f4662331)
Boot0001* ubuntu	HD(1,GPT,AAAAAAAA-1111-2222-3333-444444444444,0x800,0x100000)/File(\EFI\ubuntu\shimx64.efi)
Boot0002  UEFI PXEv4 (MAC:525400123456)	PciRoot(0x0)/Pci(0x3,0x0)/MAC(525400123456,1)/IPv4(0.0.0.0,0,DHCP,0.0.0.0,0.0.0.0,0.0.0.0)
Boot0003* rocky9-1a2b3c4d HD(1,GPT,bbbbbbbb-1111-2222-3333-444444444444,0x800,0x100000)/File(\EFI\BOOT\BOOTX64.EFI)
Boot000A* EFI Internal Shell	FvVol(7cb8bdc9-f8eb-4f34-aaea-3ee4af6516a1)/FvFile(7c04a583-9e3e-4f1c-ad65-e05268d0b4d1)
`

func TestParseDevices(t *testing.T) {
	out := `NAME=/dev/vda SIZE=42949672960 MTIME=1700000000
NAME=/dev/vdb SIZE=bad MTIME=1700000001

NAME="/dev/nvme0n1" SIZE=1000204886016 MTIME=1600000000
garbage
`
	devices := ParseDevices(out)
	assert.Equal(t, []Device{
		{Name: "/dev/vda", SizeBytes: 40 * gib, MTime: 1700000000},
		{Name: "/dev/nvme0n1", SizeBytes: 1000204886016, MTime: 1600000000},
	}, devices)
}

func TestSelectDevice(t *testing.T) {
	devices := []Device{
		{Name: "/dev/vdb", SizeBytes: 38 * gib, MTime: 300},
		{Name: "/dev/vdc", SizeBytes: 40 * gib, MTime: 100},
		{Name: "/dev/vdd", SizeBytes: 41 * gib, MTime: 200},
		{Name: "/dev/vde", SizeBytes: 60 * gib, MTime: 900},
	}

	tests := []struct {
		name      string
		tolerance int64
		want      string
		found     bool
	}{
		// 38 is outside 1 GiB of 40; the newest of vdc and vdd wins.
		{name: "one unit tolerance", tolerance: gib, want: "/dev/vdd", found: true},
		{name: "two unit tolerance", tolerance: 2 * gib, want: "/dev/vdb", found: true},
		{name: "exact only", tolerance: 0, want: "/dev/vdc", found: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := SelectDevice(devices, 40*gib, tt.tolerance)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, d.Name)
		})
	}

	_, ok := SelectDevice(devices, 100*gib, gib)
	assert.False(t, ok)
}

func TestSelectDevice_LatestCandidateWins(t *testing.T) {
	// Sizes 38, 40, 41 and 60 with expected 40: 38, 40 and 41 qualify under
	// a two unit window and the latest attach time among them wins.
	devices := []Device{
		{Name: "/dev/vdb", SizeBytes: 38 * gib, MTime: 10},
		{Name: "/dev/vdc", SizeBytes: 40 * gib, MTime: 30},
		{Name: "/dev/vdd", SizeBytes: 41 * gib, MTime: 20},
		{Name: "/dev/vde", SizeBytes: 60 * gib, MTime: 99},
	}
	d, ok := SelectDevice(devices, 40*gib, 2*gib)
	require.True(t, ok)
	assert.Equal(t, "/dev/vdc", d.Name)
}

func TestSelectDevice_TieLatestListedWins(t *testing.T) {
	devices := []Device{
		{Name: "/dev/vdb", SizeBytes: 40 * gib, MTime: 5},
		{Name: "/dev/vdc", SizeBytes: 40 * gib, MTime: 5},
	}
	d, ok := SelectDevice(devices, 40*gib, gib)
	require.True(t, ok)
	assert.Equal(t, "/dev/vdc", d.Name)
}

func TestParsePartitions(t *testing.T) {
	out := `NAME="/dev/vdb" TYPE="disk" PARTUUID=""
NAME="/dev/vdb1" TYPE="part" PARTUUID="BBBBBBBB-1111-2222-3333-444444444444"
NAME="/dev/vdb2" TYPE="part" PARTUUID="cccccccc-1111-2222-3333-444444444444"
`
	parts, err := ParsePartitions(out)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	first, ok := FirstPartition(parts)
	require.True(t, ok)
	assert.Equal(t, "/dev/vdb1", first.Name)
	assert.Equal(t, "bbbbbbbb-1111-2222-3333-444444444444", first.PartUUID)

	n, err := first.Number()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = Partition{Name: "/dev/nvme0n1p12"}.Number()
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = Partition{Name: "/dev/vdb"}.Number()
	assert.Error(t, err)

	_, ok = FirstPartition(parts[:1])
	assert.False(t, ok)
}

func TestParseBootEntries(t *testing.T) {
	table := ParseBootEntries(sampleBootOutput)

	assert.Equal(t, "0001", table.Current)
	assert.Equal(t, "0003", table.Next)
	assert.Equal(t, []string{"0001", "0000", "0002", "0003"}, table.Order)
	require.Len(t, table.Entries, 5)

	assert.Equal(t, BootEntry{
		Num:      1,
		Label:    "ubuntu",
		Active:   true,
		PartUUID: "aaaaaaaa-1111-2222-3333-444444444444",
		Path:     `HD(1,GPT,AAAAAAAA-1111-2222-3333-444444444444,0x800,0x100000)/File(\EFI\ubuntu\shimx64.efi)`,
	}, table.Entries[1])

	pxe := table.Entries[2]
	assert.Equal(t, "UEFI PXEv4 (MAC:525400123456)", pxe.Label)
	assert.False(t, pxe.Active)
	assert.Empty(t, pxe.PartUUID)

	// Space separated label without a tab.
	assert.Equal(t, "rocky9-1a2b3c4d", table.Entries[3].Label)
	assert.Equal(t, "bbbbbbbb-1111-2222-3333-444444444444", table.Entries[3].PartUUID)

	assert.Equal(t, uint16(0x0A), table.Entries[4].Num)
	assert.Equal(t, "000A", table.Entries[4].BootNum())
}

func TestFindOrphans(t *testing.T) {
	entries := []BootEntry{
		{Num: 1, Label: "a", PartUUID: "aaaaaaaa-0000-0000-0000-000000000000"},
		{Num: 2, Label: "b", PartUUID: "bbbbbbbb-0000-0000-0000-000000000000"},
		{Num: 3, Label: "c", PartUUID: "cccccccc-0000-0000-0000-000000000000"},
		{Num: 4, Label: "pxe"},
	}
	live := map[string]struct{}{
		"aaaaaaaa-0000-0000-0000-000000000000": {},
		"cccccccc-0000-0000-0000-000000000000": {},
	}

	orphans := FindOrphans(entries, live)
	require.Len(t, orphans, 1)
	assert.Equal(t, "b", orphans[0].Label)
}

func TestLivePartUUIDs(t *testing.T) {
	live, err := LivePartUUIDs("PARTUUID=\"\"\nPARTUUID=\"AAAA-1\"\nPARTUUID=\"bbbb-2\"\n")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"aaaa-1": {}, "bbbb-2": {}}, live)
}

func TestEntryLabel(t *testing.T) {
	tests := []struct {
		image, disk, want string
	}{
		{"ubuntu22", "1a2b3c4d-5e6f-7081-92a3-b4c5d6e7f809", "ubuntu22-1a2b3c4d"},
		{"Rocky Linux 9.4", "ab-cd", "Rocky_Linux_9.4-abcd"},
		{"!!!", "12345678", "disk-12345678"},
		{"a-very-long-image-name-that-keeps-going", "ffffffff", "a-very-long-image-name-t-ffffffff"},
		{"plain", "", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.image, func(t *testing.T) {
			assert.Equal(t, tt.want, EntryLabel(tt.image, tt.disk))
		})
	}
}
