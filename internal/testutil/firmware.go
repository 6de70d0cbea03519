package testutil

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"

	"github.com/jbweber/homelab/brain/internal/remote"
)

type fwDisk struct {
	name     string
	size     int64
	mtime    int64
	partUUID string
}

type fwEntry struct {
	num      uint16
	label    string
	partUUID string
}

// FakeFirmware simulates the block devices and EFI boot table of one host
// behind a FakeShell.
type FakeFirmware struct {
	mu      sync.Mutex
	clock   int64
	disks   []fwDisk
	entries []fwEntry
	nextNum uint16
}

// NewFakeFirmware installs a simulated host on shell.
func NewFakeFirmware(shell *FakeShell) *FakeFirmware {
	fw := &FakeFirmware{clock: 1000}
	shell.Respond("/sys/bus/pci/rescan", "")
	shell.Respond("echo ok", "ok")
	shell.Handle("/sys/block", fw.handle(fw.listDevices))
	shell.Handle("lsblk -P -p", fw.handle(fw.listPartitions))
	shell.Handle("lsblk -P -o PARTUUID", fw.handle(fw.livePartitions))
	shell.Handle("efibootmgr -v", fw.handle(fw.listEntries))
	shell.Handle("efibootmgr -c", fw.handle(fw.createEntry))
	shell.Handle("efibootmgr -b", fw.handle(fw.deleteEntry))
	return fw
}

func (fw *FakeFirmware) handle(fn func(args []string) (string, error)) ShellHandler {
	return func(_ remote.Target, cmd string) (string, error) {
		args, err := shellquote.Split(cmd)
		if err != nil {
			return "", err
		}
		fw.mu.Lock()
		defer fw.mu.Unlock()
		return fn(args)
	}
}

// AttachDisk adds a disk with one partition. Each attach is newer than the
// previous one.
func (fw *FakeFirmware) AttachDisk(name string, sizeBytes int64, partUUID string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.clock++
	fw.disks = append(fw.disks, fwDisk{name: name, size: sizeBytes, mtime: fw.clock, partUUID: partUUID})
}

// DetachDisk removes a disk and its partition.
func (fw *FakeFirmware) DetachDisk(name string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for i, d := range fw.disks {
		if d.name == name {
			fw.disks = append(fw.disks[:i], fw.disks[i+1:]...)
			return
		}
	}
}

// AddEntry adds a boot entry referencing partUUID.
func (fw *FakeFirmware) AddEntry(label, partUUID string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.addEntry(label, partUUID)
}

// Labels returns the labels of the boot entries in order.
func (fw *FakeFirmware) Labels() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	labels := make([]string, len(fw.entries))
	for i, e := range fw.entries {
		labels[i] = e.label
	}
	return labels
}

func (fw *FakeFirmware) addEntry(label, partUUID string) {
	fw.entries = append(fw.entries, fwEntry{num: fw.nextNum, label: label, partUUID: partUUID})
	fw.nextNum++
}

func (fw *FakeFirmware) listDevices([]string) (string, error) {
	var b strings.Builder
	for _, d := range fw.disks {
		fmt.Fprintf(&b, "NAME=%s SIZE=%d MTIME=%d\n", d.name, d.size, d.mtime)
	}
	return b.String(), nil
}

func (fw *FakeFirmware) listPartitions(args []string) (string, error) {
	dev := args[len(args)-1]
	for _, d := range fw.disks {
		if d.name == dev {
			return fmt.Sprintf("NAME=%q TYPE=\"disk\" PARTUUID=\"\"\nNAME=%q TYPE=\"part\" PARTUUID=%q\n",
				d.name, d.name+"1", d.partUUID), nil
		}
	}
	return "", nil
}

func (fw *FakeFirmware) livePartitions([]string) (string, error) {
	var b strings.Builder
	for _, d := range fw.disks {
		fmt.Fprintf(&b, "PARTUUID=\"\"\nPARTUUID=%q\n", d.partUUID)
	}
	return b.String(), nil
}

func (fw *FakeFirmware) listEntries([]string) (string, error) {
	var b strings.Builder
	b.WriteString("BootCurrent: 0000\n")
	order := make([]string, len(fw.entries))
	for i, e := range fw.entries {
		order[i] = fmt.Sprintf("%04X", e.num)
	}
	fmt.Fprintf(&b, "BootOrder: %s\n", strings.Join(order, ","))
	for _, e := range fw.entries {
		if e.partUUID == "" {
			fmt.Fprintf(&b, "Boot%04X* %s\tPciRoot(0x0)/Pci(0x3,0x0)/MAC(525400123456,1)\n", e.num, e.label)
			continue
		}
		fmt.Fprintf(&b, "Boot%04X* %s\tHD(1,GPT,%s,0x800,0x100000)/File(\\EFI\\BOOT\\BOOTX64.EFI)\n",
			e.num, e.label, e.partUUID)
	}
	return b.String(), nil
}

func flag(args []string, name string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func (fw *FakeFirmware) createEntry(args []string) (string, error) {
	dev, label := flag(args, "-d"), flag(args, "-L")
	for _, d := range fw.disks {
		if d.name == dev {
			fw.addEntry(label, d.partUUID)
			return "", nil
		}
	}
	return "", nil
}

func (fw *FakeFirmware) deleteEntry(args []string) (string, error) {
	num, err := strconv.ParseUint(flag(args, "-b"), 16, 16)
	if err != nil {
		return "", err
	}
	for i, e := range fw.entries {
		if e.num == uint16(num) {
			fw.entries = append(fw.entries[:i], fw.entries[i+1:]...)
			break
		}
	}
	return "", nil
}
