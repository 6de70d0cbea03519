// Package efi reconciles a host's firmware boot entries with the block
// devices attached to it. All host interaction goes through a remote
// command executor; parsing and matching are pure functions.
package efi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/remote"
)

const (
	rescanCmd     = "echo 1 > /sys/bus/pci/rescan"
	listBootCmd   = "efibootmgr -v"
	livePartsCmd  = "lsblk -P -o PARTUUID"
	verifyCmd     = "echo ok"
	listDevicesSh = `for d in /sys/block/*; do n=${d##*/}; case $n in loop*|ram*|sr*|dm-*|md*) continue;; esac; ` +
		`echo "NAME=/dev/$n SIZE=$(( $(cat $d/size) * 512 )) MTIME=$(stat -c %Y /dev/$n)"; done`
)

// Errors reported by the Manager.
var (
	ErrNoDevice     = errors.New("no attached device matches the expected size")
	ErrNoPartition  = errors.New("device has no partition with an identifier")
	ErrNotConfirmed = errors.New("boot entry not found after creation")
	ErrNoLiveParts  = errors.New("host reported no partition identifiers")
	ErrNoEntry      = errors.New("boot entry does not exist")
)

// Options configures a Manager.
type Options struct {
	Loader        string        // bootloader path on the EFI partition
	SettleDelay   time.Duration // wait after a bus rescan
	SizeTolerance int64         // bytes a device may differ from the expected size
	Clock         clock.Clock
}

// Manager creates and garbage-collects firmware boot entries over a remote
// shell.
type Manager struct {
	exec remote.Executor
	opts Options
}

// NewManager creates a Manager running commands through exec.
func NewManager(exec remote.Executor, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Manager{exec: exec, opts: opts}
}

// CreateRequest describes the disk a boot entry is created for.
type CreateRequest struct {
	Label     string
	SizeBytes int64
}

// CreateEntry finds the newly attached disk on the host and makes sure a
// boot entry points at its first partition. An existing entry for the same
// partition is returned as is.
func (m *Manager) CreateEntry(ctx context.Context, target remote.Target, req CreateRequest) (BootEntry, error) {
	log := logging.FromContext(ctx).WithFields(logrus.Fields{"host": target.Host, "label": req.Label})

	if _, err := m.exec.Execute(ctx, target, rescanCmd); err != nil {
		return BootEntry{}, fmt.Errorf("rescan bus: %w", err)
	}
	if err := m.settle(ctx); err != nil {
		return BootEntry{}, err
	}

	out, err := m.exec.Execute(ctx, target, listDevicesSh)
	if err != nil {
		return BootEntry{}, fmt.Errorf("list devices: %w", err)
	}
	dev, ok := SelectDevice(ParseDevices(out), req.SizeBytes, m.opts.SizeTolerance)
	if !ok {
		log.WithField("expected", humanize.IBytes(uint64(req.SizeBytes))).Warn("no matching device")
		return BootEntry{}, ErrNoDevice
	}
	log = log.WithField("device", dev.Name)
	log.WithField("size", humanize.IBytes(uint64(dev.SizeBytes))).Info("selected boot device")

	out, err = m.exec.Execute(ctx, target, shellquote.Join("lsblk", "-P", "-p", "-o", "NAME,TYPE,PARTUUID", dev.Name))
	if err != nil {
		return BootEntry{}, fmt.Errorf("list partitions of %s: %w", dev.Name, err)
	}
	parts, err := ParsePartitions(out)
	if err != nil {
		return BootEntry{}, err
	}
	part, ok := FirstPartition(parts)
	if !ok || part.PartUUID == "" {
		return BootEntry{}, fmt.Errorf("%s: %w", dev.Name, ErrNoPartition)
	}
	partNum, err := part.Number()
	if err != nil {
		return BootEntry{}, err
	}

	table, err := m.Entries(ctx, target)
	if err != nil {
		return BootEntry{}, err
	}
	if existing, ok := FindByPartUUID(table.Entries, part.PartUUID); ok {
		log.WithField("bootnum", existing.BootNum()).Info("boot entry already present")
		return existing, nil
	}

	create := shellquote.Join("efibootmgr", "-c", "-d", dev.Name, "-p", strconv.Itoa(partNum),
		"-L", req.Label, "-l", m.opts.Loader)
	if _, err := m.exec.Execute(ctx, target, create); err != nil {
		return BootEntry{}, fmt.Errorf("create boot entry: %w", err)
	}

	table, err = m.Entries(ctx, target)
	if err != nil {
		return BootEntry{}, err
	}
	for _, e := range table.Entries {
		if e.Label == req.Label && e.PartUUID == part.PartUUID {
			log.WithFields(logrus.Fields{"bootnum": e.BootNum(), "partuuid": e.PartUUID}).Info("boot entry created")
			return e, nil
		}
	}
	return BootEntry{}, ErrNotConfirmed
}

func (m *Manager) settle(ctx context.Context) error {
	if m.opts.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-m.opts.Clock.After(m.opts.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CleanupOrphans deletes boot entries whose partition no longer exists on
// the host and returns the removed entries. A failed deletion is reported
// in the returned error but does not stop the remaining deletions.
func (m *Manager) CleanupOrphans(ctx context.Context, target remote.Target) ([]BootEntry, error) {
	log := logging.FromContext(ctx).WithField("host", target.Host)

	out, err := m.exec.Execute(ctx, target, livePartsCmd)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	live, err := LivePartUUIDs(out)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, ErrNoLiveParts
	}

	table, err := m.Entries(ctx, target)
	if err != nil {
		return nil, err
	}

	var removed []BootEntry
	var errs []error
	for _, e := range FindOrphans(table.Entries, live) {
		entryLog := log.WithFields(logrus.Fields{"bootnum": e.BootNum(), "label": e.Label, "partuuid": e.PartUUID})
		if _, err := m.exec.Execute(ctx, target, shellquote.Join("efibootmgr", "-b", e.BootNum(), "-B")); err != nil {
			entryLog.WithError(err).Warn("failed to delete orphan boot entry")
			errs = append(errs, fmt.Errorf("delete Boot%s: %w", e.BootNum(), err))
			continue
		}
		entryLog.Info("deleted orphan boot entry")
		removed = append(removed, e)
	}
	return removed, errors.Join(errs...)
}

// Entries returns the host's firmware boot table.
func (m *Manager) Entries(ctx context.Context, target remote.Target) (BootTable, error) {
	out, err := m.exec.Execute(ctx, target, listBootCmd)
	if err != nil {
		return BootTable{}, fmt.Errorf("list boot entries: %w", err)
	}
	return ParseBootEntries(out), nil
}

// SetNext makes num the one-time boot target and confirms it took effect.
func (m *Manager) SetNext(ctx context.Context, target remote.Target, num uint16) error {
	bootNum := fmt.Sprintf("%04X", num)
	table, err := m.Entries(ctx, target)
	if err != nil {
		return err
	}
	known := false
	for _, e := range table.Entries {
		if e.Num == num {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("boot entry %s: %w", bootNum, ErrNoEntry)
	}

	if _, err := m.exec.Execute(ctx, target, shellquote.Join("efibootmgr", "-n", bootNum)); err != nil {
		return fmt.Errorf("set next boot: %w", err)
	}
	table, err = m.Entries(ctx, target)
	if err != nil {
		return err
	}
	if table.Next != bootNum {
		return fmt.Errorf("next boot is %q after setting %s", table.Next, bootNum)
	}
	return nil
}

// Verify checks that target's credentials open a working shell.
func (m *Manager) Verify(ctx context.Context, target remote.Target) error {
	out, err := m.exec.Execute(ctx, target, verifyCmd)
	if err != nil {
		return err
	}
	if out != "ok" {
		return fmt.Errorf("unexpected output %q", out)
	}
	return nil
}
