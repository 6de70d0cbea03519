package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/jbweber/homelab/brain/internal/gateway"
	"github.com/jbweber/homelab/brain/internal/remote"
	"github.com/jbweber/homelab/brain/internal/storage"
)

var (
	_ storage.Backend = (*FakeStorage)(nil)
	_ gateway.Agent   = (*FakeAgent)(nil)
	_ remote.Executor = (*FakeShell)(nil)
)

// FakeStorage is an in-memory storage.Backend. Images are tracked by their
// pool/name spec; snapshots by spec@snap with their protection flag.
type FakeStorage struct {
	mu        sync.Mutex
	images    map[string]int64
	snapshots map[string]bool
	fail      map[string]error
	calls     []string
}

// NewFakeStorage creates an empty fake storage cluster.
func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		images:    make(map[string]int64),
		snapshots: make(map[string]bool),
		fail:      make(map[string]error),
	}
}

// AddImage registers an existing image with a protected snapshot.
func (f *FakeStorage) AddImage(spec, snap string, sizeBytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[spec] = sizeBytes
	if snap != "" {
		f.snapshots[spec+"@"+snap] = true
	}
}

// FailOn makes every call to op return err. A nil err clears the failure.
func (f *FakeStorage) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// HasImage reports whether spec exists.
func (f *FakeStorage) HasImage(spec string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.images[spec]
	return ok
}

// ImageSize returns the size of spec in bytes.
func (f *FakeStorage) ImageSize(spec string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[spec]
}

// Snapshot reports whether spec@snap exists and whether it is protected.
func (f *FakeStorage) Snapshot(spec, snap string) (exists, protected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	protected, exists = f.snapshots[spec+"@"+snap]
	return exists, protected
}

// Calls returns the operations performed so far.
func (f *FakeStorage) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeStorage) begin(op, detail string) error {
	f.calls = append(f.calls, op+" "+detail)
	return f.fail[op]
}

func notFound(op, what string) error {
	return &storage.APIError{Op: op, Status: http.StatusNotFound, Body: what + " not found"}
}

// Clone implements storage.Backend
func (f *FakeStorage) Clone(_ context.Context, _ string, parent storage.ImageSpec, snap string, child storage.ImageSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("clone", parent.String()+"@"+snap+" "+child.String()); err != nil {
		return err
	}
	if protected, ok := f.snapshots[parent.String()+"@"+snap]; !ok || !protected {
		return notFound("clone", "protected snapshot "+parent.String()+"@"+snap)
	}
	if _, ok := f.images[child.String()]; ok {
		return &storage.APIError{Op: "clone", Status: http.StatusConflict, Body: child.String() + " exists"}
	}
	f.images[child.String()] = f.images[parent.String()]
	return nil
}

// Flatten implements storage.Backend
func (f *FakeStorage) Flatten(_ context.Context, _ string, img storage.ImageSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("flatten", img.String()); err != nil {
		return err
	}
	if _, ok := f.images[img.String()]; !ok {
		return notFound("flatten", img.String())
	}
	return nil
}

// Resize implements storage.Backend
func (f *FakeStorage) Resize(_ context.Context, _ string, img storage.ImageSpec, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("resize", fmt.Sprintf("%s %d", img, sizeBytes)); err != nil {
		return err
	}
	if _, ok := f.images[img.String()]; !ok {
		return notFound("resize", img.String())
	}
	f.images[img.String()] = sizeBytes
	return nil
}

// Copy implements storage.Backend
func (f *FakeStorage) Copy(_ context.Context, _ string, src, dst storage.ImageSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("copy", src.String()+" "+dst.String()); err != nil {
		return err
	}
	size, ok := f.images[src.String()]
	if !ok {
		return notFound("copy", src.String())
	}
	f.images[dst.String()] = size
	return nil
}

// CreateSnapshot implements storage.Backend
func (f *FakeStorage) CreateSnapshot(_ context.Context, _ string, img storage.ImageSpec, snap string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create snapshot", img.String()+"@"+snap); err != nil {
		return err
	}
	if _, ok := f.images[img.String()]; !ok {
		return notFound("create snapshot", img.String())
	}
	f.snapshots[img.String()+"@"+snap] = false
	return nil
}

// SetSnapshotProtection implements storage.Backend
func (f *FakeStorage) SetSnapshotProtection(_ context.Context, _ string, img storage.ImageSpec, snap string, protected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	op := "protect snapshot"
	if !protected {
		op = "unprotect snapshot"
	}
	if err := f.begin(op, img.String()+"@"+snap); err != nil {
		return err
	}
	key := img.String() + "@" + snap
	if _, ok := f.snapshots[key]; !ok {
		return notFound(op, key)
	}
	f.snapshots[key] = protected
	return nil
}

// DeleteSnapshot implements storage.Backend
func (f *FakeStorage) DeleteSnapshot(_ context.Context, _ string, img storage.ImageSpec, snap string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("delete snapshot", img.String()+"@"+snap); err != nil {
		return err
	}
	key := img.String() + "@" + snap
	if f.snapshots[key] {
		return &storage.APIError{Op: "delete snapshot", Status: http.StatusBadRequest, Body: key + " is protected"}
	}
	delete(f.snapshots, key)
	return nil
}

// DeleteImage implements storage.Backend
func (f *FakeStorage) DeleteImage(_ context.Context, _ string, img storage.ImageSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("delete image", img.String()); err != nil {
		return err
	}
	if _, ok := f.images[img.String()]; !ok {
		return notFound("delete image", img.String())
	}
	delete(f.images, img.String())
	return nil
}

// FirstBoot is a first-boot datasource installed on a fake agent.
type FirstBoot struct {
	UserData      any
	NetworkConfig any
}

// FakeAgent is an in-memory gateway.Agent covering every agent address.
type FakeAgent struct {
	mu          sync.Mutex
	nextBlockID int64
	nextNetID   int
	blocks      map[string]map[int64]string
	firstBoot   map[string]FirstBoot
	counts      map[string]int
	cloudDisk   map[string]bool
	netDevices  map[string]map[string]gateway.NetDevice
	flows       []gateway.Flow
	nics        map[string][]gateway.NIC
	fail        map[string]error
}

// NewFakeAgent creates a fake agent whose first block id is firstBlockID.
func NewFakeAgent(firstBlockID int64) *FakeAgent {
	return &FakeAgent{
		nextBlockID: firstBlockID,
		blocks:      make(map[string]map[int64]string),
		firstBoot:   make(map[string]FirstBoot),
		counts:      make(map[string]int),
		cloudDisk:   make(map[string]bool),
		netDevices:  make(map[string]map[string]gateway.NetDevice),
		nics:        make(map[string][]gateway.NIC),
		fail:        make(map[string]error),
	}
}

// FailOn makes every call to op return err. Ops are named as in
// gateway.AgentError, e.g. "vblk add". A nil err clears the failure.
func (f *FakeAgent) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// RejectOn makes op answer with a non-zero result code.
func (f *FakeAgent) RejectOn(op string, code int, message string) {
	f.FailOn(op, &gateway.AgentError{Op: op, Status: http.StatusOK, Code: code, Message: message})
}

// Count returns how many times op was called, successful or not.
func (f *FakeAgent) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op]
}

// Blocks returns the pool paths of the block devices on addr by id.
func (f *FakeAgent) Blocks(addr string) map[int64]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]string, len(f.blocks[addr]))
	for id, path := range f.blocks[addr] {
		out[id] = path
	}
	return out
}

// FirstBoot returns the datasource installed on addr.
func (f *FakeAgent) FirstBoot(addr string) (FirstBoot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb, ok := f.firstBoot[addr]
	return fb, ok
}

// SetNICs sets the NICs reported by ListNICs on addr.
func (f *FakeAgent) SetNICs(addr string, nics []gateway.NIC) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nics[addr] = nics
}

// SetCloudDisk sets the agent side cloud-disk flag on addr.
func (f *FakeAgent) SetCloudDisk(addr string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cloudDisk[addr] = enabled
}

// NetDevices returns the ids of the network devices on addr, sorted.
func (f *FakeAgent) NetDevices(addr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.netDevices[addr]))
	for id := range f.netDevices[addr] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flows returns the flows added so far.
func (f *FakeAgent) Flows() []gateway.Flow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Flow(nil), f.flows...)
}

func (f *FakeAgent) begin(op string) error {
	f.counts[op]++
	return f.fail[op]
}

// AddBlockDevice implements gateway.Agent
func (f *FakeAgent) AddBlockDevice(_ context.Context, addr string, dev gateway.BlockDevice) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("vblk add"); err != nil {
		return 0, err
	}
	if f.blocks[addr] == nil {
		f.blocks[addr] = make(map[int64]string)
	}
	id := f.nextBlockID
	f.nextBlockID++
	f.blocks[addr][id] = dev.PoolPath
	return id, nil
}

// DeleteBlockDevice implements gateway.Agent
func (f *FakeAgent) DeleteBlockDevice(_ context.Context, addr string, dev gateway.BlockDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("vblk del"); err != nil {
		return err
	}
	if f.blocks[addr][dev.BlockID] != dev.PoolPath {
		return &gateway.AgentError{Op: "vblk del", Status: http.StatusOK, Code: 2, Message: "no such block device"}
	}
	delete(f.blocks[addr], dev.BlockID)
	return nil
}

// CreateFirstBoot implements gateway.Agent
func (f *FakeAgent) CreateFirstBoot(_ context.Context, addr string, userData, networkConfig any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("cloudinit create"); err != nil {
		return err
	}
	f.firstBoot[addr] = FirstBoot{UserData: userData, NetworkConfig: networkConfig}
	return nil
}

// DeleteFirstBoot implements gateway.Agent
func (f *FakeAgent) DeleteFirstBoot(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("cloudinit delete"); err != nil {
		return err
	}
	delete(f.firstBoot, addr)
	return nil
}

// SaveCheckpoint implements gateway.Agent
func (f *FakeAgent) SaveCheckpoint(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begin("checkpoint save")
}

// CloudDiskEnabled implements gateway.Agent
func (f *FakeAgent) CloudDiskEnabled(_ context.Context, addr string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get clouddisk setting"); err != nil {
		return false, err
	}
	return f.cloudDisk[addr], nil
}

// SetCloudDiskEnabled implements gateway.Agent
func (f *FakeAgent) SetCloudDiskEnabled(_ context.Context, addr string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("set clouddisk setting"); err != nil {
		return err
	}
	f.cloudDisk[addr] = enabled
	return nil
}

// AddNetDevice implements gateway.Agent
func (f *FakeAgent) AddNetDevice(_ context.Context, addr string, dev gateway.NetDevice) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("xscnet add"); err != nil {
		return "", err
	}
	if f.netDevices[addr] == nil {
		f.netDevices[addr] = make(map[string]gateway.NetDevice)
	}
	f.nextNetID++
	id := fmt.Sprintf("net-%d", f.nextNetID)
	f.netDevices[addr][id] = dev
	return id, nil
}

// DeleteNetDevice implements gateway.Agent
func (f *FakeAgent) DeleteNetDevice(_ context.Context, addr string, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("xscnet del"); err != nil {
		return err
	}
	if _, ok := f.netDevices[addr][deviceID]; !ok {
		return &gateway.AgentError{Op: "xscnet del", Status: http.StatusOK, Code: 2, Message: "no such device"}
	}
	delete(f.netDevices[addr], deviceID)
	return nil
}

// AddFlow implements gateway.Agent
func (f *FakeAgent) AddFlow(_ context.Context, _ string, flow gateway.Flow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ovsflow add"); err != nil {
		return err
	}
	f.flows = append(f.flows, flow)
	return nil
}

// ListNICs implements gateway.Agent
func (f *FakeAgent) ListNICs(_ context.Context, addr string) ([]gateway.NIC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("list nics"); err != nil {
		return nil, err
	}
	return append([]gateway.NIC(nil), f.nics[addr]...), nil
}

// ShellHandler answers one remote command.
type ShellHandler func(target remote.Target, cmd string) (string, error)

type shellRule struct {
	substr  string
	handler ShellHandler
}

// FakeShell is a remote.Executor that answers commands by substring match.
// Later rules take precedence; unmatched commands return empty output.
type FakeShell struct {
	mu       sync.Mutex
	rules    []shellRule
	commands []string
}

// NewFakeShell creates a shell with no rules.
func NewFakeShell() *FakeShell {
	return &FakeShell{}
}

// Respond answers commands containing substr with out.
func (f *FakeShell) Respond(substr, out string) {
	f.Handle(substr, func(remote.Target, string) (string, error) { return out, nil })
}

// Handle answers commands containing substr with h.
func (f *FakeShell) Handle(substr string, h ShellHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, shellRule{substr: substr, handler: h})
}

// Commands returns every command run so far prefixed with its host.
func (f *FakeShell) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Ran reports whether a command containing substr was run.
func (f *FakeShell) Ran(substr string) bool {
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// Execute implements remote.Executor
func (f *FakeShell) Execute(_ context.Context, target remote.Target, cmd string) (string, error) {
	f.mu.Lock()
	f.commands = append(f.commands, target.Host+": "+cmd)
	var handler ShellHandler
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(cmd, f.rules[i].substr) {
			handler = f.rules[i].handler
			break
		}
	}
	f.mu.Unlock()

	if handler == nil {
		return "", nil
	}
	return handler(target, cmd)
}
