package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/canonical/vold/vold/fs"
)

var errFake = fmt.Errorf("Fake failure")

// fakeOS records calls and tracks directories and mounts in memory.
type fakeOS struct {
	mu sync.Mutex

	calls    []string
	fail     map[string]error
	dirs     map[string]bool
	mounts   map[string]string
	devices  map[string]uint64
	metadata Metadata
	size     uint64
	helper   *fakeHelper

	// helperMounts is the path whose device changes once the helper starts.
	helperMounts bool
	fuses        []*os.File
}

func newFakeOS() *fakeOS {
	return &fakeOS{
		fail:         map[string]error{},
		dirs:         map[string]bool{},
		mounts:       map[string]string{},
		devices:      map[string]uint64{},
		metadata:     Metadata{FsType: "vfat", FsUUID: "1234-ABCD", FsLabel: "SDCARD"},
		helperMounts: true,
	}
}

func (f *fakeOS) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := fmt.Sprintf(format, args...)
	f.calls = append(f.calls, call)

	name, _, _ := strings.Cut(call, " ")
	err, ok := f.fail[call]
	if !ok {
		err = f.fail[name]
	}

	return err
}

func (f *fakeOS) called(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			out = append(out, call)
		}
	}

	return out
}

func (f *fakeOS) mounted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for target := range f.mounts {
		out = append(out, target)
	}

	sort.Strings(out)

	return out
}

func (f *fakeOS) existingDirs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for dir := range f.dirs {
		out = append(out, dir)
	}

	sort.Strings(out)

	return out
}

func (f *fakeOS) CreateDeviceNode(path string, major uint32, minor uint32) error {
	return f.record("CreateDeviceNode %s %d:%d", path, major, minor)
}

func (f *fakeOS) DestroyDeviceNode(path string) error {
	return f.record("DestroyDeviceNode %s", path)
}

func (f *fakeOS) ReadMetadataUntrusted(ctx context.Context, devPath string) (Metadata, error) {
	err := f.record("ReadMetadataUntrusted %s", devPath)
	if err != nil {
		return Metadata{}, err
	}

	return f.metadata, nil
}

func (f *fakeOS) PrepareDir(path string, mode os.FileMode, uid uint32, gid uint32) error {
	err := f.record("PrepareDir %s %o %d %d", path, mode, uid, gid)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.dirs[path] = true
	f.mu.Unlock()

	return nil
}

func (f *fakeOS) RemoveDir(path string) error {
	err := f.record("RemoveDir %s", path)
	if err != nil {
		return err
	}

	f.mu.Lock()
	delete(f.dirs, path)
	f.mu.Unlock()

	return nil
}

func (f *fakeOS) PathAccessible(path string) bool {
	_ = f.record("PathAccessible %s", path)

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.dirs[path]
}

func (f *fakeOS) Rename(oldPath string, newPath string) error {
	err := f.record("Rename %s %s", oldPath, newPath)
	if err != nil {
		return err
	}

	f.mu.Lock()
	delete(f.dirs, oldPath)
	f.dirs[newPath] = true
	f.mu.Unlock()

	return nil
}

func (f *fakeOS) mount(source string, target string) {
	f.mu.Lock()
	f.mounts[target] = source
	f.devices[target]++
	f.mu.Unlock()
}

func (f *fakeOS) unmount(target string) {
	f.mu.Lock()
	delete(f.mounts, target)
	f.mu.Unlock()
}

func (f *fakeOS) BindMount(source string, target string) error {
	err := f.record("BindMount %s %s", source, target)
	if err != nil {
		return err
	}

	f.mount(source, target)

	return nil
}

func (f *fakeOS) ForceUnmount(path string) error {
	err := f.record("ForceUnmount %s", path)
	if err != nil {
		return err
	}

	f.unmount(path)

	return nil
}

func (f *fakeOS) LazyUnmount(path string) error {
	err := f.record("LazyUnmount %s", path)
	if err != nil {
		return err
	}

	f.unmount(path)

	return nil
}

func (f *fakeOS) DeviceID(path string) (uint64, error) {
	err := f.record("DeviceID %s", path)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.devices[path], nil
}

func (f *fakeOS) KillProcessesUsingPath(path string) error {
	return f.record("KillProcessesUsingPath %s", path)
}

func (f *fakeOS) MountFuse(fusePath string, passThroughPath string, lowerPath string) (*os.File, error) {
	err := f.record("MountFuse %s %s %s", fusePath, passThroughPath, lowerPath)
	if err != nil {
		return nil, err
	}

	fuse, err := os.Open(os.DevNull)
	if err != nil {
		return nil, err
	}

	f.mount("fuse", fusePath)
	f.mount(lowerPath, passThroughPath)

	f.mu.Lock()
	f.fuses = append(f.fuses, fuse)
	f.mu.Unlock()

	return fuse, nil
}

func (f *fakeOS) UnmountFuse(fusePath string, passThroughPath string) error {
	err := f.record("UnmountFuse %s %s", fusePath, passThroughPath)
	if err != nil {
		return err
	}

	f.unmount(fusePath)
	f.unmount(passThroughPath)

	return nil
}

func (f *fakeOS) SetFuseReadAhead(fusePath string, kb int64) error {
	return f.record("SetFuseReadAhead %s %d", fusePath, kb)
}

func (f *fakeOS) SetFuseMaxDirtyRatio(fusePath string, ratio int64) error {
	return f.record("SetFuseMaxDirtyRatio %s %d", fusePath, ratio)
}

func (f *fakeOS) BlockDeviceSize(devPath string) (uint64, error) {
	err := f.record("BlockDeviceSize %s", devPath)
	if err != nil {
		return 0, err
	}

	return f.size, nil
}

func (f *fakeOS) WipeBlockDevice(ctx context.Context, devPath string) error {
	return f.record("WipeBlockDevice %s", devPath)
}

func (f *fakeOS) StartHelper(ctx context.Context, name string, args []string) (Helper, error) {
	err := f.record("StartHelper %s %s", name, strings.Join(args, " "))
	if err != nil {
		return nil, err
	}

	if f.helperMounts {
		raw := args[len(args)-2]
		stable := args[len(args)-1]
		root := strings.TrimSuffix(raw, "/mnt/media_rw/"+stable)
		for _, view := range runtimeViews {
			f.mount(raw, filepath.Join(root, "mnt/runtime", view, stable))
		}
	}

	f.helper = &fakeHelper{exited: f.helperMounts}

	return f.helper, nil
}

type fakeHelper struct {
	exited  bool
	stopped bool
}

func (h *fakeHelper) Wait(ctx context.Context) (int64, error) {
	if h.exited {
		return 0, nil
	}

	<-ctx.Done()

	return -1, ctx.Err()
}

func (h *fakeHelper) Stop() error {
	h.stopped = true
	return nil
}

// fakeDriver is an fs.Driver that records what it was asked to do.
type fakeDriver struct {
	name      string
	supported bool
	checkErr  error
	mountErr  error
	formatErr error

	checked   []string
	mounts    []fs.MountOptions
	formatted []string
	os        *fakeOS
}

func (d *fakeDriver) Name() string {
	return d.name
}

func (d *fakeDriver) IsSupported() bool {
	return d.supported
}

func (d *fakeDriver) Check(ctx context.Context, source string) error {
	d.checked = append(d.checked, source)
	return d.checkErr
}

func (d *fakeDriver) Mount(source string, target string, opts fs.MountOptions) error {
	if d.mountErr != nil {
		return d.mountErr
	}

	d.mounts = append(d.mounts, opts)
	if d.os != nil {
		d.os.mount(source, target)
	}

	return nil
}

func (d *fakeDriver) Format(ctx context.Context, source string, opts fs.FormatOptions) error {
	d.formatted = append(d.formatted, source)
	return d.formatErr
}

// fakeListener records volume events.
type fakeListener struct {
	mu     sync.Mutex
	events []string
	states []State
}

func (l *fakeListener) add(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *fakeListener) VolumeCreated(id string, volType Type, userID int) {
	l.add("created %s %s %d", id, volType, userID)
}

func (l *fakeListener) VolumeStateChanged(id string, state State, userID int) {
	l.mu.Lock()
	l.states = append(l.states, state)
	l.mu.Unlock()
	l.add("state %s %s", id, state)
}

func (l *fakeListener) VolumeMetadataChanged(id string, metadata Metadata) {
	l.add("metadata %s %s %s %s", id, metadata.FsType, metadata.FsUUID, metadata.FsLabel)
}

func (l *fakeListener) VolumePathChanged(id string, path string) {
	l.add("path %s %s", id, path)
}

func (l *fakeListener) VolumeInternalPathChanged(id string, path string) {
	l.add("internal %s %s", id, path)
}

func (l *fakeListener) VolumeDestroyed(id string) {
	l.add("destroyed %s", id)
}

// fakeUsers maps started users to the user they share storage with.
type fakeUsers map[int]int

func (u fakeUsers) StartedUsers() []int {
	var out []int
	for userID := range u {
		out = append(out, userID)
	}

	sort.Ints(out)

	return out
}

func (u fakeUsers) SharedStorageUser(userID int) int {
	shared, ok := u[userID]
	if !ok {
		return -1
	}

	return shared
}

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Duration
	step time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now += c.step

	return c.now
}

type testEnv struct {
	os       *fakeOS
	vfat     *fakeDriver
	exfat    *fakeDriver
	listener *fakeListener
	cfg      PublicConfig
}

func newTestEnv() *testEnv {
	fos := newFakeOS()
	env := &testEnv{
		os:       fos,
		vfat:     &fakeDriver{name: "vfat", supported: true, os: fos},
		exfat:    &fakeDriver{name: "exfat", supported: true, os: fos},
		listener: &fakeListener{},
	}

	env.cfg = PublicConfig{
		OS: fos,
		Drivers: map[string]fs.Driver{
			"vfat":  env.vfat,
			"exfat": env.exfat,
		},
		Users:             fakeUsers{0: 0},
		Listener:          env.listener,
		Paths:             Paths{Root: "/root"},
		SDCardFSPath:      "/system/bin/sdcardfs",
		Fuse:              true,
		FuseReadAheadKB:   256,
		FuseMaxDirtyRatio: 40,
		HelperTimeout:     time.Second,
		Clock:             &fakeClock{step: 10 * time.Millisecond},
		PollInterval:      time.Millisecond,
	}

	return env
}

func (e *testEnv) volume(flags MountFlags) *Public {
	return NewPublic(e.cfg, 8, 17, flags, 0)
}
