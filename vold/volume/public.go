package volume

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canonical/vold/shared"
	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/shared/poll"
	"github.com/canonical/vold/vold/fs"
)

// exfatMinSize is the device size above which auto formatting prefers exfat.
const exfatMinSize = 32896 * 1024 * 1024

const (
	defaultHelperTimeout = 5 * time.Second
	defaultPollInterval  = 50 * time.Millisecond
	helperReapTimeout    = 100 * time.Millisecond
)

var runtimeViews = []string{"default", "read", "write", "full"}

var publicFilesystems = []string{"vfat", "exfat"}

// Stable names end up in paths, so untrusted UUIDs must be plain.
var stableNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)

// PublicConfig holds what a public volume needs from the daemon.
type PublicConfig struct {
	OS            OS
	Drivers       map[string]fs.Driver
	Users         Users
	Listener      Listener
	MountCallback MountCallback
	Paths         Paths

	// SDCardFS enables the legacy permission views served by the helper at SDCardFSPath.
	SDCardFS     bool
	SDCardFSPath string

	// Fuse enables the per-user FUSE view.
	Fuse              bool
	FuseReadAheadKB   int64
	FuseMaxDirtyRatio int64

	HelperTimeout time.Duration
	Clock         poll.Clock
	PollInterval  time.Duration
}

// Public is a volume on removable media, formatted vfat or exfat.
type Public struct {
	*Base

	cfg     PublicConfig
	major   uint32
	minor   uint32
	devPath string

	// Mount state, reset by doUnmount.
	stableName     string
	rawPath        string
	rawPrepared    bool
	rawMounted     bool
	asecMounted    bool
	runtimeDirs    []string
	runtimeMounted bool
	helper         Helper
	fuseMounted    bool
	boundUsers     []int
}

// NewPublic returns a public volume for the block device major:minor.
func NewPublic(cfg PublicConfig, major uint32, minor uint32, flags MountFlags, userID int) *Public {
	if cfg.HelperTimeout <= 0 {
		cfg.HelperTimeout = defaultHelperTimeout
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.Clock == nil {
		cfg.Clock = poll.BootTime
	}

	p := &Public{
		cfg:     cfg,
		major:   major,
		minor:   minor,
		devPath: cfg.Paths.DeviceNode(major, minor),
	}

	p.Base = newBase(p, fmt.Sprintf("public:%d,%d", major, minor), TypePublic, flags, userID, cfg.Listener)

	return p
}

// DevicePath returns the path of the volume's device node.
func (p *Public) DevicePath() string {
	return p.devPath
}

// StableName returns the name the volume is mounted under, empty when not mounted.
func (p *Public) StableName() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stableName
}

// setStableName must be called with opLock held.
func (p *Public) setStableName(name string) {
	p.mu.Lock()
	p.stableName = name
	p.mu.Unlock()
}

func (p *Public) doCreate(ctx context.Context) error {
	return p.cfg.OS.CreateDeviceNode(p.devPath, p.major, p.minor)
}

func (p *Public) doDestroy(ctx context.Context) error {
	return p.cfg.OS.DestroyDeviceNode(p.devPath)
}

func (p *Public) driver(name string) (fs.Driver, bool) {
	d, ok := p.cfg.Drivers[name]
	if !ok || !d.IsSupported() {
		return nil, false
	}

	return d, true
}

func (p *Public) doMount(ctx context.Context) error {
	metadata, err := p.cfg.OS.ReadMetadataUntrusted(ctx, p.devPath)
	if err != nil {
		p.logger.Warn("Failed reading volume metadata", logger.Ctx{"err": err})
		metadata = Metadata{}
	}

	p.setMetadata(metadata)

	var driver fs.Driver
	for _, name := range publicFilesystems {
		if metadata.FsType == name {
			driver, _ = p.driver(name)
		}
	}

	if driver == nil {
		return fmt.Errorf("Filesystem %q: %w", metadata.FsType, ErrUnsupportedFilesystem)
	}

	err = driver.Check(ctx, p.devPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}

	stableName := p.id
	if stableNameRegex.MatchString(metadata.FsUUID) {
		stableName = metadata.FsUUID
	}

	p.setStableName(stableName)

	p.rawPath = p.cfg.Paths.Raw(p.stableName)

	err = p.setInternalPath(p.rawPath)
	if err != nil {
		return err
	}

	path := p.rawPath
	if p.isVisible() {
		path = p.cfg.Paths.Storage(p.stableName)
	}

	err = p.setPath(path)
	if err != nil {
		return err
	}

	err = p.cfg.OS.PrepareDir(p.rawPath, 0700, AIDRoot, AIDRoot)
	if err != nil {
		return fmt.Errorf("Failed creating %q: %w: %w", p.rawPath, ErrDeviceIO, err)
	}

	p.rawPrepared = true

	gid := uint32(AIDExternalStorage)
	if p.isVisible() {
		gid = AIDMediaRW
	}

	opts := fs.MountOptions{
		UID:        AIDRoot,
		GID:        gid,
		PermMask:   0007,
		CreateLost: driver.Name() == "vfat",
	}

	err = driver.Mount(p.devPath, p.rawPath, opts)
	if err != nil {
		return fmt.Errorf("Failed mounting %s on %q: %w: %w", driver.Name(), p.rawPath, ErrDeviceIO, err)
	}

	p.rawMounted = true

	if p.isPrimary() {
		p.initAsecStage()
	}

	if !p.isVisible() {
		return nil
	}

	if p.cfg.SDCardFS {
		err = p.startSDCardFS(ctx)
		if err != nil {
			return err
		}
	}

	if p.cfg.Fuse {
		err = p.mountFuse(ctx, path)
		if err != nil {
			return err
		}
	}

	return nil
}

// initAsecStage exposes the legacy secure container directory. Failures are not fatal.
func (p *Public) initAsecStage() {
	legacyPath := p.rawPath + "/android_secure"
	securePath := p.rawPath + "/.android_secure"

	if p.cfg.OS.PathAccessible(legacyPath) && !p.cfg.OS.PathAccessible(securePath) {
		err := p.cfg.OS.Rename(legacyPath, securePath)
		if err != nil {
			p.logger.Warn("Failed renaming legacy secure container directory", logger.Ctx{"err": err})
		}
	}

	err := p.cfg.OS.PrepareDir(securePath, 0700, AIDRoot, AIDRoot)
	if err != nil {
		p.logger.Warn("Failed creating secure container directory", logger.Ctx{"err": err})
		return
	}

	err = p.cfg.OS.BindMount(securePath, p.cfg.Paths.Asec())
	if err != nil {
		p.logger.Warn("Failed exposing secure container directory", logger.Ctx{"err": err})
		return
	}

	p.asecMounted = true
}

func (p *Public) startSDCardFS(ctx context.Context) error {
	for _, view := range runtimeViews {
		dir := p.cfg.Paths.Runtime(view, p.stableName)

		err := p.cfg.OS.PrepareDir(dir, 0700, AIDRoot, AIDRoot)
		if err != nil {
			return fmt.Errorf("Failed creating sdcardfs mount point %q: %w: %w", dir, ErrDeviceIO, err)
		}

		p.runtimeDirs = append(p.runtimeDirs, dir)
	}

	full := p.cfg.Paths.Runtime("full", p.stableName)

	before, err := p.cfg.OS.DeviceID(full)
	if err != nil {
		return fmt.Errorf("Failed getting device of %q: %w", full, err)
	}

	args := []string{"-u", strconv.Itoa(AIDMediaRW), "-g", strconv.Itoa(AIDMediaRW), "-U", strconv.Itoa(p.mountUserID)}
	if p.isPrimary() {
		args = append(args, "-w")
	}

	args = append(args, p.rawPath, p.stableName)

	helper, err := p.cfg.OS.StartHelper(ctx, p.cfg.SDCardFSPath, args)
	if err != nil {
		return fmt.Errorf("Failed starting sdcardfs: %w", err)
	}

	p.helper = helper
	p.runtimeMounted = true

	err = poll.Until(p.cfg.Clock, p.cfg.PollInterval, p.cfg.HelperTimeout, func() bool {
		p.logger.Debug("Waiting for sdcardfs to spin up")

		after, err := p.cfg.OS.DeviceID(full)

		return err == nil && after != before
	})
	if err != nil {
		return fmt.Errorf("Failed waiting for sdcardfs after %s: %w", p.cfg.HelperTimeout, ErrHelperStartupTimeout)
	}

	// The helper normally exits once its filesystem is up.
	waitCtx, cancel := context.WithTimeout(ctx, helperReapTimeout)
	defer cancel()

	code, err := helper.Wait(waitCtx)
	if waitCtx.Err() == nil {
		p.helper = nil
		if err != nil {
			p.logger.Warn("sdcardfs exited with an error", logger.Ctx{"code": code, "err": err})
		}
	}

	return nil
}

func (p *Public) mountFuse(ctx context.Context, path string) error {
	fusePath := p.cfg.Paths.UserFuse(p.mountUserID, p.stableName)
	passThroughPath := p.cfg.Paths.PassThrough(p.mountUserID, p.stableName)

	p.logger.Info("Mounting public FUSE volume", logger.Ctx{"path": fusePath})

	fuse, err := p.cfg.OS.MountFuse(fusePath, passThroughPath, p.rawPath)
	if err != nil {
		return fmt.Errorf("Failed mounting FUSE on %q: %w: %w", fusePath, ErrDeviceIO, err)
	}

	p.fuseMounted = true

	if p.cfg.MountCallback != nil {
		if !p.cfg.MountCallback(fuse, path, p.rawPath) {
			return fmt.Errorf("Failed completing public volume mount: %w", ErrFuseNotReady)
		}
	} else {
		_ = fuse.Close()
	}

	err = p.cfg.OS.SetFuseReadAhead(fusePath, p.cfg.FuseReadAheadKB)
	if err != nil {
		p.logger.Warn("Failed configuring FUSE read ahead", logger.Ctx{"err": err})
	}

	err = p.cfg.OS.SetFuseMaxDirtyRatio(fusePath, p.cfg.FuseMaxDirtyRatio)
	if err != nil {
		p.logger.Warn("Failed configuring FUSE max dirty ratio", logger.Ctx{"err": err})
	}

	p.bindUsers(fusePath)

	return nil
}

// bindUsers exposes the FUSE view to every started user sharing storage with the owner.
// Failures are recorded as warnings.
func (p *Public) bindUsers(source string) {
	if p.cfg.Users == nil {
		return
	}

	var eg errgroup.Group
	var mu sync.Mutex

	for _, userID := range p.cfg.Users.StartedUsers() {
		if userID == p.mountUserID || p.cfg.Users.SharedStorageUser(userID) != p.mountUserID {
			continue
		}

		eg.Go(func() error {
			userDir := p.cfg.Paths.User(userID)

			err := p.cfg.OS.PrepareDir(userDir, 0710, AIDRoot, AIDMediaRW)
			if err != nil {
				p.addWarning("Failed creating %q for user %d: %v", userDir, userID, err)
				return nil
			}

			target := p.cfg.Paths.UserFuse(userID, p.stableName)

			err = p.cfg.OS.PrepareDir(target, 0770, AIDRoot, AIDMediaRW)
			if err != nil {
				p.addWarning("Failed creating %q for user %d: %v", target, userID, err)
				return nil
			}

			err = p.cfg.OS.BindMount(source, target)
			if err != nil {
				p.addWarning("Failed bind mounting %q on %q for user %d: %v", source, target, userID, err)
				_ = p.cfg.OS.RemoveDir(target)
				return nil
			}

			mu.Lock()
			p.boundUsers = append(p.boundUsers, userID)
			mu.Unlock()

			return nil
		})
	}

	_ = eg.Wait()

	sort.Ints(p.boundUsers)
}

// detach unmounts path, falling back to a lazy unmount.
func (p *Public) detach(path string) {
	err := p.cfg.OS.ForceUnmount(path)
	if err == nil {
		return
	}

	p.logger.Warn("Failed unmounting, detaching lazily", logger.Ctx{"path": path, "err": err})

	err = p.cfg.OS.LazyUnmount(path)
	if err != nil {
		p.logger.Error("Failed detaching", logger.Ctx{"path": path, "err": err})
	}
}

// doUnmount tears down whatever doMount set up, in reverse order. It carries on past failures.
func (p *Public) doUnmount(ctx context.Context) error {
	var result error

	path := p.Path()
	if path != "" {
		err := p.cfg.OS.KillProcessesUsingPath(path)
		if err != nil {
			p.logger.Warn("Failed killing processes using volume", logger.Ctx{"err": err})
		}
	}

	for _, userID := range p.boundUsers {
		target := p.cfg.Paths.UserFuse(userID, p.stableName)
		p.detach(target)
		_ = p.cfg.OS.RemoveDir(target)
	}

	p.boundUsers = nil

	if p.fuseMounted {
		fusePath := p.cfg.Paths.UserFuse(p.mountUserID, p.stableName)
		passThroughPath := p.cfg.Paths.PassThrough(p.mountUserID, p.stableName)

		err := p.cfg.OS.UnmountFuse(fusePath, passThroughPath)
		if err != nil {
			p.logger.Warn("Failed unmounting public FUSE volume", logger.Ctx{"err": err})
			result = fmt.Errorf("Failed unmounting FUSE on %q: %w", fusePath, err)
		}

		p.fuseMounted = false
	}

	if p.asecMounted {
		p.detach(p.cfg.Paths.Asec())
		p.asecMounted = false
	}

	if p.helper != nil {
		_ = p.helper.Stop()
		p.helper = nil
	}

	for i := len(p.runtimeDirs) - 1; i >= 0; i-- {
		dir := p.runtimeDirs[i]
		if p.runtimeMounted {
			p.detach(dir)
		}

		_ = p.cfg.OS.RemoveDir(dir)
	}

	p.runtimeDirs = nil
	p.runtimeMounted = false

	if p.rawMounted {
		p.detach(p.rawPath)
		p.rawMounted = false
	}

	if p.rawPrepared {
		err := p.removeRawDir()
		if err != nil && result == nil {
			result = err
		}

		p.rawPrepared = false
	}

	p.rawPath = ""
	p.setStableName("")

	return result
}

func (p *Public) removeRawDir() error {
	err := p.cfg.OS.RemoveDir(p.rawPath)
	if err == nil {
		return nil
	}

	p.logger.Warn("Failed removing raw mount point, killing remaining users", logger.Ctx{"path": p.rawPath, "err": err})

	err = p.cfg.OS.KillProcessesUsingPath(p.rawPath)
	if err != nil {
		p.logger.Warn("Failed killing processes using raw mount point", logger.Ctx{"err": err})
	}

	err = p.cfg.OS.RemoveDir(p.rawPath)
	if err != nil {
		return fmt.Errorf("Failed removing %q: %w: %w", p.rawPath, ErrResourceBusy, err)
	}

	return nil
}

func (p *Public) doFormat(ctx context.Context, fsType string) error {
	var driver fs.Driver

	if fsType == "" || fsType == "auto" {
		vfat, useVfat := p.driver("vfat")
		exfat, useExfat := p.driver("exfat")

		if useVfat && useExfat {
			size, err := p.cfg.OS.BlockDeviceSize(p.devPath)
			if err != nil {
				return fmt.Errorf("Failed getting size of %q: %w", p.devPath, err)
			}

			if size > exfatMinSize {
				useVfat = false
			} else {
				useExfat = false
			}
		}

		if useVfat {
			driver = vfat
		} else if useExfat {
			driver = exfat
		}
	} else if shared.ValueInSlice(fsType, publicFilesystems) {
		driver, _ = p.driver(fsType)
	}

	if driver == nil {
		return fmt.Errorf("Filesystem %q: %w", fsType, ErrUnsupportedFilesystem)
	}

	err := p.cfg.OS.WipeBlockDevice(ctx, p.devPath)
	if err != nil {
		p.logger.Warn("Failed wiping volume", logger.Ctx{"err": err})
	}

	err = driver.Format(ctx, p.devPath, fs.FormatOptions{})
	if err != nil {
		return fmt.Errorf("Failed formatting %s: %w", driver.Name(), err)
	}

	p.logger.Info("Formatted volume", logger.Ctx{"fs": driver.Name()})

	return nil
}
