package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	cli "github.com/canonical/vold/shared/cmd"
	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/shared/revert"
	"github.com/canonical/vold/vold/config"
	"github.com/canonical/vold/vold/fs"
	"github.com/canonical/vold/vold/manager"
	"github.com/canonical/vold/vold/sys"
	"github.com/canonical/vold/vold/volume"
)

type cmdDaemon struct {
	global *cmdGlobal
}

func (c *cmdDaemon) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "daemon"
	cmd.Short = "Start the storage volume daemon"
	cmd.Long = cli.FormatSection("Description",
		`Start the storage volume daemon

Creates and mounts every configured volume, then waits for a shutdown signal
and tears everything down again.`)
	cmd.RunE = c.run

	return cmd
}

// newManager builds a volume manager from the daemon configuration.
func newManager(d *config.Daemon) (*manager.Manager, error) {
	osys, err := sys.New(sys.Options{
		BlkidContext:  d.BlkidContext(),
		FuseContext:   d.FuseContext(),
		FuseFSContext: d.FuseFSContext(),
	})
	if err != nil {
		return nil, err
	}

	drivers := fs.Load(fs.Options{FsckContext: d.FsckContext()})

	return manager.New(manager.Config{
		OS:                osys,
		Drivers:           drivers,
		Paths:             volume.Paths{Root: d.Root()},
		SDCardFS:          d.SDCardFS(),
		SDCardFSPath:      d.SDCardFSPath(),
		FuseServer:        d.FuseServer(),
		FuseReadAheadKB:   d.FuseReadAheadKB(),
		FuseMaxDirtyRatio: d.FuseMaxDirtyRatio(),
		HelperTimeout:     d.HelperTimeout(),
	}), nil
}

func (c *cmdDaemon) run(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		_ = cmd.Help()
		return fmt.Errorf("Unknown arguments")
	}

	// Only root should run this
	if os.Geteuid() != 0 {
		return fmt.Errorf("This must be run as root")
	}

	file, d, err := c.global.loadConfig()
	if err != nil {
		return err
	}

	logger.Info("Starting vold", logger.Ctx{"config": d.Dump()})

	m, err := newManager(d)
	if err != nil {
		return err
	}

	for _, u := range file.Users {
		sharedStorage := manager.NoUser
		if u.SharedStorage != nil {
			sharedStorage = *u.SharedStorage
		}

		m.StartUser(u.ID, sharedStorage)
	}

	ctx := context.Background()

	reverter := revert.New()
	defer reverter.Fail()

	for _, v := range file.Volumes {
		major, minor, err := v.MajorMinor()
		if err != nil {
			return err
		}

		flags, err := volume.ParseMountFlags(v.Flags)
		if err != nil {
			return fmt.Errorf("Invalid volume %q: %w", v.Device, err)
		}

		vol, err := m.CreatePublicVolume(ctx, major, minor, flags, v.User)
		if err != nil {
			return fmt.Errorf("Failed creating volume %q: %w", v.Device, err)
		}

		reverter.Add(func() { _ = m.DestroyVolume(ctx, vol.ID()) })

		// A volume that fails to mount stays created so it can be formatted.
		err = vol.Mount(ctx)
		if err != nil {
			logger.Error("Failed mounting volume", logger.Ctx{"volume": vol.ID(), "reason": manager.Reason(err), "err": err})
			continue
		}

		for _, warning := range vol.Warnings() {
			logger.Warn("Volume mounted with warnings", logger.Ctx{"volume": vol.ID(), "warning": warning})
		}
	}

	reverter.Success()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGPWR, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)

	sig := <-ch
	logger.Info("Received signal, shutting down", logger.Ctx{"signal": sig})

	m.Shutdown(ctx)

	return nil
}
