package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	cli "github.com/canonical/vold/shared/cmd"
	"github.com/canonical/vold/vold/config"
	"github.com/canonical/vold/vold/manager"
)

type cmdFormat struct {
	global *cmdGlobal

	flagFs    string
	flagForce bool
}

func (c *cmdFormat) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "format <major:minor>"
	cmd.Short = "Format a public volume"
	cmd.Long = cli.FormatSection("Description",
		`Format a public volume

Erases the block device and creates a fresh filesystem on it. With "auto",
large devices get exfat and smaller ones vfat.`)
	cmd.RunE = c.run
	cmd.Flags().StringVar(&c.flagFs, "fs", "auto", "Filesystem to create (auto, vfat or exfat)"+"``")
	cmd.Flags().BoolVarP(&c.flagForce, "force", "f", false, "Don't ask for confirmation")

	return cmd
}

func (c *cmdFormat) run(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		_ = cmd.Help()
		return fmt.Errorf("Missing required argument")
	}

	major, minor, err := config.ParseMajorMinor(args[0])
	if err != nil {
		return err
	}

	if !c.flagForce {
		ok, err := c.global.asker.AskBool(fmt.Sprintf("All data on %d:%d will be lost. Continue? (yes/no) [default=no]: ", major, minor), "no")
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}
	}

	_, d, err := c.global.loadConfig()
	if err != nil {
		return err
	}

	m, err := newManager(d)
	if err != nil {
		return err
	}

	ctx := context.Background()

	vol, err := m.CreatePublicVolume(ctx, major, minor, 0, 0)
	if err != nil {
		return err
	}

	defer func() { _ = m.DestroyVolume(ctx, vol.ID()) }()

	err = vol.Format(ctx, c.flagFs)
	if err != nil {
		return fmt.Errorf("%w (%s)", err, manager.Reason(err))
	}

	fmt.Printf("Formatted %s\n", vol.ID())

	return nil
}
