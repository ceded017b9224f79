package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cli "github.com/canonical/vold/shared/cmd"
	"github.com/canonical/vold/shared/version"
)

type cmdVersion struct {
	global *cmdGlobal
}

func (c *cmdVersion) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "version"
	cmd.Short = "Show the daemon version"
	cmd.Long = cli.FormatSection("Description",
		`Show the daemon version`)

	cmd.RunE = c.run

	return cmd
}

func (c *cmdVersion) run(cmd *cobra.Command, args []string) error {
	if c.global.flagLogVerbose {
		fmt.Println(version.UserAgent)
		return nil
	}

	fmt.Println(version.Version)

	return nil
}
