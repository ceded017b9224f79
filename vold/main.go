package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cli "github.com/canonical/vold/shared/cmd"
	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/shared/version"
	"github.com/canonical/vold/vold/config"
)

type cmdGlobal struct {
	asker cli.Asker

	flagConfig     string
	flagHelp       bool
	flagLogDebug   bool
	flagLogFile    string
	flagLogSyslog  bool
	flagLogVerbose bool
	flagSet        []string
	flagVersion    bool
}

// run sets up logging before any sub-command runs.
func (c *cmdGlobal) run(cmd *cobra.Command, args []string) error {
	syslog := ""
	if c.flagLogSyslog {
		syslog = "vold"
	}

	return logger.InitLogger(c.flagLogFile, syslog, c.flagLogVerbose, c.flagLogDebug, nil)
}

func (c *cmdGlobal) loadConfig() (*config.File, *config.Daemon, error) {
	f, d, err := config.LoadFile(c.flagConfig)
	if err != nil {
		return nil, nil, err
	}

	err = d.Set(c.flagSet)
	if err != nil {
		return nil, nil, fmt.Errorf("Invalid configuration override: %w", err)
	}

	return f, d, nil
}

func main() {
	// daemon command (main)
	daemonCmd := cmdDaemon{}
	app := daemonCmd.command()
	app.Use = "vold"
	app.Short = "Storage volume daemon"
	app.Long = cli.FormatSection("Description",
		`Storage volume daemon

Manages removable storage volumes: checks, mounts and exposes them to users,
and manages the file encryption keys of the system.`)
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	// Global flags
	globalCmd := cmdGlobal{asker: cli.NewAsker(bufio.NewReader(os.Stdin))}
	daemonCmd.global = &globalCmd
	app.PersistentPreRunE = globalCmd.run
	app.PersistentFlags().BoolVar(&globalCmd.flagVersion, "version", false, "Print version number")
	app.PersistentFlags().BoolVarP(&globalCmd.flagHelp, "help", "h", false, "Print help")
	app.PersistentFlags().StringVar(&globalCmd.flagConfig, "config", config.DefaultPath, "Path to the configuration file"+"``")
	app.PersistentFlags().StringArrayVar(&globalCmd.flagSet, "set", nil, "Override a configuration key (key=value)"+"``")
	app.PersistentFlags().StringVar(&globalCmd.flagLogFile, "logfile", "", "Path to the log file"+"``")
	app.PersistentFlags().BoolVar(&globalCmd.flagLogSyslog, "syslog", false, "Log to syslog")
	app.PersistentFlags().BoolVarP(&globalCmd.flagLogDebug, "debug", "d", false, "Show all debug messages")
	app.PersistentFlags().BoolVarP(&globalCmd.flagLogVerbose, "verbose", "v", false, "Show all information messages")

	// Version handling
	app.SetVersionTemplate("{{.Version}}\n")
	app.Version = version.Version

	// daemon sub-command
	daemonSubCmd := cmdDaemon{global: &globalCmd}
	app.AddCommand(daemonSubCmd.command())

	// format sub-command
	formatCmd := cmdFormat{global: &globalCmd}
	app.AddCommand(formatCmd.command())

	// key sub-command
	keyCmd := cmdKey{global: &globalCmd}
	app.AddCommand(keyCmd.command())

	// version sub-command
	versionCmd := cmdVersion{global: &globalCmd}
	app.AddCommand(versionCmd.command())

	// Run the main command and handle errors
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
