package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	cli "github.com/canonical/vold/shared/cmd"
	"github.com/canonical/vold/vold/keys"
	"github.com/canonical/vold/vold/keys/storage"
	"github.com/canonical/vold/vold/manager"
	"github.com/canonical/vold/vold/util"
)

const defaultKeyOptions = "aes-256-xts:aes-256-cts:v2"

type cmdKey struct {
	global *cmdGlobal

	flagDir        string
	flagTmpDir     string
	flagSecretFile string
	flagAskSecret  bool
	flagOptions    string
}

func (c *cmdKey) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "key"
	cmd.Short = "Manage file encryption keys"
	cmd.Long = cli.FormatSection("Description",
		`Manage file encryption keys

Key directories are relative to the "keys.dir" configuration key unless absolute.`)

	// Workaround for subcommand usage errors. See: https://github.com/spf13/cobra/issues/706
	cmd.Args = cobra.NoArgs
	cmd.Run = func(cmd *cobra.Command, args []string) { _ = cmd.Usage() }

	cmd.PersistentFlags().StringVar(&c.flagSecretFile, "secret-file", "", "File holding the secret protecting the key"+"``")
	cmd.PersistentFlags().BoolVar(&c.flagAskSecret, "ask-secret", false, "Prompt for the secret protecting the key")
	cmd.PersistentFlags().StringVar(&c.flagOptions, "options", defaultKeyOptions, "Encryption options (contents[:filenames[:flags]])"+"``")

	// Generate
	keyGenerateCmd := cmdKeyGenerate{global: c.global, key: c}
	cmd.AddCommand(keyGenerateCmd.command())

	// Install
	keyInstallCmd := cmdKeyInstall{global: c.global, key: c}
	cmd.AddCommand(keyInstallCmd.command())

	// Evict
	keyEvictCmd := cmdKeyEvict{global: c.global, key: c}
	cmd.AddCommand(keyEvictCmd.command())

	// Destroy
	keyDestroyCmd := cmdKeyDestroy{global: c.global, key: c}
	cmd.AddCommand(keyDestroyCmd.command())

	return cmd
}

func (c *cmdKey) auth() (storage.Authentication, error) {
	if c.flagSecretFile != "" {
		secret, err := os.ReadFile(c.flagSecretFile)
		if err != nil {
			return storage.Authentication{}, fmt.Errorf("Failed reading secret: %w", err)
		}

		return storage.Authentication{Secret: secret}, nil
	}

	if c.flagAskSecret {
		secret, err := cli.AskPassword("Secret: ")
		if err != nil {
			return storage.Authentication{}, err
		}

		return storage.Authentication{Secret: []byte(secret)}, nil
	}

	return storage.NoAuthentication(), nil
}

func (c *cmdKey) options() (keys.EncryptionOptions, error) {
	return keys.ParseOptions(c.flagOptions)
}

// keyDir resolves dir against the configured key directory.
func (c *cmdKey) keyDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("A key directory must be specified")
	}

	if filepath.IsAbs(dir) {
		return dir, nil
	}

	_, d, err := c.global.loadConfig()
	if err != nil {
		return "", err
	}

	return filepath.Join(d.KeysDir(), dir), nil
}

func (c *cmdKey) manager() *keys.Manager {
	return keys.NewManager(keys.LinuxKernel{}, storage.New(), nil)
}

func reasonError(err error) error {
	return fmt.Errorf("%w (%s)", err, manager.Reason(err))
}

// Generate
type cmdKeyGenerate struct {
	global *cmdGlobal
	key    *cmdKey
}

func (c *cmdKeyGenerate) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "generate --dir <dir>"
	cmd.Short = "Retrieve or generate a stored key"
	cmd.Long = cli.FormatSection("Description",
		`Retrieve or generate a stored key

If the key directory already holds a key, it is checked against the secret.
Otherwise a new key is generated and stored atomically.`)
	cmd.RunE = c.run
	cmd.Flags().StringVar(&c.key.flagDir, "dir", "", "Key directory"+"``")
	cmd.Flags().StringVar(&c.key.flagTmpDir, "tmp", "", "Scratch directory used while storing"+"``")

	return cmd
}

func (c *cmdKeyGenerate) run(cmd *cobra.Command, args []string) error {
	dir, err := c.key.keyDir(c.key.flagDir)
	if err != nil {
		return err
	}

	tmpDir := c.key.flagTmpDir
	if tmpDir == "" {
		tmpDir = dir + ".tmp"
	}

	options, err := c.key.options()
	if err != nil {
		return err
	}

	auth, err := c.key.auth()
	if err != nil {
		return err
	}

	key, err := c.key.manager().RetrieveOrGenerate(dir, tmpDir, auth, keys.GenerationFor(options))
	if err != nil {
		return reasonError(err)
	}

	key.Wipe()

	fmt.Printf("Key ready in %s\n", dir)

	return nil
}

// Install
type cmdKeyInstall struct {
	global *cmdGlobal
	key    *cmdKey

	flagMountpoint string
}

func (c *cmdKeyInstall) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "install --mountpoint <path> --dir <dir>"
	cmd.Short = "Install a stored key into the kernel"
	cmd.Long = cli.FormatSection("Description",
		`Install a stored key into the kernel

Prints the key reference to use when evicting it.`)
	cmd.RunE = c.run
	cmd.Flags().StringVar(&c.flagMountpoint, "mountpoint", "", "Mount point of the encrypted filesystem"+"``")
	cmd.Flags().StringVar(&c.key.flagDir, "dir", "", "Key directory"+"``")

	return cmd
}

func (c *cmdKeyInstall) run(cmd *cobra.Command, args []string) error {
	if c.flagMountpoint == "" {
		return fmt.Errorf("A mount point must be specified")
	}

	dir, err := c.key.keyDir(c.key.flagDir)
	if err != nil {
		return err
	}

	options, err := c.key.options()
	if err != nil {
		return err
	}

	auth, err := c.key.auth()
	if err != nil {
		return err
	}

	if options.Version == 2 {
		err = keys.LinuxKernel{}.Probe()
		if err != nil {
			return err
		}
	}

	m := c.key.manager()

	key, err := m.RetrieveOrGenerate(dir, "", auth, keys.NeverGenerate())
	if err != nil {
		return reasonError(err)
	}

	defer key.Wipe()

	policy, err := m.Install(c.flagMountpoint, options, key)
	if err != nil {
		return reasonError(err)
	}

	fmt.Println(policy.Reference())

	return nil
}

// Evict
type cmdKeyEvict struct {
	global *cmdGlobal
	key    *cmdKey

	flagMountpoint string
	flagPolicy     string
}

func (c *cmdKeyEvict) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "evict --mountpoint <path> --policy <reference>"
	cmd.Short = "Remove a key from the kernel"
	cmd.Long = cli.FormatSection("Description",
		`Remove a key from the kernel`)
	cmd.RunE = c.run
	cmd.Flags().StringVar(&c.flagMountpoint, "mountpoint", "", "Mount point of the encrypted filesystem"+"``")
	cmd.Flags().StringVar(&c.flagPolicy, "policy", "", "Key reference printed by install"+"``")

	return cmd
}

func (c *cmdKeyEvict) run(cmd *cobra.Command, args []string) error {
	if c.flagMountpoint == "" || c.flagPolicy == "" {
		return fmt.Errorf("A mount point and a key reference must be specified")
	}

	options, err := c.key.options()
	if err != nil {
		return err
	}

	ref, err := util.HexToStr(c.flagPolicy)
	if err != nil {
		return err
	}

	policy := keys.EncryptionPolicy{Options: options, Ref: ref}
	if !c.key.manager().Evict(c.flagMountpoint, policy) {
		return fmt.Errorf("Key %s was not fully removed", policy.Reference())
	}

	return nil
}

// Destroy
type cmdKeyDestroy struct {
	global *cmdGlobal
	key    *cmdKey

	flagForce bool
}

func (c *cmdKeyDestroy) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "destroy --dir <dir>"
	cmd.Short = "Securely delete a stored key"
	cmd.Long = cli.FormatSection("Description",
		`Securely delete a stored key

The key can no longer be recovered afterwards, even with its secret.`)
	cmd.RunE = c.run
	cmd.Flags().StringVar(&c.key.flagDir, "dir", "", "Key directory"+"``")
	cmd.Flags().BoolVarP(&c.flagForce, "force", "f", false, "Don't ask for confirmation")

	return cmd
}

func (c *cmdKeyDestroy) run(cmd *cobra.Command, args []string) error {
	dir, err := c.key.keyDir(c.key.flagDir)
	if err != nil {
		return err
	}

	if !c.flagForce {
		ok, err := c.global.asker.AskBool(fmt.Sprintf("Destroy the key in %s? (yes/no) [default=no]: ", dir), "no")
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}
	}

	return storage.New().Destroy(dir)
}
