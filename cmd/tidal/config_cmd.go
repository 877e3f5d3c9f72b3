package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tidal/internal/config"
)

const configFileHint = config.FileName

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective host configuration",
	Long: `Print the configuration tidal would run with: defaults overlaid with the
configuration file, in TOML. With --init a default ` + config.FileName + ` is written
to the working directory instead.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().Bool("init", false, "write a default "+config.FileName+" to the working directory")
	configCmd.Flags().Bool("force", false, "overwrite an existing file with --init")
}

func runConfig(cmd *cobra.Command, _ []string) error {
	initFile, err := cmd.Flags().GetBool("init")
	if err != nil {
		return fmt.Errorf("failed to get init flag: %w", err)
	}
	if initFile {
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return fmt.Errorf("failed to get force flag: %w", err)
		}
		return writeDefaultConfig(cmd, config.FileName, force)
	}

	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	if !quiet {
		if path == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "# no "+config.FileName+" found; showing defaults")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
		}
	}
	return cfg.Write(cmd.OutOrStdout())
}

func writeDefaultConfig(cmd *cobra.Command, path string, force bool) error {
	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return err
	}
	if err := config.Default().Write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

// loadConfig reads the file named by --config, or the nearest
// tidal.toml above the working directory. It returns the path it loaded, or
// "" when only defaults apply.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, "", fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		found, ok, err := config.Find(".")
		if err != nil {
			return config.Config{}, "", err
		}
		if ok {
			path = found
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, path, nil
}
