package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-mood/internal/config"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Run:   runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
	// The file may not exist yet, so skip loading it.
	initCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error { return nil }

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			output(cfg)
		},
	}

	cmd.AddCommand(initCmd, show)
	RootCmd.AddCommand(cmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		exitErr("config init", fmt.Errorf("%s already exists (use --force to overwrite)", path))
	}
	if err := config.Default().Save(path); err != nil {
		exitErr("config init", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "wrote", path)
}
