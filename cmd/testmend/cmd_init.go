package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testmend/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration to the workspace",
	Long: `Creates .testmend/config.yaml in the workspace with the default toolchain
(ant compile.gen.tests / run.gen.tests) so it can be edited for the project
under test.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		path = config.DefaultPath(ws)
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	logger.Info("wrote default configuration", zap.String("path", path))
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
