package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dargo-project/dargo/internal/config"
	"github.com/dargo-project/dargo/internal/xlog"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dargo",
	Short: "Disk archive engine",
	Long: `dargo creates, restores, diffs, tests, merges, and isolates
self-describing, optionally sliced, compressed, encrypted, and signed
archives of a filesystem subtree.

This front door wires the engine's core operations (internal/filter,
internal/stack, internal/catalogue) to the shell; it does not implement
argument parsing beyond what each subcommand needs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = logrus.InfoLevel
		}
		xlog.SetLevel(level)
		return nil
	},
}

// Execute runs the root command, exiting the process with the spec's
// suggested exit code (§6) on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeOf(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults embedded, overridden by DARGO_* env vars)")
}
