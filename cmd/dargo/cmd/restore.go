package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dargo-project/dargo/internal/entrepot"
	"github.com/dargo-project/dargo/internal/filter"
	"github.com/dargo-project/dargo/internal/policy"
	"github.com/dargo-project/dargo/internal/userio"

	"github.com/dargo-project/dargo"
)

var restoreBasename string

var restoreCmd = &cobra.Command{
	Use:   "restore ARCHIVE_DIR TARGET",
	Short: "Restore an archive's catalogue and data into a directory tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		archiveDir, target := args[0], args[1]

		store, err := entrepot.NewLocal(archiveDir)
		if err != nil {
			return err
		}
		basename := restoreBasename
		if basename == "" {
			basename = "archive"
		}

		session, err := dargo.OpenArchiveForRead(context.Background(), dargo.ArchiveConfig{
			Store:     store,
			Basename:  basename,
			Extension: "dar",
		})
		if err != nil {
			return err
		}
		defer session.Close()

		source, err := session.ReadCatalogue()
		if err != nil {
			return err
		}

		ui := userio.NewTerminal()
		stats, err := dargo.Restore(dargo.RestoreRequest{
			Session:    session,
			TargetRoot: target,
			Source:     source,
			Policy:     policy.Default,
			Ask:        dargo.InteractionAsk(ui),
			EmptyDir:   true,
			Dirty:      filter.DirtyWarn,
		})
		if err != nil {
			return err
		}

		fmt.Printf("treated=%d errored=%d\n", stats.Treated, stats.Errored)
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreBasename, "basename", "archive", "archive slice basename")
	rootCmd.AddCommand(restoreCmd)
}
