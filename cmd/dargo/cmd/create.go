package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dargo-project/dargo/internal/entrepot"
	"github.com/dargo-project/dargo/internal/filter"

	"github.com/dargo-project/dargo"
)

var (
	createBasename string
	createExclude  []string
)

var createCmd = &cobra.Command{
	Use:   "create SOURCE ARCHIVE_DIR",
	Short: "Back up a directory tree into a new archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		source, archiveDir := args[0], args[1]

		store, err := entrepot.NewLocal(archiveDir)
		if err != nil {
			return err
		}
		basename := createBasename
		if basename == "" {
			basename = "archive"
		}

		sub, err := filter.NewMask(createExclude, true)
		if err != nil {
			return err
		}

		session, err := dargo.OpenForWrite(context.Background(), dargo.ArchiveConfig{
			Store:              store,
			Basename:           basename,
			Extension:          "dar",
			Compression:        cfg.Compression,
			CompressionLevel:   cfg.CompressionLevel,
			CompressionMinSize: cfg.CompressionMinSize,
			TapeMarks:          true,
		})
		if err != nil {
			return err
		}

		cat, stats, err := dargo.Backup(dargo.BackupRequest{
			Session:      session,
			SourceRoot:   source,
			Selection:    dargo.SelectionOptions{Subtree: filter.SubtreeMask{Mask: sub}},
			DetectSparse: true,
		})
		if err != nil {
			_ = session.Close()
			return err
		}
		if err := session.FinalizeCatalogue(cat); err != nil {
			_ = session.Close()
			return err
		}
		if err := session.Close(); err != nil {
			return err
		}

		fmt.Printf("treated=%d skipped=%d errored=%d\n", stats.Treated, stats.Skipped, stats.Errored)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createBasename, "basename", "archive", "archive slice basename")
	createCmd.Flags().StringSliceVar(&createExclude, "exclude", nil, "subtree exclude glob, e.g. -pattern")
	rootCmd.AddCommand(createCmd)
}
