package main

import (
	"fmt"

	"github.com/Sternrassler/chapter-digest/pkg/batch"
	"github.com/Sternrassler/chapter-digest/pkg/source"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMergeCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Rebuild the merged output from existing checkpoints",
		Long: "merge reads the current input documents and writes one entry per document\n" +
			"from the checkpoint store, without calling the API.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setupCommand(v, cmd, "merge")
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			docs, err := source.Scan(cfg.InputDirs)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(ctx, cfg, len(docs), logger)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := batch.WriteMergedFile(ctx, store, docs, cfg.Output, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d entries into %s\n", entries, cfg.Output)
			return nil
		},
	}
}
