package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/chapter-digest/pkg/checkpoint"
	"github.com/Sternrassler/chapter-digest/pkg/source"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errIncomplete makes verify exit non-zero when artifacts are missing.
var errIncomplete = errors.New("checkpoint store is incomplete")

// strayLister is implemented by stores that can hold files which are not
// artifacts (checkpoint.FileStore).
type strayLister interface {
	Stray(ctx context.Context) ([]string, error)
}

func newVerifyCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Report missing and failed checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setupCommand(v, cmd, "verify")
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

			report, err := checkpoint.Verify(ctx, store, len(docs))
			if err != nil {
				return err
			}

			var stray []string
			if lister, ok := store.(strayLister); ok {
				if stray, err = lister.Stray(ctx); err != nil {
					return err
				}
			}

			printVerifyReport(cmd.OutOrStdout(), report, stray)
			if !report.Complete() {
				return fmt.Errorf("%w: %d missing, %d failed", errIncomplete, len(report.Missing), len(report.Failed))
			}
			return nil
		},
	}
}

func printVerifyReport(out io.Writer, r checkpoint.Report, stray []string) {
	if r.Present == 0 {
		fmt.Fprintf(out, "no checkpoints found for %d documents\n", r.Total)
	} else {
		fmt.Fprintf(out, "first: %s\n", checkpoint.Key{Index: r.First, Total: r.Total}.Padded())
		fmt.Fprintf(out, "last:  %s\n", checkpoint.Key{Index: r.Last, Total: r.Total}.Padded())
	}
	fmt.Fprintf(out, "present: %d/%d\n", r.Present, r.Total)

	if len(stray) > 0 {
		fmt.Fprintf(out, "not numbered: %s\n", strings.Join(stray, ", "))
	}

	if len(r.Missing) == 0 {
		fmt.Fprintln(out, "missing: none")
	} else {
		fmt.Fprintf(out, "missing: %s\n", strings.Join(r.Padded(r.Missing), ", "))
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(out, "failed:  %s\n", strings.Join(r.Padded(r.Failed), ", "))
	}
}
