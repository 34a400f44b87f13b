package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/chapter-digest/pkg/batch"
	"github.com/Sternrassler/chapter-digest/pkg/client"
	"github.com/Sternrassler/chapter-digest/pkg/credential"
	"github.com/Sternrassler/chapter-digest/pkg/metrics"
	"github.com/Sternrassler/chapter-digest/pkg/prompt"
	"github.com/Sternrassler/chapter-digest/pkg/source"
	"github.com/Sternrassler/chapter-digest/pkg/summarize"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Wait for input, summarize every chapter and merge the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setupCommand(v, cmd, "digest")
			if err != nil {
				return err
			}
			return runDigest(cmd.Context(), cfg, cmd.OutOrStdout(), logger)
		},
	}
}

// pipeline is the wired set of components of one run.
type pipeline struct {
	processor *summarize.Processor
	pool      *credential.Pool
}

// buildPipeline wires pool, client, engine, prompt builder and processor.
// Every configuration error surfaces here, before any input is read.
func buildPipeline(cfg Config, logger zerolog.Logger) (*pipeline, error) {
	if err := cfg.validateRun(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pool, err := credential.New(cfg.Keys)
	if err != nil {
		return nil, err
	}

	builder, err := prompt.NewBuilder(prompt.Config{
		Models:        cfg.Models,
		TargetChars:   cfg.TargetChars,
		MinFraction:   cfg.MinFraction,
		MaxInputChars: cfg.MaxInputChars,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	completions, err := client.New(client.Config{
		Endpoint:  cfg.Endpoint,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	engine, err := client.NewEngine(completions, pool, client.RetryConfig{
		MaxAttempts: cfg.RetryTimes,
		BaseDelay:   cfg.RetryDelay,
		MaxBackoff:  cfg.MaxBackoff,
	}, logger.With().Str("component", "call-engine").Logger())
	if err != nil {
		return nil, err
	}

	processor, err := summarize.NewProcessor(engine, builder, summarize.Config{
		MaxAttempts: cfg.FileRetryTimes,
		RetryDelay:  cfg.FileRetryDelay,
		MaxDelay:    cfg.FileMaxDelay,
	}, logger.With().Str("component", "summarizer").Logger())
	if err != nil {
		return nil, err
	}

	return &pipeline{processor: processor, pool: pool}, nil
}

// runDigest is the run command: wait for documents, process them, merge.
func runDigest(ctx context.Context, cfg Config, out io.Writer, logger zerolog.Logger) error {
	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		metricsCtx, stop := context.WithCancel(ctx)
		var wg conc.WaitGroup
		wg.Go(func() {
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		})
		defer func() {
			stop()
			wg.Wait()
		}()
	}

	logger.Info().
		Strs("input_dirs", cfg.InputDirs).
		Int("credentials", p.pool.Size()).
		Strs("models", cfg.Models).
		Int("workers", cfg.Workers).
		Msg("Waiting for input documents")

	docs, err := source.Wait(ctx, cfg.InputDirs, source.WaitConfig{
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.WaitTimeout,
	}, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, len(docs), logger)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := batch.NewRunner(p.processor, store, batch.Config{
		Workers:      cfg.Workers,
		StartIndex:   cfg.StartIndex,
		Mode:         cfg.Mode,
		ClearOnStart: cfg.ClearCheckpoints,
	}, logger.With().Str("component", "batch").Logger())
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx, docs)
	if err != nil {
		return fmt.Errorf("run batch: %w", err)
	}

	entries, err := batch.WriteMergedFile(ctx, store, docs, cfg.Output,
		logger.With().Str("component", "batch").Str("run_id", report.RunID).Logger())
	if err != nil {
		return err
	}

	printReport(out, report, entries, cfg.Output)

	if failed := report.Count(batch.FailedPermanently); failed > 0 {
		logger.Warn().
			Int("failed", failed).
			Msg("Some documents carry a failure marker; rerun with --existing=overwrite to retry them")
	}
	return nil
}

func printReport(out io.Writer, report batch.Report, entries int, output string) {
	fmt.Fprintf(out, "run %s: %d documents in %s\n", report.RunID, report.Total, report.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  succeeded: %d\n", report.Count(batch.Succeeded))
	fmt.Fprintf(out, "  skipped:   %d\n", report.Count(batch.Skipped))
	fmt.Fprintf(out, "  failed:    %d\n", report.Count(batch.FailedPermanently))
	fmt.Fprintf(out, "  untouched: %d\n", report.Count(batch.Pending))
	fmt.Fprintf(out, "  calls:     %d\n", report.Calls())
	fmt.Fprintf(out, "merged %d entries into %s\n", entries, output)
}
