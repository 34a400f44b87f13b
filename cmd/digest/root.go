package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/chapter-digest/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DIGEST"

// NewRootCommand builds the digest command tree. Each call gets its own
// viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Summarize a directory of numbered chapters into one digest",
		Long: "digest summarizes every chapter file of a directory through a chat-completions API.\n" +
			"Work is spread over concurrent workers, every summary is checkpointed, and the\n" +
			"results are merged in chapter order into a single output file.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return readConfig(v, cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default: config.yaml in ., $HOME/.chapter-digest or /etc/chapter-digest)")
	registerFlags(flags)
	mustBindPFlags(v, flags)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cmd.AddCommand(newRunCommand(v))
	cmd.AddCommand(newMergeCommand(v))
	cmd.AddCommand(newVerifyCommand(v))

	return cmd
}

// readConfig loads the config file. A missing default file is fine; a
// missing explicit one is not.
func readConfig(v *viper.Viper, cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.chapter-digest")
	v.AddConfigPath("/etc/chapter-digest")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// setupCommand resolves the configuration and the logger of a subcommand.
// Logs go to the command's error stream.
func setupCommand(v *viper.Viper, cmd *cobra.Command, component string) (Config, zerolog.Logger, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return cfg, zerolog.Nop(), fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, logging.NewLogger(component), nil
}
