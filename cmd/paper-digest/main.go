// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the paper-digest CLI: it fetches new
// arXiv papers per subject, summarizes them with Gemini and delivers the
// digest to Slack and/or Markdown files.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/paper-digest/internal/config"
	"github.com/pdiddy/paper-digest/internal/observability"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// v holds the layered configuration; flags are bound into it.
	v *viper.Viper

	// cfg is the decoded configuration, loaded before every command.
	cfg types.Config

	logger = zerolog.Nop()
)

// rootCmd is the base command for the paper-digest CLI.
var rootCmd = &cobra.Command{
	Use:   "paper-digest",
	Short: "Summarize new arXiv papers and deliver them to Slack or files",
	Long: `paper-digest queries the arXiv listing API for recent papers in one or more
subject categories, groups them into token-bounded batches, summarizes each
batch with Gemini and delivers the digest to a Slack channel and/or
timestamped Markdown files.

Credentials come from the environment (GEMINI_API_KEY, SLACK_BOT_TOKEN,
SLACK_CHANNEL_ID), a .env file or the .secrets/ directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Config first so log settings from the file apply.
		boot := observability.NewLogger(observability.DefaultLoggingConfig())
		loaded, err := config.Load(v, config.Options{
			SecretsDir: mustString(cmd, "secrets-dir"),
			EnvFile:    mustString(cmd, "env-file"),
			Logger:     boot,
		})
		if err != nil {
			return err
		}
		cfg = loaded
		logger = observability.NewLogger(observability.LoggingConfig{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: os.Stderr,
		})
		if f := v.ConfigFileUsed(); f != "" {
			logger.Debug().Str("file", f).Msg("config loaded")
		}
		return config.Validate(cfg)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./paper-digest.yaml or ~/.config/paper-digest/paper-digest.yaml)")
	pf.String("secrets-dir", ".secrets", "directory of credential files")
	pf.String("env-file", ".env", "dotenv file loaded into the environment")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (console, json)")
}

func initConfig() {
	v = config.NewViper(mustString(rootCmd, "config"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// mustString reads a persistent string flag; unknown flags read as "".
func mustString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		s, _ = cmd.Root().PersistentFlags().GetString(name)
	}
	return s
}

func main() {
	err := rootCmd.Execute()
	code := exitCodeFor(err)
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	os.Exit(code)
}
