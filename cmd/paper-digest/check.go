// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-digest/internal/deliver"
	"github.com/pdiddy/paper-digest/internal/retry"
	"github.com/pdiddy/paper-digest/internal/summarize"
	"github.com/pdiddy/paper-digest/pkg/types"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test connectivity to arXiv, Gemini and Slack",
	Long: `Check makes one lightweight call to each external service with the
configured credentials and reports which ones are reachable. It exits with
status 2 when a credential is missing or rejected.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().Bool("skip-slack", false, "do not test the Slack connection")
	rootCmd.AddCommand(checkCmd)
}

// checker is a component that can verify its connection.
type checker interface {
	Check(ctx context.Context) error
}

type service struct {
	name  string
	build func() (checker, error)
}

type checkResult struct {
	name string
	err  error
}

func runCheck(cmd *cobra.Command, args []string) error {
	skipSlack, _ := cmd.Flags().GetBool("skip-slack")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	services := []service{
		{"arXiv", func() (checker, error) { return newSource(), nil }},
		{"Gemini", func() (checker, error) { return summarize.NewGemini(ctx, cfg.Gemini, logger) }},
	}
	if !skipSlack {
		policy := retry.FromConfig(types.RetryConfig{MaxAttempts: 1}, nil)
		services = append(services, service{"Slack", func() (checker, error) { return deliver.NewSlack(cfg.Slack, 0, policy, logger) }})
	}

	var results []checkResult
	for _, svc := range services {
		c, err := svc.build()
		if err == nil {
			err = c.Check(ctx)
		}
		results = append(results, checkResult{name: svc.name, err: err})
	}
	return reportChecks(os.Stdout, results)
}

// reportChecks prints one line per service and returns an exitError when
// any check failed.
func reportChecks(w io.Writer, results []checkResult) error {
	code := ExitSuccess
	for _, r := range results {
		if r.err == nil {
			fmt.Fprintf(w, "%-8s ok\n", r.name)
			continue
		}
		fmt.Fprintf(w, "%-8s FAILED: %v\n", r.name, r.err)
		switch {
		case types.IsConfigError(r.err):
			code = ExitConfig
		case code == ExitSuccess:
			code = ExitFailed
		}
	}
	if code == ExitSuccess {
		return nil
	}
	return &exitError{code: code}
}
