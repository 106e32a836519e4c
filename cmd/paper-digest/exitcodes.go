// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"

	"github.com/pdiddy/paper-digest/internal/digest"
	"github.com/pdiddy/paper-digest/pkg/types"
)

// Process exit codes.
const (
	ExitSuccess   = 0
	ExitFailed    = 1
	ExitConfig    = 2
	ExitPartial   = 3
	ExitNoResults = 4
)

// exitError carries an exit code out of a command. err may be nil when
// the command already reported the outcome.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCodeFor maps a command error to the process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if types.IsConfigError(err) {
		return ExitConfig
	}
	return ExitFailed
}

// runExitCode maps a digest run to the process exit code.
func runExitCode(rep digest.Report, err error) int {
	if types.IsConfigError(err) {
		return ExitConfig
	}
	if err != nil {
		return ExitFailed
	}
	switch rep.Run.Status {
	case types.StatusSuccess:
		return ExitSuccess
	case types.StatusNoResults:
		return ExitNoResults
	case types.StatusPartial:
		return ExitPartial
	default:
		return ExitFailed
	}
}
