// Command cteimport ingests CT-e spreadsheets from the command line.
//
// Each file is one batch. Files run in parallel up to --parallel, reports
// are written to stdout as one JSON document per line in argument order,
// and logs go to stderr.
//
// Exit codes: 0 when every batch completed, 1 when any batch failed or was
// cancelled, 2 for usage errors, 3 when the store cannot be opened.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitFailed = 1
	exitUsage  = 2
	exitSetup  = 3
)

type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &codedError{code: code, err: err}
}

func exitCode(err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitUsage
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cteimport:", err)
		stop()
		os.Exit(exitCode(err))
	}
}
