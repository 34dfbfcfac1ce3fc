package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/security"
)

// Exit codes for exec and query.
const (
	ExitSuccess              = 0
	ExitFailure              = 1 // Backend or internal failure.
	ExitBlocked              = 2 // Validation, budget, backup, precondition or token rejection.
	ExitConfirmationRequired = 3
)

func exitCode(out *action.Outcome) int {
	switch {
	case out.Executed():
		return ExitSuccess
	case out.RequiresConfirmation():
		return ExitConfirmationRequired
	case out.Reason == security.ReasonBackendFailure, out.Reason == security.ReasonInternal:
		return ExitFailure
	default:
		return ExitBlocked
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// finish prints the outcome, runs cleanup and exits with the outcome's code.
func finish(sc *SharedComponents, out *action.Outcome, hint string) error {
	if err := printJSON(os.Stdout, out); err != nil {
		return err
	}
	if out.RequiresConfirmation() && hint != "" {
		fmt.Fprintf(os.Stderr, "\n%s\nTo proceed, re-run within %s with:\n  %s\n",
			out.Summary, sc.Config.Confirmation.TTL(), hint)
	}
	if code := exitCode(out); code != ExitSuccess {
		sc.Cleanup()
		os.Exit(code)
	}
	return nil
}
