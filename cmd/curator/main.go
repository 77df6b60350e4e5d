package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess        = 0 // Every pair was curated
	ExitPartialFailure = 1 // The batch finished but some pairs failed
	ExitError          = 2 // Configuration or runtime error
)

// PartialFailureError indicates that a batch ran to completion, but one or
// more pairs could not be curated.
type PartialFailureError struct {
	Failed, Total int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%d of %d pairs failed", e.Failed, e.Total)
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var partial *PartialFailureError
	if errors.As(err, &partial) {
		return ExitPartialFailure
	}
	return ExitError
}
