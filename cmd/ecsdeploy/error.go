package main

import (
	"errors"
	"fmt"
)

type usageError struct {
	error
}

func newUsageError(msg string) usageError {
	return usageError{error: errors.New(msg)}
}

func wantArgs(n int, names string, args []string) error {
	if len(args) != n {
		return newUsageError(fmt.Sprintf("expected %s as argument(s), got %d argument(s)", names, len(args)))
	}
	return nil
}

var errorWantedNoArgs = newUsageError("expected no (non-flag) arguments")
var errorInvalidOutputFormat = newUsageError("invalid output format specified")
