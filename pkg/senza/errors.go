package senza

import (
	"errors"
	"fmt"
	"strings"
)

// ExecutionError is the generic failure for a senza invocation: a non-zero
// exit, a process that could not be launched, or output that was promised
// as JSON but did not decode. Output carries the trimmed process output.
type ExecutionError struct {
	ExitCode int
	Output   string
}

func newExecutionError(exitCode int, output string) *ExecutionError {
	return &ExecutionError{ExitCode: exitCode, Output: trimOutput(output)}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("(%d): %s", e.ExitCode, e.Output)
}

// DomainsError indicates the domain query operation failed.
type DomainsError struct {
	ExecutionError
}

// TrafficError indicates the traffic shift operation failed.
type TrafficError struct {
	ExecutionError
}

// RespawnInstancesError indicates the instance respawn operation failed.
type RespawnInstancesError struct {
	ExecutionError
}

// PatchError indicates the stack patch operation failed.
type PatchError struct {
	ExecutionError
}

// RenderError indicates the definition render operation failed.
type RenderError struct {
	ExecutionError
}

// execFailure extracts the execution detail from an error returned by
// execute, for embedding into an operation-specific error kind.
func execFailure(err error) ExecutionError {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return *execErr
	}
	return *newExecutionError(launchFailureExitCode, err.Error())
}

// trimOutput strips surrounding whitespace. Single-line messages also have
// internal whitespace runs collapsed; multi-line output keeps its line
// structure with each line trimmed.
func trimOutput(output string) string {
	trimmed := strings.TrimSpace(output)
	if !strings.Contains(trimmed, "\n") {
		return strings.Join(strings.Fields(trimmed), " ")
	}

	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
