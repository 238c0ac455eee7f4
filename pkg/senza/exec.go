package senza

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// launchFailureExitCode marks invocations that never produced an exit
// code, such as a missing executable.
const launchFailureExitCode = -1

// commandRunner executes argv and returns the captured stdout, stderr and
// process exit code. mergeStderr folds the child's stderr into stdout, for
// subcommands whose diagnostics are part of the interesting output.
type commandRunner func(ctx context.Context, argv []string, mergeStderr bool) (stdout, stderr string, exitCode int, err error)

// runCommand is the default commandRunner on top of os/exec. A non-zero
// exit is reported through the exit code, not through err; err is reserved
// for invocations that never ran to completion.
func runCommand(ctx context.Context, argv []string, mergeStderr bool) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if mergeStderr {
		cmd.Stderr = &stdout
	}

	err := cmd.Run()

	exitCode := launchFailureExitCode
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitCode, err
	}

	return stdout.String(), stderr.String(), exitCode, nil
}
