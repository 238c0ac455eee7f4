// Package senza wraps the senza command-line tool behind typed stack
// operations. Every call builds an argument vector, runs one senza process
// to completion, and translates failures into per-operation error kinds.
package senza

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zalando-incubator/lizzy/internal/version"
)

// senzaExecutable is the external tool every operation shells out to.
const senzaExecutable = "senza"

// InvocationRecorder receives one observation per senza invocation.
// Implemented by telemetry.Metrics.
type InvocationRecorder interface {
	RecordInvocation(subcommand string, exitCode int, duration time.Duration)
}

// Client drives senza against a single deployment region. It keeps no
// state between calls and is safe for concurrent use; each operation
// spawns a fresh process and blocks until it exits.
type Client struct {
	executable string
	region     string
	logger     *slog.Logger
	runner     commandRunner
	recorder   InvocationRecorder
}

// New creates a senza client for the given region. A nil logger falls
// back to slog.Default; a nil recorder disables invocation metrics.
func New(region string, logger *slog.Logger, recorder InvocationRecorder) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		executable: senzaExecutable,
		region:     region,
		logger:     logger,
		runner:     runCommand,
		recorder:   recorder,
	}
}

// Create deploys a new stack version from a senza definition. The
// definition travels to senza through a temporary file scoped to the call.
// Returns senza's combined output, which on success is its human-readable
// progress report.
func (c *Client) Create(ctx context.Context, definition, stackVersion string, parameters []string, disableRollback, dryRun bool, tags map[string]string) (string, error) {
	definitionPath, cleanup, err := writeDefinitionFile(definition)
	if err != nil {
		return "", err
	}
	defer cleanup()

	args := []string{"--force"}
	if disableRollback {
		args = append(args, "--disable-rollback")
	}
	if dryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, definitionPath, stackVersion)
	args = append(args, parameters...)
	args = append(args, "-t", "LizzyVersion="+version.Version)
	for _, tag := range sortedTags(tags) {
		args = append(args, "-t", tag)
	}

	return c.execute(ctx, "create", args, false)
}

// List returns every stack senza knows about in the region.
func (c *Client) List(ctx context.Context) ([]any, error) {
	out, err := c.execute(ctx, "list", nil, true)
	if err != nil {
		return nil, err
	}

	var stacks []any
	if err := json.Unmarshal([]byte(out), &stacks); err != nil {
		return nil, newExecutionError(0, out)
	}
	return stacks, nil
}

// Domains returns the Route53 domains senza manages, optionally narrowed
// to one stack. An empty stackName queries all stacks.
func (c *Client) Domains(ctx context.Context, stackName string) (any, error) {
	var args []string
	if stackName != "" {
		args = append(args, stackName)
	}

	out, err := c.execute(ctx, "domains", args, true)
	if err != nil {
		return nil, &DomainsError{execFailure(err)}
	}
	return decodeOutput(out)
}

// Traffic routes the given percentage of traffic to one stack version.
// Returns the resulting traffic weights per version.
func (c *Client) Traffic(ctx context.Context, stackName, stackVersion string, percentage int) (any, error) {
	args := []string{stackName, stackVersion, strconv.Itoa(percentage)}

	out, err := c.execute(ctx, "traffic", args, true)
	if err != nil {
		return nil, &TrafficError{execFailure(err)}
	}
	return decodeOutput(out)
}

// Remove deletes a stack version.
func (c *Client) Remove(ctx context.Context, stackName, stackVersion string) error {
	_, err := c.execute(ctx, "delete", []string{stackName, stackVersion}, false)
	return err
}

// RespawnInstances replaces the instances of a stack version one by one,
// so they pick up a patched launch configuration.
func (c *Client) RespawnInstances(ctx context.Context, stackName, stackVersion string) error {
	out, err := c.execute(ctx, "respawn-instances", []string{stackName, stackVersion}, true)
	if err != nil {
		return &RespawnInstancesError{execFailure(err)}
	}

	_, err = decodeOutput(out)
	return err
}

// Patch updates the AMI image of a stack version. Instances keep running
// on the old image until they are respawned.
func (c *Client) Patch(ctx context.Context, stackName, stackVersion, amiImage string) error {
	args := []string{stackName, stackVersion, "--image=" + amiImage}

	out, err := c.execute(ctx, "patch", args, true)
	if err != nil {
		return &PatchError{execFailure(err)}
	}

	_, err = decodeOutput(out)
	return err
}

// RenderDefinition expands a senza definition into the CloudFormation
// template senza would submit. An empty stackVersion omits the version
// argument.
func (c *Client) RenderDefinition(ctx context.Context, definition, stackVersion, imageVersion string, parameters []string) (any, error) {
	definitionPath, cleanup, err := writeDefinitionFile(definition)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{"--force", definitionPath}
	if stackVersion != "" {
		args = append(args, stackVersion)
	}
	args = append(args, imageVersion)
	args = append(args, parameters...)

	out, err := c.execute(ctx, "print", args, true)
	if err != nil {
		return nil, &RenderError{execFailure(err)}
	}
	return decodeOutput(out)
}

// execute runs one senza subcommand and returns its captured stdout.
// Subcommands that support structured output get -o json appended and
// keep stderr separate; for the rest, stderr is folded into stdout. All
// failures come back as *ExecutionError.
func (c *Client) execute(ctx context.Context, subcommand string, args []string, expectJSON bool) (string, error) {
	argv := []string{c.executable, subcommand, "--region", c.region}
	if expectJSON {
		argv = append(argv, "-o", "json")
	}
	argv = append(argv, args...)

	commandLine := strings.Join(argv, " ")
	c.logger.Debug("Executing senza.", "command", commandLine)

	start := time.Now()
	stdout, stderr, exitCode, err := c.runner(ctx, argv, !expectJSON)
	if c.recorder != nil {
		c.recorder.RecordInvocation(subcommand, exitCode, time.Since(start))
	}

	if err != nil {
		c.logger.Error("Failed to execute senza.", "command", commandLine, "error", err)
		return "", newExecutionError(launchFailureExitCode, err.Error())
	}

	if exitCode != 0 {
		output := stdout
		if expectJSON {
			output = stderr
		}
		c.logger.Error("Senza failed.", "command", commandLine, "exit_code", exitCode, "output", trimOutput(output))
		return "", newExecutionError(exitCode, output)
	}

	return stdout, nil
}

// decodeOutput parses senza's JSON output. Senza prints valid JSON on a
// zero exit; anything else is surfaced as a generic execution failure
// carrying the raw output.
func decodeOutput(output string) (any, error) {
	var result any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		return nil, newExecutionError(0, output)
	}
	return result, nil
}

// writeDefinitionFile spills a definition to a uniquely named temporary
// file, flushed and closed before the process starts. The returned cleanup
// removes the file and must run on every exit path.
func writeDefinitionFile(definition string) (string, func(), error) {
	f, err := os.CreateTemp("", "lizzy-*.yaml")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create definition file: %w", err)
	}

	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := f.WriteString(definition); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write definition file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write definition file: %w", err)
	}

	return path, cleanup, nil
}

// sortedTags renders user tags as key=value pairs in deterministic order.
func sortedTags(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+tags[k])
	}
	return pairs
}
