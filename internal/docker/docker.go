// Package docker wraps the Docker CLI as the container execution runtime.
// The contract is deliberately narrow: run a command, capture exit code,
// stdout and stderr.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Sentinel errors for runtime availability.
var (
	// ErrRuntimeUnavailable means docker is not installed or the daemon
	// is not running.
	ErrRuntimeUnavailable = errors.New("docker is not installed or not running")

	// ErrImagePrepare means the required image could not be verified or built.
	ErrImagePrepare = errors.New("failed to prepare docker image")
)

// stderrTailLimit bounds how much captured stderr is surfaced in errors.
const stderrTailLimit = 2048

// Mount is a bind mount passed to docker run.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

func (m Mount) flag() string {
	spec := m.Source + ":" + m.Target
	if m.ReadOnly {
		spec += ":ro"
	}

	return spec
}

// CommandError carries the captured output of a failed container command.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("docker %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += fmt.Sprintf(" (stderr: %s)", tail(e.Stderr, stderrTailLimit))
	}

	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// tail returns at most limit trailing bytes of s.
func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}

	return "..." + s[len(s)-limit:]
}

// runFunc executes a command and returns captured stdout and stderr.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Client invokes the docker CLI.
type Client struct {
	run runFunc
	bin string
}

// Option configures the client.
type Option func(*Client)

// WithBinary overrides the docker binary name.
func WithBinary(bin string) Option {
	return func(c *Client) {
		c.bin = bin
	}
}

// withRunFunc overrides command execution. Used by tests.
func withRunFunc(run runFunc) Option {
	return func(c *Client) {
		c.run = run
	}
}

// NewClient creates a docker CLI client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		bin: "docker",
		run: runCommand,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// runCommand executes a command, capturing stdout and stderr separately.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.Bytes(), stderr.Bytes(), err
}

// exec runs docker with the given arguments, wrapping failures in a
// CommandError carrying the captured output.
func (c *Client) exec(ctx context.Context, args ...string) ([]byte, error) {
	stdout, stderr, err := c.run(ctx, c.bin, args...)
	if err != nil {
		return stdout, &CommandError{
			Args:   args,
			Stdout: string(stdout),
			Stderr: string(stderr),
			Err:    err,
		}
	}

	return stdout, nil
}

// Installed checks that the docker CLI responds.
func (c *Client) Installed(ctx context.Context) error {
	_, err := c.exec(ctx, "--version")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	return nil
}

// ImageExists reports whether the named image is present locally.
func (c *Client) ImageExists(ctx context.Context, image string) bool {
	_, err := c.exec(ctx, "image", "inspect", image)

	return err == nil
}

// BuildImage builds the named image from the given build context directory.
func (c *Client) BuildImage(ctx context.Context, image, contextDir string) error {
	_, err := c.exec(ctx, "build", "-t", image, contextDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImagePrepare, err)
	}

	return nil
}

// Run executes a command inside a transient container of the given image
// with the provided bind mounts. The container is removed afterwards.
func (c *Client) Run(ctx context.Context, image string, mounts []Mount, cmd ...string) error {
	args := make([]string, 0, 4+2*len(mounts)+len(cmd))
	args = append(args, "run", "--rm")

	for _, mount := range mounts {
		args = append(args, "-v", mount.flag())
	}

	args = append(args, image)
	args = append(args, cmd...)

	_, err := c.exec(ctx, args...)
	if err != nil {
		return err
	}

	return nil
}
