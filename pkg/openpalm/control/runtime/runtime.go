// Package runtime invokes the docker compose CLI as an opaque external
// process. It never shells out through a string — every argument is passed
// as a distinct argv entry, so channel/service names can never be used for
// shell injection.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Runner drives docker compose for a single compose file.
type Runner struct {
	ComposeFile string
	ProjectDir  string
}

// New creates a Runner bound to composeFile.
func New(composeFile, projectDir string) *Runner {
	return &Runner{ComposeFile: composeFile, ProjectDir: projectDir}
}

// Up starts (or restarts) the named service in detached mode.
func (r *Runner) Up(ctx context.Context, service string) error {
	return r.run(ctx, "up", "-d", service)
}

// Stop stops the named service without removing its container.
func (r *Runner) Stop(ctx context.Context, service string) error {
	return r.run(ctx, "stop", service)
}

// Restart restarts the named service.
func (r *Runner) Restart(ctx context.Context, service string) error {
	return r.run(ctx, "restart", service)
}

// UpAll starts every service of the stack in detached mode.
func (r *Runner) UpAll(ctx context.Context) error {
	return r.run(ctx, "up", "-d")
}

// Down stops and removes every container of the stack.
func (r *Runner) Down(ctx context.Context) error {
	return r.run(ctx, "down")
}

// Validate runs the compose config dry-run against the bound compose file,
// without touching any container.
func (r *Runner) Validate(ctx context.Context) error {
	return r.run(ctx, "config", "--quiet")
}

// Container is one row of the stack's container listing.
type Container struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Status  string `json:"Status"`
	Image   string `json:"Image"`
}

// List reports the stack's containers. compose emits one JSON object per
// line with --format json.
func (r *Runner) List(ctx context.Context) ([]Container, error) {
	out, err := r.output(ctx, "ps", "-a", "--format", "json")
	if err != nil {
		return nil, err
	}
	var containers []Container
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var c Container
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("parsing container listing: %w", err)
		}
		containers = append(containers, c)
	}
	return containers, nil
}

func (r *Runner) run(ctx context.Context, args ...string) error {
	_, err := r.output(ctx, args...)
	return err
}

func (r *Runner) output(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"compose", "-f", r.ComposeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", full...)
	cmd.Dir = r.ProjectDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("docker %v: %w: %s", full, err, stderr.String())
	}
	return stdout.String(), nil
}
