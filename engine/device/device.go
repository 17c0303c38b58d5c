package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"

	"github.com/tencdm/tencdm/pkg/logger"
)

const (
	// NameEnvVar pins the reported device name, bypassing hardware probing.
	NameEnvVar = "TENCDM_DEVICE_NAME"
	// QueryEnvVar replaces the probe command line.
	QueryEnvVar = "TENCDM_DEVICE_QUERY"
	// DefaultQueryCommand asks the driver for the first GPU model name.
	DefaultQueryCommand = "nvidia-smi --query-gpu=name --format=csv,noheader -i 0"

	AttnSDPA  = "sdpa"
	AttnEager = "eager"
)

// ErrNoDevice is returned when no accelerator could be identified.
var ErrNoDevice = errors.New("no accelerator device found")

// Query reports the name of the accelerator the process will run on.
type Query interface {
	DeviceName(ctx context.Context) (string, error)
}

// QueryFunc adapts a function to Query.
type QueryFunc func(ctx context.Context) (string, error)

func (f QueryFunc) DeviceName(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a Query that always reports name.
func Static(name string) Query {
	return QueryFunc(func(context.Context) (string, error) {
		return name, nil
	})
}

// AttnImplementation selects the attention kernel for a device: fused SDPA on
// A100/V100 class hardware and the eager implementation everywhere else.
func AttnImplementation(name string) string {
	if strings.Contains(name, "A100") || strings.Contains(name, "V100") {
		return AttnSDPA
	}
	return AttnEager
}

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// NvidiaSMI probes the device by running a driver query command.
type NvidiaSMI struct {
	Command string
	Run     Runner
}

// NewNvidiaSMI builds a probe from the query command in the environment,
// falling back to DefaultQueryCommand.
func NewNvidiaSMI(lookup func(string) (string, bool)) *NvidiaSMI {
	command := DefaultQueryCommand
	if lookup != nil {
		if v, ok := lookup(QueryEnvVar); ok && strings.TrimSpace(v) != "" {
			command = v
		}
	}
	return &NvidiaSMI{Command: command, Run: execRunner}
}

func (n *NvidiaSMI) DeviceName(ctx context.Context) (string, error) {
	parts, err := splitCommand(n.Command)
	if err != nil {
		return "", err
	}
	run := n.Run
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, parts[0], parts[1:]...)
	if err != nil {
		return "", fmt.Errorf("failed to query device: %w", err)
	}
	name, _, _ := strings.Cut(string(out), "\n")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNoDevice
	}
	return name, nil
}

func splitCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if strings.ContainsAny(command, "\r\n") {
		return nil, fmt.Errorf("device query command cannot contain newlines")
	}
	parts, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device query command: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("device query command cannot be empty")
	}
	return parts, nil
}

// FromEnv prefers the name pinned in NameEnvVar and otherwise defers to next.
// A next that fails is logged and reported as a CPU-only host with an empty name.
func FromEnv(lookup func(string) (string, bool), next Query) Query {
	return QueryFunc(func(ctx context.Context) (string, error) {
		if lookup != nil {
			if v, ok := lookup(NameEnvVar); ok {
				return strings.TrimSpace(v), nil
			}
		}
		if next == nil {
			return "", nil
		}
		name, err := next.DeviceName(ctx)
		if err != nil {
			logger.FromContext(ctx).Warn("Device query failed, assuming a CPU-only host", "error", err)
			return "", nil
		}
		return name, nil
	})
}
