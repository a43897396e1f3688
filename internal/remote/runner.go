package remote

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
)

const maxLineBytes = 1 << 20

// ExecRunner implements ports.CommandRunner using os/exec.
type ExecRunner struct{}

// Run starts name with args and streams stdout lines to onLine. A non-zero
// exit is reported through CmdResult.ExitCode with a nil error; errors are
// reserved for failures to start or read the process.
func (ExecRunner) Run(ctx context.Context, name string, args []string, onLine func(line string)) (*ports.CmdResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCLINotFound, name)
		}
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Keep the pipe flowing so the process can exit before Wait.
		_, _ = io.Copy(io.Discard, stdout)
	}

	err = cmd.Wait()
	result := &ports.CmdResult{Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("wait %s: %w", name, err)
	}
	if scanErr != nil {
		return result, fmt.Errorf("read %s output: %w", name, scanErr)
	}
	return result, nil
}

var _ ports.CommandRunner = ExecRunner{}
