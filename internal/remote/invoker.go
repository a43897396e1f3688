// Package remote invokes an agent deployed to the AgentCore runtime through
// the agentcore CLI and relays its output.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/events"
)

// DefaultBinary is the CLI looked up on PATH.
const DefaultBinary = "agentcore"

// Config configures an Invoker.
type Config struct {
	Binary   string
	AgentARN string
}

// Options apply to one invocation.
type Options struct {
	SessionID string
	// TextOnly decodes "data: " lines and relays only their text.
	TextOnly bool
}

// Result is the relayed output of a successful invocation.
type Result struct {
	Output string
	// Stderr holds warnings the CLI printed on an otherwise successful run.
	Stderr string
}

// Invoker runs `agentcore invoke`.
type Invoker struct {
	runner ports.CommandRunner
	cfg    Config
	logger *slog.Logger
}

// NewInvoker creates an Invoker. A nil runner uses ExecRunner.
func NewInvoker(runner ports.CommandRunner, cfg Config, logger *slog.Logger) *Invoker {
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{runner: runner, cfg: cfg, logger: logger}
}

// Args returns the CLI arguments for prompt.
func (i *Invoker) Args(prompt string, opts Options) ([]string, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	args := []string{"invoke", string(payload)}
	if opts.SessionID != "" {
		args = append(args, "--session-id", opts.SessionID)
	}
	if i.cfg.AgentARN != "" {
		args = append(args, "--agent", i.cfg.AgentARN)
	}
	return args, nil
}

// Invoke runs the CLI and writes its output to out as it arrives.
func (i *Invoker) Invoke(ctx context.Context, prompt string, opts Options, out io.Writer) (*Result, error) {
	args, err := i.Args(prompt, opts)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	write := func(s string) {
		full.WriteString(s)
		if out != nil {
			io.WriteString(out, s)
		}
	}

	onLine := func(line string) { write(line + "\n") }
	if opts.TextOnly {
		onLine = func(line string) {
			if text, ok := ExtractSSEText(line); ok {
				write(text)
			}
		}
	}

	i.logger.Debug("invoking remote agent",
		slog.String("binary", i.cfg.Binary),
		slog.String("session_id", opts.SessionID),
		slog.Bool("text_only", opts.TextOnly),
	)

	res, err := i.runner.Run(ctx, i.cfg.Binary, args, onLine)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &InvokeError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return &Result{Output: full.String(), Stderr: res.Stderr}, nil
}

// ExtractSSEText returns the text carried by one "data: " line of CLI
// output. JSON strings become a data mapping; JSON objects are used as-is.
// Anything else, including non-data lines, carries no text.
func ExtractSSEText(line string) (string, bool) {
	payload, ok := strings.CutPrefix(strings.TrimRight(line, "\r"), "data: ")
	if !ok {
		return "", false
	}
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return "", false
	}
	var ev domain.StreamEvent
	switch x := v.(type) {
	case string:
		ev = domain.ObjectEvent{Data: x}
	case map[string]any:
		ev = domain.MapEvent(x)
	default:
		return "", false
	}
	return events.Extract(ev)
}
