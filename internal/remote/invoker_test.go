package remote

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
)

// fakeRunner replays stdout lines and records the command.
type fakeRunner struct {
	lines  []string
	result *ports.CmdResult
	err    error
	name   string
	args   []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, onLine func(string)) (*ports.CmdResult, error) {
	f.name, f.args = name, args
	if f.err != nil {
		return nil, f.err
	}
	for _, l := range f.lines {
		onLine(l)
	}
	if f.result == nil {
		return &ports.CmdResult{}, nil
	}
	return f.result, nil
}

func TestInvoker_Args(t *testing.T) {
	inv := NewInvoker(&fakeRunner{}, Config{AgentARN: "arn:aws:bedrock-agentcore:eu-west-1:123456789012:runtime/agent"}, nil)

	args, err := inv.Args(`say "hi"`, Options{SessionID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"invoke", `{"prompt":"say \"hi\""}`,
		"--session-id", "s-1",
		"--agent", "arn:aws:bedrock-agentcore:eu-west-1:123456789012:runtime/agent",
	}, args)

	args, err = NewInvoker(nil, Config{}, nil).Args("hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"invoke", `{"prompt":"hi"}`}, args)
}

func TestInvoker_RelaysLines(t *testing.T) {
	runner := &fakeRunner{lines: []string{"data: \"Hel\"", "", "data: \"lo\""}, result: &ports.CmdResult{Stderr: "deprecation warning"}}
	inv := NewInvoker(runner, Config{}, nil)

	var out strings.Builder
	res, err := inv.Invoke(context.Background(), "hi", Options{}, &out)

	require.NoError(t, err)
	assert.Equal(t, DefaultBinary, runner.name)
	assert.Equal(t, "data: \"Hel\"\n\ndata: \"lo\"\n", out.String())
	assert.Equal(t, out.String(), res.Output)
	assert.Equal(t, "deprecation warning", res.Stderr)
}

func TestInvoker_TextOnly(t *testing.T) {
	runner := &fakeRunner{lines: []string{
		"Session: abc",
		"data: \"Hel\"",
		"",
		"data: {\"delta\": {\"text\": \"lo\"}}",
		"data: {\"event\": {\"messageStop\": {}}}",
		"data: not-json",
		"data: \"!\"\r",
	}}
	inv := NewInvoker(runner, Config{}, nil)

	var out strings.Builder
	res, err := inv.Invoke(context.Background(), "hi", Options{TextOnly: true}, &out)

	require.NoError(t, err)
	assert.Equal(t, "Hello!", out.String())
	assert.Equal(t, "Hello!", res.Output)
}

func TestInvoker_Errors(t *testing.T) {
	t.Run("non-zero exit", func(t *testing.T) {
		runner := &fakeRunner{result: &ports.CmdResult{ExitCode: 2, Stderr: "agent not deployed\n"}}
		_, err := NewInvoker(runner, Config{}, nil).Invoke(context.Background(), "hi", Options{}, nil)

		require.Error(t, err)
		assert.True(t, IsInvokeError(err))
		var invokeErr *InvokeError
		require.True(t, errors.As(err, &invokeErr))
		assert.Equal(t, 2, invokeErr.ExitCode)
		assert.Equal(t, "agentcore invoke exited with code 2: agent not deployed", err.Error())
	})

	t.Run("cli missing", func(t *testing.T) {
		runner := &fakeRunner{err: ErrCLINotFound}
		_, err := NewInvoker(runner, Config{}, nil).Invoke(context.Background(), "hi", Options{}, nil)
		assert.ErrorIs(t, err, ErrCLINotFound)
		assert.False(t, IsInvokeError(err))
	})
}

func TestExecRunner(t *testing.T) {
	t.Run("streams lines", func(t *testing.T) {
		var lines []string
		res, err := ExecRunner{}.Run(context.Background(), "sh", []string{"-c", "echo one; echo two; echo warn >&2"}, func(l string) {
			lines = append(lines, l)
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two"}, lines)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "warn\n", res.Stderr)
	})

	t.Run("exit code", func(t *testing.T) {
		res, err := ExecRunner{}.Run(context.Background(), "sh", []string{"-c", "echo oops >&2; exit 3"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "oops\n", res.Stderr)
	})

	t.Run("oversized line drains output", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		script := "head -c 2097152 /dev/zero | tr '\\0' a; echo; i=0; while [ $i -lt 2000 ]; do echo tail-$i-padding-padding-padding-padding; i=$((i+1)); done"
		res, err := ExecRunner{}.Run(ctx, "sh", []string{"-c", script}, nil)
		require.ErrorIs(t, err, bufio.ErrTooLong)
		require.NoError(t, ctx.Err())
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := ExecRunner{}.Run(context.Background(), "agentcore-guard-test-missing-binary", nil, nil)
		assert.ErrorIs(t, err, ErrCLINotFound)
	})
}
