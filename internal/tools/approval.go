package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrDenied is returned to the model when a tool call is not approved.
var ErrDenied = errors.New("tool call denied")

// Approver decides whether a tool call may run.
type Approver interface {
	Approve(ctx context.Context, call Call) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, call Call) (bool, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, call Call) (bool, error) {
	return f(ctx, call)
}

// AutoApprove approves every call.
var AutoApprove Approver = ApproverFunc(func(context.Context, Call) (bool, error) { return true, nil })

// DenyAll rejects every call.
var DenyAll Approver = ApproverFunc(func(context.Context, Call) (bool, error) { return false, nil })

// TerminalApprover asks the user on a terminal before each call.
type TerminalApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalApprover returns an approver reading answers through r, which
// must buffer in. Callers that also read in pass the same reader so neither
// side loses buffered input. When in is not a terminal nobody can answer, and
// DenyAll is returned.
func NewTerminalApprover(in *os.File, r *bufio.Reader, out io.Writer) Approver {
	if in == nil || !term.IsTerminal(int(in.Fd())) {
		return DenyAll
	}
	if r == nil {
		r = bufio.NewReader(in)
	}
	return NewPromptApprover(r, out)
}

// NewPromptApprover asks on out and reads answers from r without checking
// for a terminal.
func NewPromptApprover(r *bufio.Reader, out io.Writer) *TerminalApprover {
	return &TerminalApprover{in: r, out: out}
}

// Approve prints the call and waits for y/N.
func (a *TerminalApprover) Approve(ctx context.Context, call Call) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	input, _ := json.Marshal(call.Input)
	fmt.Fprintf(a.out, "\nTool %s wants to run with input %s\nAllow? [y/N] ", call.Name, input)

	if err := ctx.Err(); err != nil {
		return false, err
	}
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("read approval: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
