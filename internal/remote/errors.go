package remote

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCLINotFound is returned when the agentcore binary is not on PATH.
var ErrCLINotFound = errors.New("agentcore CLI not found")

// InstallHint tells the user how to get the CLI.
const InstallHint = "pip3 install bedrock-agentcore-starter-toolkit"

// TroubleshootingHints are printed after a failed invocation.
var TroubleshootingHints = []string{
	"Check that the agent is deployed: agentcore status",
	"Check your AWS credentials: aws sts get-caller-identity",
	"Run from the agent's project directory",
}

// InvokeError reports a non-zero exit from the CLI.
type InvokeError struct {
	ExitCode int
	Stderr   string
}

func (e *InvokeError) Error() string {
	msg := fmt.Sprintf("agentcore invoke exited with code %d", e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// IsInvokeError reports whether err is an *InvokeError.
func IsInvokeError(err error) bool {
	var invokeErr *InvokeError
	return errors.As(err, &invokeErr)
}
