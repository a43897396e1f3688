package ports

import "context"

// CmdResult holds the outcome of an external command.
type CmdResult struct {
	Stderr   string
	ExitCode int
}

// CommandRunner executes an external program, handing each stdout line to
// onLine as soon as it is read.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, onLine func(line string)) (*CmdResult, error)
}
