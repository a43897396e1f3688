package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/agentcore-guard/internal/remote"
)

var (
	invokeSession  string
	invokeTextOnly bool
	invokeAgentARN string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <prompt>",
	Short: "Invoke a deployed agent through the agentcore CLI",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Log.Format = "text"
		logger := newLogger(cfg, os.Stderr)

		arn := cfg.Remote.AgentARN
		if invokeAgentARN != "" {
			arn = invokeAgentARN
		}
		invoker := remote.NewInvoker(remote.ExecRunner{}, remote.Config{
			Binary:   cfg.Remote.Binary,
			AgentARN: arn,
		}, logger)

		prompt := strings.Join(args, " ")
		fmt.Fprintf(os.Stderr, "Invoking agent with prompt: %s\n\n", prompt)

		res, err := invoker.Invoke(cmd.Context(), prompt, remote.Options{
			SessionID: invokeSession,
			TextOnly:  invokeTextOnly,
		}, os.Stdout)
		if err != nil {
			reportInvokeError(err)
			return err
		}
		if invokeTextOnly {
			fmt.Fprintln(os.Stdout)
		}
		if s := strings.TrimSpace(res.Stderr); s != "" {
			fmt.Fprintf(os.Stderr, "\nWarnings:\n%s\n", s)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(invokeCmd)
	invokeCmd.Flags().StringVar(&invokeSession, "session-id", "", "Runtime session id")
	invokeCmd.Flags().BoolVar(&invokeTextOnly, "text-only", false, "Print only the streamed text")
	invokeCmd.Flags().StringVar(&invokeAgentARN, "agent-arn", "", "Override remote.agent_arn")
}

func reportInvokeError(err error) {
	var invokeErr *remote.InvokeError
	switch {
	case errors.Is(err, remote.ErrCLINotFound):
		fmt.Fprintf(os.Stderr, "Error: %v\nInstall it with: %s\n", err, remote.InstallHint)
	case errors.As(err, &invokeErr):
		fmt.Fprintf(os.Stderr, "Error: agent invocation failed (exit code %d)\n", invokeErr.ExitCode)
		if s := strings.TrimSpace(invokeErr.Stderr); s != "" {
			fmt.Fprintf(os.Stderr, "%s\n", s)
		}
		fmt.Fprintln(os.Stderr, "\nTroubleshooting:")
		for _, hint := range remote.TroubleshootingHints {
			fmt.Fprintf(os.Stderr, "  - %s\n", hint)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}
