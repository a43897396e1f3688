package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/agentcore-guard/internal/tools"
	"github.com/tjfontaine/agentcore-guard/pkg/guard"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the guarded agent in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Log.Format = "text"
		logger := newLogger(cfg, os.Stderr)

		stdin := bufio.NewReader(os.Stdin)
		opts := []guard.Option{guard.WithLogger(logger)}
		if !cfg.Agent.AutoApproveToolCalls {
			opts = append(opts, guard.WithApprover(tools.NewTerminalApprover(os.Stdin, stdin, os.Stderr)))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		g, err := guard.New(ctx, cfg, opts...)
		if err != nil {
			return fmt.Errorf("create guard: %w", err)
		}
		defer g.Close()

		session := chatSession
		if session == "" {
			session = uuid.NewString()
		}
		fmt.Fprintf(os.Stderr, "session %s. Type 'exit' to quit.\n", session)
		return chatLoop(ctx, g, session, stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSession, "session-id", "", "Session id (random when unset)")
}

// chatLoop reads prompts from in. The tool approver shares in, so approval
// answers and prompts are consumed in the order they were typed.
func chatLoop(ctx context.Context, g *guard.Guard, session string, in *bufio.Reader, out io.Writer) error {
	for {
		fmt.Fprint(out, "\n> ")
		raw, err := in.ReadString('\n')
		if err != nil && raw == "" {
			fmt.Fprintln(out)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line := strings.TrimSpace(raw)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		for frag := range g.Invoke(ctx, guard.InvocationRequest{Prompt: line, SessionID: session}) {
			if frag.Err != nil {
				fmt.Fprintf(os.Stderr, "\nerror: %v\n", frag.Err)
				continue
			}
			fmt.Fprint(out, frag.Text)
		}
		fmt.Fprintln(out)
		if ctx.Err() != nil {
			return nil
		}
	}
}
