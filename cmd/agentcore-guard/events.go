package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/agentcore-guard/internal/observe"
	"github.com/tjfontaine/agentcore-guard/internal/storage/sqlite"
)

var (
	eventsSession string
	eventsType    string
	eventsSince   time.Duration
	eventsLimit   int
	eventsPrune   time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List persisted diagnostic events as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Diagnostics.SQLitePath == "" {
			return errors.New("diagnostics.sqlite_path is not set")
		}

		store, err := sqlite.New(cfg.Diagnostics.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()

		if eventsPrune > 0 {
			n, err := store.DeleteBefore(ctx, time.Now().Add(-eventsPrune))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "pruned %d events\n", n)
			return nil
		}

		opts := sqlite.ListOptions{
			SessionID: eventsSession,
			Type:      observe.EventType(eventsType),
			Limit:     eventsLimit,
		}
		if eventsSince > 0 {
			opts.Since = time.Now().Add(-eventsSince)
		}
		events, err := store.ListEvents(ctx, opts)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsSession, "session-id", "", "Only events for this session")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Only events of this type, e.g. invocation.blocked")
	eventsCmd.Flags().DurationVar(&eventsSince, "since", 0, "Only events newer than this, e.g. 1h")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "Maximum events to print")
	eventsCmd.Flags().DurationVar(&eventsPrune, "prune-older-than", 0, "Delete events older than this instead of listing")
}
