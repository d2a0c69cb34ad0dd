package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adolfousier/opencrab/config"
)

var compactCmd = &cobra.Command{
	Use:   "compact <session-key>",
	Short: "Compact a session's history into a summary",
	Long: `Replace a session's older messages with a model-generated summary,
keeping the most recent messages intact.

Example:
  opencrab compact cli:interactive
  opencrab compact telegram:123456`,
	Args: cobra.ExactArgs(1),
	RunE: runCompact,
}

func init() {
	rootCmd.AddCommand(compactCmd)
}

func runCompact(_ *cobra.Command, args []string) error {
	sessionKey := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	before, err := rt.store.MessageCount(sessionKey)
	if err != nil {
		return err
	}

	svc := rt.newService()
	if err := svc.Compact(context.Background(), sessionKey); err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}

	after, err := rt.store.MessageCount(sessionKey)
	if err != nil {
		return err
	}

	fmt.Printf("Session compacted: %d -> %d messages\n", before, after)
	fmt.Printf("Session file: %s\n", rt.store.PathForKey(sessionKey))
	return nil
}
