package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/asset"
	"github.com/lorekit/lore/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a two-way sync with the shared repository",
	Long: `Pull repository changes into the cache and promote pending local
assets, then publish to the team remote when one is configured.

A failed remote publish is reported as a warning; the local commit is
durable and the next sync retries the publish.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("direction", "both", "Sync direction: pull, push, or both")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	direction, _ := cmd.Flags().GetString("direction")
	dir := asset.Direction(direction)
	switch dir {
	case asset.DirectionPull, asset.DirectionPush, asset.DirectionBoth:
	default:
		return fmt.Errorf("invalid direction %q (want pull, push, or both)", direction)
	}

	eng, s, _, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res := eng.Sync(cmd.Context(), dir)
	if !res.OK {
		return res.Err
	}

	style := ui.Success
	if strings.Contains(res.Message, "failed") {
		style = ui.Warn
	}
	fmt.Println(style.Render("✓ ") + res.Message)
	return nil
}
