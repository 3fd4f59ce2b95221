package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/ui"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Import repository changes into the local cache",
	Long: `Pull the knowledge repository and import changed assets into the
local cache. Only files changed since the last successful pull are
parsed; an unchanged repository is a fast no-op. Repository content
always wins over local cache rows.`,
	RunE: runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	eng, s, _, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	res := eng.PullFromL2(cmd.Context())
	if !res.OK {
		return res.Err
	}
	fmt.Println(ui.Success.Render("✓ ") + res.Message)
	return nil
}
