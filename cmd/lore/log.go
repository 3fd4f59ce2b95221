package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/asset"
	"github.com/lorekit/lore/internal/store"
	"github.com/lorekit/lore/internal/ui"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent sync activity",
	RunE:  runLog,
}

func init() {
	logCmd.Flags().Int("limit", 20, "Number of entries to show")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s, err := store.OpenReadOnly(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := s.RecentSyncLog(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println(ui.Muted.Render("No sync activity yet."))
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s %s %-5s %s\n",
			ui.Muted.Render(e.CreatedAt.Local().Format(time.DateTime)),
			statusStyle(e.Status).Render(string(e.Status)),
			e.Direction, e.Message)
	}
	return nil
}

func statusStyle(status asset.SyncStatus) lipgloss.Style {
	switch status {
	case asset.SyncSuccess:
		return ui.Success
	case asset.SyncFailed:
		return ui.Error
	default:
		return ui.Muted
	}
}
