package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the knowledge store in this workspace",
	Long: `Create the local cache database and the knowledge repository.

With --remote the repository is cloned from (or attached to) the
team's shared git URL and an initial pull imports existing assets.

Examples:
  # Local-only store
  lore init

  # Join a team repository
  lore init --remote git@example.com:team/knowledge.git`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("remote", "", "Git URL of the shared knowledge repository")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	remote, _ := cmd.Flags().GetString("remote")
	if remote == "" {
		remote = cfg.Repo.Remote
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	eng := newEngineOver(s, cfg)
	res := eng.Initialize(cmd.Context(), remote)
	if !res.OK {
		return res.Err
	}

	fmt.Println(ui.Success.Render("✓ ") + res.Message)
	fmt.Println(ui.Muted.Render("  cache: " + cfg.DB.Path))
	return nil
}
