package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/config"
	"github.com/lorekit/lore/internal/engine"
	"github.com/lorekit/lore/internal/repo"
	"github.com/lorekit/lore/internal/scrub"
	"github.com/lorekit/lore/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "lore",
	Short: "Shared knowledge store for AI coding assistants",
	Long: `lore keeps a team's engineering knowledge in two tiers: a fast local
SQLite cache for capture and search, and a git repository of markdown
files shared across workspaces.

Assets are captured locally with 'lore add', promoted to the shared
repository with 'lore push', and imported from teammates with
'lore pull'. 'lore sync' does both.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("workdir", "C", "", "Workspace directory (defaults to the current directory)")
}

// loadConfig resolves configuration for the workspace named by the
// --workdir flag, or the current directory.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	workDir, _ := cmd.Flags().GetString("workdir")
	if workDir == "" {
		return config.LoadDefault()
	}
	return config.Load(workDir)
}

// openStore opens the cache database from configuration.
func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.DB.Path)
}

// newEngine builds an initialized engine from configuration. The
// caller owns closing the returned store.
func newEngine(cmd *cobra.Command) (*engine.Engine, *store.Store, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	s, err := openStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	eng := newEngineOver(s, cfg)
	if res := eng.Initialize(cmd.Context(), cfg.Repo.Remote); !res.OK {
		s.Close()
		return nil, nil, nil, res.Err
	}
	return eng, s, cfg, nil
}

// newEngineOver wires an engine over an already-open store.
func newEngineOver(s *store.Store, cfg *config.Config) *engine.Engine {
	return engine.New(s, repo.NewGit(cfg.RepoOptions()))
}

// newScrubber builds the content scrubber, including the configured
// user rules when a rules file is set.
func newScrubber(cfg *config.Config) (*scrub.Scrubber, error) {
	if cfg.Scrub.RulesFile == "" {
		return scrub.New(), nil
	}
	s, err := scrub.NewFromFile(cfg.Scrub.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load scrub rules: %w", err)
	}
	return s, nil
}
