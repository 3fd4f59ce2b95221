package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/digest"
	"github.com/lorekit/lore/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache and repository state",
	Long: `Show what the cache holds, how much of it is promoted, and what the
repository index reports. With --digest a prose summary of the
knowledge base is generated (requires digest.enabled and an Anthropic
API key).`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("digest", false, "Generate a prose digest of the knowledge base")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, s, cfg, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.GetStats(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(ui.Header.Render("Cache"))
	fmt.Printf("  %d assets, %d promoted, %d pending\n",
		stats.Total, stats.Promoted, stats.Total-stats.Promoted)

	if len(stats.ByType) > 0 {
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("  %s %s: %d\n", ui.Muted.Render("-"), t, stats.ByType[t])
		}
	}

	idx, err := eng.Index(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(ui.Header.Render("Repository"))
	fmt.Printf("  %d promoted assets across %d product lines\n",
		idx.Total, len(idx.ByProductLine))

	wantDigest, _ := cmd.Flags().GetBool("digest")
	if wantDigest {
		summarizer := digest.ForConfig(cfg.Digest.Enabled, cfg.Digest.APIKey)
		text, err := summarizer.Digest(cmd.Context(), idx)
		if err != nil {
			return fmt.Errorf("digest failed: %w", err)
		}
		fmt.Println(ui.Header.Render("Digest"))
		fmt.Println("  " + text)
	}
	return nil
}
