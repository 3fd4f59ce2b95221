package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/asset"
	"github.com/lorekit/lore/internal/store"
	"github.com/lorekit/lore/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over the local cache",
	Long: `Search cached assets by keyword. Matches rank by relevance across
name, title, content and tags.

Examples:
  lore search "connection pool"
  lore search timeout --type pitfall --product-line payments`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("type", "", "Restrict to one asset type")
	searchCmd.Flags().String("product-line", "", "Restrict to one product line")
	searchCmd.Flags().Int("limit", 20, "Maximum number of results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Search never writes; a read-only handle keeps concurrent syncs
	// unblocked.
	s, err := store.OpenReadOnly(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	typ, _ := cmd.Flags().GetString("type")
	productLine, _ := cmd.Flags().GetString("product-line")
	limit, _ := cmd.Flags().GetInt("limit")

	resp, err := s.Search(cmd.Context(), strings.Join(args, " "), store.SearchFilter{
		Type:        asset.Type(typ),
		ProductLine: productLine,
		Limit:       limit,
	})
	if err != nil {
		return err
	}

	if len(resp.Results) == 0 {
		fmt.Println(ui.Muted.Render("No matches."))
		return nil
	}

	for _, r := range resp.Results {
		score := ui.Score(fmt.Sprintf("%.2f", r.Score), r.Score)
		fmt.Printf("%s %s %s\n", score,
			ui.Accent.Render(r.Asset.Name),
			ui.Muted.Render(fmt.Sprintf("(%s/%s)", r.Asset.ProductLine, r.Asset.Type)))
		fmt.Printf("    %s\n", r.Snippet)
	}
	fmt.Println(ui.Muted.Render(fmt.Sprintf("%d of %d matches", len(resp.Results), resp.Total)))
	return nil
}
