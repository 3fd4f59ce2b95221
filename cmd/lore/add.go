package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/asset"
	"github.com/lorekit/lore/internal/ui"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Capture a knowledge asset into the local cache",
	Long: `Capture an asset into the local cache. Content is scrubbed for
credential-shaped material before it is stored. The asset stays local
until 'lore push' promotes it, unless --push is given.

Examples:
  lore add --type pitfall --name n-plus-one-query \
      --title "N+1 queries in the order listing" \
      --content "The order listing endpoint issued one query per row..."

  # Read content from a file and promote immediately
  lore add --type decision-record --name use-sqlite-cache \
      --file decision.md --product-line payments --push`,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().String("type", "", "Asset type ("+typeList()+")")
	addCmd.Flags().String("name", "", "Asset name (unique within its product line)")
	addCmd.Flags().String("product-line", "", "Product line (defaults to "+asset.DefaultProductLine+")")
	addCmd.Flags().String("title", "", "Human-readable title (defaults to the name)")
	addCmd.Flags().StringSlice("tags", nil, "Comma-separated tags")
	addCmd.Flags().String("content", "", "Asset content")
	addCmd.Flags().String("file", "", "Read content from a file instead of --content")
	addCmd.Flags().String("source-project", "", "Project the knowledge came from")
	addCmd.Flags().Bool("push", false, "Promote to the shared repository immediately")
	rootCmd.AddCommand(addCmd)
}

func typeList() string {
	names := make([]string, len(asset.Types))
	for i, t := range asset.Types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func runAdd(cmd *cobra.Command, args []string) error {
	eng, s, cfg, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	typ, _ := cmd.Flags().GetString("type")
	name, _ := cmd.Flags().GetString("name")
	productLine, _ := cmd.Flags().GetString("product-line")
	title, _ := cmd.Flags().GetString("title")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	content, _ := cmd.Flags().GetString("content")
	file, _ := cmd.Flags().GetString("file")
	sourceProject, _ := cmd.Flags().GetString("source-project")
	push, _ := cmd.Flags().GetBool("push")

	if file != "" {
		if content != "" {
			return fmt.Errorf("--content and --file are mutually exclusive")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read content file: %w", err)
		}
		content = string(data)
	}

	scrubber, err := newScrubber(cfg)
	if err != nil {
		return err
	}
	clean, hits := scrubber.Scrub(content)
	if hits > 0 {
		fmt.Fprintln(os.Stderr, ui.Warn.Render(fmt.Sprintf("Scrubbed %d credential-shaped fragments", hits)))
	}

	in := &asset.Input{
		Type:          asset.Type(typ),
		Name:          name,
		ProductLine:   productLine,
		Title:         title,
		Tags:          tags,
		Content:       clean,
		SourceProject: sourceProject,
	}
	in.Normalize()
	if err := in.Validate(); err != nil {
		return err
	}

	a, err := s.Upsert(cmd.Context(), in)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s (%s/%s)\n", ui.Success.Render("✓ captured"),
		ui.Accent.Render(a.Name), a.ProductLine, a.Type)

	if push {
		res := eng.PushAssetToL2(cmd.Context(), a)
		if !res.OK {
			return res.Err
		}
		fmt.Println(ui.Success.Render("✓ ") + res.Message +
			ui.Muted.Render(" ("+short(res.CommitID)+")"))
	}
	return nil
}

// short abbreviates a commit id for display.
func short(commitID string) string {
	if len(commitID) > 8 {
		return commitID[:8]
	}
	return commitID
}
