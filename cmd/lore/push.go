package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorekit/lore/internal/asset"
	"github.com/lorekit/lore/internal/ui"
)

var pushCmd = &cobra.Command{
	Use:   "push [name]",
	Short: "Promote cached assets to the shared repository",
	Long: `Promote assets from the local cache into the knowledge repository.

With a name, that one asset is promoted. With --all (or no arguments),
every unpromoted asset goes out in a single commit. The repository
index is regenerated as part of the same commit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

func init() {
	pushCmd.Flags().Bool("all", false, "Promote every unpromoted asset")
	pushCmd.Flags().String("product-line", "", "Product line of the named asset")
	rootCmd.AddCommand(pushCmd)
}

func runPush(cmd *cobra.Command, args []string) error {
	eng, s, _, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	all, _ := cmd.Flags().GetBool("all")

	if len(args) == 0 || all {
		res := eng.PushAllUnpromoted(cmd.Context())
		if !res.OK {
			return res.Err
		}
		fmt.Println(ui.Success.Render("✓ ") + res.Message)
		return nil
	}

	productLine, _ := cmd.Flags().GetString("product-line")
	if productLine == "" {
		productLine = asset.DefaultProductLine
	}

	a, err := s.GetByName(cmd.Context(), args[0], productLine)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("asset %s/%s not found", productLine, args[0])
	}

	res := eng.PushAssetToL2(cmd.Context(), a)
	if !res.OK {
		return res.Err
	}
	fmt.Println(ui.Success.Render("✓ ") + res.Message +
		ui.Muted.Render(" ("+short(res.CommitID)+")"))
	return nil
}
