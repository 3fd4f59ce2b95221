// Command lore manages a two-tier knowledge store: a local SQLite
// cache in front of a git-backed repository shared across a team of
// AI coding assistants.
package main

import (
	"fmt"
	"os"

	"github.com/lorekit/lore/internal/ui"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Error.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
