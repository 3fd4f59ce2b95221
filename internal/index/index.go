// Package index derives the machine- and human-readable summary
// document from the knowledge repository's current content.
//
// The index is regenerated on every push and committed alongside the
// asset files, so any consumer of the repository can read it without
// going through this engine.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lorekit/lore/internal/codec"
	"github.com/lorekit/lore/internal/repo"
)

// FileName is the fixed location of the index document inside the
// repository.
const FileName = "INDEX.md"

// Entry is one asset line in the index.
type Entry struct {
	Name        string
	Type        string
	ProductLine string
	Title       string
	Tags        []string
	Promoted    bool
}

// Index is the aggregated view over the repository's asset files.
type Index struct {
	Total         int
	ByType        map[string]int
	ByProductLine map[string]int
	Entries       []Entry
}

// Builder generates and persists the index for one repository.
type Builder struct {
	repo repo.Repo
}

// NewBuilder creates a Builder over the given repository.
func NewBuilder(r repo.Repo) *Builder {
	return &Builder{repo: r}
}

// Generate enumerates every tracked markdown file under the knowledge
// root, parses each through the codec and aggregates the result.
// Files that fail to parse as assets are silently excluded; unrelated
// repository content never blocks index generation.
func (b *Builder) Generate(ctx context.Context) (*Index, error) {
	files, err := b.repo.ListFiles(ctx, codec.KnowledgeRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge files: %w", err)
	}

	idx := &Index{
		ByType:        make(map[string]int),
		ByProductLine: make(map[string]int),
	}

	for _, rel := range files {
		if !codec.IsAssetPath(rel) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(b.repo.Root(), filepath.FromSlash(rel)))
		if err != nil {
			// Tracked but deleted in the working tree; skip.
			continue
		}

		rec := codec.ToRecord(rel, string(data))
		if rec == nil {
			continue
		}

		idx.Total++
		idx.ByType[string(rec.Type)]++
		idx.ByProductLine[rec.ProductLine]++
		idx.Entries = append(idx.Entries, Entry{
			Name:        rec.Name,
			Type:        string(rec.Type),
			ProductLine: rec.ProductLine,
			Title:       rec.Title,
			Tags:        rec.Tags,
			Promoted:    true, // everything in the repository is promoted by definition
		})
	}

	sort.Slice(idx.Entries, func(i, j int) bool {
		if idx.Entries[i].ProductLine != idx.Entries[j].ProductLine {
			return idx.Entries[i].ProductLine < idx.Entries[j].ProductLine
		}
		return idx.Entries[i].Name < idx.Entries[j].Name
	})

	return idx, nil
}

// Render produces the index document text.
func (idx *Index) Render() string {
	var b strings.Builder

	b.WriteString("# Knowledge Index\n\n")
	fmt.Fprintf(&b, "Total assets: %d\n\n", idx.Total)

	b.WriteString("## By type\n\n")
	for _, typ := range sortedKeys(idx.ByType) {
		fmt.Fprintf(&b, "- %s: %d\n", typ, idx.ByType[typ])
	}

	b.WriteString("\n## By product line\n\n")
	for _, pl := range sortedKeys(idx.ByProductLine) {
		fmt.Fprintf(&b, "- %s: %d\n", pl, idx.ByProductLine[pl])
	}

	b.WriteString("\n## Assets\n\n")
	for _, e := range idx.Entries {
		promoted := "promoted"
		if !e.Promoted {
			promoted = "unpromoted"
		}
		fmt.Fprintf(&b, "%s|%s|%s|%s|%s|%s\n",
			e.Name, e.Type, e.ProductLine, e.Title,
			strings.Join(e.Tags, ","), promoted)
	}

	return b.String()
}

// Write regenerates the index and persists it at the fixed path inside
// the repository. Returns the generated index and its
// repository-relative path.
func (b *Builder) Write(ctx context.Context) (*Index, string, error) {
	idx, err := b.Generate(ctx)
	if err != nil {
		return nil, "", err
	}

	path := filepath.Join(b.repo.Root(), FileName)
	if err := os.WriteFile(path, []byte(idx.Render()), 0644); err != nil {
		return nil, "", fmt.Errorf("failed to write index: %w", err)
	}
	return idx, FileName, nil
}

// Read returns the persisted index document text, or "" when none has
// been written yet.
func (b *Builder) Read() (string, error) {
	data, err := os.ReadFile(filepath.Join(b.repo.Root(), FileName))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read index: %w", err)
	}
	return string(data), nil
}

// EmptySummary is returned by Summarize for a repository with no
// assets.
const EmptySummary = "The knowledge base is empty."

// Summarize renders a short natural-language digest of the index,
// suitable for injection into an assistant prompt.
func (idx *Index) Summarize() string {
	if idx.Total == 0 {
		return EmptySummary
	}

	var parts []string
	for _, pl := range sortedKeys(idx.ByProductLine) {
		parts = append(parts, fmt.Sprintf("%s (%d)", pl, idx.ByProductLine[pl]))
	}
	var typeParts []string
	for _, typ := range sortedKeys(idx.ByType) {
		typeParts = append(typeParts, fmt.Sprintf("%d %s", idx.ByType[typ], typ))
	}

	return fmt.Sprintf("The knowledge base holds %d assets across product lines %s: %s.",
		idx.Total, strings.Join(parts, ", "), strings.Join(typeParts, ", "))
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
