// Package codec converts between knowledge asset records and their
// markdown file rendition: a delimited frontmatter block followed by a
// blank line and free-form body text.
//
// The frontmatter parser is intentionally minimal: flat key/value pairs
// plus single-level arrays, nothing more. The format is self-produced
// and closed, so the codec only guarantees round-trips over files it
// wrote itself. Arbitrary external markdown that fails to parse is
// treated as non-asset content, not as an error.
package codec

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/lorekit/lore/internal/asset"
)

// Delimiter fences the frontmatter block.
const Delimiter = "---"

// KnowledgeRoot is the directory inside the repository that holds all
// asset files.
const KnowledgeRoot = "knowledge"

// Frontmatter holds the metadata block of an asset file.
// Keys are serialized in fixed order: type, name, product_line, title,
// tags, created, updated, source_project.
type Frontmatter struct {
	Type          string
	Name          string
	ProductLine   string
	Title         string
	Tags          []string
	Created       time.Time
	Updated       time.Time
	SourceProject string
}

// Parse splits text into a frontmatter block and a body.
//
// When no valid block is found the returned frontmatter is nil and the
// body equals the full input; callers treat that as "not a recognized
// asset file" rather than an error.
func Parse(text string) (*Frontmatter, string) {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != Delimiter {
		return nil, text
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == Delimiter {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, text
	}

	fm := &Frontmatter{}
	for _, line := range lines[1:end] {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "type":
			fm.Type = value
		case "name":
			fm.Name = value
		case "product_line":
			fm.ProductLine = value
		case "title":
			fm.Title = value
		case "tags":
			fm.Tags = parseArray(value)
		case "created":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				fm.Created = t
			}
		case "updated":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				fm.Updated = t
			}
		case "source_project":
			fm.SourceProject = value
		}
	}

	body := strings.Join(lines[end+1:], "\n")
	// The serialized form puts one blank line between block and body.
	body = strings.TrimPrefix(body, "\n")

	return fm, body
}

// parseArray parses a single-level [a, b, c] array value.
func parseArray(value string) []string {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "[") || !strings.HasSuffix(value, "]") {
		return nil
	}
	inner := strings.TrimSpace(value[1 : len(value)-1])
	if inner == "" {
		return []string{}
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Serialize renders the frontmatter block in fixed key order followed
// by a blank line and the body, terminated with a trailing newline.
func Serialize(fm *Frontmatter, body string) string {
	var b strings.Builder

	b.WriteString(Delimiter + "\n")
	fmt.Fprintf(&b, "type: %s\n", fm.Type)
	fmt.Fprintf(&b, "name: %s\n", fm.Name)
	fmt.Fprintf(&b, "product_line: %s\n", fm.ProductLine)
	fmt.Fprintf(&b, "title: %s\n", fm.Title)
	fmt.Fprintf(&b, "tags: [%s]\n", strings.Join(fm.Tags, ", "))
	fmt.Fprintf(&b, "created: %s\n", fm.Created.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "updated: %s\n", fm.Updated.UTC().Format(time.RFC3339))
	if fm.SourceProject != "" {
		fmt.Fprintf(&b, "source_project: %s\n", fm.SourceProject)
	}
	b.WriteString(Delimiter + "\n")
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")

	return b.String()
}

// ToRecord converts a parsed asset file into a store input.
//
// Returns nil when the frontmatter is missing or lacks the required
// type or name keys; callers skip such files silently.
func ToRecord(filePath, text string) *asset.Input {
	fm, body := Parse(text)
	if fm == nil || fm.Type == "" || fm.Name == "" {
		return nil
	}

	in := &asset.Input{
		Type:          asset.Type(fm.Type),
		Name:          fm.Name,
		ProductLine:   fm.ProductLine,
		Tags:          fm.Tags,
		Title:         fm.Title,
		Content:       strings.TrimRight(body, "\n"),
		SourceProject: fm.SourceProject,
	}
	in.Normalize()
	return in
}

// FromRecord produces the file text for an asset.
//
// The original creation time is reused when the asset carries one, so
// re-serializing an update does not rewrite history; a fresh asset gets
// the current time stamped into both created and updated.
func FromRecord(a *asset.Asset) string {
	now := time.Now().UTC()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	fm := &Frontmatter{
		Type:          string(a.Type),
		Name:          a.Name,
		ProductLine:   a.ProductLine,
		Title:         a.Title,
		Tags:          a.Tags,
		Created:       created,
		Updated:       updated,
		SourceProject: a.SourceProject,
	}
	return Serialize(fm, a.Content)
}

// DerivePath returns the deterministic repository location for an
// asset: knowledge/<product_line with '.' replaced by '/'>/<name>.md.
// The result always uses forward slashes (git path convention).
func DerivePath(a *asset.Asset) string {
	pl := a.ProductLine
	if pl == "" {
		pl = asset.DefaultProductLine
	}
	return path.Join(KnowledgeRoot, strings.ReplaceAll(pl, ".", "/"), a.Name+".md")
}

// IsAssetPath reports whether a repository-relative path could name an
// asset file.
func IsAssetPath(p string) bool {
	p = strings.TrimPrefix(p, "./")
	return strings.HasPrefix(p, KnowledgeRoot+"/") && strings.HasSuffix(p, ".md")
}
