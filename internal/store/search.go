package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lorekit/lore/internal/asset"
)

// SearchFilter narrows a full-text search.
type SearchFilter struct {
	// Type restricts results to one asset type (empty = all).
	Type asset.Type
	// ProductLine restricts results to one product line (empty = all).
	ProductLine string
	// Limit caps the number of results (0 = default 20).
	Limit int
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Asset *asset.Asset
	// Score is the bm25 rank mapped monotonically into (0,1];
	// higher means more relevant.
	Score float64
	// Snippet is a short window of content around the first query
	// keyword match.
	Snippet string
}

// SearchResponse is the full result of a search call.
type SearchResponse struct {
	Results []SearchResult
	Total   int
}

const defaultSearchLimit = 20

// searchColumns qualifies every asset column; the FTS table shares
// several column names with the base table.
const searchColumns = `a.id, a.type, a.name, a.product_line, a.tags, a.title, a.content,
       a.source_project, a.repo_path, a.promoted, a.created_at, a.updated_at`

// Search runs a ranked full-text query over the asset index.
//
// A query that matches nothing returns an empty response with Total 0,
// not an error.
func (s *Store) Search(ctx context.Context, query string, filter SearchFilter) (*SearchResponse, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return &SearchResponse{Results: []SearchResult{}}, nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	conditions := []string{"assets_fts MATCH ?"}
	args := []any{match}

	if filter.Type != "" {
		conditions = append(conditions, "a.type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.ProductLine != "" {
		conditions = append(conditions, "a.product_line = ?")
		args = append(args, filter.ProductLine)
	}

	sqlQuery := `
	SELECT ` + searchColumns + `, assets_fts.rank
	FROM assets_fts
	JOIN assets a ON a.id = assets_fts.rowid
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY assets_fts.rank
	LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		// An FTS syntax error from a hostile query string is an empty
		// result, not a failure.
		if strings.Contains(err.Error(), "fts5: syntax error") {
			return &SearchResponse{Results: []SearchResult{}}, nil
		}
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	keywords := queryKeywords(query)
	resp := &SearchResponse{Results: []SearchResult{}}

	for rows.Next() {
		a, rank, err := scanSearchRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		resp.Results = append(resp.Results, SearchResult{
			Asset:   a,
			Score:   normalizeRank(rank),
			Snippet: makeSnippet(a.Content, keywords),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}

	resp.Total = len(resp.Results)
	return resp, nil
}

// scanSearchRow scans an asset row plus the trailing rank column.
func scanSearchRow(rows *sql.Rows) (*asset.Asset, float64, error) {
	var a asset.Asset
	var typ, tagsJSON, createdAt, updatedAt string
	var sourceProject, repoPath sql.NullString
	var promoted int
	var rank float64

	err := rows.Scan(
		&a.ID, &typ, &a.Name, &a.ProductLine, &tagsJSON, &a.Title,
		&a.Content, &sourceProject, &repoPath, &promoted,
		&createdAt, &updatedAt, &rank,
	)
	if err != nil {
		return nil, 0, err
	}

	a.Type = asset.Type(typ)
	a.SourceProject = sourceProject.String
	a.RepoPath = repoPath.String
	a.Promoted = promoted != 0
	a.Tags = decodeTags(tagsJSON)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)

	return &a, rank, nil
}

// minScore floors the normalized score. FTS5 can report a rank of
// exactly 0 for a match, which would otherwise map outside (0,1].
const minScore = 0.001

// normalizeRank maps the FTS5 bm25 rank statistic into (0,1], higher
// meaning more relevant. FTS5 reports better matches as more negative
// ranks, so the magnitude drives the score.
func normalizeRank(rank float64) float64 {
	magnitude := -rank
	if magnitude < 0 {
		magnitude = 0
	}
	score := magnitude / (1.0 + magnitude)
	if score < minScore {
		score = minScore
	}
	return score
}

// buildMatchQuery quotes each token so slugs with hyphens never hit
// FTS5 operator syntax.
func buildMatchQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

// queryKeywords returns the query tokens longer than 2 characters,
// used for snippet extraction.
func queryKeywords(query string) []string {
	var keywords []string
	for _, f := range strings.Fields(query) {
		if len(f) > 2 {
			keywords = append(keywords, f)
		}
	}
	return keywords
}

const (
	snippetWindow   = 50
	snippetFallback = 100
)

// runeBoundary clamps pos to [0, len(s)] and backs it off to the start
// of the rune it lands inside, so byte slicing never splits a
// multibyte character.
func runeBoundary(s string, pos int) int {
	if pos < 0 {
		return 0
	}
	if pos >= len(s) {
		return len(s)
	}
	for pos > 0 && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

// makeSnippet extracts the ±50-character window around the first
// case-insensitive keyword occurrence, ellipsis-trimmed when truncated.
// When no keyword is found, the first 100 characters are returned.
func makeSnippet(content string, keywords []string) string {
	lower := strings.ToLower(content)

	pos := -1
	matchLen := 0
	for _, kw := range keywords {
		if idx := strings.Index(lower, strings.ToLower(kw)); idx >= 0 && (pos < 0 || idx < pos) {
			pos = idx
			matchLen = len(kw)
		}
	}

	if pos < 0 {
		if len(content) <= snippetFallback {
			return content
		}
		return content[:runeBoundary(content, snippetFallback)] + "..."
	}

	start := runeBoundary(content, pos-snippetWindow)
	end := runeBoundary(content, pos+matchLen+snippetWindow)

	snippet := content[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet = snippet + "..."
	}
	return snippet
}
