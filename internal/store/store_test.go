package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lorekit/lore/internal/asset"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lore.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testInput(name, productLine, content string) *asset.Input {
	return &asset.Input{
		Type:        asset.TypePitfall,
		Name:        name,
		ProductLine: productLine,
		Title:       strings.ReplaceAll(name, "-", " "),
		Tags:        []string{"test"},
		Content:     content,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := testStore(t)

	for _, table := range []string{"assets", "sync_log"} {
		var count int
		err := s.conn.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	s := testStore(t)

	if err := s.InitSchema(); err != nil {
		t.Errorf("second InitSchema() failed: %v", err)
	}
}

func TestUpsert_Insert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.Upsert(ctx, testInput("redis-timeout", "infra", "Short timeouts bite."))
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	if a.ID == 0 {
		t.Error("inserted asset has no ID")
	}
	if a.Promoted {
		t.Error("fresh sink insert must be unpromoted")
	}
	if a.ProductLine != "infra" {
		t.Errorf("ProductLine = %q, want 'infra'", a.ProductLine)
	}
	if a.CreatedAt.IsZero() || a.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}
}

// Sinking the same (name, product_line) twice must update in place,
// never create a second row.
func TestUpsert_UniqueKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, testInput("redis-timeout", "infra", "v1"))
	if err != nil {
		t.Fatalf("first Upsert() failed: %v", err)
	}

	second, err := s.Upsert(ctx, testInput("redis-timeout", "infra", "v2"))
	if err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("upsert created a new row: id %d -> %d", first.ID, second.ID)
	}
	if second.Content != "v2" {
		t.Errorf("Content = %q, want 'v2'", second.Content)
	}

	var count int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM assets`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("asset rows = %d, want 1", count)
	}
}

func TestUpsert_DistinctProductLines(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, testInput("redis-timeout", "infra", "a")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if _, err := s.Upsert(ctx, testInput("redis-timeout", "payments", "b")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	var count int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM assets`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("asset rows = %d, want 2 (same name, different product lines)", count)
	}
}

func TestUpsert_InvalidType(t *testing.T) {
	s := testStore(t)

	in := testInput("bad", "infra", "x")
	in.Type = "not-a-type"

	if _, err := s.Upsert(context.Background(), in); err == nil {
		t.Error("Upsert() accepted an invalid type")
	}
}

func TestGetByName_Absent(t *testing.T) {
	s := testStore(t)

	a, err := s.GetByName(context.Background(), "nope", "infra")
	if err != nil {
		t.Fatalf("GetByName() failed: %v", err)
	}
	if a != nil {
		t.Errorf("GetByName() = %+v, want nil for absent row", a)
	}
}

func TestListUnpromoted_Ordering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	names := []string{"first", "second", "third"}
	for _, n := range names {
		if _, err := s.Upsert(ctx, testInput(n, "infra", n)); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", n, err)
		}
	}

	assets, err := s.ListUnpromoted(ctx)
	if err != nil {
		t.Fatalf("ListUnpromoted() failed: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("ListUnpromoted() returned %d assets, want 3", len(assets))
	}
	for i, n := range names {
		if assets[i].Name != n {
			t.Errorf("position %d = %q, want %q (oldest first)", i, assets[i].Name, n)
		}
	}
}

func TestMarkPromoted(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.Upsert(ctx, testInput("redis-timeout", "infra", "x"))
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	path := "knowledge/infra/redis-timeout.md"
	if err := s.MarkPromoted(ctx, a.ID, path); err != nil {
		t.Fatalf("MarkPromoted() failed: %v", err)
	}

	got, err := s.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if !got.Promoted {
		t.Error("asset not marked promoted")
	}
	if got.RepoPath != path {
		t.Errorf("RepoPath = %q, want %q", got.RepoPath, path)
	}

	unpromoted, err := s.ListUnpromoted(ctx)
	if err != nil {
		t.Fatalf("ListUnpromoted() failed: %v", err)
	}
	if len(unpromoted) != 0 {
		t.Errorf("ListUnpromoted() returned %d assets after promotion, want 0", len(unpromoted))
	}
}

func TestMarkPromoted_MissingRow(t *testing.T) {
	s := testStore(t)

	if err := s.MarkPromoted(context.Background(), 9999, "knowledge/x/y.md"); err == nil {
		t.Error("MarkPromoted() succeeded for missing row")
	}
}

// Pull imports land already promoted and overwrite local content
// (remote wins).
func TestUpsertFromRepo_RemoteWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	local, err := s.Upsert(ctx, testInput("redis-timeout", "infra", "local edit"))
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	remote, err := s.UpsertFromRepo(ctx,
		testInput("redis-timeout", "infra", "remote content"),
		"knowledge/infra/redis-timeout.md")
	if err != nil {
		t.Fatalf("UpsertFromRepo() failed: %v", err)
	}

	if remote.ID != local.ID {
		t.Errorf("import created a new row: id %d -> %d", local.ID, remote.ID)
	}
	if remote.Content != "remote content" {
		t.Errorf("Content = %q, want remote content to win", remote.Content)
	}
	if !remote.Promoted {
		t.Error("imported asset must be promoted")
	}
	if remote.RepoPath != "knowledge/infra/redis-timeout.md" {
		t.Errorf("RepoPath = %q", remote.RepoPath)
	}
}

func TestSearch_RankedHit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, testInput("redis-timeout", "infra",
		"Connections to redis drop when the dial timeout is too short.")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if _, err := s.Upsert(ctx, testInput("pg-vacuum", "infra",
		"Autovacuum needs tuning on large tables.")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	resp, err := s.Search(ctx, "redis timeout", SearchFilter{})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("Total = %d, want 1", resp.Total)
	}

	hit := resp.Results[0]
	if hit.Asset.Name != "redis-timeout" {
		t.Errorf("hit = %q, want 'redis-timeout'", hit.Asset.Name)
	}
	if hit.Score <= 0 || hit.Score > 1 {
		t.Errorf("Score = %f, want in (0,1]", hit.Score)
	}
	if !strings.Contains(strings.ToLower(hit.Snippet), "redis") {
		t.Errorf("Snippet = %q, want keyword window", hit.Snippet)
	}
}

// Scenario D: searching for a term with no matches is an empty result,
// not an error.
func TestSearch_NoMatches(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, testInput("redis-timeout", "infra", "content")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	resp, err := s.Search(ctx, "nonexistent-term", SearchFilter{})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("Total = %d, want 0", resp.Total)
	}
	if len(resp.Results) != 0 {
		t.Errorf("Results = %d entries, want none", len(resp.Results))
	}
}

func TestSearch_TypeFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pitfall := testInput("redis-timeout", "infra", "redis pitfall content")
	if _, err := s.Upsert(ctx, pitfall); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	pattern := testInput("redis-pool", "infra", "redis pattern content")
	pattern.Type = asset.TypePattern
	if _, err := s.Upsert(ctx, pattern); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	resp, err := s.Search(ctx, "redis", SearchFilter{Type: asset.TypePattern})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if resp.Total != 1 || resp.Results[0].Asset.Name != "redis-pool" {
		t.Errorf("type filter failed: got %d results", resp.Total)
	}
}

func TestSearch_SnippetFallback(t *testing.T) {
	long := strings.Repeat("filler text ", 30)
	snippet := makeSnippet(long, []string{"missing"})
	if len(snippet) != snippetFallback+3 {
		t.Errorf("fallback snippet length = %d, want %d", len(snippet), snippetFallback+3)
	}
	if !strings.HasSuffix(snippet, "...") {
		t.Error("fallback snippet missing ellipsis")
	}
}

func TestSearch_SnippetRuneBoundaries(t *testing.T) {
	// Multibyte text on both sides of the keyword; the window must not
	// split a rune.
	pad := strings.Repeat("é", 40)
	content := pad + " timeout " + pad
	snippet := makeSnippet(content, []string{"timeout"})
	if !utf8.ValidString(snippet) {
		t.Errorf("snippet is not valid UTF-8: %q", snippet)
	}
	if !strings.Contains(snippet, "timeout") {
		t.Errorf("snippet lost the keyword: %q", snippet)
	}

	// Fallback path clips long multibyte content the same way.
	snippet = makeSnippet(strings.Repeat("日本語", 60), []string{"missing"})
	if !utf8.ValidString(snippet) {
		t.Errorf("fallback snippet is not valid UTF-8: %q", snippet)
	}
}

func TestNormalizeRank_Bounds(t *testing.T) {
	tests := []struct {
		rank float64
		min  float64
		max  float64
	}{
		{-10, 0.9, 1},
		{-1, 0.5, 0.5},
		{0, minScore, minScore},
		{1, minScore, minScore}, // positive ranks clamp too
	}
	for _, tt := range tests {
		score := normalizeRank(tt.rank)
		if score <= 0 || score > 1 {
			t.Errorf("normalizeRank(%v) = %v, outside (0,1]", tt.rank, score)
		}
		if score < tt.min || score > tt.max {
			t.Errorf("normalizeRank(%v) = %v, want in [%v, %v]", tt.rank, score, tt.min, tt.max)
		}
	}
}

func TestSyncLog_Watermark(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	commit, err := s.LastSuccessfulPullCommit(ctx)
	if err != nil {
		t.Fatalf("LastSuccessfulPullCommit() failed: %v", err)
	}
	if commit != "" {
		t.Errorf("watermark = %q, want empty before any pull", commit)
	}

	entries := []*asset.SyncLogEntry{
		{Direction: asset.DirectionPull, CommitID: "aaa111", Status: asset.SyncSuccess, Message: "imported 3"},
		{Direction: asset.DirectionPush, CommitID: "bbb222", Status: asset.SyncSuccess, Message: "pushed 1"},
		{Direction: asset.DirectionPull, CommitID: "ccc333", Status: asset.SyncFailed, Message: "network"},
	}
	for _, e := range entries {
		if err := s.AppendSyncLog(ctx, e); err != nil {
			t.Fatalf("AppendSyncLog() failed: %v", err)
		}
	}

	commit, err = s.LastSuccessfulPullCommit(ctx)
	if err != nil {
		t.Fatalf("LastSuccessfulPullCommit() failed: %v", err)
	}
	// Only successful pulls move the watermark.
	if commit != "aaa111" {
		t.Errorf("watermark = %q, want 'aaa111'", commit)
	}

	recent, err := s.RecentSyncLog(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSyncLog() failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("RecentSyncLog() returned %d entries, want 3", len(recent))
	}
	if recent[0].CommitID != "ccc333" {
		t.Errorf("newest entry = %q, want most recent first", recent[0].CommitID)
	}
}

func TestGetStats(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := testInput("redis-timeout", "infra", "x")
	if _, err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	skill := testInput("grep-fu", "general", "y")
	skill.Type = asset.TypeSkill
	if _, err := s.Upsert(ctx, skill); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.ByType["pitfall"] != 1 || stats.ByType["skill"] != 1 {
		t.Errorf("ByType = %v", stats.ByType)
	}
	if stats.ByProductLine["infra"] != 1 || stats.ByProductLine["general"] != 1 {
		t.Errorf("ByProductLine = %v", stats.ByProductLine)
	}
}

func TestOpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lore.db")

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer w.Close()

	if _, err := w.Upsert(context.Background(), testInput("redis-timeout", "infra", "searchable content")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	r, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly() failed: %v", err)
	}
	defer r.Close()

	resp, err := r.Search(context.Background(), "searchable", SearchFilter{})
	if err != nil {
		t.Fatalf("Search() on read-only handle failed: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("read-only search Total = %d, want 1", resp.Total)
	}
}
