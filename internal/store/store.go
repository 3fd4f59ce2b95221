// Package store provides the L1 knowledge cache: an embedded SQLite
// database holding the canonical working copy of knowledge assets, a
// full-text search index over them, and the append-only sync log.
//
// The database runs in WAL mode so that the single writer never blocks
// concurrent readers. Read-only handles can be opened independently via
// OpenReadOnly for callers that only search.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lorekit/lore/internal/asset"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection for the L1 cache.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at path and applies the
// schema. The caller must Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// OpenReadOnly opens an independent read-only handle on an existing
// cache database. Read-only handles never block on writer activity.
func OpenReadOnly(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database read-only: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

// Close closes the database connection, checkpointing the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// InitSchema creates tables, indexes, the FTS index and its triggers.
// Idempotent; safe to call on every open.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		type           TEXT NOT NULL,
		name           TEXT NOT NULL,
		product_line   TEXT NOT NULL DEFAULT 'general',
		tags           TEXT NOT NULL DEFAULT '[]',  -- JSON array
		title          TEXT NOT NULL,
		content        TEXT NOT NULL DEFAULT '',
		source_project TEXT,
		repo_path      TEXT,
		promoted       INTEGER NOT NULL DEFAULT 0,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		created_ts     INTEGER NOT NULL,
		updated_ts     INTEGER NOT NULL,
		UNIQUE(name, product_line)
	);

	CREATE INDEX IF NOT EXISTS idx_assets_promoted ON assets(promoted, created_ts);
	CREATE INDEX IF NOT EXISTS idx_assets_type ON assets(type);
	CREATE INDEX IF NOT EXISTS idx_assets_product_line ON assets(product_line);

	CREATE VIRTUAL TABLE IF NOT EXISTS assets_fts USING fts5(
		name,
		title,
		content,
		tags,
		product_line,
		content='assets',
		content_rowid='id'
	);

	CREATE TABLE IF NOT EXISTS sync_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		direction  TEXT NOT NULL,
		file_path  TEXT,
		commit_id  TEXT,
		status     TEXT NOT NULL,
		message    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sync_log_watermark
	    ON sync_log(direction, status, id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// FTS triggers are created once; CREATE TRIGGER has no IF NOT EXISTS
	// companion for the external-content delete form we need.
	var name string
	err := s.conn.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='assets_fts_insert'",
	).Scan(&name)
	if err == sql.ErrNoRows {
		triggers := `
		CREATE TRIGGER assets_fts_insert AFTER INSERT ON assets BEGIN
			INSERT INTO assets_fts(rowid, name, title, content, tags, product_line)
			VALUES (new.id, new.name, new.title, new.content, new.tags, new.product_line);
		END;

		CREATE TRIGGER assets_fts_delete AFTER DELETE ON assets BEGIN
			INSERT INTO assets_fts(assets_fts, rowid, name, title, content, tags, product_line)
			VALUES ('delete', old.id, old.name, old.title, old.content, old.tags, old.product_line);
		END;

		CREATE TRIGGER assets_fts_update AFTER UPDATE ON assets BEGIN
			INSERT INTO assets_fts(assets_fts, rowid, name, title, content, tags, product_line)
			VALUES ('delete', old.id, old.name, old.title, old.content, old.tags, old.product_line);
			INSERT INTO assets_fts(rowid, name, title, content, tags, product_line)
			VALUES (new.id, new.name, new.title, new.content, new.tags, new.product_line);
		END;
		`
		if _, err := s.conn.ExecContext(ctx, triggers); err != nil {
			return fmt.Errorf("failed to create FTS triggers: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to check FTS triggers: %w", err)
	}

	return nil
}

const assetColumns = `id, type, name, product_line, tags, title, content,
       source_project, repo_path, promoted, created_at, updated_at`

// Upsert inserts a new unpromoted asset or updates the mutable fields
// of the existing row sharing (name, product_line). Returns the
// resulting row.
func (s *Store) Upsert(ctx context.Context, in *asset.Input) (*asset.Asset, error) {
	return s.upsert(ctx, in, false, "")
}

// UpsertFromRepo applies a record imported from the repository. The
// row lands already promoted with its backing path recorded; remote
// content always overwrites local content (remote wins).
func (s *Store) UpsertFromRepo(ctx context.Context, in *asset.Input, repoPath string) (*asset.Asset, error) {
	return s.upsert(ctx, in, true, repoPath)
}

func (s *Store) upsert(ctx context.Context, in *asset.Input, promoted bool, repoPath string) (*asset.Asset, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid asset: %w", err)
	}

	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	query := `
	INSERT INTO assets (
		type, name, product_line, tags, title, content, source_project,
		repo_path, promoted, created_at, updated_at, created_ts, updated_ts
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name, product_line) DO UPDATE SET
		type = excluded.type,
		tags = excluded.tags,
		title = excluded.title,
		content = excluded.content,
		source_project = excluded.source_project,
		repo_path = COALESCE(excluded.repo_path, repo_path),
		promoted = CASE WHEN excluded.promoted = 1 THEN 1 ELSE promoted END,
		updated_at = excluded.updated_at,
		updated_ts = excluded.updated_ts
	`

	var repoPathArg sql.NullString
	if repoPath != "" {
		repoPathArg = sql.NullString{String: repoPath, Valid: true}
	}

	promotedFlag := 0
	if promoted {
		promotedFlag = 1
	}

	_, err = s.conn.ExecContext(ctx, query,
		string(in.Type), in.Name, in.ProductLine, string(tagsJSON),
		in.Title, in.Content, nullString(in.SourceProject),
		repoPathArg, promotedFlag, nowStr, nowStr, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset %s/%s: %w", in.ProductLine, in.Name, err)
	}

	return s.GetByName(ctx, in.Name, in.ProductLine)
}

// GetByName returns the asset with the given (name, product_line) key,
// or (nil, nil) when absent.
func (s *Store) GetByName(ctx context.Context, name, productLine string) (*asset.Asset, error) {
	if productLine == "" {
		productLine = asset.DefaultProductLine
	}

	row := s.conn.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE name = ? AND product_line = ?`,
		name, productLine)

	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetByID returns the asset with the given id, or (nil, nil) when
// absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*asset.Asset, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)

	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListUnpromoted returns all unpromoted assets, oldest first. The
// ordering guarantees batch pushes promote in creation order.
func (s *Store) ListUnpromoted(ctx context.Context) ([]*asset.Asset, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE promoted = 0 ORDER BY created_ts ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpromoted assets: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// MarkPromoted records that an asset's content was committed to the
// repository at repoPath.
func (s *Store) MarkPromoted(ctx context.Context, id int64, repoPath string) error {
	now := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx,
		`UPDATE assets SET promoted = 1, repo_path = ?, updated_at = ?, updated_ts = ? WHERE id = ?`,
		repoPath, now.Format(time.RFC3339), now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark asset %d promoted: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("asset %d not found", id)
	}
	return nil
}

// Stats summarizes the cache contents for status output.
type Stats struct {
	Total         int
	Promoted      int
	ByType        map[string]int
	ByProductLine map[string]int
}

// GetStats aggregates cache counts.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByType:        make(map[string]int),
		ByProductLine: make(map[string]int),
	}

	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(promoted), 0) FROM assets`,
	).Scan(&stats.Total, &stats.Promoted)
	if err != nil {
		return nil, fmt.Errorf("failed to count assets: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT type, COUNT(*) FROM assets GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.ByType[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	plRows, err := s.conn.QueryContext(ctx, `SELECT product_line, COUNT(*) FROM assets GROUP BY product_line`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by product line: %w", err)
	}
	defer plRows.Close()
	for plRows.Next() {
		var pl string
		var n int
		if err := plRows.Scan(&pl, &n); err != nil {
			return nil, fmt.Errorf("failed to scan product line count: %w", err)
		}
		stats.ByProductLine[pl] = n
	}
	return stats, plRows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*asset.Asset, error) {
	var a asset.Asset
	var typ, tagsJSON, createdAt, updatedAt string
	var sourceProject, repoPath sql.NullString
	var promoted int

	err := row.Scan(
		&a.ID, &typ, &a.Name, &a.ProductLine, &tagsJSON, &a.Title,
		&a.Content, &sourceProject, &repoPath, &promoted,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Type = asset.Type(typ)
	a.SourceProject = sourceProject.String
	a.RepoPath = repoPath.String
	a.Promoted = promoted != 0

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		a.UpdatedAt = t
	}

	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	} else {
		a.Tags = []string{}
	}

	return &a, nil
}

func scanAssets(rows *sql.Rows) ([]*asset.Asset, error) {
	var assets []*asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return assets, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func decodeTags(tagsJSON string) []string {
	if tagsJSON == "" || tagsJSON == "null" {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return []string{}
	}
	return tags
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
