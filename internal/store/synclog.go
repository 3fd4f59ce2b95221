package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lorekit/lore/internal/asset"
)

// AppendSyncLog records one sync attempt. Entries are append-only and
// never mutated afterwards.
func (s *Store) AppendSyncLog(ctx context.Context, e *asset.SyncLogEntry) error {
	now := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO sync_log (direction, file_path, commit_id, status, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Direction), nullString(e.FilePath), nullString(e.CommitID),
		string(e.Status), e.Message, now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	e.CreatedAt = now
	return nil
}

// LastSuccessfulPullCommit returns the commit-id watermark of the most
// recent successful pull, or "" when no pull has succeeded yet.
func (s *Store) LastSuccessfulPullCommit(ctx context.Context) (string, error) {
	var commit sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT commit_id FROM sync_log
		 WHERE direction = ? AND status = ? AND commit_id IS NOT NULL
		 ORDER BY id DESC LIMIT 1`,
		string(asset.DirectionPull), string(asset.SyncSuccess),
	).Scan(&commit)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read pull watermark: %w", err)
	}
	return commit.String, nil
}

// RecentSyncLog returns the newest limit entries, most recent first.
func (s *Store) RecentSyncLog(ctx context.Context, limit int) ([]*asset.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, direction, file_path, commit_id, status, message, created_at
		 FROM sync_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync log: %w", err)
	}
	defer rows.Close()

	var entries []*asset.SyncLogEntry
	for rows.Next() {
		var e asset.SyncLogEntry
		var direction, status, createdAt string
		var filePath, commitID sql.NullString

		if err := rows.Scan(&e.ID, &direction, &filePath, &commitID, &status, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}

		e.Direction = asset.Direction(direction)
		e.Status = asset.SyncStatus(status)
		e.FilePath = filePath.String
		e.CommitID = commitID.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
