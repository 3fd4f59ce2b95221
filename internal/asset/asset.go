// Package asset provides the data structures for knowledge assets and
// their sync audit trail.
//
// A knowledge asset is one named, typed unit of reusable knowledge
// (a pitfall, a decision record, a glossary entry, ...). Assets live in
// two tiers: the local SQLite cache (L1) holds the canonical working
// copy, and the git-backed knowledge repository (L2) holds the durable,
// shareable markdown rendition.
package asset

import (
	"fmt"
	"strings"
	"time"
)

// Type classifies a knowledge asset. The enum is closed: anything else
// is rejected before it reaches storage.
type Type string

const (
	TypePitfall        Type = "pitfall"
	TypeDecisionRecord Type = "decision-record"
	TypeGlossary       Type = "glossary"
	TypeBestPractice   Type = "best-practice"
	TypePattern        Type = "pattern"
	TypeDiscovery      Type = "discovery"
	TypeSkill          Type = "skill"
	TypeReference      Type = "reference"
)

// Types lists every valid asset type in display order.
var Types = []Type{
	TypePitfall,
	TypeDecisionRecord,
	TypeGlossary,
	TypeBestPractice,
	TypePattern,
	TypeDiscovery,
	TypeSkill,
	TypeReference,
}

// Valid returns true if t is a member of the closed type enum.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// String returns the string representation of the asset type.
func (t Type) String() string {
	return string(t)
}

// DefaultProductLine is used when an asset does not declare one.
const DefaultProductLine = "general"

// Asset is a knowledge asset row as held in the L1 cache.
//
// (Name, ProductLine) is the unique key. Promoted is true once the
// asset's content has been committed into the knowledge repository, at
// which point RepoPath records where it landed.
type Asset struct {
	ID            int64     `json:"id"`
	Type          Type      `json:"type"`
	Name          string    `json:"name"`
	ProductLine   string    `json:"product_line"`
	Tags          []string  `json:"tags,omitempty"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	SourceProject string    `json:"source_project,omitempty"`
	RepoPath      string    `json:"repo_path,omitempty"`
	Promoted      bool      `json:"promoted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Input carries the mutable fields of an asset into an upsert.
// ID, promotion state and timestamps are owned by the store.
type Input struct {
	Type          Type
	Name          string
	ProductLine   string
	Tags          []string
	Title         string
	Content       string
	SourceProject string
}

// Normalize fills defaulted fields in place.
func (in *Input) Normalize() {
	if in.ProductLine == "" {
		in.ProductLine = DefaultProductLine
	}
	if in.Title == "" {
		in.Title = in.Name
	}
}

// Validate checks the input for storability.
func (in *Input) Validate() error {
	if in.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(in.Name, "/\\") {
		return fmt.Errorf("name must be a slug without path separators (got %q)", in.Name)
	}
	if in.Type == "" {
		return fmt.Errorf("type is required")
	}
	if !in.Type.Valid() {
		return fmt.Errorf("unknown asset type %q", in.Type)
	}
	return nil
}

// Direction identifies which way a sync operation moved data.
type Direction string

const (
	DirectionPull Direction = "pull" // L2 -> L1
	DirectionPush Direction = "push" // L1 -> L2
	DirectionBoth Direction = "both"
)

// SyncStatus is the outcome of one sync attempt.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
	SyncSkipped SyncStatus = "skipped"
)

// SyncLogEntry is one append-only audit record of a sync attempt.
// Entries are never mutated after creation; the most recent successful
// pull entry carries the commit-id watermark for incremental imports.
type SyncLogEntry struct {
	ID        int64      `json:"id"`
	Direction Direction  `json:"direction"`
	FilePath  string     `json:"file_path,omitempty"`
	CommitID  string     `json:"commit_id,omitempty"`
	Status    SyncStatus `json:"status"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}
