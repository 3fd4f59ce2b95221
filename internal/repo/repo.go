// Package repo provides serialized, retrying access to the git-backed
// knowledge repository (L2).
//
// The package hides two layers of coordination from callers:
//
//   - Cross-process mutual exclusion over the repository directory,
//     implemented with a timestamped marker file created with
//     exclusive-create semantics. The filesystem is the only
//     coordination primitive shared between processes.
//   - Transient git index.lock conflicts, which are retried on their
//     own backoff schedule because another process may be mid-commit.
//
// All git access goes through a narrow Repo interface so the
// orchestrator never depends on the shell-out details and a native git
// library could be swapped in later.
package repo

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by repository operations. Check with
// errors.Is().
var (
	// ErrNoRemote is returned when an operation requires a configured
	// remote but none exists.
	ErrNoRemote = errors.New("no remote configured")

	// ErrLockTimeout is returned when the repository lock could not be
	// acquired within the retry budget.
	ErrLockTimeout = errors.New("failed to acquire repository lock")

	// ErrNotARepo is returned when the target directory is not a git
	// repository.
	ErrNotARepo = errors.New("not a git repository")
)

// Repo is the narrow surface the sync orchestrator needs. Git is the
// only implementation today.
type Repo interface {
	// Root returns the repository root directory.
	Root() string

	// CloneOrInit makes sure a repository exists at Root. Idempotent:
	// an existing repository is a no-op, except that a supplied
	// remoteURL is configured when no remote exists yet.
	CloneOrInit(ctx context.Context, remoteURL string) error

	// Pull brings the local branch up to date with the remote.
	// No configured remote is a successful no-op.
	Pull(ctx context.Context) error

	// AddAndCommit stages the given paths (or everything when none are
	// given) and commits when the working tree has pending changes.
	// With nothing to commit it returns the current commit id as a
	// successful no-op.
	AddAndCommit(ctx context.Context, message string, paths ...string) (string, error)

	// Push publishes local commits, establishing upstream tracking on
	// the first push. Returns ErrNoRemote when no remote is configured.
	Push(ctx context.Context) error

	// DiffSince returns the paths that differ between commitID and the
	// current HEAD.
	DiffSince(ctx context.Context, commitID string) ([]string, error)

	// CurrentCommit returns the commit id of HEAD.
	CurrentCommit(ctx context.Context) (string, error)

	// HasCommits reports whether the repository has any commit. A
	// clone of an empty remote sits on an unborn branch until the
	// first commit.
	HasCommits(ctx context.Context) bool

	// HasRemote reports whether any remote is configured.
	HasRemote(ctx context.Context) bool

	// HasUpstream reports whether the current branch tracks a remote
	// branch.
	HasUpstream(ctx context.Context) bool

	// ListFiles returns the tracked files under the given
	// repository-relative directory.
	ListFiles(ctx context.Context, dir string) ([]string, error)

	// WithLock runs fn while holding the cross-process repository lock.
	WithLock(ctx context.Context, fn func() error) error
}

// Options tunes the adapter. The lock and retry knobs are configuration
// so tests can shrink them.
type Options struct {
	// Root is the repository directory.
	Root string

	// CommandTimeout is the wall-clock budget for one git command.
	CommandTimeout time.Duration

	// LockStaleTimeout is the age after which a held lock is treated
	// as abandoned and cleared by the next acquirer.
	LockStaleTimeout time.Duration

	// LockMaxAttempts bounds lock acquisition retries.
	LockMaxAttempts int

	// LockBackoffBase is the initial retry delay; the delay grows
	// exponentially and is capped at LockBackoffBase*LockBackoffCap.
	LockBackoffBase time.Duration
	LockBackoffCap  int

	// GitLockRetries bounds retries of git commands that fail on a
	// transient index.lock conflict.
	GitLockRetries int
}

// DefaultOptions returns the production defaults.
func DefaultOptions(root string) Options {
	return Options{
		Root:             root,
		CommandTimeout:   30 * time.Second,
		LockStaleTimeout: 10 * time.Second,
		LockMaxAttempts:  50,
		LockBackoffBase:  100 * time.Millisecond,
		LockBackoffCap:   10,
		GitLockRetries:   5,
	}
}

// withDefaults fills zero fields so partially populated Options from
// tests behave.
func (o Options) withDefaults() Options {
	d := DefaultOptions(o.Root)
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.LockStaleTimeout <= 0 {
		o.LockStaleTimeout = d.LockStaleTimeout
	}
	if o.LockMaxAttempts <= 0 {
		o.LockMaxAttempts = d.LockMaxAttempts
	}
	if o.LockBackoffBase <= 0 {
		o.LockBackoffBase = d.LockBackoffBase
	}
	if o.LockBackoffCap <= 0 {
		o.LockBackoffCap = d.LockBackoffCap
	}
	if o.GitLockRetries <= 0 {
		o.GitLockRetries = d.GitLockRetries
	}
	return o
}
