package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lorekit/lore/internal/codec"
)

// Git implements Repo by shelling out to the git binary.
type Git struct {
	opts Options
	lock *FileLock
}

// NewGit creates a repository adapter rooted at opts.Root. The
// directory does not need to exist yet; CloneOrInit creates it.
func NewGit(opts Options) *Git {
	opts = opts.withDefaults()
	return &Git{
		opts: opts,
		lock: NewFileLock(filepath.Join(opts.Root, lockFileName), opts),
	}
}

// Root returns the repository root directory.
func (g *Git) Root() string {
	return g.opts.Root
}

// WithLock runs fn while holding the cross-process repository lock.
func (g *Git) WithLock(ctx context.Context, fn func() error) error {
	if err := g.lock.Acquire(ctx); err != nil {
		return err
	}
	defer func() { _ = g.lock.Release() }()
	return fn()
}

// run executes one git command, retrying transient index.lock
// conflicts on a short backoff schedule of their own.
func (g *Git) run(ctx context.Context, args ...string) ([]byte, error) {
	var out []byte
	var err error

	backoff := 50 * time.Millisecond
	for attempt := 0; attempt <= g.opts.GitLockRetries; attempt++ {
		out, err = execGit(ctx, g.opts.CommandTimeout, g.opts.Root, args...)
		if err == nil || !isGitLockConflict(err) {
			return out, err
		}

		select {
		case <-ctx.Done():
			return out, err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return out, err
}

// exists reports whether Root already holds a git repository.
func (g *Git) exists() bool {
	_, err := os.Stat(filepath.Join(g.opts.Root, ".git"))
	return err == nil
}

// CloneOrInit makes sure a repository exists at Root.
//
// Idempotent: an existing repository is a no-op, except that a supplied
// remoteURL is configured as origin when no remote is present yet. With
// a remoteURL and no repository, the remote is cloned; otherwise a
// fresh repository is initialized with the default layout and an
// initial commit.
func (g *Git) CloneOrInit(ctx context.Context, remoteURL string) error {
	if g.exists() {
		if remoteURL != "" && !g.HasRemote(ctx) {
			if _, err := g.run(ctx, "remote", "add", "origin", remoteURL); err != nil {
				return fmt.Errorf("failed to configure remote: %w", err)
			}
		}
		if err := g.excludeLockMarker(); err != nil {
			return err
		}
		return g.ensureIdentity(ctx)
	}

	parent := filepath.Dir(g.opts.Root)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create repository parent directory: %w", err)
	}

	if remoteURL != "" {
		if _, err := execGit(ctx, g.opts.CommandTimeout, parent,
			"clone", remoteURL, g.opts.Root); err != nil {
			return fmt.Errorf("failed to clone knowledge repository: %w", err)
		}
		if err := g.excludeLockMarker(); err != nil {
			return err
		}
		return g.ensureIdentity(ctx)
	}

	if err := os.MkdirAll(g.opts.Root, 0755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}
	if _, err := g.run(ctx, "init"); err != nil {
		return fmt.Errorf("failed to init knowledge repository: %w", err)
	}
	if err := g.ensureIdentity(ctx); err != nil {
		return err
	}
	if err := g.writeDefaultLayout(); err != nil {
		return err
	}
	if err := g.excludeLockMarker(); err != nil {
		return err
	}
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage initial layout: %w", err)
	}
	if _, err := g.run(ctx, "commit", "-m", "Initialize knowledge repository"); err != nil {
		return fmt.Errorf("failed to create initial commit: %w", err)
	}
	return nil
}

// writeDefaultLayout lays down the skeleton of a fresh repository.
func (g *Git) writeDefaultLayout() error {
	knowledgeDir := filepath.Join(g.opts.Root, codec.KnowledgeRoot)
	if err := os.MkdirAll(knowledgeDir, 0755); err != nil {
		return fmt.Errorf("failed to create knowledge directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(knowledgeDir, ".gitkeep"), nil, 0644); err != nil {
		return fmt.Errorf("failed to write .gitkeep: %w", err)
	}

	readme := `# Knowledge Repository

Shared knowledge assets for AI coding assistants.

Each asset lives under knowledge/<product-line>/<name>.md with a
frontmatter metadata block. INDEX.md is regenerated on every push;
do not edit it by hand.
`
	readmePath := filepath.Join(g.opts.Root, "README.md")
	if _, err := os.Stat(readmePath); os.IsNotExist(err) {
		if err := os.WriteFile(readmePath, []byte(readme), 0644); err != nil {
			return fmt.Errorf("failed to write README: %w", err)
		}
	}

	ignorePath := filepath.Join(g.opts.Root, ".gitignore")
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(ignorePath, []byte(lockFileName+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}
	return nil
}

// excludeLockMarker adds the lock marker to .git/info/exclude so a
// blanket "git add -A" can never stage it, even in clones of
// repositories whose .gitignore predates the marker.
func (g *Git) excludeLockMarker() error {
	excludePath := filepath.Join(g.opts.Root, ".git", "info", "exclude")

	data, err := os.ReadFile(excludePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read git exclude file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == lockFileName {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(excludePath), 0755); err != nil {
		return fmt.Errorf("failed to create git info directory: %w", err)
	}
	entry := lockFileName + "\n"
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		entry = "\n" + entry
	}
	f, err := os.OpenFile(excludePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open git exclude file: %w", err)
	}
	if _, err := f.WriteString(entry); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to update git exclude file: %w", err)
	}
	return f.Close()
}

// ensureIdentity makes commits possible in environments with no global
// git identity (CI, daemon hosts). Existing configuration wins.
func (g *Git) ensureIdentity(ctx context.Context) error {
	if _, err := g.run(ctx, "config", "user.email"); err == nil {
		return nil
	}
	if _, err := g.run(ctx, "config", "user.email", "lore@localhost"); err != nil {
		return fmt.Errorf("failed to set git identity: %w", err)
	}
	if _, err := g.run(ctx, "config", "user.name", "lore"); err != nil {
		return fmt.Errorf("failed to set git identity: %w", err)
	}
	return nil
}

// Pull brings the local branch up to date with the remote.
//
// With an upstream configured this is a fast-forward pull. On the very
// first pull with no tracking branch the remote is fetched and merged
// allowing unrelated histories (the local init commit and the remote
// history have no common ancestor), then upstream tracking is
// established. No configured remote is a successful no-op.
func (g *Git) Pull(ctx context.Context) error {
	if !g.HasRemote(ctx) {
		return nil
	}

	if g.HasUpstream(ctx) {
		if _, err := g.run(ctx, "pull", "--ff-only"); err != nil {
			return fmt.Errorf("pull failed: %w", err)
		}
		return nil
	}

	if _, err := g.run(ctx, "fetch", "origin"); err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	branch, err := g.currentBranch(ctx)
	if err != nil {
		return err
	}

	remoteRef := "origin/" + branch
	if !g.refExists(ctx, remoteRef) {
		// Empty remote; nothing to merge until the first push.
		return nil
	}

	if _, err := g.run(ctx, "merge", "--allow-unrelated-histories",
		"-m", "Merge remote knowledge history", remoteRef); err != nil {
		return fmt.Errorf("merge of remote history failed: %w", err)
	}

	if _, err := g.run(ctx, "branch", "--set-upstream-to="+remoteRef, branch); err != nil {
		return fmt.Errorf("failed to set upstream: %w", err)
	}
	return nil
}

// AddAndCommit stages paths (everything when none are given) and
// commits. A clean tree is a successful no-op returning the current
// commit id.
func (g *Git) AddAndCommit(ctx context.Context, message string, paths ...string) (string, error) {
	if message == "" {
		return "", fmt.Errorf("commit message is required")
	}

	addArgs := []string{"add"}
	if len(paths) == 0 {
		addArgs = append(addArgs, "-A")
	} else {
		addArgs = append(addArgs, "--")
		addArgs = append(addArgs, paths...)
	}
	if _, err := g.run(ctx, addArgs...); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	pending, err := g.hasPendingChanges(ctx, paths...)
	if err != nil {
		return "", err
	}
	if !pending {
		return g.CurrentCommit(ctx)
	}

	commitArgs := []string{"commit", "-m", message}
	if len(paths) > 0 {
		commitArgs = append(commitArgs, "--")
		commitArgs = append(commitArgs, paths...)
	}
	if _, err := g.run(ctx, commitArgs...); err != nil {
		return "", fmt.Errorf("commit failed: %w", err)
	}

	return g.CurrentCommit(ctx)
}

// hasPendingChanges reports whether the working tree (optionally
// narrowed to paths) has staged or unstaged changes.
func (g *Git) hasPendingChanges(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	out, err := g.run(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("status failed: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// Push publishes local commits to the remote, establishing upstream
// tracking on the first push.
func (g *Git) Push(ctx context.Context) error {
	if !g.HasRemote(ctx) {
		return ErrNoRemote
	}

	if g.HasUpstream(ctx) {
		if _, err := g.run(ctx, "push"); err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		return nil
	}

	branch, err := g.currentBranch(ctx)
	if err != nil {
		return err
	}
	if _, err := g.run(ctx, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}

// DiffSince returns the paths that differ between commitID and HEAD.
func (g *Git) DiffSince(ctx context.Context, commitID string) ([]string, error) {
	out, err := g.run(ctx, "diff", "--name-only", commitID, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("diff since %s failed: %w", commitID, err)
	}
	return parseLines(out), nil
}

// CurrentCommit returns the commit id of HEAD.
func (g *Git) CurrentCommit(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// HasCommits reports whether HEAD resolves to a commit. False for an
// unborn branch, as after cloning an empty remote.
func (g *Git) HasCommits(ctx context.Context) bool {
	_, err := g.run(ctx, "rev-parse", "--verify", "HEAD")
	return err == nil
}

// HasRemote reports whether any remote is configured. Repository state
// is always re-derived from git, never cached.
func (g *Git) HasRemote(ctx context.Context) bool {
	out, err := g.run(ctx, "remote")
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}

// HasUpstream reports whether the current branch tracks a remote
// branch.
func (g *Git) HasUpstream(ctx context.Context) bool {
	_, err := g.run(ctx, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{upstream}")
	return err == nil
}

// ListFiles returns the tracked files under dir, repository-relative.
func (g *Git) ListFiles(ctx context.Context, dir string) ([]string, error) {
	args := []string{"ls-files"}
	if dir != "" {
		args = append(args, "--", dir)
	}
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("ls-files failed: %w", err)
	}
	return parseLines(out), nil
}

// currentBranch returns the checked-out branch name.
func (g *Git) currentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// refExists reports whether the named ref resolves.
func (g *Git) refExists(ctx context.Context, ref string) bool {
	_, err := g.run(ctx, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}
