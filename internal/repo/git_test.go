package repo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// newTestRepo initializes a fresh knowledge repository in a temp dir.
func newTestRepo(t *testing.T) *Git {
	t.Helper()

	g := NewGit(DefaultOptions(filepath.Join(t.TempDir(), "repo")))
	if err := g.CloneOrInit(context.Background(), ""); err != nil {
		t.Fatalf("CloneOrInit() failed: %v", err)
	}
	return g
}

// newBareRemote creates a bare repository to stand in for the shared
// remote.
func newBareRemote(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "remote.git")
	cmd := exec.Command("git", "init", "--bare", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to init bare remote: %v\n%s", err, out)
	}
	return dir
}

func TestCloneOrInit_FreshRepo(t *testing.T) {
	g := newTestRepo(t)
	ctx := context.Background()

	if _, err := os.Stat(filepath.Join(g.Root(), ".git")); err != nil {
		t.Error("no .git directory after init")
	}
	if _, err := os.Stat(filepath.Join(g.Root(), "knowledge")); err != nil {
		t.Error("no knowledge directory in default layout")
	}
	if _, err := os.Stat(filepath.Join(g.Root(), "README.md")); err != nil {
		t.Error("no README in default layout")
	}

	commit, err := g.CurrentCommit(ctx)
	if err != nil {
		t.Fatalf("CurrentCommit() failed: %v", err)
	}
	if commit == "" {
		t.Error("no initial commit")
	}
}

func TestCloneOrInit_Idempotent(t *testing.T) {
	g := newTestRepo(t)
	ctx := context.Background()

	before, err := g.CurrentCommit(ctx)
	if err != nil {
		t.Fatalf("CurrentCommit() failed: %v", err)
	}

	if err := g.CloneOrInit(ctx, ""); err != nil {
		t.Fatalf("second CloneOrInit() failed: %v", err)
	}

	after, err := g.CurrentCommit(ctx)
	if err != nil {
		t.Fatalf("CurrentCommit() failed: %v", err)
	}
	if before != after {
		t.Errorf("CloneOrInit() changed HEAD: %s -> %s", before, after)
	}
}

func TestCloneOrInit_AttachesMissingRemote(t *testing.T) {
	g := newTestRepo(t)
	ctx := context.Background()
	remote := newBareRemote(t)

	if g.HasRemote(ctx) {
		t.Fatal("fresh repo unexpectedly has a remote")
	}

	if err := g.CloneOrInit(ctx, remote); err != nil {
		t.Fatalf("CloneOrInit() with remote failed: %v", err)
	}
	if !g.HasRemote(ctx) {
		t.Error("remote not configured")
	}
}

func TestCloneOrInit_ExcludesLockMarker(t *testing.T) {
	ctx := context.Background()

	// Fresh init: .gitignore in the layout and an entry in
	// .git/info/exclude.
	g := newTestRepo(t)
	ignore, err := os.ReadFile(filepath.Join(g.Root(), ".gitignore"))
	if err != nil {
		t.Fatalf("no .gitignore in default layout: %v", err)
	}
	if !strings.Contains(string(ignore), lockFileName) {
		t.Errorf(".gitignore does not exclude %s: %q", lockFileName, ignore)
	}
	exclude, err := os.ReadFile(filepath.Join(g.Root(), ".git", "info", "exclude"))
	if err != nil {
		t.Fatalf("no git exclude file: %v", err)
	}
	if !strings.Contains(string(exclude), lockFileName) {
		t.Errorf("git exclude file does not cover %s: %q", lockFileName, exclude)
	}

	// Clone path: CloneOrInit writes the exclude entry into the fresh
	// clone as well.
	if err := g.CloneOrInit(ctx, newBareRemote(t)); err != nil {
		t.Fatalf("remote attach failed: %v", err)
	}
	if err := g.Push(ctx); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}

	clone := NewGit(DefaultOptions(filepath.Join(t.TempDir(), "clone")))
	if err := clone.CloneOrInit(ctx, remoteOf(ctx, t, g)); err != nil {
		t.Fatalf("clone failed: %v", err)
	}
	exclude, err = os.ReadFile(filepath.Join(clone.Root(), ".git", "info", "exclude"))
	if err != nil {
		t.Fatalf("no git exclude file in clone: %v", err)
	}
	if !strings.Contains(string(exclude), lockFileName) {
		t.Errorf("clone exclude file does not cover %s: %q", lockFileName, exclude)
	}

	// A blanket add with the marker present must not stage it.
	if err := os.WriteFile(filepath.Join(g.Root(), lockFileName), []byte("held\n"), 0644); err != nil {
		t.Fatalf("failed to write marker: %v", err)
	}
	defer os.Remove(filepath.Join(g.Root(), lockFileName))
	if _, err := g.AddAndCommit(ctx, "Should not pick up marker"); err != nil {
		t.Fatalf("AddAndCommit() failed: %v", err)
	}
	files, err := g.ListFiles(ctx, "")
	if err != nil {
		t.Fatalf("ListFiles() failed: %v", err)
	}
	for _, f := range files {
		if f == lockFileName {
			t.Errorf("lock marker tracked by git: %v", files)
		}
	}
}

// remoteOf returns the origin URL configured on g.
func remoteOf(ctx context.Context, t *testing.T, g *Git) string {
	t.Helper()
	out, err := g.run(ctx, "remote", "get-url", "origin")
	if err != nil {
		t.Fatalf("failed to read remote URL: %v", err)
	}
	return strings.TrimSpace(string(out))
}

func TestAddAndCommit_NewFile(t *testing.T) {
	g := newTestRepo(t)
	ctx := context.Background()

	path := filepath.Join(g.Root(), "knowledge", "note.md")
	if err := os.WriteFile(path, []byte("---\ntype: pitfall\nname: note\n---\n\nbody\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	before, _ := g.CurrentCommit(ctx)
	commit, err := g.AddAndCommit(ctx, "Add note", "knowledge/note.md")
	if err != nil {
		t.Fatalf("AddAndCommit() failed: %v", err)
	}
	if commit == before {
		t.Error("AddAndCommit() did not advance HEAD")
	}
}

func TestAddAndCommit_CleanTreeNoOp(t *testing.T) {
	g := newTestRepo(t)
	ctx := context.Background()

	before, err := g.CurrentCommit(ctx)
	if err != nil {
		t.Fatalf("CurrentCommit() failed: %v", err)
	}

	commit, err := g.AddAndCommit(ctx, "Nothing to do")
	if err != nil {
		t.Fatalf("AddAndCommit() on clean tree failed: %v", err)
	}
	if commit != before {
		t.Errorf("no-op commit moved HEAD: %s -> %s", before, commit)
	}
}

func TestDiffSince(t *testing.T) {
	g := newTestRepo(t)
	ctx := context.Background()

	base, err := g.CurrentCommit(ctx)
	if err != nil {
		t.Fatalf("CurrentCommit() failed: %v", err)
	}

	path := filepath.Join(g.Root(), "knowledge", "added.md")
	if err := os.WriteFile(path, []byte("content\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := g.AddAndCommit(ctx, "Add file"); err != nil {
		t.Fatalf("AddAndCommit() failed: %v", err)
	}

	changed, err := g.DiffSince(ctx, base)
	if err != nil {
		t.Fatalf("DiffSince() failed: %v", err)
	}
	if len(changed) != 1 || changed[0] != "knowledge/added.md" {
		t.Errorf("DiffSince() = %v, want [knowledge/added.md]", changed)
	}
}

func TestPush_NoRemote(t *testing.T) {
	g := newTestRepo(t)

	err := g.Push(context.Background())
	if !errors.Is(err, ErrNoRemote) {
		t.Errorf("Push() error = %v, want ErrNoRemote", err)
	}
}

func TestPull_NoRemoteIsNoOp(t *testing.T) {
	g := newTestRepo(t)

	if err := g.Pull(context.Background()); err != nil {
		t.Errorf("Pull() with no remote failed: %v", err)
	}
}

// Full round-trip through a bare remote: writer pushes, reader pulls
// with unrelated local history.
func TestPushPull_RoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := newBareRemote(t)

	writer := NewGit(DefaultOptions(filepath.Join(t.TempDir(), "writer")))
	if err := writer.CloneOrInit(ctx, ""); err != nil {
		t.Fatalf("writer init failed: %v", err)
	}
	if err := writer.CloneOrInit(ctx, remote); err != nil {
		t.Fatalf("writer remote attach failed: %v", err)
	}

	path := filepath.Join(writer.Root(), "knowledge", "shared.md")
	if err := os.WriteFile(path, []byte("shared content\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := writer.AddAndCommit(ctx, "Add shared note"); err != nil {
		t.Fatalf("writer commit failed: %v", err)
	}
	if err := writer.Push(ctx); err != nil {
		t.Fatalf("writer push failed: %v", err)
	}
	if !writer.HasUpstream(ctx) {
		t.Error("writer has no upstream after first push")
	}

	// Reader starts from its own local init commit; the first pull has
	// to merge unrelated histories.
	reader := NewGit(DefaultOptions(filepath.Join(t.TempDir(), "reader")))
	if err := reader.CloneOrInit(ctx, ""); err != nil {
		t.Fatalf("reader init failed: %v", err)
	}
	if err := reader.CloneOrInit(ctx, remote); err != nil {
		t.Fatalf("reader remote attach failed: %v", err)
	}
	if err := reader.Pull(ctx); err != nil {
		t.Fatalf("reader pull failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(reader.Root(), "knowledge", "shared.md")); err != nil {
		t.Error("pulled file missing in reader repo")
	}
}

func TestListFiles(t *testing.T) {
	g := newTestRepo(t)
	ctx := context.Background()

	path := filepath.Join(g.Root(), "knowledge", "one.md")
	if err := os.WriteFile(path, []byte("x\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := g.AddAndCommit(ctx, "Add one"); err != nil {
		t.Fatalf("AddAndCommit() failed: %v", err)
	}

	files, err := g.ListFiles(ctx, "knowledge")
	if err != nil {
		t.Fatalf("ListFiles() failed: %v", err)
	}

	found := false
	for _, f := range files {
		if f == "knowledge/one.md" {
			found = true
		}
	}
	if !found {
		t.Errorf("ListFiles() = %v, missing knowledge/one.md", files)
	}
}

func TestWithLock_SerializesAccess(t *testing.T) {
	g := newTestRepo(t)
	ctx := context.Background()

	ran := false
	err := g.WithLock(ctx, func() error {
		ran = true
		// The marker file exists while fn runs.
		if _, err := os.Stat(filepath.Join(g.Root(), lockFileName)); err != nil {
			t.Error("lock file missing during WithLock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() failed: %v", err)
	}
	if !ran {
		t.Error("WithLock() did not run fn")
	}

	if _, err := os.Stat(filepath.Join(g.Root(), lockFileName)); !os.IsNotExist(err) {
		t.Error("lock file not released after WithLock")
	}
}
