package watch

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/lorekit/lore/internal/asset"
	"github.com/lorekit/lore/internal/codec"
	"github.com/lorekit/lore/internal/engine"
	"github.com/lorekit/lore/internal/repo"
	"github.com/lorekit/lore/internal/store"
)

func testConfig() *Config {
	return &Config{
		SyncInterval:     time.Hour, // keep the periodic sync out of the way
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[watch-test] ", log.LstdFlags),
	}
}

func newTestDaemon(t *testing.T) (*Daemon, *store.Store, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	repoRoot := filepath.Join(dir, "repo")
	r := repo.NewGit(repo.DefaultOptions(repoRoot))
	eng := engine.New(s, r)
	if res := eng.Initialize(context.Background(), ""); !res.OK {
		t.Fatalf("Initialize: %v", res.Err)
	}

	d, err := New(eng, repoRoot, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, s, repoRoot
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, "/tmp/x", nil); err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestDaemon_ImportsManualEdit(t *testing.T) {
	d, s, repoRoot := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Give the watcher a moment to register its directories.
	time.Sleep(100 * time.Millisecond)

	// Hand-write an asset file, the way a human editing the repository
	// directly would.
	dir := filepath.Join(repoRoot, codec.KnowledgeRoot, "payments")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// The new directory itself must be picked up before the file event.
	time.Sleep(100 * time.Millisecond)

	body := "---\ntype: pitfall\nname: hand-written\nproduct_line: payments\n---\n\nWritten by hand.\n"
	if err := os.WriteFile(filepath.Join(dir, "hand-written.md"), []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Poll until the daemon has committed and imported the edit.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := s.GetByName(context.Background(), "hand-written", "payments")
		if err != nil {
			t.Fatalf("GetByName: %v", err)
		}
		if got != nil {
			if got.Content != "Written by hand." {
				t.Errorf("unexpected content: %q", got.Content)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon never imported the manual edit")
		}
		time.Sleep(25 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestDaemon_InitialSyncPushesPending(t *testing.T) {
	d, s, _ := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := &asset.Input{
		Type:    asset.TypePitfall,
		Name:    "queued-before-start",
		Title:   "queued before start",
		Content: "Pending at daemon startup.",
	}
	in.Normalize()
	if _, err := s.Upsert(ctx, in); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		pending, err := s.ListUnpromoted(context.Background())
		if err != nil {
			t.Fatalf("ListUnpromoted: %v", err)
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial sync never promoted the pending asset")
		}
		time.Sleep(25 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}
