// Package watch provides the long-running daemon behind `lore watch`.
//
// The daemon:
//  1. Watches the repository's knowledge tree for file changes
//  2. Commits debounced manual edits and imports them into the cache
//  3. Periodically runs a full two-way sync
//  4. Handles graceful shutdown via context
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lorekit/lore/internal/asset"
	"github.com/lorekit/lore/internal/codec"
	"github.com/lorekit/lore/internal/engine"
	"github.com/lorekit/lore/internal/logging"
)

// Config holds daemon tuning.
type Config struct {
	// SyncInterval is how often the periodic two-way sync runs.
	SyncInterval time.Duration

	// DebounceInterval is how long a file change must sit in the queue
	// before it is processed. Rapid edit bursts collapse into one pass.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           logging.New("watch"),
	}
}

// Daemon couples a filesystem watcher to the sync engine.
type Daemon struct {
	engine   *engine.Engine
	repoRoot string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon over an initialized engine.
func New(eng *engine.Engine, repoRoot string, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if repoRoot == "" {
		return nil, fmt.Errorf("repoRoot cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      eng,
		repoRoot:    repoRoot,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled.
//
// One full sync runs up front so the cache reflects the repository
// before the watch loop takes over.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting watch daemon")

	if res := d.engine.Sync(ctx, asset.DirectionBoth); !res.OK {
		return fmt.Errorf("initial sync failed: %w", res.Err)
	}

	if err := d.addWatchTree(); err != nil {
		return err
	}

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping watch daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Watch daemon stopped")
	return nil
}

// addWatchTree registers the knowledge root and every directory under
// it. fsnotify watches are per-directory, not recursive.
func (d *Daemon) addWatchTree() error {
	root := filepath.Join(d.repoRoot, codec.KnowledgeRoot)
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create knowledge directory: %w", err)
	}

	return filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if err := d.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// New subdirectories join the watch set so nested product
			// lines keep working.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := d.watcher.Add(event.Name); err != nil {
						d.config.Logger.Printf("Failed to watch new directory %s: %v", event.Name, err)
					}
					continue
				}
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".md" {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a changed path with its arrival time.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue drains debounced changes on a ticker.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges handles every queued path that has sat out its
// debounce window. All settled changes collapse into one commit and
// one import pass.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var settled []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		settled = append(settled, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(settled) == 0 {
		return
	}

	d.config.Logger.Printf("Processing %d settled changes", len(settled))

	// Manual edits get committed first so the pull's diff picks them
	// up along with anything that arrived from the remote.
	if res := d.engine.CommitAndPush(d.ctx, "Record manual knowledge edits"); !res.OK {
		d.config.Logger.Printf("Error committing manual edits: %v", res.Err)
		return
	}

	if res := d.engine.PullFromL2(d.ctx); !res.OK {
		d.config.Logger.Printf("Error importing changes: %v", res.Err)
	}
}

// periodicSync runs a full two-way sync on the configured interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.config.Logger.Println("Periodic sync")
			if res := d.engine.Sync(d.ctx, asset.DirectionBoth); !res.OK {
				d.config.Logger.Printf("Periodic sync failed: %v", res.Err)
			}
		}
	}
}
