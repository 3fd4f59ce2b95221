// Package engine orchestrates movement of knowledge assets between the
// local SQLite cache and the git-backed shared repository.
//
// The engine is the only component that touches both tiers. All of its
// operations are sequential within one process; cross-process exclusion
// relies on the repository adapter's marker-file lock.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lorekit/lore/internal/asset"
	"github.com/lorekit/lore/internal/codec"
	"github.com/lorekit/lore/internal/index"
	"github.com/lorekit/lore/internal/logging"
	"github.com/lorekit/lore/internal/repo"
	"github.com/lorekit/lore/internal/store"
)

// State tracks the engine lifecycle. Operations other than Initialize
// require StateReady.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
)

// Result is the outcome of one engine operation. Operations never
// panic across the engine boundary; failures are wrapped here with the
// underlying error preserved.
type Result struct {
	OK       bool
	Message  string
	Imported int
	Pushed   int
	CommitID string
	Err      error
}

func success(msg string) *Result { return &Result{OK: true, Message: msg} }
func failure(err error) *Result  { return &Result{OK: false, Message: err.Error(), Err: err} }

// skipped marks a no-op outcome; it is still a success from the
// caller's point of view.
func skipped(msg string) *Result { return &Result{OK: true, Message: msg} }

// Engine wires the cache store, the repository adapter and the index
// builder together.
type Engine struct {
	store *store.Store
	repo  repo.Repo
	index *index.Builder
	log   *log.Logger

	state State
}

// New creates an Engine over an open store and repository adapter.
func New(s *store.Store, r repo.Repo) *Engine {
	return &Engine{
		store: s,
		repo:  r,
		index: index.NewBuilder(r),
		log:   logging.New("engine"),
		state: StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// Initialize makes sure the repository exists (cloning or initializing
// as needed) and runs one pull when a remote is configured. Idempotent;
// calling it on a ready engine only re-verifies the repository.
func (e *Engine) Initialize(ctx context.Context, remoteURL string) *Result {
	e.state = StateInitializing

	if err := e.repo.CloneOrInit(ctx, remoteURL); err != nil {
		e.state = StateUninitialized
		return failure(fmt.Errorf("failed to initialize repository: %w", err))
	}

	e.state = StateReady

	if e.repo.HasRemote(ctx) {
		if res := e.PullFromL2(ctx); !res.OK {
			// Initialization survives a failed first pull; the
			// repository itself is usable and a later pull can
			// recover.
			e.log.Printf("initial pull failed: %v", res.Err)
			return &Result{OK: true, Message: fmt.Sprintf("repository ready; initial pull failed: %v", res.Err)}
		}
	}

	return success("repository ready at " + e.repo.Root())
}

// PullFromL2 imports repository changes into the cache. The set of
// changed files is computed against the commit-id watermark from the
// last successful pull; with no watermark every tracked asset file is
// imported. Remote content wins over local rows unconditionally.
func (e *Engine) PullFromL2(ctx context.Context) *Result {
	if e.state != StateReady {
		return failure(fmt.Errorf("engine not ready (state %s)", e.state))
	}

	var res *Result
	err := e.repo.WithLock(ctx, func() error {
		res = e.pullLocked(ctx)
		return nil
	})
	if err != nil {
		return failure(fmt.Errorf("pull: %w", err))
	}
	return res
}

func (e *Engine) pullLocked(ctx context.Context) *Result {
	watermark, err := e.store.LastSuccessfulPullCommit(ctx)
	if err != nil {
		return failure(fmt.Errorf("failed to read sync watermark: %w", err))
	}

	if err := e.repo.Pull(ctx); err != nil {
		e.appendLog(ctx, asset.DirectionPull, "", "", asset.SyncFailed, err.Error())
		return failure(fmt.Errorf("pull: %w", err))
	}

	if !e.repo.HasCommits(ctx) {
		// Clone of an empty remote; nothing to import until someone
		// pushes.
		e.appendLog(ctx, asset.DirectionPull, "", "", asset.SyncSkipped, "repository has no commits yet")
		return skipped("repository has no commits yet")
	}

	head, err := e.repo.CurrentCommit(ctx)
	if err != nil {
		return failure(fmt.Errorf("failed to resolve HEAD: %w", err))
	}

	if watermark != "" && watermark == head {
		e.appendLog(ctx, asset.DirectionPull, "", head, asset.SyncSkipped, "already up to date")
		return skipped("already up to date")
	}

	changed, err := e.changedAssetPaths(ctx, watermark)
	if err != nil {
		e.appendLog(ctx, asset.DirectionPull, "", head, asset.SyncFailed, err.Error())
		return failure(err)
	}

	imported, overwritten, err := e.importPaths(ctx, changed)
	if err != nil {
		e.appendLog(ctx, asset.DirectionPull, "", head, asset.SyncFailed, err.Error())
		return failure(err)
	}

	msg := fmt.Sprintf("imported %d assets", imported)
	if overwritten > 0 {
		msg += fmt.Sprintf(" (%d local rows overwritten)", overwritten)
	}
	e.appendLog(ctx, asset.DirectionPull, "", head, asset.SyncSuccess, msg)

	return &Result{OK: true, Message: msg, Imported: imported, CommitID: head}
}

// changedAssetPaths returns the repository-relative asset files to
// import: a diff against the watermark when one exists, otherwise the
// full tracked listing under the knowledge root.
func (e *Engine) changedAssetPaths(ctx context.Context, watermark string) ([]string, error) {
	var paths []string
	var err error
	if watermark == "" {
		paths, err = e.repo.ListFiles(ctx, codec.KnowledgeRoot)
	} else {
		paths, err = e.repo.DiffSince(ctx, watermark)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate changed files: %w", err)
	}

	var out []string
	for _, p := range paths {
		if codec.IsAssetPath(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// importPaths parses and upserts the given asset files. Unparsable or
// deleted files are skipped; they never abort the import.
func (e *Engine) importPaths(ctx context.Context, paths []string) (imported, overwritten int, err error) {
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(e.repo.Root(), filepath.FromSlash(rel)))
		if err != nil {
			continue
		}

		rec := codec.ToRecord(rel, string(data))
		if rec == nil {
			e.log.Printf("skipping %s: not a knowledge asset", rel)
			continue
		}

		existing, err := e.store.GetByName(ctx, rec.Name, rec.ProductLine)
		if err != nil {
			return imported, overwritten, fmt.Errorf("failed to check existing asset %s: %w", rec.Name, err)
		}
		if existing != nil {
			overwritten++
		}

		if _, err := e.store.UpsertFromRepo(ctx, rec, rel); err != nil {
			return imported, overwritten, fmt.Errorf("failed to import %s: %w", rel, err)
		}
		imported++
	}
	return imported, overwritten, nil
}

// PushAssetToL2 promotes one cached asset into the repository: the
// asset file and the regenerated index go into a single commit, then
// the row is marked promoted with the file's repository path.
func (e *Engine) PushAssetToL2(ctx context.Context, a *asset.Asset) *Result {
	if e.state != StateReady {
		return failure(fmt.Errorf("engine not ready (state %s)", e.state))
	}

	var res *Result
	err := e.repo.WithLock(ctx, func() error {
		res = e.pushLocked(ctx, []*asset.Asset{a})
		return nil
	})
	if err != nil {
		return failure(fmt.Errorf("push: %w", err))
	}
	return res
}

// PushAllUnpromoted promotes every unpromoted cached asset in one
// batch: n file writes plus one index regeneration in a single commit.
// An empty cache is a skipped no-op.
func (e *Engine) PushAllUnpromoted(ctx context.Context) *Result {
	if e.state != StateReady {
		return failure(fmt.Errorf("engine not ready (state %s)", e.state))
	}

	var res *Result
	err := e.repo.WithLock(ctx, func() error {
		pending, err := e.store.ListUnpromoted(ctx)
		if err != nil {
			res = failure(fmt.Errorf("failed to list unpromoted assets: %w", err))
			return nil
		}
		if len(pending) == 0 {
			e.appendLog(ctx, asset.DirectionPush, "", "", asset.SyncSkipped, "nothing to push")
			res = skipped("nothing to push")
			return nil
		}
		res = e.pushLocked(ctx, pending)
		return nil
	})
	if err != nil {
		return failure(fmt.Errorf("push: %w", err))
	}
	return res
}

func (e *Engine) pushLocked(ctx context.Context, batch []*asset.Asset) *Result {
	var paths []string
	for _, a := range batch {
		rel := codec.DerivePath(a)
		abs := filepath.Join(e.repo.Root(), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return failure(fmt.Errorf("failed to create asset directory: %w", err))
		}
		if err := os.WriteFile(abs, []byte(codec.FromRecord(a)), 0644); err != nil {
			return failure(fmt.Errorf("failed to write asset file %s: %w", rel, err))
		}
		paths = append(paths, rel)
	}

	_, indexPath, err := e.index.Write(ctx)
	if err != nil {
		return failure(err)
	}
	paths = append(paths, indexPath)

	message := e.commitMessage(batch)
	commitID, err := e.repo.AddAndCommit(ctx, message, paths...)
	if err != nil {
		e.appendLog(ctx, asset.DirectionPush, strings.Join(paths, ","), "", asset.SyncFailed, err.Error())
		return failure(fmt.Errorf("commit: %w", err))
	}

	for i, a := range batch {
		if err := e.store.MarkPromoted(ctx, a.ID, paths[i]); err != nil {
			return failure(fmt.Errorf("failed to mark %s promoted: %w", a.Name, err))
		}
	}

	msg := fmt.Sprintf("pushed %d assets", len(batch))
	e.appendLog(ctx, asset.DirectionPush, strings.Join(paths[:len(batch)], ","), commitID, asset.SyncSuccess, msg)

	return &Result{OK: true, Message: msg, Pushed: len(batch), CommitID: commitID}
}

func (e *Engine) commitMessage(batch []*asset.Asset) string {
	if len(batch) == 1 {
		return fmt.Sprintf("Add %s: %s", batch[0].Type, batch[0].Name)
	}
	return fmt.Sprintf("Add %d knowledge assets", len(batch))
}

// Sync runs pull and/or push per direction. When the direction includes
// push and a remote is configured, local commits are also published;
// a failed remote push is a warning, not a failure, because the local
// commit is durable and a later sync retries the publish.
func (e *Engine) Sync(ctx context.Context, direction asset.Direction) *Result {
	if e.state != StateReady {
		return failure(fmt.Errorf("engine not ready (state %s)", e.state))
	}
	switch direction {
	case asset.DirectionPull, asset.DirectionPush, asset.DirectionBoth:
	default:
		return failure(fmt.Errorf("unknown sync direction %q", direction))
	}

	var messages []string
	combined := &Result{OK: true}

	if direction == asset.DirectionPull || direction == asset.DirectionBoth {
		res := e.PullFromL2(ctx)
		if !res.OK {
			return res
		}
		combined.Imported = res.Imported
		messages = append(messages, "pull: "+res.Message)
	}

	if direction == asset.DirectionPush || direction == asset.DirectionBoth {
		res := e.PushAllUnpromoted(ctx)
		if !res.OK {
			return res
		}
		combined.Pushed = res.Pushed
		combined.CommitID = res.CommitID
		messages = append(messages, "push: "+res.Message)

		if e.repo.HasRemote(ctx) {
			if err := e.repo.Push(ctx); err != nil {
				e.log.Printf("remote push failed, will retry on next sync: %v", err)
				messages = append(messages, "remote push failed: "+err.Error())
			} else {
				messages = append(messages, "remote updated")
			}
		}
	}

	combined.Message = strings.Join(messages, "; ")
	return combined
}

// CommitAndPush commits any pending working-tree changes with the given
// message and publishes them when a remote is configured. Manual escape
// hatch for edits made directly in the repository.
func (e *Engine) CommitAndPush(ctx context.Context, message string) *Result {
	if e.state != StateReady {
		return failure(fmt.Errorf("engine not ready (state %s)", e.state))
	}

	var res *Result
	err := e.repo.WithLock(ctx, func() error {
		commitID, err := e.repo.AddAndCommit(ctx, message)
		if err != nil {
			res = failure(fmt.Errorf("commit: %w", err))
			return nil
		}

		if e.repo.HasRemote(ctx) {
			if err := e.repo.Push(ctx); err != nil {
				e.log.Printf("remote push failed: %v", err)
				res = &Result{OK: true, Message: "committed; remote push failed: " + err.Error(), CommitID: commitID}
				return nil
			}
		}
		res = &Result{OK: true, Message: "committed and pushed", CommitID: commitID}
		return nil
	})
	if err != nil {
		return failure(fmt.Errorf("commit: %w", err))
	}
	return res
}

// Index regenerates the repository index without committing it.
func (e *Engine) Index(ctx context.Context) (*index.Index, error) {
	return e.index.Generate(ctx)
}

// appendLog records a sync audit entry. Logging failures are reported
// but never abort the operation that produced them.
func (e *Engine) appendLog(ctx context.Context, dir asset.Direction, filePath, commitID string, status asset.SyncStatus, msg string) {
	entry := &asset.SyncLogEntry{
		Direction: dir,
		FilePath:  filePath,
		CommitID:  commitID,
		Status:    status,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.AppendSyncLog(ctx, entry); err != nil {
		e.log.Printf("failed to append sync log: %v", err)
	}
}
