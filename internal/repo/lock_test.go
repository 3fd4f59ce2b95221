package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLock(t *testing.T, opts Options) *FileLock {
	t.Helper()
	return NewFileLock(filepath.Join(t.TempDir(), ".lore.lock"), opts)
}

func TestTryAcquire_Exclusive(t *testing.T) {
	l := testLock(t, Options{})

	ok, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() failed: %v", err)
	}
	if !ok {
		t.Fatal("first TryAcquire() = false, want true")
	}

	ok, err = l.TryAcquire()
	if err != nil {
		t.Fatalf("second TryAcquire() failed: %v", err)
	}
	if ok {
		t.Error("second TryAcquire() = true while lock held")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	ok, err = l.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() after release failed: %v", err)
	}
	if !ok {
		t.Error("TryAcquire() after release = false, want true")
	}
}

func TestTryAcquire_ConcurrentSingleWinner(t *testing.T) {
	l := testLock(t, Options{})

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.TryAcquire()
			if err != nil {
				t.Errorf("TryAcquire() failed: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1", won)
	}
}

func TestAcquire_StaleCleared(t *testing.T) {
	l := testLock(t, Options{LockStaleTimeout: 50 * time.Millisecond})

	// Simulate a lock left behind by a dead process.
	stale := time.Now().Add(-time.Second).UTC().Format(time.RFC3339Nano)
	if err := os.WriteFile(l.path, []byte(stale+"\n"), 0644); err != nil {
		t.Fatalf("failed to plant stale lock: %v", err)
	}

	ok, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() failed: %v", err)
	}
	if !ok {
		t.Error("TryAcquire() = false, want stale lock cleared")
	}
}

func TestAcquire_GarbageLockFileIsStale(t *testing.T) {
	l := testLock(t, Options{})

	if err := os.WriteFile(l.path, []byte("not a timestamp"), 0644); err != nil {
		t.Fatalf("failed to plant lock: %v", err)
	}

	ok, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() failed: %v", err)
	}
	if !ok {
		t.Error("unparsable lock file not treated as stale")
	}
}

func TestAcquire_BudgetExhausted(t *testing.T) {
	opts := Options{
		LockStaleTimeout: time.Minute, // holder looks alive
		LockMaxAttempts:  3,
		LockBackoffBase:  time.Millisecond,
		LockBackoffCap:   2,
	}
	l := testLock(t, opts)

	if ok, _ := l.TryAcquire(); !ok {
		t.Fatal("setup acquire failed")
	}

	other := NewFileLock(l.path, opts)
	err := other.Acquire(context.Background())
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Acquire() error = %v, want ErrLockTimeout", err)
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	opts := Options{
		LockStaleTimeout: time.Minute,
		LockMaxAttempts:  50,
		LockBackoffBase:  time.Millisecond,
		LockBackoffCap:   4,
	}
	l := testLock(t, opts)

	if ok, _ := l.TryAcquire(); !ok {
		t.Fatal("setup acquire failed")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = l.Release()
	}()

	other := NewFileLock(l.path, opts)
	if err := other.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() after release failed: %v", err)
	}
}

func TestRelease_Unheld(t *testing.T) {
	l := testLock(t, Options{})
	if err := l.Release(); err != nil {
		t.Errorf("Release() of unheld lock failed: %v", err)
	}
}
