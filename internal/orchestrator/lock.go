package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned when another run holds the book lock.
var ErrLocked = errors.New("book is locked by another run")

// lockInfo is the content of the lock file.
type lockInfo struct {
	Owner     string    `json:"owner"`
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// Lock is an advisory per-book lock backed by an exclusively created file.
type Lock struct {
	path  string
	owner string
}

// AcquireLock creates the lock file at path. A lock older than ttl is treated
// as stale and broken; ttl <= 0 never breaks a lock.
func AcquireLock(path, runID string, ttl time.Duration, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	info := lockInfo{
		Owner:     uuid.New().String(),
		RunID:     runID,
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr = errors.Join(werr, cerr); werr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock: %w", werr)
			}
			return &Lock{path: path, owner: info.Owner}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		held, age := readLock(path)
		if attempt > 0 || ttl <= 0 || age < ttl {
			return nil, fmt.Errorf("%w: %s (run %s, pid %d)", ErrLocked, path, held.RunID, held.PID)
		}
		logger.Warn("breaking stale lock",
			"path", path,
			"held_by_run", held.RunID,
			"age", age.Round(time.Second).String())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("break stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

// readLock returns the holder and the lock age. An unreadable lock falls back
// to the file modification time.
func readLock(path string) (lockInfo, time.Duration) {
	var info lockInfo
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &info)
	}
	if info.CreatedAt.IsZero() {
		if st, err := os.Stat(path); err == nil {
			info.CreatedAt = st.ModTime()
		}
	}
	if info.CreatedAt.IsZero() {
		return info, 0
	}
	return info, time.Since(info.CreatedAt)
}

// Release removes the lock if it is still owned by this holder.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	held, _ := readLock(l.path)
	if held.Owner != "" && held.Owner != l.owner {
		return fmt.Errorf("lock %s taken over by run %s", l.path, held.RunID)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
