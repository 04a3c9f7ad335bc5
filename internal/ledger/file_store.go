package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harrison/webpilot/internal/filelock"
	"github.com/harrison/webpilot/internal/models"
)

// FileStore keeps each run as <dir>/<id>.json. Writes go through an advisory
// lock and atomic rename so concurrent processes never see torn entries.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the ledger directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) pathFor(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid run id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

// Save writes the run, replacing any previous entry with the same id.
func (s *FileStore) Save(ctx context.Context, run *models.TaskRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("save run: nil run")
	}
	path, err := s.pathFor(run.ID)
	if err != nil {
		return err
	}
	if err := filelock.WriteJSON(path, run); err != nil {
		return fmt.Errorf("write run %s: %w", run.ID, err)
	}
	return nil
}

// Get reads one run by id.
func (s *FileStore) Get(ctx context.Context, id string) (*models.TaskRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}

	var run models.TaskRun
	if err := filelock.ReadJSON(path, &run); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &run, nil
}

// List reads every entry and applies opts. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context, opts ListOptions) ([]*models.TaskRun, error) {
	paths, err := s.entries()
	if err != nil {
		return nil, err
	}

	var runs []*models.TaskRun
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var run models.TaskRun
		if err := filelock.ReadJSON(path, &run); err != nil {
			continue
		}
		if !matches(&run, opts) {
			continue
		}
		runs = append(runs, &run)
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// Clear removes every entry and its lock file. An entry whose lock is held by
// another process is mid-write and is left in place.
func (s *FileStore) Clear(ctx context.Context) (int, error) {
	paths, err := s.entries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		ok, err := s.removeEntry(path)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *FileStore) removeEntry(path string) (bool, error) {
	lockPath := filelock.LockPath(path)
	lock := filelock.NewFileLock(lockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	os.Remove(lockPath)
	return true, nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) entries() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list ledger directory: %w", err)
	}
	return paths, nil
}

func matches(run *models.TaskRun, opts ListOptions) bool {
	if opts.Command != "" && run.Command != opts.Command {
		return false
	}
	if opts.Outcome != "" && run.Outcome != opts.Outcome {
		return false
	}
	if opts.SealedOnly && !run.IsSealed() {
		return false
	}
	return true
}
