package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const runIDDateLayout = "2006-01-02"

// NewRunID returns an id of the form YYYY-MM-DD-xxxxxx.
func NewRunID(now time.Time) string {
	return now.Format(runIDDateLayout) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// CreateRunDir creates a fresh, exclusively owned run directory under base.
func CreateRunDir(base string, now time.Time) (string, string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", "", fmt.Errorf("mkdir %s: %w", base, err)
	}

	for i := 0; i < 5; i++ {
		id := NewRunID(now)
		dir := filepath.Join(base, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("create run dir: %w", err)
		}
	}
	return "", "", fmt.Errorf("create run dir: id collisions under %s", base)
}

// RunEntry describes a run directory on disk.
type RunEntry struct {
	ID      string
	Dir     string
	Failed  bool
	Success bool
	ModTime time.Time
}

// ListRuns returns the runs under base, newest first.
func ListRuns(base string) ([]RunEntry, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	var runs []RunEntry
	for _, e := range entries {
		if !e.IsDir() || !looksLikeRunID(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dir := filepath.Join(base, e.Name())
		store := NewStore(dir)
		runs = append(runs, RunEntry{
			ID:      e.Name(),
			Dir:     dir,
			Failed:  store.Exists(FailureFile),
			Success: store.Exists(SummaryFile) && !store.Exists(FailureFile),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].ModTime.Equal(runs[j].ModTime) {
			return runs[i].ModTime.After(runs[j].ModTime)
		}
		return runs[i].ID > runs[j].ID
	})
	return runs, nil
}

func looksLikeRunID(name string) bool {
	if len(name) != len(runIDDateLayout)+7 || name[len(runIDDateLayout)] != '-' {
		return false
	}
	_, err := time.Parse(runIDDateLayout, name[:len(runIDDateLayout)])
	return err == nil
}
