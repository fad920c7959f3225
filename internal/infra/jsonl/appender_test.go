package jsonl

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
)

type record struct {
	N    int    `json:"n"`
	Body string `json:"body"`
}

func TestAppendConcurrentLinesStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	a, err := NewAppender(path)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := a.Append(record{N: n, Body: "payload"}); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	err = ReadAll(path, func(line []byte) error {
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		seen[r.N] = true
		return nil
	})
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(seen) != 50 {
		t.Errorf("read %d distinct records, want 50", len(seen))
	}
}

func TestReadAllMissingFile(t *testing.T) {
	calls := 0
	err := ReadAll(filepath.Join(t.TempDir(), "absent.jsonl"), func([]byte) error {
		calls++
		return nil
	})
	if err != nil || calls != 0 {
		t.Errorf("ReadAll = %v, calls = %d", err, calls)
	}
}
