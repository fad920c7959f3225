package artifact

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/postforge/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	return matches
}

func TestWriteAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "post.txt")

	if err := WriteAtomic(path, []byte("first")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if err := WriteAtomic(path, []byte("second")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}
	if tmp := tempFiles(t, dir); len(tmp) != 0 {
		t.Errorf("temp files left behind: %v", tmp)
	}
}

func TestWriteAtomicFuncInterruptedKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20_research.json")
	if err := WriteAtomic(path, []byte(`{"sources":["a"]}`)); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	interrupted := errors.New("killed")
	err := WriteAtomicFunc(path, func(w io.Writer) error {
		_, _ = w.Write([]byte(`{"sources":[`))
		return interrupted
	})
	if !errors.Is(err, interrupted) {
		t.Fatalf("err = %v, want interrupted", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != `{"sources":["a"]}` {
		t.Errorf("content = %q, want previous content", data)
	}
	if tmp := tempFiles(t, dir); len(tmp) != 0 {
		t.Errorf("temp files left behind: %v", tmp)
	}
}

func TestWriteAtomicFuncInterruptedNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.json")

	_ = WriteAtomicFunc(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("{"))
		return errors.New("killed")
	})

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("destination should not exist, stat err = %v", err)
	}
}

func TestWriteAndVerifyJSON(t *testing.T) {
	s := newTestStore(t)

	path, err := s.WriteJSON(TopicFile, map[string]string{"topic": "Time-series anomaly detection"})
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var got map[string]string
	if err := s.ReadJSON(TopicFile, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got["topic"] != "Time-series anomaly detection" {
		t.Errorf("topic = %q", got["topic"])
	}
	if path != s.Path(TopicFile) {
		t.Errorf("path = %q", path)
	}
}

func TestWriteAndVerifyRejectsMalformedAndKeepsPrior(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.WriteAndVerify(ReviewFile, []byte(`{"revised":"ok"}`)); err != nil {
		t.Fatalf("WriteAndVerify: %v", err)
	}

	_, err := s.WriteAndVerify(ReviewFile, []byte(`{"revised":`))
	if !domain.IsKind(err, domain.KindCorruption) {
		t.Fatalf("err = %v, want CorruptionError", err)
	}

	data, _ := os.ReadFile(s.Path(ReviewFile))
	if string(data) != `{"revised":"ok"}` {
		t.Errorf("prior content lost: %q", data)
	}
	if tmp := tempFiles(t, s.Dir()); len(tmp) != 0 {
		t.Errorf("temp files left behind: %v", tmp)
	}
}

func TestWriteAndVerifyRejectsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{FinalPostFile, ""},
		{FinalPostFile, "  \n"},
		{ConfigFile, ""},
		{ImageFile, "not a png"},
	}

	for _, tt := range tests {
		s := newTestStore(t)
		if _, err := s.WriteAndVerify(tt.name, []byte(tt.content)); !domain.IsKind(err, domain.KindCorruption) {
			t.Errorf("WriteAndVerify(%s, %q) = %v, want CorruptionError", tt.name, tt.content, err)
		}
		if s.Exists(tt.name) {
			t.Errorf("%s should not exist after rejected write", tt.name)
		}
	}
}

func TestVerifyImage(t *testing.T) {
	s := newTestStore(t)

	if err := s.Verify(ImageFile); !domain.IsKind(err, domain.KindCorruption) {
		t.Fatalf("missing image: err = %v, want CorruptionError", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	if _, err := s.WriteAndVerify(ImageFile, buf.Bytes()); err != nil {
		t.Fatalf("WriteAndVerify png: %v", err)
	}
	if err := s.Verify(ImageFile); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestListSkipsTempFiles(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.WriteText(DraftFile, "draft")
	_, _ = s.WriteJSON(ConfigFile, map[string]int{"a": 1})
	_ = os.WriteFile(filepath.Join(s.Dir(), ".40_draft.md.123.tmp"), []byte("x"), 0o644)

	names, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(names, ",") != ConfigFile+","+DraftFile {
		t.Errorf("List = %v", names)
	}
}

func TestRunIDFormat(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	id := NewRunID(now)

	if !regexp.MustCompile(`^2026-10-17-[0-9a-f]{6}$`).MatchString(id) {
		t.Errorf("NewRunID = %q", id)
	}
	if !looksLikeRunID(id) {
		t.Errorf("looksLikeRunID(%q) = false", id)
	}
	if looksLikeRunID("notes") {
		t.Error("looksLikeRunID(notes) = true")
	}
}

func TestCreateAndListRuns(t *testing.T) {
	base := filepath.Join(t.TempDir(), "runs")
	now := time.Now()

	id1, dir1, err := CreateRunDir(base, now)
	if err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}
	_, dir2, err := CreateRunDir(base, now)
	if err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}
	if dir1 == dir2 {
		t.Fatal("run dirs collide")
	}
	_, _ = NewStore(dir1).WriteJSON(FailureFile, map[string]string{"error_type": "ValidationError"})
	_ = os.MkdirAll(filepath.Join(base, "scratch"), 0o755)

	runs, err := ListRuns(base)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns returned %d runs, want 2", len(runs))
	}
	for _, r := range runs {
		if r.ID == id1 && !r.Failed {
			t.Errorf("run %s should be marked failed", id1)
		}
	}
}

func TestListRunsMissingBase(t *testing.T) {
	runs, err := ListRuns(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(runs) != 0 {
		t.Errorf("ListRuns = %v, %v", runs, err)
	}
}
